// Package dns publishes tenant subdomains as records in the platform zone.
package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/sirupsen/logrus"
)

type Publisher interface {
	// Publish points <label>.<zone> at the platform's edge.
	Publish(ctx context.Context, label string) error
	// Prune deletes published records whose label keep rejects.
	Prune(ctx context.Context, keep func(ctx context.Context, label string) (bool, error)) (int, error)
}

// Noop is used when no hosted zone is configured; wildcard DNS covers every
// subdomain in that setup.
type Noop struct{}

func (Noop) Publish(context.Context, string) error { return nil }

func (Noop) Prune(context.Context, func(context.Context, string) (bool, error)) (int, error) {
	return 0, nil
}

type Route53Publisher struct {
	svc       route53iface.Route53API
	zoneID    string
	zoneName  string
	target    string
	recordTTL int64
	log       *logrus.Entry
}

func NewRoute53Publisher(ctx context.Context, zoneID, target string, recordTTLSecs int64, log *logrus.Entry) (*Route53Publisher, error) {
	s, err := session.NewSession()
	if err != nil {
		return nil, err
	}

	svc := route53.New(s, &aws.Config{
		MaxRetries: aws.Int(3),
	})
	return newRoute53Publisher(ctx, svc, zoneID, target, recordTTLSecs, log)
}

func newRoute53Publisher(ctx context.Context, svc route53iface.Route53API, zoneID, target string, recordTTLSecs int64, log *logrus.Entry) (*Route53Publisher, error) {
	z, err := svc.GetHostedZoneWithContext(ctx, &route53.GetHostedZoneInput{
		Id: aws.String(zoneID),
	})
	if err != nil {
		return nil, err
	}

	return &Route53Publisher{
		svc:       svc,
		zoneID:    aws.StringValue(z.HostedZone.Id),
		zoneName:  strings.TrimSuffix(aws.StringValue(z.HostedZone.Name), "."),
		target:    strings.TrimSuffix(target, "."),
		recordTTL: recordTTLSecs,
		log:       log.WithField("component", "dns"),
	}, nil
}

func (p *Route53Publisher) fqdn(label string) string {
	return label + "." + p.zoneName
}

func (p *Route53Publisher) Publish(ctx context.Context, label string) error {
	fqdn := p.fqdn(label)
	rrsInput := route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &route53.ChangeBatch{
			Changes: []*route53.Change{
				{
					Action: aws.String(route53.ChangeActionUpsert),
					ResourceRecordSet: &route53.ResourceRecordSet{
						Type: aws.String(route53.RRTypeCname),
						Name: aws.String(fqdn),
						TTL:  aws.Int64(p.recordTTL),
						ResourceRecords: []*route53.ResourceRecord{
							{Value: aws.String(p.target)},
						},
					},
				},
			},
		},
	}

	if _, err := p.svc.ChangeResourceRecordSetsWithContext(ctx, &rrsInput); err != nil {
		return fmt.Errorf("failed to upsert route53 record %v with error %v", fqdn, err)
	}
	p.log.Debugf("published %v -> %v", fqdn, p.target)
	return nil
}

// Prune walks the zone and deletes CNAME records pointing at the edge target
// whose label is no longer kept.
func (p *Route53Publisher) Prune(ctx context.Context, keep func(ctx context.Context, label string) (bool, error)) (int, error) {
	input := &route53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
	}

	var (
		toDelete []*route53.ResourceRecordSet
		keepErr  error
	)
	err := p.svc.ListResourceRecordSetsPagesWithContext(ctx, input,
		func(page *route53.ListResourceRecordSetsOutput, lastPage bool) bool {
			for _, recordSet := range page.ResourceRecordSets {
				if aws.StringValue(recordSet.Type) != route53.RRTypeCname || !p.pointsAtTarget(recordSet) {
					continue
				}
				name := strings.TrimSuffix(aws.StringValue(recordSet.Name), ".")
				label := strings.TrimSuffix(name, "."+p.zoneName)
				if label == name || strings.Contains(label, ".") {
					continue
				}
				ok, err := keep(ctx, label)
				if err != nil {
					keepErr = err
					return false
				}
				if !ok {
					toDelete = append(toDelete, recordSet)
				}
			}
			return true
		})
	if err != nil {
		return 0, fmt.Errorf("listing route53 records: %w", err)
	}
	if keepErr != nil {
		return 0, keepErr
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	var changes []*route53.Change
	for _, recordSet := range toDelete {
		changes = append(changes, &route53.Change{
			Action:            aws.String(route53.ChangeActionDelete),
			ResourceRecordSet: recordSet,
		})
	}

	changeInput := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &route53.ChangeBatch{
			Changes: changes,
		},
	}
	if _, err := p.svc.ChangeResourceRecordSetsWithContext(ctx, changeInput); err != nil {
		return 0, fmt.Errorf("unable to delete record sets from route53: %w", err)
	}
	return len(toDelete), nil
}

func (p *Route53Publisher) pointsAtTarget(recordSet *route53.ResourceRecordSet) bool {
	for _, rr := range recordSet.ResourceRecords {
		if strings.TrimSuffix(aws.StringValue(rr.Value), ".") == p.target {
			return true
		}
	}
	return false
}

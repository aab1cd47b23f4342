// Package resolver maps an inbound host and optional path segment to the
// owner whose site should be served.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no strategy resolves an owner.
var ErrNotFound = model.NewError(model.KindNotFound, "site not found")

// Request is the input of a resolution. Segment is the username path segment,
// if the route carries one.
type Request struct {
	Host    string
	Segment string
}

type strategy struct {
	name string
	// applies is the precondition. A strategy whose precondition fails is skipped.
	applies func(req Request) bool
	lookup  func(ctx context.Context, req Request) (db.Owner, error)
}

type Resolver struct {
	db         db.Database
	baseDomain string
	strategies []strategy
	log        *logrus.Entry
}

func New(database db.Database, baseDomain string, log *logrus.Entry) *Resolver {
	r := &Resolver{
		db:         database,
		baseDomain: strings.ToLower(baseDomain),
		log:        log.WithField("component", "resolver"),
	}
	r.strategies = []strategy{
		{name: "customDomainByHost", applies: r.hostIsCustomDomain, lookup: r.customDomainByHost},
		{name: "subdomainByHost", applies: r.hostIsSubdomain, lookup: r.subdomainByHost},
		{name: "subdomainBySegment", applies: segmentIsLabel, lookup: r.subdomainBySegment},
		{name: "customDomainBySegment", applies: segmentIsDomain, lookup: r.customDomainBySegment},
	}
	return r
}

// Resolve runs the strategies in order and returns the first owner found.
// Owners holding a reserved subdomain are never returned.
func (r *Resolver) Resolve(ctx context.Context, host, segment string) (db.Owner, error) {
	req := Request{
		Host:    model.NormalizeHost(host),
		Segment: strings.ToLower(strings.TrimSpace(segment)),
	}

	for _, s := range r.strategies {
		if !s.applies(req) {
			continue
		}
		owner, err := s.lookup(ctx, req)
		if errors.Is(err, db.ErrNotFound) {
			continue
		} else if err != nil {
			return db.Owner{}, fmt.Errorf("resolving owner with %s: %w", s.name, err)
		}
		if model.IsReserved(owner.Subdomain) {
			r.log.WithFields(logrus.Fields{"strategy": s.name, "subdomain": owner.Subdomain}).Warn("refusing to resolve owner with a reserved subdomain")
			continue
		}
		r.log.WithFields(logrus.Fields{"strategy": s.name, "owner": owner.ID}).Debug("resolved owner")
		return owner, nil
	}

	return db.Owner{}, ErrNotFound
}

func (r *Resolver) underBaseDomain(host string) bool {
	return host == r.baseDomain || strings.HasSuffix(host, "."+r.baseDomain)
}

func (r *Resolver) hostIsCustomDomain(req Request) bool {
	return strings.Contains(req.Host, ".") && !r.underBaseDomain(req.Host)
}

func (r *Resolver) hostIsSubdomain(req Request) bool {
	if !strings.HasSuffix(req.Host, "."+r.baseDomain) {
		return false
	}
	label := strings.TrimSuffix(req.Host, "."+r.baseDomain)
	return label != "" && !strings.Contains(label, ".") && !model.IsReserved(label)
}

func segmentIsLabel(req Request) bool {
	return req.Segment != "" && !strings.Contains(req.Segment, ".") && !model.IsReserved(req.Segment)
}

func segmentIsDomain(req Request) bool {
	return strings.Contains(req.Segment, ".")
}

func (r *Resolver) customDomainByHost(ctx context.Context, req Request) (db.Owner, error) {
	return r.db.GetOwnerByCustomDomain(ctx, req.Host)
}

func (r *Resolver) subdomainByHost(ctx context.Context, req Request) (db.Owner, error) {
	return r.db.GetOwnerBySubdomain(ctx, strings.TrimSuffix(req.Host, "."+r.baseDomain))
}

func (r *Resolver) subdomainBySegment(ctx context.Context, req Request) (db.Owner, error) {
	return r.db.GetOwnerBySubdomain(ctx, req.Segment)
}

func (r *Resolver) customDomainBySegment(ctx context.Context, req Request) (db.Owner, error) {
	return r.db.GetOwnerByCustomDomain(ctx, model.NormalizeHost(req.Segment))
}

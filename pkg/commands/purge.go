package commands

import (
	"context"

	"github.com/myeasypage/easypage/pkg/backend"
	"github.com/myeasypage/easypage/pkg/dns"
	"github.com/rancher/wrangler/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type purgeCommand struct{}

// Execute runs one purge pass and exits.
func (p *purgeCommand) Execute(c *cli.Context) error {
	ctx := signals.SetupSignalHandler(context.Background())

	log := logrus.WithField("command", "purge")

	database, err := openDatabase(ctx, c)
	if err != nil {
		return err
	}

	var publisher dns.Publisher = dns.Noop{}
	if zone := c.String("dns-zone-id"); zone != "" {
		publisher, err = dns.NewRoute53Publisher(ctx, zone, c.String("dns-target"), 300, log)
		if err != nil {
			return err
		}
	}

	back := backend.NewBackend(database, backend.Config{
		BaseDomain:            c.String("base-domain"),
		VerificationRetention: c.Duration("verification-retention"),
		DNS:                   publisher,
	}, log)

	return back.Purge(ctx)
}

func purgeCommandDef() *cli.Command {
	cmd := purgeCommand{}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "dns-zone-id",
			Usage:   "Route53 hosted zone to prune records of deleted tenants from",
			EnvVars: []string{"EASYPAGE_DNS_ZONE_ID"},
		},
		&cli.StringFlag{
			Name:    "dns-target",
			Usage:   "CNAME target of published tenant subdomains",
			EnvVars: []string{"EASYPAGE_DNS_TARGET"},
		},
	}
	flags = append(flags, databaseFlags()...)

	return &cli.Command{
		Name:   "purge",
		Usage:  "delete expired codes and stale verifications once",
		Action: cmd.Execute,
		Flags:  append(flags, GlobalFlags()...),
		Before: Before,
	}
}

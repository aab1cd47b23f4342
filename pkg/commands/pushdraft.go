package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/myeasypage/easypage/pkg/autosave"
	"github.com/myeasypage/easypage/pkg/client"
	"github.com/rancher/wrangler/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type pushDraftCommand struct{}

// Execute schedules every document given as an argument through the autosave
// scheduler, in order. Only the last one is guaranteed to be stored.
func (p *pushDraftCommand) Execute(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one draft document is required")
	}

	ctx := signals.SetupSignalHandler(context.Background())

	log := logrus.WithField("command", "push-draft")

	api := client.New(c.String("url"), c.String("token"))
	if api.Token() == "" {
		owner, err := api.Login(ctx, c.String("email"), c.String("password"), c.String("session-cookie"))
		if err != nil {
			return err
		}
		log.Infof("logged in as %s", owner.Subdomain)
	}

	saver := autosave.New(ctx, c.Duration("debounce"), func(ctx context.Context, doc map[string]interface{}) error {
		draft, err := api.SaveDraft(ctx, doc)
		if err != nil {
			return err
		}
		log.WithField("updatedAt", draft.UpdatedAt).Info("draft saved")
		return nil
	}, log)
	defer saver.Close()

	for _, file := range c.Args().Slice() {
		raw, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		doc := map[string]interface{}{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", file, err)
		}
		saver.Schedule(doc)
	}

	if err := saver.Flush(); err != nil {
		return err
	}

	if c.Bool("publish") {
		if _, err := api.Publish(ctx); err != nil {
			return err
		}
		log.Info("draft published")
	}
	return nil
}

func pushDraftCommandDef() *cli.Command {
	cmd := pushDraftCommand{}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Usage:   "Base URL of the easypage API",
			EnvVars: []string{"EASYPAGE_URL"},
			Value:   "http://localhost:4315",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Session token, used instead of logging in",
			EnvVars: []string{"EASYPAGE_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "email",
			Usage:   "Account email to log in with",
			EnvVars: []string{"EASYPAGE_EMAIL"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Account password to log in with",
			EnvVars: []string{"EASYPAGE_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "session-cookie",
			Usage:   "Name of the session cookie",
			EnvVars: []string{"EASYPAGE_SESSION_COOKIE", "SESSION_COOKIE"},
			Value:   "easypage_session",
		},
		&cli.DurationFlag{
			Name:  "debounce",
			Usage: "Quiet period before a scheduled save is sent",
			Value: 500 * time.Millisecond,
		},
		&cli.BoolFlag{
			Name:  "publish",
			Usage: "Publish the draft once it is saved",
		},
	}

	return &cli.Command{
		Name:      "push-draft",
		Usage:     "save one or more partial draft documents",
		ArgsUsage: "<file.json>...",
		Action:    cmd.Execute,
		Flags:     append(flags, GlobalFlags()...),
		Before:    Before,
	}
}

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/myeasypage/easypage/pkg/apiserver"
	"github.com/myeasypage/easypage/pkg/assets"
	"github.com/myeasypage/easypage/pkg/auth"
	"github.com/myeasypage/easypage/pkg/backend"
	"github.com/myeasypage/easypage/pkg/content"
	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/delivery"
	"github.com/myeasypage/easypage/pkg/dns"
	"github.com/myeasypage/easypage/pkg/edge"
	"github.com/myeasypage/easypage/pkg/otp"
	"github.com/myeasypage/easypage/pkg/payments"
	"github.com/myeasypage/easypage/pkg/preview"
	"github.com/myeasypage/easypage/pkg/ratelimit"
	"github.com/myeasypage/easypage/pkg/resolver"
	"github.com/myeasypage/easypage/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rancher/wrangler/pkg/signals"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

type apiServerCommand struct{}

func (s *apiServerCommand) Execute(c *cli.Context) error {
	ctx := signals.SetupSignalHandler(context.Background())

	log := logrus.WithField("command", "api-server")

	log.Infof("version: %v", version.Get())

	database, err := openDatabase(ctx, c)
	if err != nil {
		return err
	}

	var rdb redis.UniversalClient
	if addr := c.String("redis-addr"); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: c.String("redis-password"),
			DB:       c.Int("redis-db"),
		})
		defer rdb.Close()
		// The limiter fails open, so an unreachable redis is not fatal.
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis is not reachable, rate limits will fail open")
		}
	}

	var (
		counters ratelimit.Store
		sweeper  backend.Sweeper
	)
	if rdb != nil {
		counters = ratelimit.NewRedisStore(rdb)
	} else {
		memory := ratelimit.NewMemoryStore(time.Now)
		counters, sweeper = memory, memory
	}
	limiter := ratelimit.New(counters, policies(c), log)

	var sender delivery.Sender = delivery.LogSender{Log: log}
	if url := c.String("amqp-url"); url != "" {
		amqpSender, err := delivery.NewAMQPSender(url, c.String("amqp-exchange"))
		if err != nil {
			return err
		}
		defer amqpSender.Close()
		sender = amqpSender
	} else {
		log.Warn("no amqp url configured, codes and contact messages are only logged")
	}

	var publisher dns.Publisher = dns.Noop{}
	if zone := c.String("dns-zone-id"); zone != "" {
		publisher, err = dns.NewRoute53Publisher(ctx, zone, c.String("dns-target"), c.Int64("dns-record-ttl"), log)
		if err != nil {
			return err
		}
	}

	cfg := backend.Config{
		BaseDomain:            c.String("base-domain"),
		PurgeInterval:         c.Duration("purge-interval"),
		VerificationRetention: c.Duration("verification-retention"),
		OTP: otp.NewService(database, otp.Config{
			TTL:         c.Duration("otp-ttl"),
			MaxAttempts: c.Int("otp-max-attempts"),
			Length:      c.Int("otp-length"),
		}, log),
		Sender: sender,
		DNS:    publisher,
	}
	if sweeper != nil {
		cfg.Counters = sweeper
	}

	var assetStore content.AssetStore
	if bucket := c.String("s3-bucket"); bucket != "" {
		store, err := assets.NewS3Store(ctx, assets.Config{
			Bucket:        bucket,
			Region:        c.String("s3-region"),
			Endpoint:      c.String("s3-endpoint"),
			AccessKey:     c.String("s3-access-key"),
			SecretKey:     c.String("s3-secret-key"),
			PublicBaseURL: c.String("asset-base-url"),
			UploadExpiry:  c.Duration("upload-expiry"),
		})
		if err != nil {
			return err
		}
		assetStore = store
		cfg.Uploads = store
	} else {
		log.Warn("no s3 bucket configured, uploads are disabled and orphaned assets are kept")
	}

	back := backend.NewBackend(database, cfg, log)

	var paymentService *payments.Service
	if keyID := c.String("payment-key-id"); keyID != "" {
		paymentCfg := payments.Config{
			KeyID:         keyID,
			KeySecret:     c.String("payment-key-secret"),
			WebhookSecret: c.String("payment-webhook-secret"),
			Currency:      c.String("payment-currency"),
			Prices: map[string]int64{
				"pro":      c.Int64("price-pro"),
				"business": c.Int64("price-business"),
			},
		}
		if err := paymentCfg.Validate(); err != nil {
			return fmt.Errorf("payments: %w", err)
		}
		gateway := payments.NewHTTPGateway(c.String("payment-api-url"), keyID, paymentCfg.KeySecret)
		paymentService = payments.NewService(database, gateway, paymentCfg, log)
	}

	hub := preview.NewHub()
	var (
		cache preview.Cache = preview.NewMemoryCache()
		sinks               = []preview.Sink{hub}
	)
	if rdb != nil {
		cache = preview.NewRedisCache(rdb, c.Duration("preview-cache-ttl"))
		sinks = append(sinks, preview.NewRedisSink(rdb))
	}
	bus := preview.NewBus(cache, log, sinks...)
	if rdb != nil {
		go func() {
			if err := preview.Relay(ctx, rdb, bus.Origin(), hub, log); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("preview relay stopped")
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sessions := auth.NewSessions(
		c.String("session-secret"),
		c.Duration("session-ttl"),
		c.String("session-cookie"),
		c.String("session-cookie-domain"),
		c.Bool("session-cookie-secure"),
	)

	proxies, err := apiserver.ParseTrustedProxies(c.StringSlice("trusted-proxies"))
	if err != nil {
		return err
	}
	if len(proxies) == 0 {
		log.Info("no trusted proxies configured, forwarding headers are ignored")
	}

	apiServer := apiserver.NewAPIServer(ctx, log, c.Int("port"), apiserver.Services{
		Backend:        back,
		Content:        content.NewStore(database, assetStore, log),
		Resolver:       resolver.New(database, cfg.BaseDomain, log),
		Sessions:       sessions,
		Limiter:        limiter,
		Payments:       paymentService,
		Preview:        bus,
		Hub:            hub,
		Edge:           edge.DefaultConfig(cfg.BaseDomain, c.String("dev-marker"), c.String("session-cookie")),
		Registry:       registry,
		TrustedProxies: proxies,
	})

	return apiServer.Start()
}

func openDatabase(ctx context.Context, c *cli.Context) (db.Database, error) {
	return db.New(ctx, c.String("sql-dialect"), c.String("sql-dsn"), &gorm.Config{
		Logger: db.NewLogger(c.String("log-level")),
	})
}

func policies(c *cli.Context) map[ratelimit.Purpose]ratelimit.Policy {
	p := ratelimit.DefaultPolicies()
	window := c.Duration("rate-limit-window")
	for purpose, flag := range map[ratelimit.Purpose]string{
		ratelimit.Global:  "rate-limit-global",
		ratelimit.Contact: "rate-limit-contact",
		ratelimit.OTP:     "rate-limit-otp",
		ratelimit.Signup:  "rate-limit-signup",
		ratelimit.Login:   "rate-limit-login",
	} {
		if !c.IsSet(flag) {
			continue
		}
		policy := p[purpose]
		policy.Limit = c.Int(flag)
		if window > 0 {
			policy.Window = window
		}
		p[purpose] = policy
	}
	return p
}

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "sql-dialect",
			Usage:   "The type of sql to use, sqlite, mysql or postgres",
			EnvVars: []string{"EASYPAGE_SQL_DIALECT", "SQL_DIALECT"},
			Value:   "sqlite",
		},
		&cli.StringFlag{
			Name:    "sql-dsn",
			Usage:   "The DSN to use to connect to",
			EnvVars: []string{"EASYPAGE_SQL_DSN", "SQL_DSN"},
			Value:   "file:easypage.sqlite?_pragma=foreign_keys(1)",
		},
		&cli.StringFlag{
			Name:    "base-domain",
			Usage:   "The domain tenant subdomains are created under",
			EnvVars: []string{"EASYPAGE_BASE_DOMAIN", "BASE_DOMAIN"},
			Value:   "myeasypage.com",
		},
		&cli.DurationFlag{
			Name:    "verification-retention",
			Usage:   "How long unconsumed identity verifications are kept",
			EnvVars: []string{"EASYPAGE_VERIFICATION_RETENTION"},
			Value:   24 * time.Hour,
		},
		&cli.DurationFlag{
			Name:    "purge-interval",
			Usage:   "How often expired codes and verifications are purged",
			EnvVars: []string{"EASYPAGE_PURGE_INTERVAL"},
			Value:   10 * time.Minute,
		},
	}
}

func serverCommand() *cli.Command {
	cmd := apiServerCommand{}

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port for the HTTP Server Port",
			EnvVars: []string{"EASYPAGE_PORT", "PORT"},
			Value:   4315,
		},
		&cli.StringFlag{
			Name:    "dev-marker",
			Usage:   "Host fragment that marks local development hosts",
			EnvVars: []string{"EASYPAGE_DEV_MARKER"},
			Value:   "localhost",
		},
		&cli.StringSliceFlag{
			Name:    "trusted-proxies",
			Usage:   "Addresses or CIDRs of reverse proxies whose X-Forwarded-For header is trusted",
			EnvVars: []string{"EASYPAGE_TRUSTED_PROXIES"},
		},
		&cli.StringFlag{
			Name:    "session-cookie",
			Usage:   "Name of the session cookie",
			EnvVars: []string{"EASYPAGE_SESSION_COOKIE", "SESSION_COOKIE"},
			Value:   "easypage_session",
		},
		&cli.StringFlag{
			Name:     "session-secret",
			Usage:    "Secret used to sign session tokens",
			EnvVars:  []string{"EASYPAGE_SESSION_SECRET", "SESSION_SECRET"},
			Required: true,
		},
		&cli.DurationFlag{
			Name:    "session-ttl",
			Usage:   "Lifetime of a session",
			EnvVars: []string{"EASYPAGE_SESSION_TTL"},
			Value:   7 * 24 * time.Hour,
		},
		&cli.StringFlag{
			Name:    "session-cookie-domain",
			Usage:   "Domain attribute of the session cookie",
			EnvVars: []string{"EASYPAGE_SESSION_COOKIE_DOMAIN"},
		},
		&cli.BoolFlag{
			Name:    "session-cookie-secure",
			Usage:   "Only send the session cookie over https",
			EnvVars: []string{"EASYPAGE_SESSION_COOKIE_SECURE"},
			Value:   true,
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for rate limit counters and preview fan out, in memory when empty",
			EnvVars: []string{"EASYPAGE_REDIS_ADDR", "REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			EnvVars: []string{"EASYPAGE_REDIS_PASSWORD", "REDIS_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			EnvVars: []string{"EASYPAGE_REDIS_DB"},
		},
		&cli.DurationFlag{
			Name:    "preview-cache-ttl",
			Usage:   "How long the last preview snapshot is kept",
			EnvVars: []string{"EASYPAGE_PREVIEW_CACHE_TTL"},
			Value:   24 * time.Hour,
		},
		&cli.DurationFlag{
			Name:    "rate-limit-window",
			Usage:   "Window applied to rate limit budgets set by flag",
			EnvVars: []string{"EASYPAGE_RATE_LIMIT_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "rate-limit-global",
			Usage:   "Requests per window per IP on the API",
			EnvVars: []string{"EASYPAGE_RATE_LIMIT_GLOBAL"},
		},
		&cli.IntFlag{
			Name:    "rate-limit-contact",
			Usage:   "Contact form submissions per window",
			EnvVars: []string{"EASYPAGE_RATE_LIMIT_CONTACT"},
		},
		&cli.IntFlag{
			Name:    "rate-limit-otp",
			Usage:   "Codes sent per window per target",
			EnvVars: []string{"EASYPAGE_RATE_LIMIT_OTP"},
		},
		&cli.IntFlag{
			Name:    "rate-limit-signup",
			Usage:   "Signups per window per IP",
			EnvVars: []string{"EASYPAGE_RATE_LIMIT_SIGNUP"},
		},
		&cli.IntFlag{
			Name:    "rate-limit-login",
			Usage:   "Login attempts per window per account",
			EnvVars: []string{"EASYPAGE_RATE_LIMIT_LOGIN"},
		},
		&cli.DurationFlag{
			Name:    "otp-ttl",
			Usage:   "Lifetime of a one time code",
			EnvVars: []string{"EASYPAGE_OTP_TTL"},
			Value:   10 * time.Minute,
		},
		&cli.IntFlag{
			Name:    "otp-max-attempts",
			Usage:   "Verification attempts allowed per code",
			EnvVars: []string{"EASYPAGE_OTP_MAX_ATTEMPTS"},
			Value:   5,
		},
		&cli.IntFlag{
			Name:    "otp-length",
			Usage:   "Number of digits in a one time code",
			EnvVars: []string{"EASYPAGE_OTP_LENGTH"},
			Value:   6,
		},
		&cli.StringFlag{
			Name:    "amqp-url",
			Usage:   "AMQP url messages are published to, codes are only logged when empty",
			EnvVars: []string{"EASYPAGE_AMQP_URL", "AMQP_URL"},
		},
		&cli.StringFlag{
			Name:    "amqp-exchange",
			Usage:   "AMQP exchange for outbound messages",
			EnvVars: []string{"EASYPAGE_AMQP_EXCHANGE"},
			Value:   "easypage.delivery",
		},
		&cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "Bucket uploaded assets are stored in",
			EnvVars: []string{"EASYPAGE_S3_BUCKET", "S3_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Usage:   "Region of the asset bucket",
			EnvVars: []string{"EASYPAGE_S3_REGION", "AWS_REGION"},
			Value:   "us-east-1",
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "Custom S3 endpoint for compatible stores",
			EnvVars: []string{"EASYPAGE_S3_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			Usage:   "Static access key, the default credential chain is used when empty",
			EnvVars: []string{"EASYPAGE_S3_ACCESS_KEY"},
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			Usage:   "Static secret key",
			EnvVars: []string{"EASYPAGE_S3_SECRET_KEY"},
		},
		&cli.StringFlag{
			Name:    "asset-base-url",
			Usage:   "Public URL prefix assets are served from",
			EnvVars: []string{"EASYPAGE_ASSET_BASE_URL"},
		},
		&cli.DurationFlag{
			Name:    "upload-expiry",
			Usage:   "Lifetime of a presigned upload URL",
			EnvVars: []string{"EASYPAGE_UPLOAD_EXPIRY"},
			Value:   15 * time.Minute,
		},
		&cli.StringFlag{
			Name:    "payment-key-id",
			Usage:   "Payment provider key id, payments are disabled when empty",
			EnvVars: []string{"EASYPAGE_PAYMENT_KEY_ID"},
		},
		&cli.StringFlag{
			Name:    "payment-key-secret",
			Usage:   "Payment provider key secret",
			EnvVars: []string{"EASYPAGE_PAYMENT_KEY_SECRET"},
		},
		&cli.StringFlag{
			Name:    "payment-webhook-secret",
			Usage:   "Secret the provider signs webhooks with",
			EnvVars: []string{"EASYPAGE_PAYMENT_WEBHOOK_SECRET"},
		},
		&cli.StringFlag{
			Name:    "payment-api-url",
			Usage:   "Payment provider API url",
			EnvVars: []string{"EASYPAGE_PAYMENT_API_URL"},
			Value:   "https://api.razorpay.com/v1",
		},
		&cli.StringFlag{
			Name:    "payment-currency",
			Usage:   "Currency plans are charged in",
			EnvVars: []string{"EASYPAGE_PAYMENT_CURRENCY"},
			Value:   "INR",
		},
		&cli.Int64Flag{
			Name:    "price-pro",
			Usage:   "Price of the pro plan in the currency's minor unit",
			EnvVars: []string{"EASYPAGE_PRICE_PRO"},
			Value:   49900,
		},
		&cli.Int64Flag{
			Name:    "price-business",
			Usage:   "Price of the business plan in the currency's minor unit",
			EnvVars: []string{"EASYPAGE_PRICE_BUSINESS"},
			Value:   99900,
		},
		&cli.StringFlag{
			Name:    "dns-zone-id",
			Usage:   "Route53 hosted zone tenant subdomains are published in",
			EnvVars: []string{"EASYPAGE_DNS_ZONE_ID"},
		},
		&cli.StringFlag{
			Name:    "dns-target",
			Usage:   "CNAME target of published tenant subdomains",
			EnvVars: []string{"EASYPAGE_DNS_TARGET"},
		},
		&cli.Int64Flag{
			Name:    "dns-record-ttl",
			Usage:   "TTL in seconds of published records",
			EnvVars: []string{"EASYPAGE_DNS_RECORD_TTL"},
			Value:   300,
		},
	}

	flags = append(flags, databaseFlags()...)

	return &cli.Command{
		Name:   "api-server",
		Usage:  "easypage api server",
		Action: cmd.Execute,
		Flags:  append(flags, GlobalFlags()...),
		Before: Before,
	}
}

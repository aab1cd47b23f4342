package backend

import (
	"context"
	"time"

	"github.com/myeasypage/easypage/pkg/assets"
	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/delivery"
	"github.com/myeasypage/easypage/pkg/dns"
	"github.com/myeasypage/easypage/pkg/domains"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/otp"
	"github.com/sirupsen/logrus"
)

type Backend interface {
	Signup(ctx context.Context, req model.SignupRequest) (db.Owner, error)
	Login(ctx context.Context, req model.LoginRequest) (db.Owner, error)
	SendOTP(ctx context.Context, req model.SendOTPRequest) (model.SendOTPResponse, error)
	VerifyOTP(ctx context.Context, req model.VerifyOTPRequest) (model.VerifyOTPResponse, error)
	ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error
	CheckSubdomain(ctx context.Context, subdomain string) (model.SubdomainAvailability, error)
	GetOwner(ctx context.Context, id uint) (db.Owner, error)
	ListOwners(ctx context.Context, page, size int) (model.OwnerList, error)

	ListPosts(ctx context.Context, ownerID uint, publishedOnly bool) ([]model.PostView, error)
	GetPost(ctx context.Context, ownerID uint, slug string, publishedOnly bool) (model.PostView, error)
	CreatePost(ctx context.Context, ownerID uint, req model.PostRequest) (model.PostView, error)
	UpdatePost(ctx context.Context, ownerID, id uint, req model.PostRequest) (model.PostView, error)
	DeletePost(ctx context.Context, ownerID, id uint) error

	Contact(ctx context.Context, owner db.Owner, req model.ContactRequest) error
	ClaimDomain(ctx context.Context, ownerID uint, domain string) (model.DomainClaimResponse, error)
	VerifyDomain(ctx context.Context, ownerID uint) (model.DomainClaimResponse, error)
	PresignUpload(ctx context.Context, ownerID uint, contentType string) (model.UploadResponse, error)

	GetBaseDomain() string
	Purge(ctx context.Context) error
	StartPurgerDaemon(stopCh <-chan struct{})
}

// Uploader hands out presigned upload URLs.
type Uploader interface {
	PresignUpload(ctx context.Context, ownerID uint, contentType string) (assets.Upload, error)
}

// Sweeper drops idle rate limit counters held in memory.
type Sweeper interface {
	Sweep()
}

type Config struct {
	BaseDomain            string
	PurgeInterval         time.Duration
	VerificationRetention time.Duration

	OTP     *otp.Service
	Sender  delivery.Sender
	DNS     dns.Publisher
	Domains *domains.Verifier
	// Uploads and Counters are optional.
	Uploads  Uploader
	Counters Sweeper
}

type backend struct {
	baseDomain            string
	purgeInterval         time.Duration
	verificationRetention time.Duration

	db       db.Database
	otp      *otp.Service
	sender   delivery.Sender
	dns      dns.Publisher
	domains  *domains.Verifier
	uploads  Uploader
	counters Sweeper
	now      func() time.Time
	log      *logrus.Entry
}

func NewBackend(database db.Database, cfg Config, log *logrus.Entry) Backend {
	b := &backend{
		baseDomain:            cfg.BaseDomain,
		purgeInterval:         cfg.PurgeInterval,
		verificationRetention: cfg.VerificationRetention,
		db:                    database,
		otp:                   cfg.OTP,
		sender:                cfg.Sender,
		dns:                   cfg.DNS,
		domains:               cfg.Domains,
		uploads:               cfg.Uploads,
		counters:              cfg.Counters,
		now:                   time.Now,
		log:                   log.WithField("component", "backend"),
	}
	if b.otp == nil {
		b.otp = otp.NewService(database, otp.DefaultConfig(), log)
	}
	if b.sender == nil {
		b.sender = delivery.LogSender{Log: log}
	}
	if b.dns == nil {
		b.dns = dns.Noop{}
	}
	if b.domains == nil {
		b.domains = domains.NewVerifier(nil)
	}
	if b.purgeInterval <= 0 {
		b.purgeInterval = 10 * time.Minute
	}
	if b.verificationRetention <= 0 {
		b.verificationRetention = 24 * time.Hour
	}
	return b
}

func (b *backend) GetBaseDomain() string {
	return b.baseDomain
}

// OwnerView projects an owner for API responses.
func OwnerView(o db.Owner) model.OwnerView {
	v := model.OwnerView{
		ID:             o.ID,
		Subdomain:      o.Subdomain,
		Plan:           o.Plan,
		Role:           o.Role,
		EmailVerified:  o.EmailVerified,
		MobileVerified: o.MobileVerified,
		CreatedAt:      o.CreatedAt,
	}
	if o.CustomDomain != nil {
		v.CustomDomain = *o.CustomDomain
	}
	if o.Email != nil {
		v.Email = *o.Email
	}
	if o.Mobile != nil {
		v.Mobile = *o.Mobile
	}
	if o.CountryCode != nil {
		v.CountryCode = *o.CountryCode
	}
	return v
}

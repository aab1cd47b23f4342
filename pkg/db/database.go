package db

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type Database interface {
	// Transaction runs fn against a transactional Database. Any error returned
	// by fn rolls back every write made through tx.
	Transaction(ctx context.Context, fn func(tx Database) error) error

	CreateOwner(ctx context.Context, owner *Owner) error
	GetOwner(ctx context.Context, id uint) (Owner, error)
	GetOwnerBySubdomain(ctx context.Context, subdomain string) (Owner, error)
	GetOwnerByCustomDomain(ctx context.Context, domain string) (Owner, error)
	GetOwnerByEmail(ctx context.Context, email string) (Owner, error)
	GetOwnerByMobile(ctx context.Context, countryCode, mobile string) (Owner, error)
	ListOwners(ctx context.Context, offset, limit int) ([]Owner, int64, error)
	UpdateOwnerPlan(ctx context.Context, id uint, plan string) error
	UpdateOwnerPassword(ctx context.Context, id uint, passwordHash string) error
	SetOwnerCustomDomain(ctx context.Context, id uint, domain *string) error

	// GetDraftForUpdate locks the draft row where the dialect supports it.
	GetDraftForUpdate(ctx context.Context, ownerID uint) (ProfileDesignDraft, error)
	GetDraft(ctx context.Context, ownerID uint) (ProfileDesignDraft, error)
	SaveDraft(ctx context.Context, draft *ProfileDesignDraft) error
	GetPublished(ctx context.Context, ownerID uint) (ProfileDesign, error)
	SavePublished(ctx context.Context, published *ProfileDesign) error

	CreatePost(ctx context.Context, post *Post) error
	SavePost(ctx context.Context, post *Post) error
	DeletePost(ctx context.Context, ownerID, id uint) error
	GetPost(ctx context.Context, ownerID, id uint) (Post, error)
	GetPostBySlug(ctx context.Context, ownerID uint, slug string, publishedOnly bool) (Post, error)
	ListPosts(ctx context.Context, ownerID uint, publishedOnly bool) ([]Post, error)

	// ReplaceOTP removes any record for (identifier, purpose) and stores otp.
	ReplaceOTP(ctx context.Context, otp *OTPRecord) error
	GetOTP(ctx context.Context, identifier, purpose string) (OTPRecord, error)
	SaveOTP(ctx context.Context, otp *OTPRecord) error
	UpsertVerification(ctx context.Context, identifier, channel string, verifiedAt time.Time) error
	GetVerification(ctx context.Context, identifier, channel string) (Verification, error)
	ConsumeVerification(ctx context.Context, identifier, channel string) error
	PurgeExpired(ctx context.Context, now time.Time, verificationRetention time.Duration) (int64, int64, error)

	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByExternalID(ctx context.Context, externalOrderID string) (Order, error)
	SaveOrder(ctx context.Context, order *Order) error

	SaveDomainClaim(ctx context.Context, claim *DomainClaim) error
	GetDomainClaim(ctx context.Context, ownerID uint) (DomainClaim, error)
}

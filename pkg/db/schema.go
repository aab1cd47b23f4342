package db

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Owner struct {
	gorm.Model
	Subdomain      string  `gorm:"uniqueIndex;size:63;not null"`
	CustomDomain   *string `gorm:"uniqueIndex;size:255"`
	Email          *string `gorm:"uniqueIndex;size:255"`
	Mobile         *string `gorm:"uniqueIndex:idx_owner_mobile,priority:2;size:32"`
	CountryCode    *string `gorm:"uniqueIndex:idx_owner_mobile,priority:1;size:8"`
	PasswordHash   string  `gorm:"not null"`
	Plan           string  `gorm:"size:32;not null;default:free"`
	Role           string  `gorm:"size:32;not null;default:owner"`
	EmailVerified  bool
	MobileVerified bool
}

// ProfileDesign is the published document of an owner. One per owner.
type ProfileDesign struct {
	ID        uint           `gorm:"primarykey"`
	OwnerID   uint           `gorm:"uniqueIndex;not null"`
	Owner     Owner          `gorm:"constraint:OnDelete:CASCADE;"`
	Document  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileDesignDraft is the editor's working copy. One per owner.
type ProfileDesignDraft struct {
	ID        uint           `gorm:"primarykey"`
	OwnerID   uint           `gorm:"uniqueIndex;not null"`
	Owner     Owner          `gorm:"constraint:OnDelete:CASCADE;"`
	Document  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Post struct {
	gorm.Model
	OwnerID        uint   `gorm:"uniqueIndex:idx_post_slug,priority:1;not null"`
	Owner          Owner  `gorm:"constraint:OnDelete:CASCADE;"`
	Slug           string `gorm:"uniqueIndex:idx_post_slug,priority:2;size:191;not null"`
	Title          string `gorm:"size:255;not null"`
	Content        string `gorm:"type:text"`
	SEOTitle       string `gorm:"size:255"`
	SEODescription string `gorm:"size:512"`
	Published      bool   `gorm:"index"`
}

// OTPRecord holds at most one code per (identifier, purpose).
type OTPRecord struct {
	ID         uint      `gorm:"primarykey"`
	Identifier string    `gorm:"uniqueIndex:idx_otp_key,priority:1;size:255;not null"`
	Purpose    string    `gorm:"uniqueIndex:idx_otp_key,priority:2;size:32;not null"`
	CodeHash   string    `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	Attempts   int       `gorm:"not null;default:0"`
	Consumed   bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

type Verification struct {
	ID         uint   `gorm:"primarykey"`
	Identifier string `gorm:"uniqueIndex:idx_verification_key,priority:1;size:255;not null"`
	Channel    string `gorm:"uniqueIndex:idx_verification_key,priority:2;size:16;not null"`
	Verified   bool
	VerifiedAt time.Time `gorm:"index"`
	// Consumed is set once a signup has used this verification.
	Consumed  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	OrderCreated  = "created"
	OrderCaptured = "captured"
	OrderFailed   = "failed"
)

type Order struct {
	gorm.Model
	OwnerID         uint   `gorm:"index;not null"`
	Owner           Owner  `gorm:"constraint:OnDelete:CASCADE;"`
	Plan            string `gorm:"size:32;not null"`
	Amount          int64  `gorm:"not null"`
	Currency        string `gorm:"size:8;not null"`
	Receipt         string `gorm:"uniqueIndex;size:64;not null"`
	ExternalOrderID string `gorm:"uniqueIndex;size:64;not null"`
	PaymentID       string `gorm:"size:64"`
	Status          string `gorm:"size:16;not null;default:created"`
	ClientVerified  bool
	WebhookVerified bool
}

// DomainClaim is a pending or completed proof of custom domain ownership.
type DomainClaim struct {
	ID         uint   `gorm:"primarykey"`
	OwnerID    uint   `gorm:"uniqueIndex;not null"`
	Owner      Owner  `gorm:"constraint:OnDelete:CASCADE;"`
	Domain     string `gorm:"size:255;not null"`
	Token      string `gorm:"size:64;not null"`
	VerifiedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type database struct {
	db *gorm.DB
}

// New creates a new database connection and migrates the schema.
func New(ctx context.Context, dialect string, dsn string, config *gorm.Config) (Database, error) {
	if config == nil {
		config = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	}
	config.TranslateError = true

	var db *gorm.DB
	var err error

	switch dialect {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), config)
		if err != nil {
			return nil, err
		}
		if strings.Contains(dsn, ":memory:") {
			// each connection to a memory dsn is a separate database
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			sqlDB.SetMaxOpenConns(1)
		}
		err = db.Exec("PRAGMA foreign_keys = ON").Error
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), config)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), config)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&Owner{},
		&ProfileDesign{},
		&ProfileDesignDraft{},
		&Post{},
		&OTPRecord{},
		&Verification{},
		&Order{},
		&DomainClaim{},
	); err != nil {
		return nil, err
	}

	return &database{db: db}, nil
}

// Close releases the underlying connection pool.
func Close(d Database) error {
	impl, ok := d.(*database)
	if !ok {
		return nil
	}
	sqlDB, err := impl.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (d *database) Transaction(ctx context.Context, fn func(tx Database) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&database{db: tx})
	})
}

func (d *database) CreateOwner(ctx context.Context, owner *Owner) error {
	return translate(d.db.WithContext(ctx).Create(owner).Error)
}

func (d *database) GetOwner(ctx context.Context, id uint) (Owner, error) {
	owner := Owner{}
	sql := d.db.WithContext(ctx).Take(&owner, id)
	return owner, translate(sql.Error)
}

func (d *database) GetOwnerBySubdomain(ctx context.Context, subdomain string) (Owner, error) {
	owner := Owner{}
	sql := d.db.WithContext(ctx).Where("subdomain = ?", strings.ToLower(subdomain)).Take(&owner)
	return owner, translate(sql.Error)
}

func (d *database) GetOwnerByCustomDomain(ctx context.Context, domain string) (Owner, error) {
	owner := Owner{}
	sql := d.db.WithContext(ctx).Where("custom_domain = ?", strings.ToLower(domain)).Take(&owner)
	return owner, translate(sql.Error)
}

func (d *database) GetOwnerByEmail(ctx context.Context, email string) (Owner, error) {
	owner := Owner{}
	sql := d.db.WithContext(ctx).Where("email = ?", email).Take(&owner)
	return owner, translate(sql.Error)
}

func (d *database) GetOwnerByMobile(ctx context.Context, countryCode, mobile string) (Owner, error) {
	owner := Owner{}
	sql := d.db.WithContext(ctx).Where("country_code = ? and mobile = ?", countryCode, mobile).Take(&owner)
	return owner, translate(sql.Error)
}

func (d *database) ListOwners(ctx context.Context, offset, limit int) ([]Owner, int64, error) {
	var owners []Owner
	var total int64
	if err := d.db.WithContext(ctx).Model(&Owner{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	sql := d.db.WithContext(ctx).Order("id").Offset(offset).Limit(limit).Find(&owners)
	return owners, total, sql.Error
}

func (d *database) UpdateOwnerPlan(ctx context.Context, id uint, plan string) error {
	return d.updateOwner(ctx, id, "plan", plan)
}

func (d *database) UpdateOwnerPassword(ctx context.Context, id uint, passwordHash string) error {
	return d.updateOwner(ctx, id, "password_hash", passwordHash)
}

func (d *database) SetOwnerCustomDomain(ctx context.Context, id uint, domain *string) error {
	return d.updateOwner(ctx, id, "custom_domain", domain)
}

func (d *database) updateOwner(ctx context.Context, id uint, column string, value interface{}) error {
	sql := d.db.WithContext(ctx).Model(&Owner{Model: gorm.Model{ID: id}}).Update(column, value)
	if sql.Error != nil {
		return translate(sql.Error)
	}
	if sql.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *database) GetDraftForUpdate(ctx context.Context, ownerID uint) (ProfileDesignDraft, error) {
	q := d.db.WithContext(ctx)
	// SQLite has no row locks; its writer lock already serialises the transaction.
	if q.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	draft := ProfileDesignDraft{}
	sql := q.Where("owner_id = ?", ownerID).Take(&draft)
	return draft, translate(sql.Error)
}

func (d *database) GetDraft(ctx context.Context, ownerID uint) (ProfileDesignDraft, error) {
	draft := ProfileDesignDraft{}
	sql := d.db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&draft)
	return draft, translate(sql.Error)
}

func (d *database) SaveDraft(ctx context.Context, draft *ProfileDesignDraft) error {
	return translate(d.db.WithContext(ctx).Save(draft).Error)
}

func (d *database) GetPublished(ctx context.Context, ownerID uint) (ProfileDesign, error) {
	published := ProfileDesign{}
	sql := d.db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&published)
	return published, translate(sql.Error)
}

func (d *database) SavePublished(ctx context.Context, published *ProfileDesign) error {
	return translate(d.db.WithContext(ctx).Save(published).Error)
}

func (d *database) CreatePost(ctx context.Context, post *Post) error {
	return translate(d.db.WithContext(ctx).Create(post).Error)
}

func (d *database) SavePost(ctx context.Context, post *Post) error {
	return translate(d.db.WithContext(ctx).Save(post).Error)
}

func (d *database) DeletePost(ctx context.Context, ownerID, id uint) error {
	sql := d.db.WithContext(ctx).Unscoped().Where("owner_id = ? and id = ?", ownerID, id).Delete(&Post{})
	if sql.Error != nil {
		return sql.Error
	}
	if sql.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *database) GetPost(ctx context.Context, ownerID, id uint) (Post, error) {
	post := Post{}
	sql := d.db.WithContext(ctx).Where("owner_id = ? and id = ?", ownerID, id).Take(&post)
	return post, translate(sql.Error)
}

func (d *database) GetPostBySlug(ctx context.Context, ownerID uint, slug string, publishedOnly bool) (Post, error) {
	q := d.db.WithContext(ctx).Where("owner_id = ? and slug = ?", ownerID, slug)
	if publishedOnly {
		q = q.Where("published = ?", true)
	}
	post := Post{}
	sql := q.Take(&post)
	return post, translate(sql.Error)
}

func (d *database) ListPosts(ctx context.Context, ownerID uint, publishedOnly bool) ([]Post, error) {
	q := d.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if publishedOnly {
		q = q.Where("published = ?", true)
	}
	var posts []Post
	sql := q.Order("created_at desc").Find(&posts)
	return posts, sql.Error
}

func (d *database) ReplaceOTP(ctx context.Context, otp *OTPRecord) error {
	return d.Transaction(ctx, func(tx Database) error {
		t := tx.(*database)
		sql := t.db.WithContext(ctx).Where("identifier = ? and purpose = ?", otp.Identifier, otp.Purpose).Delete(&OTPRecord{})
		if sql.Error != nil {
			return sql.Error
		}
		return translate(t.db.WithContext(ctx).Create(otp).Error)
	})
}

func (d *database) GetOTP(ctx context.Context, identifier, purpose string) (OTPRecord, error) {
	otp := OTPRecord{}
	sql := d.db.WithContext(ctx).Where("identifier = ? and purpose = ?", identifier, purpose).Take(&otp)
	return otp, translate(sql.Error)
}

func (d *database) SaveOTP(ctx context.Context, otp *OTPRecord) error {
	return translate(d.db.WithContext(ctx).Save(otp).Error)
}

func (d *database) UpsertVerification(ctx context.Context, identifier, channel string, verifiedAt time.Time) error {
	v := Verification{
		Identifier: identifier,
		Channel:    channel,
		Verified:   true,
		VerifiedAt: verifiedAt,
	}
	sql := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"verified", "verified_at", "consumed", "updated_at"}),
	}).Create(&v)
	return sql.Error
}

func (d *database) GetVerification(ctx context.Context, identifier, channel string) (Verification, error) {
	v := Verification{}
	sql := d.db.WithContext(ctx).Where("identifier = ? and channel = ?", identifier, channel).Take(&v)
	return v, translate(sql.Error)
}

func (d *database) ConsumeVerification(ctx context.Context, identifier, channel string) error {
	sql := d.db.WithContext(ctx).Model(&Verification{}).
		Where("identifier = ? and channel = ? and verified = ? and consumed = ?", identifier, channel, true, false).
		Update("consumed", true)
	if sql.Error != nil {
		return sql.Error
	}
	if sql.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired removes inert OTP records and verifications older than the
// retention window. It returns the number of OTPs and verifications deleted.
func (d *database) PurgeExpired(ctx context.Context, now time.Time, verificationRetention time.Duration) (int64, int64, error) {
	var otps, verifications int64
	err := d.Transaction(ctx, func(tx Database) error {
		t := tx.(*database)
		sql := t.db.WithContext(ctx).Where("expires_at < ? or consumed = ?", now, true).Delete(&OTPRecord{})
		if sql.Error != nil {
			return sql.Error
		}
		otps = sql.RowsAffected

		sql = t.db.WithContext(ctx).Where("verified_at < ?", now.Add(-verificationRetention)).Delete(&Verification{})
		if sql.Error != nil {
			return sql.Error
		}
		verifications = sql.RowsAffected
		return nil
	})

	return otps, verifications, err
}

func (d *database) CreateOrder(ctx context.Context, order *Order) error {
	return translate(d.db.WithContext(ctx).Create(order).Error)
}

func (d *database) GetOrderByExternalID(ctx context.Context, externalOrderID string) (Order, error) {
	order := Order{}
	sql := d.db.WithContext(ctx).Where("external_order_id = ?", externalOrderID).Take(&order)
	return order, translate(sql.Error)
}

func (d *database) SaveOrder(ctx context.Context, order *Order) error {
	return translate(d.db.WithContext(ctx).Save(order).Error)
}

func (d *database) SaveDomainClaim(ctx context.Context, claim *DomainClaim) error {
	sql := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"domain", "token", "verified_at", "updated_at"}),
	}).Create(claim)
	return translate(sql.Error)
}

func (d *database) GetDomainClaim(ctx context.Context, ownerID uint) (DomainClaim, error) {
	claim := DomainClaim{}
	sql := d.db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&claim)
	return claim, translate(sql.Error)
}

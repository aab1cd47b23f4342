// Package otp issues and checks short-lived one-time codes per identifier and
// purpose.
package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/rand"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type Purpose string

const (
	PurposeSignup Purpose = "signup"
	PurposeLogin  Purpose = "login"
	PurposeReset  Purpose = "reset"
	PurposeVerify Purpose = "verify"
)

func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(strings.ToLower(s)); p {
	case PurposeSignup, PurposeLogin, PurposeReset, PurposeVerify:
		return p, nil
	}
	return "", model.Validation("unknown purpose %q", s)
}

var (
	ErrNotFound        = model.NewError(model.KindNotFound, "no active code, request a new one")
	ErrExpired         = model.NewError(model.KindGone, "code has expired, request a new one")
	ErrWrongCode       = model.NewError(model.KindValidation, "incorrect code")
	ErrTooManyAttempts = model.NewError(model.KindRateLimit, "too many attempts, request a new one")
)

type Config struct {
	TTL         time.Duration
	MaxAttempts int
	Length      int
}

func DefaultConfig() Config {
	return Config{
		TTL:         10 * time.Minute,
		MaxAttempts: 5,
		Length:      6,
	}
}

// Issued is a freshly created code. Code is only ever held in memory.
type Issued struct {
	Identifier string
	Channel    string
	Code       string
	TTL        time.Duration
}

type Service struct {
	db  db.Database
	cfg Config
	now func() time.Time
	log *logrus.Entry
}

func NewService(database db.Database, cfg Config, log *logrus.Entry) *Service {
	return &Service{
		db:  database,
		cfg: cfg,
		now: time.Now,
		log: log.WithField("component", "otp"),
	}
}

// ChannelOf derives the delivery channel from the identifier.
func ChannelOf(identifier string) string {
	if strings.Contains(identifier, "@") {
		return model.ChannelEmail
	}
	return model.ChannelMobile
}

// Normalize returns the canonical form of an email address or phone number.
func Normalize(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return strings.ToLower(identifier)
	}
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(identifier)
}

// Create issues a new code for (identifier, purpose). Any earlier code for the
// same pair stops working.
func (s *Service) Create(ctx context.Context, identifier string, purpose Purpose) (Issued, error) {
	identifier = Normalize(identifier)
	if identifier == "" {
		return Issued{}, model.Validation("target is required")
	}

	code := rand.Digits(s.cfg.Length)
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		return Issued{}, err
	}

	record := db.OTPRecord{
		Identifier: identifier,
		Purpose:    string(purpose),
		CodeHash:   string(hash),
		ExpiresAt:  s.now().Add(s.cfg.TTL),
	}
	if err := s.db.ReplaceOTP(ctx, &record); err != nil {
		return Issued{}, fmt.Errorf("storing code: %w", err)
	}

	s.log.WithFields(logrus.Fields{"purpose": purpose, "channel": ChannelOf(identifier)}).Debug("issued code")
	return Issued{
		Identifier: identifier,
		Channel:    ChannelOf(identifier),
		Code:       code,
		TTL:        s.cfg.TTL,
	}, nil
}

// Verify checks code against the active record of (identifier, purpose). Every
// call that reaches the comparison counts as an attempt. A match consumes the
// record and, unless purpose is reset, records the identifier as verified.
func (s *Service) Verify(ctx context.Context, identifier, code string, purpose Purpose) error {
	identifier = Normalize(identifier)
	now := s.now()
	wrong := false

	err := s.db.Transaction(ctx, func(tx db.Database) error {
		record, err := tx.GetOTP(ctx, identifier, string(purpose))
		if errors.Is(err, db.ErrNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		switch {
		case record.Consumed:
			return ErrNotFound
		case !now.Before(record.ExpiresAt):
			return ErrExpired
		case record.Attempts >= s.cfg.MaxAttempts:
			return ErrTooManyAttempts
		}

		record.Attempts++
		if bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(strings.TrimSpace(code))) != nil {
			wrong = true
			return tx.SaveOTP(ctx, &record)
		}

		record.Consumed = true
		if err := tx.SaveOTP(ctx, &record); err != nil {
			return err
		}
		if purpose == PurposeReset {
			return nil
		}
		return tx.UpsertVerification(ctx, identifier, ChannelOf(identifier), now)
	})
	if err != nil {
		return err
	}
	if wrong {
		return ErrWrongCode
	}
	return nil
}

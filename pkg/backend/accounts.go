package backend

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/myeasypage/easypage/pkg/auth"
	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/delivery"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/otp"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// identity is an email address or a phone number a code can be sent to.
type identity struct {
	identifier  string
	channel     string
	email       string
	countryCode string
	mobile      string
}

func emailIdentity(email string) (identity, error) {
	email = otp.Normalize(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return identity{}, model.Validation("invalid email address")
	}
	return identity{identifier: email, channel: model.ChannelEmail, email: email}, nil
}

func mobileIdentity(countryCode, mobile string) (identity, error) {
	countryCode = strings.TrimSpace(countryCode)
	if !strings.HasPrefix(countryCode, "+") {
		countryCode = "+" + countryCode
	}
	mobile = otp.Normalize(mobile)
	if !digits(countryCode[1:]) || len(countryCode) < 2 || len(countryCode) > 5 {
		return identity{}, model.Validation("invalid country code")
	}
	if !digits(mobile) || len(mobile) < 6 || len(mobile) > 15 {
		return identity{}, model.Validation("invalid mobile number")
	}
	return identity{
		identifier:  countryCode + mobile,
		channel:     model.ChannelMobile,
		countryCode: countryCode,
		mobile:      mobile,
	}, nil
}

// parseTarget reads an OTP target: an email address, or a phone number when
// countryCode is set.
func parseTarget(target, countryCode string) (identity, error) {
	if strings.TrimSpace(target) == "" {
		return identity{}, model.Validation("target is required")
	}
	if strings.Contains(target, "@") {
		return emailIdentity(target)
	}
	if countryCode == "" {
		return identity{}, model.Validation("countryCode is required for a mobile target")
	}
	return mobileIdentity(countryCode, target)
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (b *backend) ownerFor(ctx context.Context, database db.Database, id identity) (db.Owner, error) {
	if id.channel == model.ChannelEmail {
		return database.GetOwnerByEmail(ctx, id.email)
	}
	return database.GetOwnerByMobile(ctx, id.countryCode, id.mobile)
}

// Signup creates an account. At least one of the supplied identities must have
// been verified with a signup code beforehand; every verified identity is
// consumed in the same transaction that creates the owner.
func (b *backend) Signup(ctx context.Context, req model.SignupRequest) (db.Owner, error) {
	subdomain := strings.ToLower(strings.TrimSpace(req.Subdomain))
	if err := model.ValidateSubdomain(subdomain); err != nil {
		return db.Owner{}, model.Validation("%v", err)
	}

	var ids []identity
	if req.Email != "" {
		id, err := emailIdentity(req.Email)
		if err != nil {
			return db.Owner{}, err
		}
		ids = append(ids, id)
	}
	if req.Mobile != "" {
		id, err := mobileIdentity(req.CountryCode, req.Mobile)
		if err != nil {
			return db.Owner{}, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return db.Owner{}, model.Validation("an email address or mobile number is required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return db.Owner{}, err
	}

	owner := db.Owner{
		Subdomain:    subdomain,
		PasswordHash: hash,
		Plan:         model.PlanFree,
		Role:         model.RoleOwner,
	}
	for _, id := range ids {
		if id.channel == model.ChannelEmail {
			owner.Email = &id.email
		} else {
			owner.CountryCode = &id.countryCode
			owner.Mobile = &id.mobile
		}
	}

	err = b.db.Transaction(ctx, func(tx db.Database) error {
		for _, id := range ids {
			err := tx.ConsumeVerification(ctx, id.identifier, id.channel)
			if errors.Is(err, db.ErrNotFound) {
				continue
			} else if err != nil {
				return fmt.Errorf("consuming verification: %w", err)
			}
			if id.channel == model.ChannelEmail {
				owner.EmailVerified = true
			} else {
				owner.MobileVerified = true
			}
		}

		if err := tx.CreateOwner(ctx, &owner); errors.Is(err, db.ErrDuplicate) {
			return model.Conflict("subdomain, email or mobile is already registered")
		} else if err != nil {
			return fmt.Errorf("creating owner: %w", err)
		}

		empty := datatypes.JSON(`{}`)
		if err := tx.SaveDraft(ctx, &db.ProfileDesignDraft{OwnerID: owner.ID, Document: empty}); err != nil {
			return fmt.Errorf("creating draft: %w", err)
		}
		if err := tx.SavePublished(ctx, &db.ProfileDesign{OwnerID: owner.ID, Document: empty}); err != nil {
			return fmt.Errorf("creating published page: %w", err)
		}
		return nil
	})
	if err != nil {
		return db.Owner{}, err
	}

	if err := b.dns.Publish(ctx, owner.Subdomain); err != nil {
		b.log.WithError(err).WithField("subdomain", owner.Subdomain).Error("failed to publish subdomain record")
	}
	b.log.WithFields(logrus.Fields{"owner": owner.ID, "subdomain": owner.Subdomain}).Info("owner signed up")
	return owner, nil
}

var errInvalidCredentials = model.Unauthorized("invalid credentials")

func (b *backend) Login(ctx context.Context, req model.LoginRequest) (db.Owner, error) {
	var (
		id  identity
		err error
	)
	switch {
	case req.Email != "":
		id, err = emailIdentity(req.Email)
	case req.Mobile != "":
		id, err = mobileIdentity(req.CountryCode, req.Mobile)
	default:
		err = model.Validation("email or mobile is required")
	}
	if err != nil {
		return db.Owner{}, err
	}
	if req.Password == "" && req.OTP == "" {
		return db.Owner{}, model.Validation("password or otp is required")
	}

	owner, err := b.ownerFor(ctx, b.db, id)
	if errors.Is(err, db.ErrNotFound) {
		return db.Owner{}, errInvalidCredentials
	} else if err != nil {
		return db.Owner{}, err
	}

	if req.OTP != "" {
		err := b.otp.Verify(ctx, id.identifier, req.OTP, otp.PurposeLogin)
		if errors.Is(err, otp.ErrWrongCode) {
			return db.Owner{}, errInvalidCredentials
		} else if err != nil {
			return db.Owner{}, err
		}
		return owner, nil
	}

	if !auth.CheckPassword(owner.PasswordHash, req.Password) {
		return db.Owner{}, errInvalidCredentials
	}
	return owner, nil
}

// SendOTP issues a code and hands it to the delivery transport. Signup and
// verify codes are refused for identities that are already registered or
// verified; login and reset codes need an existing account.
func (b *backend) SendOTP(ctx context.Context, req model.SendOTPRequest) (model.SendOTPResponse, error) {
	purpose, err := otp.ParsePurpose(req.Purpose)
	if err != nil {
		return model.SendOTPResponse{}, err
	}
	id, err := parseTarget(req.Target, req.CountryCode)
	if err != nil {
		return model.SendOTPResponse{}, err
	}

	_, err = b.ownerFor(ctx, b.db, id)
	registered := err == nil
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return model.SendOTPResponse{}, err
	}

	switch purpose {
	case otp.PurposeSignup, otp.PurposeVerify:
		if registered {
			return model.SendOTPResponse{}, model.Conflict("%s is already registered", id.channel)
		}
		v, err := b.db.GetVerification(ctx, id.identifier, id.channel)
		if err == nil && v.Verified && !v.Consumed {
			return model.SendOTPResponse{}, model.Conflict("%s is already verified", id.channel)
		} else if err != nil && !errors.Is(err, db.ErrNotFound) {
			return model.SendOTPResponse{}, err
		}
	default:
		if !registered {
			return model.SendOTPResponse{}, model.NotFound("no account for this %s", id.channel)
		}
	}

	issued, err := b.otp.Create(ctx, id.identifier, purpose)
	if err != nil {
		return model.SendOTPResponse{}, err
	}

	msg := delivery.Message{
		Kind:       delivery.KindOTP,
		Channel:    id.channel,
		To:         id.identifier,
		Purpose:    string(purpose),
		Code:       issued.Code,
		TTLSeconds: int(issued.TTL.Seconds()),
		CreatedAt:  b.now(),
	}
	if err := b.sender.Send(ctx, msg); err != nil {
		b.log.WithError(err).WithField("channel", id.channel).Error("failed to deliver code")
		return model.SendOTPResponse{}, model.WrapError(err, model.KindUpstream, "could not deliver code, try again")
	}

	return model.SendOTPResponse{Sent: true, TTLSeconds: msg.TTLSeconds}, nil
}

func (b *backend) VerifyOTP(ctx context.Context, req model.VerifyOTPRequest) (model.VerifyOTPResponse, error) {
	purpose, err := otp.ParsePurpose(req.Purpose)
	if err != nil {
		return model.VerifyOTPResponse{}, err
	}
	id, err := parseTarget(req.Target, req.CountryCode)
	if err != nil {
		return model.VerifyOTPResponse{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return model.VerifyOTPResponse{}, model.Validation("code is required")
	}
	if err := b.otp.Verify(ctx, id.identifier, req.Code, purpose); err != nil {
		return model.VerifyOTPResponse{}, err
	}
	return model.VerifyOTPResponse{Verified: true, Channel: id.channel}, nil
}

func (b *backend) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error {
	id, err := parseTarget(req.Target, req.CountryCode)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	owner, err := b.ownerFor(ctx, b.db, id)
	if errors.Is(err, db.ErrNotFound) {
		return model.NotFound("no account for this %s", id.channel)
	} else if err != nil {
		return err
	}

	if err := b.otp.Verify(ctx, id.identifier, req.Code, otp.PurposeReset); err != nil {
		return err
	}
	if err := b.db.UpdateOwnerPassword(ctx, owner.ID, hash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	b.log.WithField("owner", owner.ID).Info("password reset")
	return nil
}

func (b *backend) CheckSubdomain(ctx context.Context, subdomain string) (model.SubdomainAvailability, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if err := model.ValidateSubdomain(subdomain); err != nil {
		return model.SubdomainAvailability{Available: false, Reason: err.Error()}, nil
	}
	_, err := b.db.GetOwnerBySubdomain(ctx, subdomain)
	if errors.Is(err, db.ErrNotFound) {
		return model.SubdomainAvailability{Available: true}, nil
	} else if err != nil {
		return model.SubdomainAvailability{}, err
	}
	return model.SubdomainAvailability{Available: false, Reason: "subdomain is taken"}, nil
}

func (b *backend) GetOwner(ctx context.Context, id uint) (db.Owner, error) {
	owner, err := b.db.GetOwner(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return db.Owner{}, model.NotFound("account not found")
	}
	return owner, err
}

const maxPageSize = 100

func (b *backend) ListOwners(ctx context.Context, page, size int) (model.OwnerList, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = 20
	}
	owners, total, err := b.db.ListOwners(ctx, (page-1)*size, size)
	if err != nil {
		return model.OwnerList{}, err
	}
	list := model.OwnerList{Owners: make([]model.OwnerView, 0, len(owners)), Total: total}
	for _, o := range owners {
		list.Owners = append(list.Owners, OwnerView(o))
	}
	return list, nil
}

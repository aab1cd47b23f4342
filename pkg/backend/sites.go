package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/delivery"
	"github.com/myeasypage/easypage/pkg/domains"
	"github.com/myeasypage/easypage/pkg/model"
)

const maxContactMessage = 5000

// Contact forwards a visitor message to the owner's email address.
func (b *backend) Contact(ctx context.Context, owner db.Owner, req model.ContactRequest) error {
	name := strings.TrimSpace(req.Name)
	message := strings.TrimSpace(req.Message)
	if name == "" || message == "" {
		return model.Validation("name and message are required")
	}
	if len(message) > maxContactMessage {
		return model.Validation("message is limited to %d characters", maxContactMessage)
	}
	from, err := emailIdentity(req.Email)
	if err != nil {
		return err
	}
	if owner.Email == nil || *owner.Email == "" {
		return model.NewError(model.KindUnprocessable, "this page does not accept messages")
	}

	msg := delivery.Message{
		Kind:      delivery.KindContact,
		Channel:   model.ChannelEmail,
		To:        *owner.Email,
		Subject:   fmt.Sprintf("New message from %s via %s.%s", name, owner.Subdomain, b.baseDomain),
		Body:      message,
		ReplyTo:   from.email,
		Data:      map[string]string{"name": name, "subdomain": owner.Subdomain},
		CreatedAt: b.now(),
	}
	if err := b.sender.Send(ctx, msg); err != nil {
		b.log.WithError(err).WithField("owner", owner.ID).Error("failed to deliver contact message")
		return model.WrapError(err, model.KindUpstream, "could not deliver message, try again")
	}
	return nil
}

func claimResponse(c domains.Challenge, verified bool, reason string) model.DomainClaimResponse {
	return model.DomainClaimResponse{
		Domain:     c.Domain,
		RecordName: c.RecordName,
		RecordType: "TXT",
		Value:      c.Value,
		Verified:   verified,
		Reason:     reason,
	}
}

// ClaimDomain starts a custom domain claim. The owner proves control by
// publishing the returned TXT record and calling VerifyDomain.
func (b *backend) ClaimDomain(ctx context.Context, ownerID uint, domain string) (model.DomainClaimResponse, error) {
	if err := model.ValidateCustomDomain(domain, b.baseDomain); err != nil {
		return model.DomainClaimResponse{}, model.Validation("%v", err)
	}
	domain = model.NormalizeHost(domain)

	existing, err := b.db.GetOwnerByCustomDomain(ctx, domain)
	if err == nil && existing.ID != ownerID {
		return model.DomainClaimResponse{}, model.Conflict("domain %s is already in use", domain)
	} else if err != nil && !errors.Is(err, db.ErrNotFound) {
		return model.DomainClaimResponse{}, err
	}

	challenge := domains.NewChallenge(domain)
	claim := db.DomainClaim{
		OwnerID: ownerID,
		Domain:  domain,
		Token:   challenge.Token,
	}
	if err := b.db.SaveDomainClaim(ctx, &claim); err != nil {
		return model.DomainClaimResponse{}, fmt.Errorf("saving domain claim: %w", err)
	}
	return claimResponse(challenge, false, ""), nil
}

// VerifyDomain checks the pending claim and binds the domain to the owner once
// the TXT record is visible.
func (b *backend) VerifyDomain(ctx context.Context, ownerID uint) (model.DomainClaimResponse, error) {
	claim, err := b.db.GetDomainClaim(ctx, ownerID)
	if errors.Is(err, db.ErrNotFound) {
		return model.DomainClaimResponse{}, model.NotFound("no domain claim, add a domain first")
	} else if err != nil {
		return model.DomainClaimResponse{}, err
	}

	challenge := domains.ChallengeFor(claim.Domain, claim.Token)
	ok, reason, err := b.domains.Check(ctx, challenge)
	if err != nil {
		return model.DomainClaimResponse{}, model.WrapError(err, model.KindUpstream, "could not look up DNS records")
	}
	if !ok {
		return claimResponse(challenge, false, reason), nil
	}

	err = b.db.Transaction(ctx, func(tx db.Database) error {
		domain := claim.Domain
		if err := tx.SetOwnerCustomDomain(ctx, ownerID, &domain); errors.Is(err, db.ErrDuplicate) {
			return model.Conflict("domain %s is already in use", domain)
		} else if err != nil {
			return err
		}
		now := b.now()
		claim.VerifiedAt = &now
		return tx.SaveDomainClaim(ctx, &claim)
	})
	if err != nil {
		return model.DomainClaimResponse{}, err
	}

	b.log.WithField("owner", ownerID).Infof("custom domain %s verified", claim.Domain)
	return claimResponse(challenge, true, ""), nil
}

func (b *backend) PresignUpload(ctx context.Context, ownerID uint, contentType string) (model.UploadResponse, error) {
	if b.uploads == nil {
		return model.UploadResponse{}, model.NewError(model.KindUpstream, "uploads are not configured")
	}
	if strings.TrimSpace(contentType) == "" {
		return model.UploadResponse{}, model.Validation("contentType is required")
	}
	up, err := b.uploads.PresignUpload(ctx, ownerID, contentType)
	if err != nil {
		return model.UploadResponse{}, err
	}
	return model.UploadResponse{
		UploadURL: up.UploadURL,
		AssetURL:  up.AssetURL,
		Key:       up.Key,
	}, nil
}

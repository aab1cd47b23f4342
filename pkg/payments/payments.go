// Package payments creates plan upgrade orders and applies payment
// confirmations from the client and from the provider's webhook.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/sirupsen/logrus"
)

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
	// Prices holds the amount in the currency's minor unit per plan.
	Prices map[string]int64
}

type Service struct {
	db      db.Database
	gateway Gateway
	cfg     Config
	log     *logrus.Entry
}

func NewService(database db.Database, gateway Gateway, cfg Config, log *logrus.Entry) *Service {
	return &Service{
		db:      database,
		gateway: gateway,
		cfg:     cfg,
		log:     log.WithField("component", "payments"),
	}
}

// Sign returns the hex HMAC-SHA256 of message with secret.
func Sign(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate reports whether the config can authenticate the provider. Both
// secrets are HMAC keys; an empty key would accept signatures anyone can make.
func (c Config) Validate() error {
	switch {
	case c.KeyID == "":
		return errors.New("payment key id is required")
	case c.KeySecret == "":
		return errors.New("payment key secret is required")
	case c.WebhookSecret == "":
		return errors.New("payment webhook secret is required")
	}
	return nil
}

func validSignature(secret, message []byte, signature string) bool {
	if len(secret) == 0 {
		return false
	}
	expected, err := hex.DecodeString(Sign(secret, message))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// VerifyPaymentSignature checks the signature the checkout hands the client.
func (s *Service) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return validSignature([]byte(s.cfg.KeySecret), []byte(orderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature checks the signature of a raw webhook body.
func (s *Service) VerifyWebhookSignature(body []byte, signature string) bool {
	return validSignature([]byte(s.cfg.WebhookSecret), body, signature)
}

func (s *Service) CreateOrder(ctx context.Context, ownerID uint, plan string) (model.OrderResponse, error) {
	amount, ok := s.cfg.Prices[plan]
	if !ok {
		return model.OrderResponse{}, model.Validation("unknown plan %q", plan)
	}

	receipt := uuid.NewString()
	externalID, err := s.gateway.CreateOrder(ctx, amount, s.cfg.Currency, receipt)
	if err != nil {
		return model.OrderResponse{}, model.WrapError(err, model.KindUpstream, "payment provider is unavailable, try again")
	}

	order := db.Order{
		OwnerID:         ownerID,
		Plan:            plan,
		Amount:          amount,
		Currency:        s.cfg.Currency,
		Receipt:         receipt,
		ExternalOrderID: externalID,
		Status:          db.OrderCreated,
	}
	if err := s.db.CreateOrder(ctx, &order); err != nil {
		return model.OrderResponse{}, err
	}

	return model.OrderResponse{
		OrderID:  externalID,
		Amount:   amount,
		Currency: s.cfg.Currency,
		Plan:     plan,
		KeyID:    s.cfg.KeyID,
	}, nil
}

// VerifyPayment applies the client side confirmation of an owner's order.
func (s *Service) VerifyPayment(ctx context.Context, ownerID uint, req model.VerifyPaymentRequest) (model.VerifyPaymentResponse, error) {
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return model.VerifyPaymentResponse{}, model.Validation("orderId, paymentId and signature are required")
	}
	if !s.VerifyPaymentSignature(req.OrderID, req.PaymentID, req.Signature) {
		return model.VerifyPaymentResponse{}, model.Validation("invalid payment signature")
	}

	order, err := s.confirm(ctx, req.OrderID, req.PaymentID, &ownerID, func(o *db.Order) { o.ClientVerified = true })
	if err != nil {
		return model.VerifyPaymentResponse{}, err
	}
	return model.VerifyPaymentResponse{Plan: order.Plan, Status: order.Status}, nil
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleWebhook applies a server to server confirmation. body must be the raw
// request body the signature was computed over.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.VerifyWebhookSignature(body, signature) {
		return model.Validation("invalid webhook signature")
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return model.WrapError(err, model.KindValidation, "invalid webhook payload")
	}
	payment := event.Payload.Payment.Entity
	log := s.log.WithFields(logrus.Fields{"event": event.Event, "order": payment.OrderID, "payment": payment.ID})

	switch event.Event {
	case "payment.captured", "order.paid":
		_, err := s.confirm(ctx, payment.OrderID, payment.ID, nil, func(o *db.Order) { o.WebhookVerified = true })
		if errors.Is(err, db.ErrNotFound) || model.KindOf(err) == model.KindNotFound {
			log.Warn("webhook for unknown order")
			return nil
		}
		return err
	case "payment.failed":
		return s.fail(ctx, payment.OrderID)
	default:
		log.Debug("ignoring webhook event")
		return nil
	}
}

// confirm records a valid confirmation on the order and upgrades the owner's
// plan the first time the order is captured. A confirmation naming a different
// payment than an earlier one is rejected and changes nothing.
func (s *Service) confirm(ctx context.Context, externalID, paymentID string, ownerID *uint, mark func(*db.Order)) (db.Order, error) {
	var order db.Order
	err := s.db.Transaction(ctx, func(tx db.Database) error {
		var err error
		order, err = tx.GetOrderByExternalID(ctx, externalID)
		if errors.Is(err, db.ErrNotFound) {
			return model.NotFound("order not found")
		} else if err != nil {
			return err
		}
		if ownerID != nil && order.OwnerID != *ownerID {
			return model.NotFound("order not found")
		}

		if order.PaymentID != "" && order.PaymentID != paymentID {
			s.log.WithFields(logrus.Fields{
				"order":    externalID,
				"recorded": order.PaymentID,
				"received": paymentID,
			}).Error("payment confirmations disagree")
			return model.Conflict("payment does not match the order")
		}

		order.PaymentID = paymentID
		mark(&order)
		if order.Status != db.OrderCaptured {
			order.Status = db.OrderCaptured
			if err := tx.UpdateOwnerPlan(ctx, order.OwnerID, order.Plan); err != nil {
				return fmt.Errorf("upgrading plan: %w", err)
			}
			s.log.WithFields(logrus.Fields{"owner": order.OwnerID, "plan": order.Plan}).Info("plan upgraded")
		}
		return tx.SaveOrder(ctx, &order)
	})
	return order, err
}

func (s *Service) fail(ctx context.Context, externalID string) error {
	return s.db.Transaction(ctx, func(tx db.Database) error {
		order, err := tx.GetOrderByExternalID(ctx, externalID)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		if order.Status == db.OrderCaptured {
			return nil
		}
		order.Status = db.OrderFailed
		return tx.SaveOrder(ctx, &order)
	})
}

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/db/dbtest"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	n   int
	err error
}

func (f *fakeGateway) CreateOrder(context.Context, int64, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.n++
	return fmt.Sprintf("order_%d", f.n), nil
}

var testConfig = Config{
	KeyID:         "key_id",
	KeySecret:     "key_secret",
	WebhookSecret: "hook_secret",
	Currency:      "INR",
	Prices:        map[string]int64{model.PlanPro: 19900},
}

func setup(t *testing.T) (*Service, db.Database, db.Owner, *fakeGateway) {
	t.Helper()
	d := dbtest.New(t)
	owner := db.Owner{Subdomain: "janedoe", PasswordHash: "x"}
	require.NoError(t, d.CreateOwner(context.Background(), &owner))
	gw := &fakeGateway{}
	return NewService(d, gw, testConfig, logrus.NewEntry(logrus.New())), d, owner, gw
}

func webhookBody(t *testing.T, event, orderID, paymentID string) []byte {
	t.Helper()
	var e webhookEvent
	e.Event = event
	e.Payload.Payment.Entity.ID = paymentID
	e.Payload.Payment.Entity.OrderID = orderID
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func plan(t *testing.T, d db.Database, id uint) string {
	o, err := d.GetOwner(context.Background(), id)
	require.NoError(t, err)
	return o.Plan
}

func TestClientVerificationUpgradesPlan(t *testing.T) {
	ctx := context.Background()
	s, d, owner, _ := setup(t)

	order, err := s.CreateOrder(ctx, owner.ID, model.PlanPro)
	require.NoError(t, err)
	assert.EqualValues(t, 19900, order.Amount)
	assert.Equal(t, "key_id", order.KeyID)

	_, err = s.VerifyPayment(ctx, owner.ID, model.VerifyPaymentRequest{OrderID: order.OrderID, PaymentID: "pay_1", Signature: "00"})
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.Equal(t, model.PlanFree, plan(t, d, owner.ID))

	sig := Sign([]byte("key_secret"), []byte(order.OrderID+"|pay_1"))
	res, err := s.VerifyPayment(ctx, owner.ID, model.VerifyPaymentRequest{OrderID: order.OrderID, PaymentID: "pay_1", Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, db.OrderCaptured, res.Status)
	assert.Equal(t, model.PlanPro, plan(t, d, owner.ID))

	// the webhook confirming the same payment is recorded and idempotent
	body := webhookBody(t, "payment.captured", order.OrderID, "pay_1")
	require.NoError(t, s.HandleWebhook(ctx, body, Sign([]byte("hook_secret"), body)))

	stored, err := d.GetOrderByExternalID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.True(t, stored.ClientVerified)
	assert.True(t, stored.WebhookVerified)
	assert.Equal(t, model.PlanPro, plan(t, d, owner.ID))
}

func TestWebhookUpgradesPlan(t *testing.T) {
	ctx := context.Background()
	s, d, owner, _ := setup(t)

	order, err := s.CreateOrder(ctx, owner.ID, model.PlanPro)
	require.NoError(t, err)

	body := webhookBody(t, "payment.captured", order.OrderID, "pay_9")
	assert.Error(t, s.HandleWebhook(ctx, body, "deadbeef"))
	assert.Equal(t, model.PlanFree, plan(t, d, owner.ID))

	require.NoError(t, s.HandleWebhook(ctx, body, Sign([]byte("hook_secret"), body)))
	assert.Equal(t, model.PlanPro, plan(t, d, owner.ID))
}

func TestConfirmationsMustAgree(t *testing.T) {
	ctx := context.Background()
	s, d, owner, _ := setup(t)

	order, err := s.CreateOrder(ctx, owner.ID, model.PlanPro)
	require.NoError(t, err)
	body := webhookBody(t, "payment.captured", order.OrderID, "pay_a")
	require.NoError(t, s.HandleWebhook(ctx, body, Sign([]byte("hook_secret"), body)))

	sig := Sign([]byte("key_secret"), []byte(order.OrderID+"|pay_b"))
	_, err = s.VerifyPayment(ctx, owner.ID, model.VerifyPaymentRequest{OrderID: order.OrderID, PaymentID: "pay_b", Signature: sig})
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	stored, err := d.GetOrderByExternalID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pay_a", stored.PaymentID)
	assert.False(t, stored.ClientVerified)
}

func TestVerifyOtherOwnersOrder(t *testing.T) {
	ctx := context.Background()
	s, _, owner, _ := setup(t)

	order, err := s.CreateOrder(ctx, owner.ID, model.PlanPro)
	require.NoError(t, err)
	sig := Sign([]byte("key_secret"), []byte(order.OrderID+"|pay_1"))
	_, err = s.VerifyPayment(ctx, owner.ID+1, model.VerifyPaymentRequest{OrderID: order.OrderID, PaymentID: "pay_1", Signature: sig})
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestCreateOrderErrors(t *testing.T) {
	ctx := context.Background()
	s, _, owner, gw := setup(t)

	_, err := s.CreateOrder(ctx, owner.ID, "platinum")
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	gw.err = errors.New("boom")
	_, err = s.CreateOrder(ctx, owner.ID, model.PlanPro)
	assert.Equal(t, http.StatusBadGateway, model.StatusFor(err))
}

func TestWebhookFailedPayment(t *testing.T) {
	ctx := context.Background()
	s, d, owner, _ := setup(t)

	order, err := s.CreateOrder(ctx, owner.ID, model.PlanPro)
	require.NoError(t, err)
	body := webhookBody(t, "payment.failed", order.OrderID, "pay_x")
	require.NoError(t, s.HandleWebhook(ctx, body, Sign([]byte("hook_secret"), body)))

	stored, err := d.GetOrderByExternalID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderFailed, stored.Status)
}

func TestHTTPGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key_id" || pass != "key_secret" || r.URL.Path != "/v1/orders" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req orderRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(orderResponse{ID: "order_" + req.Receipt, Status: "created"})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL+"/v1/", "key_id", "key_secret")
	id, err := gw.CreateOrder(context.Background(), 100, "INR", "r1")
	require.NoError(t, err)
	assert.Equal(t, "order_r1", id)

	bad := NewHTTPGateway(srv.URL+"/v1", "key_id", "wrong")
	_, err = bad.CreateOrder(context.Background(), 100, "INR", "r1")
	assert.Error(t, err)
}

func TestEmptySecretsRejectSignatures(t *testing.T) {
	ctx := context.Background()
	s, d, owner, _ := setup(t)

	order, err := s.CreateOrder(ctx, owner.ID, model.PlanPro)
	require.NoError(t, err)

	s.cfg.WebhookSecret = ""
	body := webhookBody(t, "payment.captured", order.OrderID, "pay_1")
	err = s.HandleWebhook(ctx, body, Sign(nil, body))
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	s.cfg.KeySecret = ""
	_, err = s.VerifyPayment(ctx, owner.ID, model.VerifyPaymentRequest{
		OrderID:   order.OrderID,
		PaymentID: "pay_1",
		Signature: Sign(nil, []byte(order.OrderID+"|pay_1")),
	})
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.Equal(t, model.PlanFree, plan(t, d, owner.ID))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig.Validate())

	for name, mutate := range map[string]func(*Config){
		"key id":         func(c *Config) { c.KeyID = "" },
		"key secret":     func(c *Config) { c.KeySecret = "" },
		"webhook secret": func(c *Config) { c.WebhookSecret = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig
			mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), name)
		})
	}
}

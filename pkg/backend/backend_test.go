package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/db/dbtest"
	"github.com/myeasypage/easypage/pkg/delivery"
	"github.com/myeasypage/easypage/pkg/domains"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu   sync.Mutex
	msgs []delivery.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg delivery.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) last(t *testing.T) delivery.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs)
	return o.msgs[len(o.msgs)-1]
}

type publisher struct {
	published []string
	labels    []string
	kept      map[string]bool
}

func (p *publisher) Publish(_ context.Context, label string) error {
	p.published = append(p.published, label)
	return nil
}

func (p *publisher) Prune(ctx context.Context, keep func(context.Context, string) (bool, error)) (int, error) {
	p.kept = map[string]bool{}
	deleted := 0
	for _, l := range p.labels {
		ok, err := keep(ctx, l)
		if err != nil {
			return 0, err
		}
		p.kept[l] = ok
		if !ok {
			deleted++
		}
	}
	return deleted, nil
}

type txtRecords map[string][]string

func (r txtRecords) LookupTXT(_ context.Context, name string) ([]string, error) {
	return r[name], nil
}

type env struct {
	db     db.Database
	b      Backend
	outbox *outbox
	dns    *publisher
	txt    txtRecords
}

func newEnv(t *testing.T) *env {
	e := &env{
		db:     dbtest.New(t),
		outbox: &outbox{},
		dns:    &publisher{},
		txt:    txtRecords{},
	}
	e.b = NewBackend(e.db, Config{
		BaseDomain: "myeasypage.com",
		Sender:     e.outbox,
		DNS:        e.dns,
		Domains:    domains.NewVerifier(e.txt),
	}, logrus.NewEntry(logrus.New()))
	return e
}

func (e *env) signup(t *testing.T, subdomain, email string) db.Owner {
	ctx := context.Background()
	require.NoError(t, e.db.UpsertVerification(ctx, strings.ToLower(email), model.ChannelEmail, time.Now()))
	owner, err := e.b.Signup(ctx, model.SignupRequest{Subdomain: subdomain, Email: email, Password: "longenough1"})
	require.NoError(t, err)
	return owner
}

func TestSignupConsumesVerification(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	owner := e.signup(t, "JaneDoe", "Jane@X.com")
	assert.Equal(t, "janedoe", owner.Subdomain)
	assert.True(t, owner.EmailVerified)
	assert.False(t, owner.MobileVerified)
	assert.Equal(t, model.PlanFree, owner.Plan)
	assert.Equal(t, []string{"janedoe"}, e.dns.published)

	v, err := e.db.GetVerification(ctx, "jane@x.com", model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, v.Consumed)

	_, err = e.db.GetDraft(ctx, owner.ID)
	require.NoError(t, err)
	_, err = e.db.GetPublished(ctx, owner.ID)
	require.NoError(t, err)
}

func TestSignupRollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.signup(t, "janedoe", "jane@x.com")

	require.NoError(t, e.db.UpsertVerification(ctx, "other@x.com", model.ChannelEmail, time.Now()))
	_, err := e.b.Signup(ctx, model.SignupRequest{Subdomain: "janedoe", Email: "other@x.com", Password: "longenough1"})
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	v, err := e.db.GetVerification(ctx, "other@x.com", model.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, v.Consumed)
}

func TestSignupWithoutVerification(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	owner, err := e.b.Signup(ctx, model.SignupRequest{Subdomain: "johndoe", Email: "john@x.com", Password: "longenough1"})
	require.NoError(t, err)
	assert.False(t, owner.EmailVerified)
	assert.False(t, owner.MobileVerified)

	_, err = e.db.GetDraft(ctx, owner.ID)
	require.NoError(t, err)
}

func TestSignupValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.db.UpsertVerification(ctx, "jane@x.com", model.ChannelEmail, time.Now()))

	cases := map[string]model.SignupRequest{
		"reserved":    {Subdomain: "admin", Email: "jane@x.com", Password: "longenough1"},
		"short":       {Subdomain: "ab", Email: "jane@x.com", Password: "longenough1"},
		"hyphens":     {Subdomain: "jane--doe", Email: "jane@x.com", Password: "longenough1"},
		"no identity": {Subdomain: "janedoe", Password: "longenough1"},
		"bad email":   {Subdomain: "janedoe", Email: "jane", Password: "longenough1"},
		"weak":        {Subdomain: "janedoe", Email: "jane@x.com", Password: "short"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.b.Signup(ctx, req)
			assert.Equal(t, model.KindValidation, model.KindOf(err))
		})
	}
}

func TestOTPFlow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	resp, err := e.b.SendOTP(ctx, model.SendOTPRequest{Target: "jane@x.com", Purpose: "signup"})
	require.NoError(t, err)
	assert.True(t, resp.Sent)
	assert.Equal(t, 600, resp.TTLSeconds)

	msg := e.outbox.last(t)
	assert.Equal(t, delivery.KindOTP, msg.Kind)
	assert.Equal(t, model.ChannelEmail, msg.Channel)

	verified, err := e.b.VerifyOTP(ctx, model.VerifyOTPRequest{Target: "jane@x.com", Code: msg.Code, Purpose: "signup"})
	require.NoError(t, err)
	assert.Equal(t, model.VerifyOTPResponse{Verified: true, Channel: model.ChannelEmail}, verified)

	_, err = e.b.SendOTP(ctx, model.SendOTPRequest{Target: "jane@x.com", Purpose: "signup"})
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	owner, err := e.b.Signup(ctx, model.SignupRequest{Subdomain: "janedoe", Email: "jane@x.com", Password: "longenough1"})
	require.NoError(t, err)
	assert.True(t, owner.EmailVerified)

	_, err = e.b.SendOTP(ctx, model.SendOTPRequest{Target: "jane@x.com", Purpose: "signup"})
	assert.Equal(t, model.KindConflict, model.KindOf(err))
}

func TestSendOTPRequiresAccountForLogin(t *testing.T) {
	e := newEnv(t)
	_, err := e.b.SendOTP(context.Background(), model.SendOTPRequest{Target: "nobody@x.com", Purpose: "login"})
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestSendOTPDeliveryFailure(t *testing.T) {
	e := newEnv(t)
	e.outbox.err = errors.New("smtp down")
	_, err := e.b.SendOTP(context.Background(), model.SendOTPRequest{Target: "jane@x.com", Purpose: "verify"})
	assert.Equal(t, model.KindUpstream, model.KindOf(err))
}

func TestMobileTargets(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.b.SendOTP(ctx, model.SendOTPRequest{Target: "555 123 4567", Purpose: "signup"})
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = e.b.SendOTP(ctx, model.SendOTPRequest{Target: "555 123 4567", CountryCode: "1", Purpose: "signup"})
	require.NoError(t, err)
	msg := e.outbox.last(t)
	assert.Equal(t, "+15551234567", msg.To)
	assert.Equal(t, model.ChannelMobile, msg.Channel)

	_, err = e.b.VerifyOTP(ctx, model.VerifyOTPRequest{Target: "555-123-4567", CountryCode: "+1", Code: msg.Code, Purpose: "signup"})
	require.NoError(t, err)

	owner, err := e.b.Signup(ctx, model.SignupRequest{Subdomain: "mobileuser", Mobile: "5551234567", CountryCode: "+1", Password: "longenough1"})
	require.NoError(t, err)
	assert.True(t, owner.MobileVerified)
	assert.Equal(t, "+1", *owner.CountryCode)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner := e.signup(t, "janedoe", "jane@x.com")

	got, err := e.b.Login(ctx, model.LoginRequest{Email: "JANE@x.com", Password: "longenough1"})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.ID)

	_, err = e.b.Login(ctx, model.LoginRequest{Email: "jane@x.com", Password: "wrong-password"})
	assert.Equal(t, model.KindAuth, model.KindOf(err))

	_, err = e.b.Login(ctx, model.LoginRequest{Email: "nobody@x.com", Password: "longenough1"})
	assert.Equal(t, model.KindAuth, model.KindOf(err))

	_, err = e.b.Login(ctx, model.LoginRequest{Password: "longenough1"})
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = e.b.SendOTP(ctx, model.SendOTPRequest{Target: "jane@x.com", Purpose: "login"})
	require.NoError(t, err)
	code := e.outbox.last(t).Code

	_, err = e.b.Login(ctx, model.LoginRequest{Email: "jane@x.com", OTP: "not-it"})
	assert.Equal(t, model.KindAuth, model.KindOf(err))

	got, err = e.b.Login(ctx, model.LoginRequest{Email: "jane@x.com", OTP: code})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.ID)
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.signup(t, "janedoe", "jane@x.com")

	_, err := e.b.SendOTP(ctx, model.SendOTPRequest{Target: "jane@x.com", Purpose: "reset"})
	require.NoError(t, err)
	code := e.outbox.last(t).Code

	require.NoError(t, e.b.ResetPassword(ctx, model.ResetPasswordRequest{Target: "jane@x.com", Code: code, Password: "brand-new-pass"}))

	_, err = e.b.Login(ctx, model.LoginRequest{Email: "jane@x.com", Password: "brand-new-pass"})
	require.NoError(t, err)

	// single use
	err = e.b.ResetPassword(ctx, model.ResetPasswordRequest{Target: "jane@x.com", Code: code, Password: "another-pass"})
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestCheckSubdomain(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.signup(t, "janedoe", "jane@x.com")

	for sub, available := range map[string]bool{
		"freshname": true,
		"JaneDoe":   false,
		"www":       false,
		"-bad":      false,
		"a":         false,
	} {
		got, err := e.b.CheckSubdomain(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, available, got.Available, sub)
		if !available {
			assert.NotEmpty(t, got.Reason, sub)
		}
	}
}

func TestPosts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner := e.signup(t, "janedoe", "jane@x.com")

	draft, err := e.b.CreatePost(ctx, owner.ID, model.PostRequest{Title: "Hello, World!", Content: "draft"})
	require.NoError(t, err)
	assert.Equal(t, "hello-world", draft.Slug)

	_, err = e.b.CreatePost(ctx, owner.ID, model.PostRequest{Title: "hello world"})
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	live, err := e.b.CreatePost(ctx, owner.ID, model.PostRequest{Title: "Launch", Published: true})
	require.NoError(t, err)

	public, err := e.b.ListPosts(ctx, owner.ID, true)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, live.ID, public[0].ID)

	_, err = e.b.GetPost(ctx, owner.ID, "hello-world", true)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	updated, err := e.b.UpdatePost(ctx, owner.ID, draft.ID, model.PostRequest{Title: "Hello, World!", Content: "done", Published: true})
	require.NoError(t, err)
	assert.True(t, updated.Published)

	got, err := e.b.GetPost(ctx, owner.ID, "hello-world", true)
	require.NoError(t, err)
	assert.Equal(t, "done", got.Content)

	require.NoError(t, e.b.DeletePost(ctx, owner.ID, draft.ID))
	assert.Equal(t, model.KindNotFound, model.KindOf(e.b.DeletePost(ctx, owner.ID, draft.ID)))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "a-b-c", Slugify("  A  b__C!! "))
	assert.Equal(t, "", Slugify("!!!"))
}

func TestCustomDomain(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner := e.signup(t, "janedoe", "jane@x.com")
	other := e.signup(t, "johndoe", "john@x.com")

	_, err := e.b.ClaimDomain(ctx, owner.ID, "shop.myeasypage.com")
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = e.b.VerifyDomain(ctx, owner.ID)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	claim, err := e.b.ClaimDomain(ctx, owner.ID, "www.Jane.dev")
	require.NoError(t, err)
	assert.Equal(t, "jane.dev", claim.Domain)
	assert.Equal(t, "_easypage-challenge.jane.dev", claim.RecordName)

	res, err := e.b.VerifyDomain(ctx, owner.ID)
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.NotEmpty(t, res.Reason)

	e.txt[claim.RecordName] = []string{claim.Value}
	res, err = e.b.VerifyDomain(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, res.Verified)

	bound, err := e.db.GetOwnerByCustomDomain(ctx, "jane.dev")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, bound.ID)

	_, err = e.b.ClaimDomain(ctx, other.ID, "jane.dev")
	assert.Equal(t, model.KindConflict, model.KindOf(err))
}

func TestContact(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner := e.signup(t, "janedoe", "jane@x.com")

	err := e.b.Contact(ctx, owner, model.ContactRequest{Name: "Visitor", Email: "v@y.com", Message: "hi"})
	require.NoError(t, err)
	msg := e.outbox.last(t)
	assert.Equal(t, delivery.KindContact, msg.Kind)
	assert.Equal(t, "jane@x.com", msg.To)
	assert.Equal(t, "v@y.com", msg.ReplyTo)

	err = e.b.Contact(ctx, owner, model.ContactRequest{Name: "Visitor", Email: "v@y.com"})
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestUploadsNotConfigured(t *testing.T) {
	e := newEnv(t)
	_, err := e.b.PresignUpload(context.Background(), 1, "image/png")
	assert.Equal(t, model.KindUpstream, model.KindOf(err))
}

type sweeper struct{ swept int }

func (s *sweeper) Sweep() { s.swept++ }

func TestPurge(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.signup(t, "janedoe", "jane@x.com")
	e.dns.labels = []string{"janedoe", "gone"}

	counters := &sweeper{}
	e.b.(*backend).counters = counters

	require.NoError(t, e.b.Purge(ctx))
	assert.Equal(t, map[string]bool{"janedoe": true, "gone": false}, e.dns.kept)
	assert.Equal(t, 1, counters.swept)
}

package otp

import (
	"context"
	"testing"
	"time"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/db/dbtest"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, db.Database) {
	d := dbtest.New(t)
	s := NewService(d, Config{TTL: time.Minute, MaxAttempts: 3, Length: 6}, logrus.NewEntry(logrus.New()))
	return s, d
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	s, d := newService(t)

	issued, err := s.Create(ctx, " Jane@X.com ", PurposeSignup)
	require.NoError(t, err)
	assert.Len(t, issued.Code, 6)
	assert.Equal(t, "jane@x.com", issued.Identifier)
	assert.Equal(t, model.ChannelEmail, issued.Channel)

	require.NoError(t, s.Verify(ctx, "jane@x.com", issued.Code, PurposeSignup))

	v, err := d.GetVerification(ctx, "jane@x.com", model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, v.Verified)

	// consumed codes cannot be replayed
	assert.ErrorIs(t, s.Verify(ctx, "jane@x.com", issued.Code, PurposeSignup), ErrNotFound)
}

func TestSecondCreateInvalidatesFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	first, err := s.Create(ctx, "+15550100", PurposeLogin)
	require.NoError(t, err)
	second, err := s.Create(ctx, "+15550100", PurposeLogin)
	require.NoError(t, err)

	if first.Code != second.Code {
		assert.ErrorIs(t, s.Verify(ctx, "+15550100", first.Code, PurposeLogin), ErrWrongCode)
	}
	require.NoError(t, s.Verify(ctx, "+15550100", second.Code, PurposeLogin))
}

func TestAttemptExhaustion(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	issued, err := s.Create(ctx, "jane@x.com", PurposeSignup)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.Verify(ctx, "jane@x.com", wrongCode(issued.Code), PurposeSignup), ErrWrongCode)
	}
	err = s.Verify(ctx, "jane@x.com", issued.Code, PurposeSignup)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 429, model.StatusFor(err))
}

func TestExpired(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	start := time.Now()
	s.now = func() time.Time { return start }

	issued, err := s.Create(ctx, "jane@x.com", PurposeVerify)
	require.NoError(t, err)

	s.now = func() time.Time { return start.Add(time.Minute) }
	err = s.Verify(ctx, "jane@x.com", issued.Code, PurposeVerify)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 410, model.StatusFor(err))
}

func TestUnknownRecord(t *testing.T) {
	s, _ := newService(t)
	err := s.Verify(context.Background(), "nobody@x.com", "123456", PurposeLogin)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 404, model.StatusFor(err))
}

func TestPurposesAreSeparate(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	issued, err := s.Create(ctx, "jane@x.com", PurposeSignup)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Verify(ctx, "jane@x.com", issued.Code, PurposeLogin), ErrNotFound)
}

func TestResetDoesNotRecordVerification(t *testing.T) {
	ctx := context.Background()
	s, d := newService(t)

	issued, err := s.Create(ctx, "jane@x.com", PurposeReset)
	require.NoError(t, err)
	require.NoError(t, s.Verify(ctx, "jane@x.com", issued.Code, PurposeReset))

	_, err = d.GetVerification(ctx, "jane@x.com", model.ChannelEmail)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestParsePurpose(t *testing.T) {
	p, err := ParsePurpose("RESET")
	require.NoError(t, err)
	assert.Equal(t, PurposeReset, p)

	_, err = ParsePurpose("other")
	assert.Equal(t, 400, model.StatusFor(err))
}

func TestWrongCodeIsDistinctFromOtherValidationErrors(t *testing.T) {
	_, err := ParsePurpose("bogus")
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.NotErrorIs(t, err, ErrWrongCode)
}

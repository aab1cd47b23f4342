package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/myeasypage/easypage/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("longenough1")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "longenough1"))
	assert.False(t, CheckPassword(hash, "longenough2"))

	_, err = HashPassword("short")
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewSessions("secret", time.Hour, "easypage_session", "myeasypage.com", true)

	rec := httptest.NewRecorder()
	require.NoError(t, s.SetCookie(rec, 42, model.RoleSuperAdmin))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	claims, err := s.FromRequest(req)
	require.NoError(t, err)
	id, err := claims.OwnerID()
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)
	assert.Equal(t, model.RoleSuperAdmin, claims.Role)
}

func TestSessionRejectsTampering(t *testing.T) {
	s := NewSessions("secret", time.Hour, "easypage_session", "", false)
	other := NewSessions("other", time.Hour, "easypage_session", "", false)

	token, _, err := other.Issue(1, model.RoleOwner)
	require.NoError(t, err)
	_, err = s.Parse(token)
	assert.Equal(t, model.KindAuth, model.KindOf(err))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = s.FromRequest(req)
	assert.Equal(t, model.KindAuth, model.KindOf(err))
}

func TestSessionExpiry(t *testing.T) {
	s := NewSessions("secret", time.Minute, "easypage_session", "", false)
	token, _, err := s.Issue(1, model.RoleOwner)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = s.Parse(token)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	s := NewSessions("secret", time.Hour, "easypage_session", "", false)
	token, _, err := s.Issue(9, model.RoleOwner)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	claims, err := s.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "9", claims.Subject)
}

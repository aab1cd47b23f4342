// Package auth hashes passwords and issues the signed session cookie.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/myeasypage/easypage/pkg/model"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 8

var ErrInvalidToken = model.Unauthorized("invalid or expired session")

func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", model.Validation("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims are the session token claims. The subject is the owner id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (c Claims) OwnerID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

type Sessions struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	domain     string
	secure     bool
	now        func() time.Time
}

// NewSessions returns a session issuer. domain scopes the cookie, set it to the
// base domain so the cookie is shared with tenant subdomains.
func NewSessions(secret string, ttl time.Duration, cookieName, domain string, secure bool) *Sessions {
	return &Sessions{
		secret:     []byte(secret),
		ttl:        ttl,
		cookieName: cookieName,
		domain:     domain,
		secure:     secure,
		now:        time.Now,
	}
}

func (s *Sessions) CookieName() string {
	return s.cookieName
}

func (s *Sessions) Issue(ownerID uint, role string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(ownerID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: role,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session: %w", err)
	}
	return signed, expires, nil
}

func (s *Sessions) Parse(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// SetCookie issues a session for the owner and writes it as an HttpOnly cookie.
func (s *Sessions) SetCookie(w http.ResponseWriter, ownerID uint, role string) error {
	token, expires, err := s.Issue(ownerID, role)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest parses the session cookie, or a bearer token, of r.
func (s *Sessions) FromRequest(r *http.Request) (Claims, error) {
	if cookie, err := r.Cookie(s.cookieName); err == nil && cookie.Value != "" {
		return s.Parse(cookie.Value)
	}
	const bearer = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(bearer) && h[:len(bearer)] == bearer {
		return s.Parse(h[len(bearer):])
	}
	return Claims{}, errors.Join(ErrInvalidToken, http.ErrNoCookie)
}

// Package ratelimit implements fixed-window request budgets keyed by purpose
// and identifier.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type Purpose string

const (
	Global  Purpose = "global"
	Contact Purpose = "contact"
	OTP     Purpose = "otp"
	Signup  Purpose = "signup"
	Login   Purpose = "login"
)

// Policy is the budget of one purpose: Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the counter store failed and the request was let through.
	Degraded bool
}

// RetryAfter is the time left in the current window.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Store increments the counter under key. The expiry is set to window only when
// the increment starts a new window. It returns the post-increment count and
// the time left until the window resets.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type Limiter struct {
	store    Store
	policies map[Purpose]Policy
	now      func() time.Time
	log      *logrus.Entry
}

func DefaultPolicies() map[Purpose]Policy {
	return map[Purpose]Policy{
		Global:  {Limit: 300, Window: time.Minute},
		Contact: {Limit: 5, Window: time.Hour},
		OTP:     {Limit: 5, Window: 15 * time.Minute},
		Signup:  {Limit: 5, Window: time.Hour},
		Login:   {Limit: 10, Window: 15 * time.Minute},
	}
}

func New(store Store, policies map[Purpose]Policy, log *logrus.Entry) *Limiter {
	return &Limiter{
		store:    store,
		policies: policies,
		now:      time.Now,
		log:      log.WithField("component", "ratelimit"),
	}
}

func Key(purpose Purpose, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", purpose, identifier)
}

// Check counts one request of identifier against the budget of purpose. When
// the store is unavailable the request is allowed with no remaining budget
// reported.
func (l *Limiter) Check(ctx context.Context, purpose Purpose, identifier string) (Result, error) {
	policy, ok := l.policies[purpose]
	if !ok {
		return Result{}, fmt.Errorf("no rate limit policy for purpose %q", purpose)
	}

	now := l.now()
	count, ttl, err := l.store.Incr(ctx, Key(purpose, identifier), policy.Window)
	if err != nil {
		l.log.WithError(err).WithField("purpose", purpose).Warn("rate limit store unavailable, allowing request")
		return Result{
			Allowed:   true,
			Limit:     policy.Limit,
			Remaining: 0,
			ResetAt:   now.Add(policy.Window),
			Degraded:  true,
		}, nil
	}
	if ttl <= 0 {
		ttl = policy.Window
	}

	remaining := policy.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(policy.Limit),
		Limit:     policy.Limit,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}, nil
}

func (l *Limiter) Policy(purpose Purpose) (Policy, bool) {
	p, ok := l.policies[purpose]
	return p, ok
}

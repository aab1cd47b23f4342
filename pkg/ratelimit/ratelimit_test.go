package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(store Store, c *clock) *Limiter {
	l := New(store, map[Purpose]Policy{
		OTP:     {Limit: 3, Window: time.Minute},
		Contact: {Limit: 1, Window: time.Hour},
	}, logrus.NewEntry(logrus.New()))
	l.now = c.Now
	return l
}

func TestFixedWindow(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Unix(1700000000, 0)}
	l := newLimiter(NewMemoryStore(c.Now), c)

	for i := 1; i <= 3; i++ {
		res, err := l.Check(ctx, OTP, "jane@x.com")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3-i, res.Remaining)
		assert.Equal(t, c.Now().Add(time.Minute), res.ResetAt)
	}

	c.Advance(30 * time.Second)
	res, err := l.Check(ctx, OTP, "jane@x.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 30*time.Second, res.RetryAfter(c.Now()))

	// a new window starts with a count of one
	c.Advance(30 * time.Second)
	res, err = l.Check(ctx, OTP, "jane@x.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestPurposesDoNotShareCounters(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Unix(1700000000, 0)}
	l := newLimiter(NewMemoryStore(c.Now), c)

	res, err := l.Check(ctx, Contact, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = l.Check(ctx, Contact, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Check(ctx, OTP, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(ctx, Contact, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestUnknownPurpose(t *testing.T) {
	c := &clock{now: time.Now()}
	_, err := newLimiter(NewMemoryStore(c.Now), c).Check(context.Background(), Signup, "x")
	assert.Error(t, err)
}

type brokenStore struct{}

func (brokenStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestFailsOpen(t *testing.T) {
	c := &clock{now: time.Unix(1700000000, 0)}
	l := newLimiter(brokenStore{}, c)

	for i := 0; i < 10; i++ {
		res, err := l.Check(context.Background(), Contact, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.True(t, res.Degraded)
		assert.Equal(t, 0, res.Remaining)
	}
}

func TestFailsOpenWithUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := &clock{now: time.Now()}
	l := newLimiter(NewRedisStore(client), c)

	res, err := l.Check(context.Background(), OTP, "jane@x.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Degraded)
}

func TestMemorySweep(t *testing.T) {
	c := &clock{now: time.Unix(1700000000, 0)}
	s := NewMemoryStore(c.Now)
	_, _, err := s.Incr(context.Background(), "k", time.Second)
	require.NoError(t, err)

	c.Advance(2 * time.Second)
	s.Sweep()
	assert.Empty(t, s.counters)
}

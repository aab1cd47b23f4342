package preview

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

type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingSink) Deliver(_ context.Context, _ uint, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func form(name string) map[string]interface{} {
	return map[string]interface{}{"profile": map[string]interface{}{"fullName": name}}
}

func TestBroadcastDropsUnchangedSnapshots(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	sink := &recordingSink{}
	bus := NewBus(cache, testLog(), sink)

	_, sent, err := bus.Broadcast(ctx, 1, form("Jane"), "free")
	require.NoError(t, err)
	assert.True(t, sent)

	// equal content built from a different map
	_, sent, err = bus.Broadcast(ctx, 1, form("Jane"), "free")
	require.NoError(t, err)
	assert.False(t, sent)

	_, sent, err = bus.Broadcast(ctx, 2, form("Jane"), "free")
	require.NoError(t, err)
	assert.True(t, sent)

	msg, sent, err := bus.Broadcast(ctx, 1, form("Janet"), "free")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 3, sink.Len())

	cached, ok, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg.Marker, cached.Marker)
	assert.Equal(t, TypeUpdate, cached.Type)
	assert.True(t, cached.Payload.PreviewMode)
}

func TestBroadcastSurvivesFailingSink(t *testing.T) {
	ctx := context.Background()
	broken := &recordingSink{err: errors.New("gone")}
	healthy := &recordingSink{}
	bus := NewBus(NewMemoryCache(), testLog(), broken, healthy)

	_, sent, err := bus.Broadcast(ctx, 1, form("Jane"), "free")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, healthy.Len())
}

func TestSequenceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(nil, testLog())
	fixed := time.Unix(1700000000, 0)
	bus.now = func() time.Time { return fixed }

	a, _, err := bus.Broadcast(ctx, 1, form("a"), "")
	require.NoError(t, err)
	b, _, err := bus.Broadcast(ctx, 1, form("b"), "")
	require.NoError(t, err)
	assert.Greater(t, b.Seq, a.Seq)
}

func TestHubDelivery(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	bus := NewBus(NewMemoryCache(), testLog(), hub)

	sub := hub.Subscribe(1)
	other := hub.Subscribe(2)
	defer other.Close()

	msg, _, err := bus.Broadcast(ctx, 1, form("Jane"), "pro")
	require.NoError(t, err)

	select {
	case got := <-sub.C:
		assert.Equal(t, msg.Marker, got.Marker)
		assert.Equal(t, "pro", got.Payload.Plan)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	assert.Len(t, other.C, 0)

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers(1))
	require.NoError(t, hub.Deliver(ctx, 1, msg))
}

func TestHubNeverBlocks(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	sub := hub.Subscribe(1)
	defer sub.Close()

	var last Message
	for i := 0; i < subscriptionBuffer*3; i++ {
		m, err := NewUpdate(form(string(rune('a'+i))), "")
		require.NoError(t, err)
		require.NoError(t, hub.Deliver(ctx, 1, m))
		last = m
	}

	var got Message
	for len(sub.C) > 0 {
		got = <-sub.C
	}
	assert.Equal(t, last.Marker, got.Marker)
}

func TestSurfaceApply(t *testing.T) {
	s := NewSurface(Bootstrap(nil, nil, nil, "free"))
	assert.Equal(t, SourcePlaceholder, s.State().Source)

	first, err := NewUpdate(form("Jane"), "free")
	require.NoError(t, err)
	first.Seq = 10
	second, err := NewUpdate(form("Janet"), "free")
	require.NoError(t, err)
	second.Seq = 20

	assert.True(t, s.Apply(first))
	// the same snapshot through another channel
	assert.False(t, s.Apply(first))
	assert.True(t, s.Apply(second))
	// an older snapshot arriving late
	assert.False(t, s.Apply(first))
	assert.False(t, s.Apply(Ping()))
	assert.Equal(t, "Janet", s.State().Payload.Form["profile"].(map[string]interface{})["fullName"])
}

func TestBootstrapPriority(t *testing.T) {
	live, err := NewUpdate(form("Live"), "pro")
	require.NoError(t, err)
	cached, err := NewUpdate(form("Cached"), "pro")
	require.NoError(t, err)
	emptyCache, err := NewUpdate(map[string]interface{}{"design": map[string]interface{}{"theme": "dark"}}, "pro")
	require.NoError(t, err)
	draft := form("Draft")

	assert.Equal(t, SourceLive, Bootstrap(&live, &cached, draft, "pro").Source)
	assert.Equal(t, SourceCache, Bootstrap(nil, &cached, draft, "pro").Source)
	assert.Equal(t, SourceDraft, Bootstrap(nil, &emptyCache, draft, "pro").Source)
	assert.Equal(t, SourcePlaceholder, Bootstrap(nil, &emptyCache, nil, "pro").Source)

	ping := Ping()
	assert.Equal(t, SourceDraft, Bootstrap(&ping, nil, draft, "pro").Source)
}

func TestHasRealContent(t *testing.T) {
	assert.False(t, HasRealContent(nil))
	assert.False(t, HasRealContent(map[string]interface{}{"profile": map[string]interface{}{"fullName": "  "}}))
	assert.True(t, HasRealContent(map[string]interface{}{"profile": map[string]interface{}{"avatar": "https://x/a.png"}}))
	assert.True(t, HasRealContent(map[string]interface{}{"profile": map[string]interface{}{"links": []interface{}{map[string]interface{}{"url": "https://a"}}}}))
	assert.True(t, HasRealContent(map[string]interface{}{"featured": []interface{}{"x"}}))
	assert.False(t, HasRealContent(map[string]interface{}{"profile": map[string]interface{}{"links": []interface{}{}}}))
}

func TestRedisSinkFailsWithoutServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	healthy := &recordingSink{}
	bus := NewBus(NewRedisCache(client, time.Hour), testLog(), NewRedisSink(client), healthy)

	_, sent, err := bus.Broadcast(context.Background(), 1, form("Jane"), "")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, healthy.Len())
}

package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	channelPrefix = "preview:owner:"
	cachePrefix   = "preview:last:"
)

func channelFor(ownerID uint) string {
	return channelPrefix + strconv.FormatUint(uint64(ownerID), 10)
}

// RedisSink publishes messages so surfaces connected to other processes
// receive them.
type RedisSink struct {
	client redis.UniversalClient
}

func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Deliver(ctx context.Context, ownerID uint, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channelFor(ownerID), b).Err()
}

// Relay forwards messages published by other processes to the local hub until
// ctx is done.
func Relay(ctx context.Context, client redis.UniversalClient, origin string, hub *Hub, log *logrus.Entry) error {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to preview channel: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			ownerID, err := strconv.ParseUint(strings.TrimPrefix(m.Channel, channelPrefix), 10, 64)
			if err != nil {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.WithError(err).Debug("dropping malformed preview message")
				continue
			}
			if msg.Origin == origin {
				continue
			}
			_ = hub.Deliver(ctx, uint(ownerID), msg)
		}
	}
}

type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) key(ownerID uint) string {
	return cachePrefix + strconv.FormatUint(uint64(ownerID), 10)
}

func (c *RedisCache) Put(ctx context.Context, ownerID uint, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(ownerID), b, c.ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, ownerID uint) (Message, bool, error) {
	b, err := c.client.Get(ctx, c.key(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	} else if err != nil {
		return Message{}, false, err
	}
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

type MemoryCache struct {
	lock sync.RWMutex
	last map[uint]Message
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{last: map[uint]Message{}}
}

func (c *MemoryCache) Put(_ context.Context, ownerID uint, msg Message) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.last[ownerID] = msg
	return nil
}

func (c *MemoryCache) Get(_ context.Context, ownerID uint) (Message, bool, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	msg, ok := c.last[ownerID]
	return msg, ok, nil
}

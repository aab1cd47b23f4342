package preview

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink is one channel previews can be reached through.
type Sink interface {
	Deliver(ctx context.Context, ownerID uint, msg Message) error
}

// Cache keeps the last snapshot of each owner for surfaces that connect late.
type Cache interface {
	Put(ctx context.Context, ownerID uint, msg Message) error
	Get(ctx context.Context, ownerID uint) (Message, bool, error)
}

type Bus struct {
	lock   sync.Mutex
	last   map[uint]string
	seq    map[uint]uint64
	origin string
	cache  Cache
	sinks  []Sink
	now    func() time.Time
	log    *logrus.Entry
}

func NewBus(cache Cache, log *logrus.Entry, sinks ...Sink) *Bus {
	return &Bus{
		last:   map[uint]string{},
		seq:    map[uint]uint64{},
		origin: uuid.NewString(),
		cache:  cache,
		sinks:  sinks,
		now:    time.Now,
		log:    log.WithField("component", "preview"),
	}
}

// Origin identifies this process in broadcast messages.
func (b *Bus) Origin() string {
	return b.origin
}

func (b *Bus) Cache() Cache {
	return b.cache
}

// Broadcast sends a snapshot of the owner's editor state to every sink. A
// snapshot equal to the previous broadcast for the owner is dropped and
// reported as not sent.
func (b *Bus) Broadcast(ctx context.Context, ownerID uint, form map[string]interface{}, plan string) (Message, bool, error) {
	msg, err := NewUpdate(form, plan)
	if err != nil {
		return Message{}, false, err
	}

	b.lock.Lock()
	if b.last[ownerID] == msg.Marker {
		b.lock.Unlock()
		return msg, false, nil
	}
	b.last[ownerID] = msg.Marker
	seq := uint64(b.now().UnixNano())
	if seq <= b.seq[ownerID] {
		seq = b.seq[ownerID] + 1
	}
	b.seq[ownerID] = seq
	b.lock.Unlock()

	msg.Seq = seq
	msg.Origin = b.origin

	if b.cache != nil {
		if err := b.cache.Put(ctx, ownerID, msg); err != nil {
			b.log.WithError(err).WithField("owner", ownerID).Warn("failed to cache preview snapshot")
		}
	}
	b.deliver(ctx, ownerID, msg)
	return msg, true, nil
}

// Ping is sent by a surface when it connects. Nothing has to answer it.
func (b *Bus) Ping(ctx context.Context, ownerID uint) {
	msg := Ping()
	msg.Origin = b.origin
	b.deliver(ctx, ownerID, msg)
}

func (b *Bus) deliver(ctx context.Context, ownerID uint, msg Message) {
	for _, sink := range b.sinks {
		if err := sink.Deliver(ctx, ownerID, msg); err != nil {
			b.log.WithError(err).WithField("owner", ownerID).Debug("preview sink failed")
		}
	}
}

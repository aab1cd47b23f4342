package preview

import (
	"context"
	"sync"
)

const subscriptionBuffer = 8

// Hub delivers messages to surfaces connected to this process.
type Hub struct {
	lock sync.RWMutex
	subs map[uint]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[uint]map[*Subscription]struct{}{}}
}

type Subscription struct {
	C     <-chan Message
	ch    chan Message
	hub   *Hub
	owner uint
	once  sync.Once
}

func (h *Hub) Subscribe(ownerID uint) *Subscription {
	ch := make(chan Message, subscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, hub: h, owner: ownerID}

	h.lock.Lock()
	defer h.lock.Unlock()
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = map[*Subscription]struct{}{}
	}
	h.subs[ownerID][s] = struct{}{}
	return s
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.lock.Lock()
		defer s.hub.lock.Unlock()
		delete(s.hub.subs[s.owner], s)
		if len(s.hub.subs[s.owner]) == 0 {
			delete(s.hub.subs, s.owner)
		}
		close(s.ch)
	})
}

// Subscribers returns the number of open subscriptions of an owner.
func (h *Hub) Subscribers(ownerID uint) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.subs[ownerID])
}

// Deliver never blocks. A subscriber that is behind loses its oldest queued
// message, snapshots are full replacements so only the newest matters.
func (h *Hub) Deliver(_ context.Context, ownerID uint, msg Message) error {
	h.lock.RLock()
	defer h.lock.RUnlock()

	for s := range h.subs[ownerID] {
		select {
		case s.ch <- msg:
			continue
		default:
		}
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Package autosave debounces draft saves and makes sure an older save can
// never land after a newer one.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SaveFunc persists doc. It must return promptly once ctx is cancelled.
type SaveFunc func(ctx context.Context, doc map[string]interface{}) error

type pending struct {
	ctx  context.Context
	gen  uint64
	doc  map[string]interface{}
	done chan struct{}
}

type Scheduler struct {
	lock    sync.Mutex
	save    SaveFunc
	delay   time.Duration
	base    context.Context
	gen     uint64
	timer   *time.Timer
	next    *pending
	cancel  context.CancelFunc
	lastErr error
	// inflight counts saves that have called save and not yet returned.
	inflight int
	idle     *sync.Cond
	log      *logrus.Entry
}

func New(ctx context.Context, delay time.Duration, save SaveFunc, log *logrus.Entry) *Scheduler {
	s := &Scheduler{
		save:  save,
		delay: delay,
		base:  ctx,
		log:   log.WithField("component", "autosave"),
	}
	s.idle = sync.NewCond(&s.lock)
	return s
}

// Schedule replaces any pending save with doc and cancels the save that is
// currently in flight, if any.
func (s *Scheduler) Schedule(doc map[string]interface{}) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	p := &pending{ctx: ctx, gen: s.gen, doc: doc, done: make(chan struct{})}
	s.next = p
	s.timer = time.AfterFunc(s.delay, func() {
		s.run(p)
	})
}

func (s *Scheduler) run(p *pending) {
	defer close(p.done)

	s.lock.Lock()
	if p.gen != s.gen || p.ctx.Err() != nil {
		s.lock.Unlock()
		return
	}
	if s.next == p {
		s.next = nil
	}
	s.inflight++
	s.lock.Unlock()

	err := s.save(p.ctx, p.doc)

	s.lock.Lock()
	defer s.lock.Unlock()
	s.inflight--
	s.idle.Broadcast()
	switch {
	case p.gen != s.gen:
		s.log.WithError(err).Debugf("save %d superseded", p.gen)
	case errors.Is(err, context.Canceled):
		s.log.Debugf("save %d cancelled", p.gen)
		s.lastErr = err
	case err != nil:
		s.log.WithError(err).Errorf("save %d failed", p.gen)
		s.lastErr = err
	default:
		s.log.Debugf("save %d stored", p.gen)
		s.lastErr = nil
	}
}

// Flush runs the pending save now, waits for in-flight saves and returns the
// result of the newest one.
func (s *Scheduler) Flush() error {
	s.lock.Lock()
	p := s.next
	fire := p != nil && s.timer.Stop()
	if fire {
		s.next = nil
	}
	s.lock.Unlock()

	switch {
	case fire:
		s.run(p)
	case p != nil:
		// The timer already fired and run has not claimed p yet.
		<-p.done
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	for s.inflight > 0 {
		s.idle.Wait()
	}
	return s.lastErr
}

// Close drops the pending save, cancels the in-flight one and waits for it.
func (s *Scheduler) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.next = nil
	for s.inflight > 0 {
		s.idle.Wait()
	}
}

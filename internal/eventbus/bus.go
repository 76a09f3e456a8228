// Package eventbus implements the in-process publish/subscribe bus
// described in spec.md §4.4: per-type topics plus a wildcard topic,
// per-subscriber ordered delivery with handler isolation, and a
// test-only quiescence helper.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is the envelope delivered to every matching subscriber.
type Event struct {
	Type      string
	Timestamp int64 // ms since epoch
	Source    string
	Payload   any
}

// Built-in event types emitted by the watcher (spec.md §4.4, §6).
const (
	EventRecordAdded   = "watcher.record.added"
	EventRecordChanged = "watcher.record.changed"
	EventRecordDeleted = "watcher.record.deleted"

	wildcardTopic = "*"
)

// subscription owns a FIFO mailbox and a single worker goroutine so that
// events handed to it by successive Publish calls are processed in the
// order Publish was called, while different subscriptions make progress
// concurrently and independently of one another.
type subscription struct {
	id      string
	handler func(Event)

	mailbox chan Event
	pending int64 // queued + currently-processing event count
}

func newSubscription(id string, handler func(Event), log *logrus.Entry) *subscription {
	s := &subscription{
		id:      id,
		handler: handler,
		mailbox: make(chan Event, 256),
	}
	go s.run(log)
	return s
}

func (s *subscription) run(log *logrus.Entry) {
	for event := range s.mailbox {
		s.deliver(event, log)
	}
}

func (s *subscription) deliver(event Event, log *logrus.Entry) {
	defer atomic.AddInt64(&s.pending, -1)
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"subscriptionId": s.id,
				"eventType":      event.Type,
				"panic":          r,
			}).Error("event handler panicked")
		}
	}()
	s.handler(event)
}

func (s *subscription) enqueue(event Event) {
	atomic.AddInt64(&s.pending, 1)
	s.mailbox <- event
}

func (s *subscription) close() {
	close(s.mailbox)
}

// Bus is an in-process pub/sub bus. The zero value is not usable; use
// New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription // topic -> subscriptions

	log   *logrus.Entry
	clock func() time.Time
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subs:  make(map[string][]*subscription),
		log:   logrus.WithField("component", "eventbus"),
		clock: time.Now,
	}
}

// Subscribe registers handler to receive events of the given type (or
// every event, for topic "*"). Each subscription gets its own worker
// goroutine, so a slow or panicking handler never blocks or affects
// another subscriber. Returns a subscription ID usable with
// Unsubscribe.
func (b *Bus) Subscribe(topic string, handler func(Event)) string {
	id := uuid.NewString()
	sub := newSubscription(id, handler, b.log)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], sub)
	return id
}

// Unsubscribe removes a subscription by ID and stops its worker once its
// mailbox drains. Returns true if a subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				s.close()
				return true
			}
		}
	}
	return false
}

// Publish delivers event to every handler subscribed to event.Type and
// to the wildcard topic. Publish itself never blocks on handler
// execution: it only enqueues the event onto each matching subscriber's
// mailbox. A handler that panics is recovered and logged; it never
// affects other handlers or the publisher. Because each subscriber has
// its own ordered mailbox, events published by one goroutine are
// delivered to a given subscriber in the order Publish was invoked.
// There is no total order across concurrent publishers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = b.clock().UnixMilli()
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[event.Type])+len(b.subs[wildcardTopic]))
	targets = append(targets, b.subs[event.Type]...)
	targets = append(targets, b.subs[wildcardTopic]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(event)
	}
}

// WaitForIdle blocks until every handler accepted so far has completed,
// or timeout elapses. It exists purely to make event-driven tests
// race-free; production code must never depend on it (spec.md §5).
func (b *Bus) WaitForIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if b.idle() {
			return true
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return false
		}
	}
}

func (b *Bus) idle() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			if atomic.LoadInt64(&s.pending) > 0 {
				return false
			}
		}
	}
	return true
}

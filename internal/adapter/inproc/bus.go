// Package inproc implements the message bus port in process memory.
package inproc

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mvanek/agentswarm/internal/domain/message"
	"github.com/mvanek/agentswarm/internal/port/bus"
)

// subscriber owns one buffered channel and one dispatch goroutine, so each
// subscriber sees messages in publish order regardless of the others.
type subscriber struct {
	id      string
	ownerID string
	types   map[message.Type]bool
	ch      chan message.Message
	done    chan struct{}
}

// Bus is an in-process, at-most-once publish/subscribe bus.
// Messages published while a subscriber's buffer is full are dropped for
// that subscriber and counted, never blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	buffer  int
	closed  bool
	wg      sync.WaitGroup

	published int64
	delivered int64
	dropped   int64
	panics    int64
}

// New creates a bus whose per-subscriber buffers hold buffer messages.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		subs:   make(map[string]*subscriber),
		buffer: buffer,
	}
}

// Publish delivers msg to every current subscriber of msg.Type.
func (b *Bus) Publish(msg message.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	atomic.AddInt64(&b.published, 1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.types[msg.Type] {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			atomic.AddInt64(&b.dropped, 1)
			slog.Warn("bus subscriber buffer full, message dropped",
				"subscriber", sub.ownerID, "type", msg.Type)
		}
	}
}

// Subscribe registers handler for the given message types. The handler runs
// on a dedicated goroutine; a panic inside it is recovered and counted.
func (b *Bus) Subscribe(subscriberID string, types []message.Type, handler bus.Handler) bus.Subscription {
	sub := &subscriber{
		id:      uuid.NewString(),
		ownerID: subscriberID,
		types:   make(map[message.Type]bool, len(types)),
		ch:      make(chan message.Message, b.buffer),
		done:    make(chan struct{}),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bus.Subscription{ID: sub.id, SubscriberID: subscriberID}
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(sub, handler)

	return bus.Subscription{ID: sub.id, SubscriberID: subscriberID}
}

func (b *Bus) dispatch(sub *subscriber, handler bus.Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.ch:
			b.deliver(sub, handler, msg)
		}
	}
}

// deliver invokes the handler, containing any panic so one subscriber can
// never break delivery to the rest.
func (b *Bus) deliver(sub *subscriber, handler bus.Handler, msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&b.panics, 1)
			slog.Error("bus handler panicked",
				"subscriber", sub.ownerID, "type", msg.Type, "panic", r)
		}
	}()
	handler(msg)
	atomic.AddInt64(&b.delivered, 1)
}

// Unsubscribe removes a subscription and stops its dispatch goroutine.
func (b *Bus) Unsubscribe(s bus.Subscription) {
	b.mu.Lock()
	sub, ok := b.subs[s.ID]
	if ok {
		delete(b.subs, s.ID)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Stats returns current bus counters.
func (b *Bus) Stats() bus.Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	return bus.Stats{
		Subscribers: n,
		Published:   atomic.LoadInt64(&b.published),
		Delivered:   atomic.LoadInt64(&b.delivered),
		Dropped:     atomic.LoadInt64(&b.dropped),
		Panics:      atomic.LoadInt64(&b.panics),
	}
}

// Close stops all dispatch goroutines and drops every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	b.wg.Wait()
}

// Package events fans daemon notifications out to in-process listeners such
// as the D-Bus signal emitter and WebSocket clients.
package events

import (
	"sync"
	"time"
)

// Kinds of events.
const (
	KindHotplug       = "hotplug"
	KindProfileSwitch = "profile_switch"
	KindGraphicsMode  = "graphics_mode"
	KindGraphicsPower = "graphics_power"
)

const subscriberBuffer = 16

// Event is one notification.
type Event struct {
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Broker delivers published events to every current subscriber. Slow
// subscribers lose their oldest pending events; Publish never blocks.
type Broker struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
	dropped     uint64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	sub := newSubscriber()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() { b.remove(sub) }
}

// Publish stamps ev when needed and delivers it.
func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var dropped uint64
	for _, sub := range targets {
		if sub.send(ev) {
			dropped++
		}
	}
	if dropped > 0 {
		b.mu.Lock()
		b.dropped += dropped
		b.mu.Unlock()
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Dropped returns how many events were discarded for slow subscribers.
func (b *Broker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close unsubscribes everyone. Later subscriptions receive a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[*subscriber]struct{})
	b.closed = true
	b.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	sub.close()
}

type subscriber struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Event, subscriberBuffer)}
}

// send reports whether an older event had to be dropped.
func (s *subscriber) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return false
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
	return true
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}

// Package events fans measurements out to live subscribers.
package events

import (
	"log/slog"
	"sync"

	"github.com/ubertone/peacock-go/internal/models"
)

const subBufferSize = 8

// Delivery is one measurement handed to a subscriber. Missed is the number
// of measurements dropped for that subscriber since its previous delivery.
type Delivery struct {
	Measurement models.Measurement
	Missed      uint64
}

type subscriber struct {
	ch      chan Delivery
	pending uint64 // drops not yet reported in a Delivery
	dropped uint64
}

// Bus publishes measurements without ever blocking the acquisition loop. A
// subscriber whose buffer is full loses the measurement; the loss is counted
// and reported with its next delivery.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	dropped uint64
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers id and returns its delivery channel. Subscribing an id
// again replaces the previous subscription, whose channel is closed.
func (b *Bus) Subscribe(id string) <-chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old.ch)
	}
	s := &subscriber{ch: make(chan Delivery, subBufferSize)}
	b.subs[id] = s
	return s.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(s.ch)
	if s.dropped > 0 {
		slog.Info("events: subscriber left", "id", id, "dropped", s.dropped)
	}
}

// Publish hands m to every subscriber with room for it.
func (b *Bus) Publish(m models.Measurement) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		select {
		case s.ch <- Delivery{Measurement: m, Missed: s.pending}:
			s.pending = 0
		default:
			if s.pending == 0 {
				slog.Debug("events: subscriber lagging", "id", id, "seq", m.Seq)
			}
			s.pending++
			s.dropped++
			b.dropped++
		}
	}
}

// Dropped returns how many deliveries were dropped since the bus was
// created, over all subscribers past and present.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// SubscriberDropped returns the drops of subscriber id and whether it is
// subscribed.
func (b *Bus) SubscriberDropped(id string) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return 0, false
	}
	return s.dropped, true
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

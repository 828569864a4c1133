// Package events fans engine lifecycle events out to subscribers.
package events

import (
	"sync"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// DefaultBufferSize is the capacity of each subscriber channel.
const DefaultBufferSize = 100

// Broker delivers every emitted event to all current subscribers without
// blocking the emitter.
type Broker struct {
	mu   sync.RWMutex
	subs []chan core.Event
	size int
}

// NewBroker creates a Broker whose subscriber channels hold size events.
func NewBroker(size int) *Broker {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Broker{size: size}
}

// Subscribe returns a channel receiving events emitted from now on.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() <-chan core.Event {
	ch := make(chan core.Event, b.size)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel returned by Subscribe. The channel is not
// closed; no events are sent to it after Unsubscribe returns.
func (b *Broker) Unsubscribe(ch <-chan core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit sends e to every subscriber. Events for a full subscriber are dropped.
// A nil Broker ignores events.
func (b *Broker) Emit(e core.Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]chan core.Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

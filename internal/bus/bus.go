package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus fans events out to in-process subscribers selected by kind prefix.
// Publishing never blocks: a subscriber whose buffer is full misses the
// event, and the miss is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	dropped atomic.Int64
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind and
// returns how many received it. A zero Timestamp is set to the current time.
func (b *Bus) Publish(evt Event) int {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribe returns a channel receiving events whose kind starts with prefix,
// buffered to size, and a function that ends the subscription. The channel is
// never closed; the end function may be called more than once.
func (b *Bus) Subscribe(prefix string, size int) (<-chan Event, func()) {
	s := &subscription{prefix: prefix, ch: make(chan Event, size)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(other *subscription) bool { return other == s })
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many events were discarded because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

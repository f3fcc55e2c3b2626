package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the coordinator.
const (
	TypeListUpdated     = "list.updated"
	TypeSettingsUpdated = "settings.updated"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Outcome describes what a best-effort Publish achieved.
//
// NoSubscribers is an expected result (nobody is observing right now) and is
// kept distinct from Dropped, where a subscriber existed but could not keep up.
type Outcome struct {
	Delivered int
	Dropped   int
}

func (o Outcome) NoSubscribers() bool { return o.Delivered == 0 && o.Dropped == 0 }

func (o Outcome) String() string {
	switch {
	case o.NoSubscribers():
		return "no_subscribers"
	case o.Dropped > 0 && o.Delivered == 0:
		return "dropped"
	case o.Dropped > 0:
		return "partial"
	default:
		return "delivered"
	}
}

type Bus interface {
	Publish(e Event) Outcome
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) Outcome {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	var out Outcome
	for _, ch := range chs {
		// A subscriber may unsubscribe concurrently and close its channel;
		// recover from the send-on-closed panic and count it as dropped.
		if trySend(ch, e) {
			out.Delivered++
		} else {
			out.Dropped++
		}
	}
	return out
}

func trySend(ch chan Event, e Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- e:
		return true
	default:
		return false
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

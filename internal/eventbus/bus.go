// Package eventbus fans sweep and tenant lifecycle signals out to
// in-process listeners (metrics, health, operator notices).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler.
const (
	SweepStarted       = "sweep.started"
	SweepFinished      = "sweep.finished"
	TenantFailed       = "sweep.tenant_failed"
	TenantDisabled     = "tenant.disabled"
	SessionClosed      = "session.closed"
	ReminderDispatched = "reminder.dispatched"
)

// Event is a small in-memory signal. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type     string
	Time     time.Time
	TenantID int64
	Data     any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a fanout bus with no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu      sync.Mutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the lock so unsubscribe cannot close a channel
	// mid-send; every send is non-blocking.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func Dropped(b Bus) uint64 {
	if m, ok := b.(*memBus); ok {
		return m.dropped.Load()
	}
	return 0
}

// Package eventbus carries in-process notifications between components:
// timers armed and fired, deliveries, scheduled job outcomes.
//
// Publish never blocks. A subscriber whose buffer is full misses the event
// and the bus counts it as dropped.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types.
const (
	TimerArmed     = "timer.armed"
	TimerFired     = "timer.fired"
	TimerCancelled = "timer.cancelled"
	TimerRestored  = "timer.restored"

	NotifySent   = "notify.sent"
	NotifyFailed = "notify.failed"

	StatsReset = "stats.reset"

	JobFinished = "job.finished"
	JobFailed   = "job.failed"
)

type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel of events whose type starts with one of
	// prefixes (every event when none are given) and a func that closes it.
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts events lost to full subscriber buffers.
	Dropped() uint64
}

// Emit publishes on b if b is non-nil.
func Emit(b Bus, typ string, at time.Time, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: at, Data: data})
}

func New() Bus {
	return &memBus{subs: map[*sub]struct{}{}}
}

type sub struct {
	ch       chan Event
	prefixes []string
}

func (s *sub) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	// mu is held for reading while sending so unsubscribe cannot close a
	// channel mid-send.
	mu      sync.RWMutex
	subs    map[*sub]struct{}
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

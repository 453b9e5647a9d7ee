package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	timers, unsubTimers := b.Subscribe(4, "timer.")
	defer unsubTimers()

	Emit(b, TimerArmed, time.Time{}, nil)
	Emit(b, NotifySent, time.Unix(10, 0), nil)

	require.Len(t, all, 2)
	require.Len(t, timers, 1)
	e := <-timers
	assert.Equal(t, TimerArmed, e.Type)
	assert.False(t, e.Time.IsZero(), "zero time is stamped")
}

func TestFullBufferDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)

	b.Publish(Event{Type: JobFinished})
	b.Publish(Event{Type: JobFailed})
	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, JobFinished, (<-ch).Type)

	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
	b.Publish(Event{Type: JobFinished})
}

func TestEmitNilBus(t *testing.T) {
	t.Parallel()
	Emit(nil, StatsReset, time.Now(), nil)
}

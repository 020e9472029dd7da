package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vdavid/webmail/internal/clock"
)

func newTestScheduler() (*Scheduler, *clock.Fake) {
	fake := clock.NewFake(t0)
	var mu sync.Mutex
	s := NewScheduler(fake, func(f func()) {
		mu.Lock()
		defer mu.Unlock()
		f()
	})
	return s, fake
}

func TestScheduler(t *testing.T) {
	t.Run("fires at due time", func(t *testing.T) {
		s, fake := newTestScheduler()
		fired := 0
		assert.False(t, s.Arm("a", KindScheduledSend, t0.Add(time.Minute), func() { fired++ }))
		assert.True(t, s.Armed("a"))

		fake.Advance(59 * time.Second)
		assert.Equal(t, 0, fired)
		fake.Advance(time.Second)
		assert.Equal(t, 1, fired)
		assert.False(t, s.Armed("a"))
	})

	t.Run("past due commits inline", func(t *testing.T) {
		s, _ := newTestScheduler()
		fired := false
		assert.True(t, s.Arm("a", KindScheduledSend, t0.Add(-time.Hour), func() { fired = true }))
		assert.True(t, fired)
		assert.False(t, s.Armed("a"))
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		s, fake := newTestScheduler()
		fired := false
		s.Arm("a", KindUndoSend, t0.Add(time.Second), func() { fired = true })

		assert.True(t, s.Cancel("a"))
		assert.False(t, s.Cancel("a"))
		assert.False(t, s.Cancel("never-armed"))
		fake.Advance(time.Minute)
		assert.False(t, fired)
	})

	t.Run("cancel after fire is a no-op", func(t *testing.T) {
		s, fake := newTestScheduler()
		s.Arm("a", KindUndoSend, t0.Add(time.Second), func() {})
		fake.Advance(time.Second)
		assert.False(t, s.Cancel("a"))
	})

	t.Run("flush commits now", func(t *testing.T) {
		s, fake := newTestScheduler()
		fired := 0
		s.Arm("a", KindUndoSend, t0.Add(time.Hour), func() { fired++ })

		assert.True(t, s.Flush("a"))
		assert.Equal(t, 1, fired)
		assert.False(t, s.Flush("a"))
		fake.Advance(2 * time.Hour)
		assert.Equal(t, 1, fired)
	})

	t.Run("re-arming replaces the entry", func(t *testing.T) {
		s, fake := newTestScheduler()
		var got []string
		s.Arm("a", KindAutosave, t0.Add(2*time.Second), func() { got = append(got, "first") })
		fake.Advance(time.Second)
		s.Arm("a", KindAutosave, fake.Now().Add(2*time.Second), func() { got = append(got, "second") })

		fake.Advance(time.Second)
		assert.Empty(t, got)
		fake.Advance(time.Second)
		assert.Equal(t, []string{"second"}, got)
	})

	t.Run("simultaneous timers fire in arm order", func(t *testing.T) {
		s, fake := newTestScheduler()
		var got []string
		due := t0.Add(time.Minute)
		s.Arm("b", KindScheduledSend, due, func() { got = append(got, "b") })
		s.Arm("a", KindScheduledSend, due, func() { got = append(got, "a") })
		s.Arm("c", KindScheduledSend, t0.Add(30*time.Second), func() { got = append(got, "c") })

		assert.Equal(t, []string{"c", "b", "a"}, s.Keys(KindScheduledSend))
		fake.Advance(time.Minute)
		assert.Equal(t, []string{"c", "b", "a"}, got)
	})

	t.Run("keys filter by kind", func(t *testing.T) {
		s, _ := newTestScheduler()
		s.Arm("send", KindUndoSend, t0.Add(time.Second), func() {})
		s.Arm("sched", KindScheduledSend, t0.Add(time.Second), func() {})
		assert.Equal(t, []string{"send"}, s.Keys(KindUndoSend))
		due, ok := s.Due("sched")
		assert.True(t, ok)
		assert.Equal(t, t0.Add(time.Second), due)
	})

	t.Run("stop cancels everything", func(t *testing.T) {
		s, fake := newTestScheduler()
		fired := false
		s.Arm("a", KindScheduledSend, t0.Add(time.Second), func() { fired = true })
		s.Arm("b", KindAutosave, t0.Add(time.Second), func() { fired = true })
		s.Stop()
		fake.Advance(time.Minute)
		assert.False(t, fired)
		assert.Equal(t, 0, fake.Pending())
	})
}

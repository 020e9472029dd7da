package mailbox

import (
	"sort"
	"time"

	"github.com/vdavid/webmail/internal/clock"
)

// DeferredKind tells what an armed entry will do when it fires.
type DeferredKind int

const (
	KindScheduledSend DeferredKind = iota
	KindUndoSend
	KindAutosave
)

func (k DeferredKind) String() string {
	switch k {
	case KindScheduledSend:
		return "scheduled-send"
	case KindUndoSend:
		return "undo-send"
	case KindAutosave:
		return "autosave"
	default:
		return "unknown"
	}
}

type deferred struct {
	key    string
	kind   DeferredKind
	due    time.Time
	timer  clock.Timer
	gen    uint64
	commit func()
}

// Scheduler is the registry of time-delayed, cancelable actions, keyed by
// message id (or compose id for autosave). Each entry is Armed until it
// either fires (Committed) or is canceled; both end states remove it.
//
// The Scheduler itself is not locked. Every method must be called on the
// owner's serialized path, and expiring timers re-enter that path through run.
type Scheduler struct {
	clock   clock.Clock
	run     func(func())
	entries map[string]*deferred
	gen     uint64
}

// NewScheduler creates a scheduler whose timer callbacks are executed via run.
func NewScheduler(c clock.Clock, run func(func())) *Scheduler {
	return &Scheduler{
		clock:   c,
		run:     run,
		entries: make(map[string]*deferred),
	}
}

// Arm registers commit to run at due, replacing any entry with the same key.
// If due is not in the future, commit runs before Arm returns and Arm reports true.
func (s *Scheduler) Arm(key string, kind DeferredKind, due time.Time, commit func()) bool {
	s.Cancel(key)

	wait := due.Sub(s.clock.Now())
	if wait <= 0 {
		commit()
		return true
	}

	s.gen++
	d := &deferred{key: key, kind: kind, due: due, gen: s.gen, commit: commit}
	d.timer = s.clock.AfterFunc(wait, func() {
		s.run(func() { s.fire(key, d.gen) })
	})
	s.entries[key] = d
	return false
}

func (s *Scheduler) fire(key string, gen uint64) {
	d, ok := s.entries[key]
	if !ok || d.gen != gen {
		// Canceled or re-armed while the callback waited for the lock.
		return
	}
	delete(s.entries, key)
	d.commit()
}

// Cancel tears down the entry without running it. Unknown keys are a no-op.
func (s *Scheduler) Cancel(key string) bool {
	d, ok := s.entries[key]
	if !ok {
		return false
	}
	d.timer.Stop()
	delete(s.entries, key)
	return true
}

// Flush runs the entry now instead of at its due time. Unknown keys are a no-op.
func (s *Scheduler) Flush(key string) bool {
	d, ok := s.entries[key]
	if !ok {
		return false
	}
	d.timer.Stop()
	delete(s.entries, key)
	d.commit()
	return true
}

// Armed reports whether key has a pending entry.
func (s *Scheduler) Armed(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Due returns when the entry for key fires.
func (s *Scheduler) Due(key string) (time.Time, bool) {
	d, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return d.due, true
}

// Keys lists armed keys of the given kind, soonest first.
func (s *Scheduler) Keys(kind DeferredKind) []string {
	var ds []*deferred
	for _, d := range s.entries {
		if d.kind == kind {
			ds = append(ds, d)
		}
	}
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].due.Equal(ds[j].due) {
			return ds[i].due.Before(ds[j].due)
		}
		return ds[i].gen < ds[j].gen
	})

	keys := make([]string, len(ds))
	for i, d := range ds {
		keys[i] = d.key
	}
	return keys
}

// Stop cancels everything. Used when a session ends.
func (s *Scheduler) Stop() {
	for key := range s.entries {
		s.Cancel(key)
	}
}

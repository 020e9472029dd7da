package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// workerSet holds one user's worker connections. A connection is either idle
// or lent to exactly one WithClient call. slots bounds idle+lent.
type workerSet struct {
	mu     sync.Mutex
	slots  chan struct{}
	idle   []*threadSafeClient
	lent   map[*threadSafeClient]struct{}
	closed bool
}

func newWorkerSet(maxWorkers int) *workerSet {
	return &workerSet{
		slots: make(chan struct{}, maxWorkers),
		lent:  make(map[*threadSafeClient]struct{}),
	}
}

// take waits for a free slot, then lends out an idle connection or a new one
// from dial. It gives up when ctx ends first.
func (s *workerSet) take(ctx context.Context, dial func() (*client.Client, error)) (*threadSafeClient, error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		c := s.popIdle()
		if c == nil {
			break
		}
		if usable(c) {
			return s.lend(c), nil
		}
		_ = c.client.Logout()
	}

	conn, err := dial()
	if err != nil {
		<-s.slots
		return nil, err
	}
	return s.lend(newPooledClient(conn, roleWorker)), nil
}

func (s *workerSet) popIdle() *threadSafeClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.idle)
	if n == 0 {
		return nil
	}
	c := s.idle[n-1]
	s.idle = s.idle[:n-1]
	return c
}

func (s *workerSet) lend(c *threadSafeClient) *threadSafeClient {
	s.mu.Lock()
	s.lent[c] = struct{}{}
	s.mu.Unlock()
	return c
}

// giveBack frees c's slot. Connections the server logged out, and any
// connection returned after close, are discarded.
func (s *workerSet) giveBack(c *threadSafeClient) {
	defer func() { <-s.slots }()

	s.mu.Lock()
	delete(s.lent, c)
	keep := !s.closed && alive(c.client)
	if keep {
		c.UpdateLastUsed()
		s.idle = append(s.idle, c)
	}
	s.mu.Unlock()

	if !keep {
		_ = c.client.Logout()
	}
}

// evictIdle logs out connections idle since before cutoff.
func (s *workerSet) evictIdle(cutoff time.Time) {
	s.mu.Lock()
	var stale []*threadSafeClient
	kept := s.idle[:0]
	for _, c := range s.idle {
		if c.GetLastUsed().Before(cutoff) {
			stale = append(stale, c)
		} else {
			kept = append(kept, c)
		}
	}
	s.idle = kept
	s.mu.Unlock()

	for _, c := range stale {
		_ = c.client.Logout()
	}
}

// close logs out every connection. A lent connection's running command fails,
// and giveBack discards it.
func (s *workerSet) close() {
	s.mu.Lock()
	s.closed = true
	all := s.idle
	s.idle = nil
	for c := range s.lent {
		all = append(all, c)
	}
	s.mu.Unlock()

	for _, c := range all {
		_ = c.client.Logout()
	}
}

func alive(c *client.Client) bool {
	state := c.State()
	return state == imap.AuthenticatedState || state == imap.SelectedState
}

// usable reports whether an idle connection can be lent out. Connections idle
// longer than healthCheckThreshold must answer a NOOP first.
func usable(c *threadSafeClient) bool {
	if !alive(c.client) {
		return false
	}
	if time.Since(c.GetLastUsed()) <= healthCheckThreshold {
		return true
	}
	return c.client.Noop() == nil
}

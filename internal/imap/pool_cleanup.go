package imap

import (
	"time"

	"github.com/emersion/go-imap"
)

// startCleanupGoroutine evicts idle connections every minute until Close.
func (p *Pool) startCleanupGoroutine() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.cleanupCtx.Done():
				return
			case now := <-ticker.C:
				p.cleanupIdleConnections(now)
			}
		}
	}()
}

// cleanupIdleConnections logs out worker connections idle for longer than
// workerIdleTimeout and forgets listeners the server already hung up on.
// Worker sets themselves stay: a WithClient call may be holding one.
func (p *Pool) cleanupIdleConnections(now time.Time) {
	p.mu.Lock()
	for userID, listener := range p.listeners {
		if listener.GetClient().State() == imap.LogoutState {
			delete(p.listeners, userID)
		}
	}
	sets := make([]*workerSet, 0, len(p.workerSets))
	for _, set := range p.workerSets {
		sets = append(sets, set)
	}
	p.mu.Unlock()

	cutoff := now.Add(-workerIdleTimeout)
	for _, set := range sets {
		set.evictIdle(cutoff)
	}
}

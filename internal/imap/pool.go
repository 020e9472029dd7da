package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
)

const (
	// DefaultMaxWorkers is the per-user worker connection limit when none is configured.
	DefaultMaxWorkers = 3
	// workerIdleTimeout is the maximum time a worker connection can be idle before being closed.
	workerIdleTimeout = 10 * time.Minute
	// healthCheckThreshold is the idle time after which we perform a health check before reuse.
	healthCheckThreshold = 1 * time.Minute
)

// ClientPool hands out logged-in IMAP connections.
//
//goland:noinspection GoNameStartsWithPackageName
type ClientPool interface {
	// WithClient runs fn on a worker connection for creds.UserID. The connection is
	// exclusively fn's until it returns; commands are bounded by the ctx deadline.
	WithClient(ctx context.Context, creds Credentials, fn func(c *client.Client) error) error

	// GetListenerConnection returns the user's dedicated IDLE connection, locked.
	GetListenerConnection(creds Credentials) (*threadSafeClient, error)

	// RemoveListenerConnection drops the user's IDLE connection.
	RemoveListenerConnection(userID string)

	// RemoveClient drops every connection of the user.
	RemoveClient(userID string)

	// Close closes all connections in the pool.
	Close()
}

var _ ClientPool = (*Pool)(nil)

// Pool manages IMAP connections per user.
// Worker connections (up to maxWorkers per user) serve gateway calls such as
// FETCH, STORE, MOVE and APPEND. Each user also gets one listener connection
// that sits in IDLE.
type Pool struct {
	workerSets    map[string]*workerSet        // userID -> worker connections
	listeners     map[string]*threadSafeClient // userID -> listener connection
	mu            sync.RWMutex
	maxWorkers    int
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	closeOnce     sync.Once
}

// NewPool creates a new IMAP connection pool with the default worker limit.
func NewPool() *Pool {
	return NewPoolWithMaxWorkers(DefaultMaxWorkers)
}

// NewPoolWithMaxWorkers creates a new IMAP connection pool with a configurable
// maximum number of worker connections per user.
func NewPoolWithMaxWorkers(maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workerSets:    make(map[string]*workerSet),
		listeners:     make(map[string]*threadSafeClient),
		maxWorkers:    maxWorkers,
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	p.startCleanupGoroutine()
	return p
}

func (p *Pool) workers(userID string) *workerSet {
	p.mu.RLock()
	set, ok := p.workerSets[userID]
	p.mu.RUnlock()
	if ok {
		return set
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.workerSets[userID]; ok {
		return set
	}
	set = newWorkerSet(p.maxWorkers)
	p.workerSets[userID] = set
	return set
}

// WithClient implements ClientPool.
// Waiting for a free connection counts against ctx too.
func (p *Pool) WithClient(ctx context.Context, creds Credentials, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	set := p.workers(creds.UserID)
	tsClient, err := set.take(ctx, func() (*client.Client, error) { return dial(creds) })
	if err != nil {
		return err
	}
	defer set.giveBack(tsClient)

	c := tsClient.GetClient()
	restore := applyDeadline(ctx, c)
	defer restore()
	return fn(c)
}

// RemoveClient removes all connections (worker and listener) for a user from the pool.
func (p *Pool) RemoveClient(userID string) {
	p.mu.Lock()
	set := p.workerSets[userID]
	delete(p.workerSets, userID)
	listener := p.listeners[userID]
	delete(p.listeners, userID)
	p.mu.Unlock()

	if set != nil {
		set.close()
	}
	if listener != nil {
		// An IDLE loop may hold the lock; logging out ends it.
		_ = listener.GetClient().Logout()
	}
}

// Close closes all connections in the pool and stops the cleanup goroutine.
func (p *Pool) Close() {
	p.closeOnce.Do(p.cleanupCancel)

	p.mu.Lock()
	sets := p.workerSets
	listeners := p.listeners
	p.workerSets = make(map[string]*workerSet)
	p.listeners = make(map[string]*threadSafeClient)
	p.mu.Unlock()

	for _, set := range sets {
		set.close()
	}
	for _, listener := range listeners {
		_ = listener.GetClient().Logout()
	}
}

package imap

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"

	"github.com/vdavid/webmail/internal/mailerr"
)

const dialTimeout = 5 * time.Second

// clientRole tells pooled connections apart.
type clientRole int

const (
	// roleWorker runs short commands. A user has up to maxWorkers of them.
	roleWorker clientRole = iota
	// roleListener sits in IDLE on INBOX. A user has at most one.
	roleListener
)

// Credentials identify one user's IMAP account. UserID keys the pool.
type Credentials struct {
	UserID   string
	Server   string
	Username string
	Password string
}

// threadSafeClient is a pooled connection. go-imap clients are not safe
// for concurrent commands, so callers hold the lock for the whole exchange.
type threadSafeClient struct {
	client   *client.Client
	mu       sync.Mutex
	lastUsed time.Time
	role     clientRole
}

func newPooledClient(c *client.Client, role clientRole) *threadSafeClient {
	return &threadSafeClient{client: c, lastUsed: time.Now(), role: role}
}

func (c *threadSafeClient) Lock()   { c.mu.Lock() }
func (c *threadSafeClient) Unlock() { c.mu.Unlock() }

// GetClient returns the connection. The caller must hold the lock.
func (c *threadSafeClient) GetClient() *client.Client {
	return c.client
}

func (c *threadSafeClient) UpdateLastUsed() {
	c.lastUsed = time.Now()
}

func (c *threadSafeClient) GetLastUsed() time.Time {
	return c.lastUsed
}

func (c *threadSafeClient) GetRole() clientRole {
	return c.role
}

// useTLS is false only in test mode, where the in-memory servers speak plain IMAP.
func useTLS() bool {
	return os.Getenv("VMAIL_TEST_MODE") != "true"
}

// dial connects to creds.Server and logs in. A rejected login comes back
// as a *mailerr.AuthenticationError.
func dial(creds Credentials) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		c   *client.Client
		err error
	)
	if useTLS() {
		c, err = client.DialWithDialerTLS(dialer, creds.Server, nil)
	} else {
		c, err = client.DialWithDialer(dialer, creds.Server)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", creds.Server, err)
	}

	if err := c.Login(creds.Username, creds.Password); err != nil {
		_ = c.Logout()
		return nil, &mailerr.AuthenticationError{Err: err}
	}
	return c, nil
}

// applyDeadline bounds every command of c by the context deadline.
// The returned func restores the previous timeout.
func applyDeadline(ctx context.Context, c *client.Client) func() {
	prev := c.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			c.Timeout = remaining
		} else {
			c.Timeout = time.Millisecond
		}
	}
	return func() {
		c.Timeout = prev
	}
}

package imap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
)

const (
	// idleListenerSleep is the backoff duration after an error before retrying IDLE.
	idleListenerSleep = 10 * time.Second
	// defaultIdleRound is how long one IDLE command runs before the folder is re-checked.
	defaultIdleRound = 5 * time.Minute
)

// Sink receives every new message the listener finds.
type Sink func(ctx context.Context, msg models.Message) error

// Listener watches INBOX with IMAP IDLE and hands new messages to a Sink.
type Listener struct {
	pool    ClientPool
	gateway *Gateway
	sink    Sink
	folder  string

	// NextUID is the first UID treated as new. Zero means the folder's UIDNEXT
	// at the time the listener first selects it.
	NextUID uint32
	// Round bounds one IDLE command; new mail is also looked for after each round.
	Round time.Duration
	// RetryDelay is the pause after a failed connection or IDLE.
	RetryDelay time.Duration
}

// NewListener creates an INBOX listener for the gateway's account.
func NewListener(pool ClientPool, gateway *Gateway, sink Sink) *Listener {
	return &Listener{
		pool:       pool,
		gateway:    gateway,
		sink:       sink,
		folder:     gateway.folders.ServerName(models.FolderInbox),
		Round:      defaultIdleRound,
		RetryDelay: idleListenerSleep,
	}
}

// Run blocks until ctx is canceled, the credentials are rejected, or the sink
// reports that the mailbox is closed.
func (l *Listener) Run(ctx context.Context) {
	userID := l.gateway.creds.UserID
	for {
		// Exit when context is canceled.
		if ctx.Err() != nil {
			return
		}

		listener, err := l.pool.GetListenerConnection(l.gateway.creds)
		if err != nil {
			err = mailerr.Classify("idle", err)
			log.Printf("IMAP IDLE: failed to get listener connection for user %s: %v", userID, err)
			if mailerr.IsAuthentication(err) {
				return
			}
			if !sleepCtx(ctx, l.RetryDelay) {
				return
			}
			continue
		}

		// Ensure we always unlock the listener.
		err = func() error {
			defer listener.Unlock()
			return l.runIdleLoop(ctx, listener.GetClient())
		}()

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, mailbox.ErrClosed):
			log.Printf("IMAP IDLE: mailbox closed for user %s, stopping", userID)
			return
		case err != nil:
			log.Printf("IMAP IDLE: idle loop ended with error for user %s: %v", userID, err)
			l.pool.RemoveListenerConnection(userID)
		}

		// Small backoff before trying again.
		if !sleepCtx(ctx, l.RetryDelay) {
			return
		}
	}
}

// runIdleLoop alternates between delivering new messages and idling.
func (l *Listener) runIdleLoop(ctx context.Context, c *imapclient.Client) error {
	mbox, err := c.Select(l.folder, true)
	if err != nil {
		return fmt.Errorf("failed to select %s: %w", l.folder, err)
	}
	if l.NextUID == 0 {
		l.NextUID = mbox.UidNext
	}

	for {
		if err := l.deliverNew(ctx, c); err != nil {
			return err
		}
		if err := l.idleRound(ctx, c); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// deliverNew fetches messages at or above NextUID and passes them to the sink.
func (l *Listener) deliverNew(ctx context.Context, c *imapclient.Client) error {
	uids, err := searchUIDsFrom(c, l.NextUID)
	if err != nil || len(uids) == 0 {
		return err
	}

	fetched, err := FetchMessages(c, uids)
	if err != nil {
		return err
	}
	msgs, err := l.gateway.parseAll(fetched, models.FolderInbox, l.folder, nil)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if err := l.sink(ctx, msg); err != nil {
			if errors.Is(err, mailbox.ErrClosed) {
				return err
			}
			log.Printf("IMAP IDLE: Warning: failed to deliver UID %d for user %s: %v", msg.IMAPUID, l.gateway.creds.UserID, err)
		}
		if msg.IMAPUID >= l.NextUID {
			l.NextUID = msg.IMAPUID + 1
		}
	}
	return nil
}

// idleRound runs IDLE until the server reports a mailbox change, the round
// ends or ctx is canceled.
func (l *Listener) idleRound(ctx context.Context, c *imapclient.Client) error {
	// Create a channel to receive mailbox updates.
	updates := make(chan imapclient.Update, 10)
	c.Updates = updates
	defer func() {
		c.Updates = nil
	}()

	idleClient := idle.NewClient(c)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, l.Round)
	}()

	timer := time.NewTimer(l.Round)
	defer timer.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return stopIdle(stop, done, updates)
		case <-timer.C:
			return stopIdle(stop, done, updates)
		case update := <-updates:
			if _, ok := update.(*imapclient.MailboxUpdate); ok {
				return stopIdle(stop, done, updates)
			}
		}
	}
}

// stopIdle ends the IDLE command, discarding updates until it returns so the
// client's reader never blocks on a full channel.
func stopIdle(stop chan struct{}, done <-chan error, updates <-chan imapclient.Update) error {
	close(stop)
	for {
		select {
		case err := <-done:
			return err
		case <-updates:
		}
	}
}

// sleepCtx waits for d and reports whether ctx is still alive.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

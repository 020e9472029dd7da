// Package session owns the mailbox of every signed-in user: it bootstraps
// one from the database or the mail server, keeps it persisted, feeds it
// new mail, and forwards its events to the user's WebSocket connections.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vdavid/webmail/internal/clock"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
)

// ErrNotConfigured means the user has not saved their mail account settings yet.
var ErrNotConfigured = errors.New("mail account not configured")

// Notifier pushes a JSON event to every connection of a user.
type Notifier interface {
	SendJSON(userID string, v any)
}

// Config holds the collaborators shared by every session.
type Config struct {
	Repo       db.Repository
	Backends   BackendFactory
	Summarizer mailbox.Summarizer
	Notifier   Notifier
	Clock      clock.Clock

	// UndoWindow applies when the user has no undo delay of their own.
	UndoWindow     time.Duration
	AutosaveDelay  time.Duration
	GatewayTimeout time.Duration
}

// Session is one user's live mailbox.
type Session struct {
	Mailbox *mailbox.Mailbox

	identity    models.Identity
	persist     *persister
	unsubscribe func()
	cancel      context.CancelFunc
	listening   sync.WaitGroup
	closeOnce   sync.Once
}

// Identity returns who the session acts as.
func (s *Session) Identity() models.Identity {
	return s.identity
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.listening.Wait()
		// Closing commits a pending send, and the persister has to see that change.
		s.Mailbox.Close()
		s.unsubscribe()
		s.persist.close()
	})
}

// Manager keeps at most one session per user.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	group    singleflight.Group
}

// NewManager creates a manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for email, bootstrapping it on first use.
// Concurrent first calls for the same user share one bootstrap.
func (m *Manager) Get(ctx context.Context, email string) (*Session, error) {
	userID, err := m.cfg.Repo.GetOrCreateUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if s := m.lookup(userID); s != nil {
		return s, nil
	}

	v, err, _ := m.group.Do(userID, func() (any, error) {
		if s := m.lookup(userID); s != nil {
			return s, nil
		}
		// The bootstrap outlives the request that happened to start it.
		s, err := m.bootstrap(context.WithoutCancel(ctx), userID, email)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.sessions[userID] = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Lookup returns the live session of a user, if any.
func (m *Manager) Lookup(userID string) (*Session, bool) {
	s := m.lookup(userID)
	return s, s != nil
}

func (m *Manager) lookup(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

// Drop ends a user's session. The next Get starts a fresh one, re-reading
// settings and credentials.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		s.close()
		log.Printf("SessionManager: Closed session for user %s", userID)
	}
}

// Close ends every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (m *Manager) bootstrap(ctx context.Context, userID, email string) (*Session, error) {
	userSettings, err := m.cfg.Repo.GetUserSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserSettingsNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	identity := models.Identity{
		UserID:       userID,
		EmailAddress: email,
		DisplayName:  userSettings.DisplayName,
	}

	appSettings := db.LoadAppSettingsOrDefault(ctx, m.cfg.Repo, userID)
	folders, err := m.cfg.Repo.GetUserFolders(ctx, userID)
	if err != nil {
		log.Printf("SessionManager: Warning: failed to load folders for user %s: %v", userID, err)
		folders = nil
	}

	backends, err := m.cfg.Backends(userSettings, identity)
	if err != nil {
		return nil, err
	}

	undoWindow := m.cfg.UndoWindow
	if userSettings.UndoSendDelaySeconds > 0 {
		undoWindow = time.Duration(userSettings.UndoSendDelaySeconds) * time.Second
	}

	mb := mailbox.New(mailbox.Config{
		Identity:       identity,
		Settings:       &appSettings,
		Folders:        folders,
		Gateway:        backends.Gateway,
		Transport:      backends.Transport,
		Summarizer:     m.cfg.Summarizer,
		Clock:          m.cfg.Clock,
		UndoWindow:     undoWindow,
		AutosaveDelay:  m.cfg.AutosaveDelay,
		GatewayTimeout: m.cfg.GatewayTimeout,
	})

	msgs, err := m.cfg.Repo.LoadMailbox(ctx, userID)
	switch {
	case errors.Is(err, db.ErrMailboxNotFound):
		msgs, err = fetchInitial(ctx, backends, userID)
		if err != nil {
			mb.Close()
			return nil, err
		}
	case err != nil:
		mb.Close()
		return nil, fmt.Errorf("failed to load mailbox: %w", err)
	}

	persist := newPersister(m.cfg.Repo, userID, mb)
	listenCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Mailbox:  mb,
		identity: identity,
		persist:  persist,
		cancel:   cancel,
	}
	s.unsubscribe = mb.Subscribe(func(e mailbox.Event) {
		persist.observe(e)
		if m.cfg.Notifier != nil {
			m.cfg.Notifier.SendJSON(userID, e)
		}
		if e.Type == mailbox.EventAuthFailed {
			// Subscribers run inside the mailbox's event delivery.
			go m.Drop(userID)
		}
	})

	if err := mb.Restore(msgs); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to restore mailbox: %w", err)
	}

	if backends.Listen != nil {
		from := nextInboxUID(msgs)
		s.listening.Add(1)
		go func() {
			defer s.listening.Done()
			backends.Listen(listenCtx, from, func(ctx context.Context, msg models.Message) error {
				_, err := mb.ReceiveIncoming(ctx, msg)
				return err
			})
		}()
	}

	log.Printf("SessionManager: Started session for user %s with %d messages", userID, len(msgs))
	return s, nil
}

// fetchInitial loads every synced folder concurrently. The first folder to
// report a message keeps it. A rejected login fails the bootstrap; other
// folder failures only leave that folder empty.
func fetchInitial(ctx context.Context, backends *Backends, userID string) ([]models.Message, error) {
	if backends.Gateway == nil || len(backends.SyncFolders) == 0 {
		return nil, nil
	}

	results := make([][]models.Message, len(backends.SyncFolders))
	g, gctx := errgroup.WithContext(ctx)
	for i, folder := range backends.SyncFolders {
		g.Go(func() error {
			msgs, err := backends.Gateway.FetchFolder(gctx, folder)
			if err != nil {
				if mailerr.IsAuthentication(err) {
					return err
				}
				log.Printf("SessionManager: Warning: failed to fetch %s for user %s: %v", folder, userID, err)
				return nil
			}
			results[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []models.Message
	for _, msgs := range results {
		for _, msg := range msgs {
			if seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			out = append(out, msg)
		}
	}
	return out, nil
}

// nextInboxUID is one past the highest Inbox UID in msgs, or 0 when none is known.
func nextInboxUID(msgs []models.Message) uint32 {
	var highest uint32
	for i := range msgs {
		if msgs[i].IMAPFolderName == "INBOX" && msgs[i].IMAPUID > highest {
			highest = msgs[i].IMAPUID
		}
	}
	if highest == 0 {
		return 0
	}
	return highest + 1
}

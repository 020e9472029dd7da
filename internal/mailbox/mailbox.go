// Package mailbox is the in-memory mailbox of one authenticated session: the
// message store, the conversation and folder views derived from it, and every
// mutation, including the deferred ones (undo-send, scheduled send, draft
// autosave) and the routing of incoming mail.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/vdavid/webmail/internal/clock"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
)

const (
	DefaultUndoWindow     = 5 * time.Second
	DefaultAutosaveDelay  = 2 * time.Second
	DefaultGatewayTimeout = 30 * time.Second

	// FallbackFolder receives the messages of a deleted user folder.
	FallbackFolder = models.FolderTrash
)

var (
	// ErrClosed is returned by every operation after the session ended.
	ErrClosed = errors.New("mailbox session closed")

	// ErrNoSummarizer is returned by Summarize when no summarizer is configured.
	ErrNoSummarizer = errors.New("summarizer not configured")
)

// Config holds the collaborators and tunables of a Mailbox. Only Identity is required.
type Config struct {
	Identity   models.Identity
	Settings   *models.AppSettings
	Folders    []models.UserFolder
	Gateway    Gateway
	Transport  Transport
	Summarizer Summarizer
	Clock      clock.Clock

	UndoWindow     time.Duration
	AutosaveDelay  time.Duration
	GatewayTimeout time.Duration
}

// Mailbox serializes every mutation through one lock. Timer callbacks take
// the same lock, so simultaneous firings apply one after the other.
type Mailbox struct {
	mu sync.Mutex

	identity models.Identity
	store    *Store
	view     projection
	sched    *Scheduler
	settings models.AppSettings
	folders  []models.UserFolder

	selection []string
	pending   *pendingSend
	compose   map[string]*composeState
	closed    bool

	gateway    Gateway
	transport  Transport
	summarizer Summarizer
	clock      clock.Clock

	undoWindow     time.Duration
	autosaveDelay  time.Duration
	gatewayTimeout time.Duration

	outbox []Event
	emitMu sync.Mutex
	subsMu sync.RWMutex
	subs   []subscriber
	subSeq int
}

type subscriber struct {
	id int
	fn func(Event)
}

// New creates an empty mailbox. Use Restore to load messages.
func New(cfg Config) *Mailbox {
	m := &Mailbox{
		identity:       cfg.Identity,
		store:          NewStore(),
		settings:       models.DefaultAppSettings(),
		folders:        append([]models.UserFolder(nil), cfg.Folders...),
		compose:        make(map[string]*composeState),
		gateway:        cfg.Gateway,
		transport:      cfg.Transport,
		summarizer:     cfg.Summarizer,
		clock:          cfg.Clock,
		undoWindow:     cfg.UndoWindow,
		autosaveDelay:  cfg.AutosaveDelay,
		gatewayTimeout: cfg.GatewayTimeout,
	}
	if cfg.Settings != nil {
		m.settings = cfg.Settings.Clone()
	}
	if m.clock == nil {
		m.clock = clock.Real{}
	}
	switch {
	case cfg.UndoWindow < 0:
		m.undoWindow = 0
	case cfg.UndoWindow == 0:
		m.undoWindow = DefaultUndoWindow
	}
	if m.autosaveDelay <= 0 {
		m.autosaveDelay = DefaultAutosaveDelay
	}
	if m.gatewayTimeout <= 0 {
		m.gatewayTimeout = DefaultGatewayTimeout
	}
	m.sched = NewScheduler(m.clock, m.serialize)
	return m
}

// Subscribe registers fn for every event. Events are delivered in order,
// after the lock is released. fn must not call mutating Mailbox methods
// synchronously. The returned func unsubscribes.
func (m *Mailbox) Subscribe(fn func(Event)) func() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.subSeq++
	id := m.subSeq
	m.subs = append(m.subs, subscriber{id: id, fn: fn})

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Close commits a send still inside its undo window, then cancels every
// other timer. The mailbox rejects all later operations. Events raised while
// closing reach subscribers before Close returns.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	before := m.store.Version()
	if m.pending != nil {
		m.sched.Flush(m.pending.msg.ID)
	}
	m.closed = true
	m.sched.Stop()
	if v := m.store.Version(); v != before {
		m.outbox = append(m.outbox, Event{Type: EventMailboxChanged, Version: v})
	}
	m.mu.Unlock()

	m.dispatch()
}

// Restore replaces the mailbox contents and re-arms every scheduled message.
// Messages whose send time already passed are sent right away.
func (m *Mailbox) Restore(msgs []models.Message) error {
	return m.do(func() error {
		if err := m.store.Replace(msgs); err != nil {
			return err
		}

		scheduled := m.store.Select(func(msg *models.Message) bool {
			return msg.Folder == models.FolderScheduled && msg.ScheduledSendTime != nil
		})
		sort.SliceStable(scheduled, func(i, j int) bool {
			return scheduled[i].ScheduledSendTime.Before(*scheduled[j].ScheduledSendTime)
		})
		for _, msg := range scheduled {
			m.armScheduledLocked(msg.ID, *msg.ScheduledSendTime)
		}
		log.Printf("Mailbox: Restored %d messages for %s (%d scheduled)", len(msgs), m.identity.EmailAddress, len(scheduled))
		return nil
	})
}

// do runs fn under the lock, queues a change event when the store moved,
// then delivers queued events.
func (m *Mailbox) do(fn func() error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	before := m.store.Version()
	err := fn()
	if v := m.store.Version(); v != before {
		m.outbox = append(m.outbox, Event{Type: EventMailboxChanged, Version: v})
	}
	m.mu.Unlock()

	m.dispatch()
	return err
}

// serialize is the path timer callbacks take back into the mailbox.
func (m *Mailbox) serialize(f func()) {
	_ = m.do(func() error {
		f()
		return nil
	})
}

func (m *Mailbox) dispatch() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	events := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	if len(events) == 0 {
		return
	}

	m.subsMu.RLock()
	subs := append([]subscriber(nil), m.subs...)
	m.subsMu.RUnlock()

	for _, e := range events {
		for _, s := range subs {
			s.fn(e)
		}
	}
}

func (m *Mailbox) emit(e Event) {
	m.outbox = append(m.outbox, e)
}

func (m *Mailbox) notify(format string, args ...any) {
	m.emit(Event{Type: EventNotification, Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

// fail turns an operation error into the user-facing notification and the
// returned error. Not-found errors are swallowed.
func (m *Mailbox) fail(op string, err error) error {
	if errors.Is(err, mailerr.ErrNotFound) {
		return nil
	}

	if !mailerr.IsValidation(err) {
		err = mailerr.Classify(op, err)
	}
	log.Printf("Mailbox: %s failed for %s: %v", op, m.identity.EmailAddress, err)

	if mailerr.IsAuthentication(err) {
		m.emit(Event{Type: EventAuthFailed, Level: LevelError, Message: "Your mail server rejected the stored credentials. Please sign in again."})
	}
	m.emit(Event{Type: EventNotification, Level: LevelError, Message: failureMessage(op, err)})
	return err
}

func failureMessage(op string, err error) string {
	var valErr *mailerr.ValidationError
	var gwErr *mailerr.GatewayError
	switch {
	case errors.As(err, &valErr):
		return valErr.Error()
	case mailerr.IsAuthentication(err):
		return fmt.Sprintf("Could not %s: authentication failed", op)
	case errors.As(err, &gwErr) && gwErr.Kind == mailerr.GatewayTimeout:
		return fmt.Sprintf("Could not %s: the mail server timed out. Please try again.", op)
	case errors.As(err, &gwErr) && gwErr.Kind == mailerr.GatewayConnection:
		return fmt.Sprintf("Could not %s: lost connection to the mail server. Please try again.", op)
	default:
		return fmt.Sprintf("Could not %s. Please try again.", op)
	}
}

func (m *Mailbox) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.gatewayTimeout)
}

// Identity returns who this mailbox sends as.
func (m *Mailbox) Identity() models.Identity {
	return m.identity
}

// Version is the store version; it changes whenever messages change.
func (m *Mailbox) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Version()
}

// Messages returns a snapshot of every stored message.
func (m *Mailbox) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Get()
}

// Conversations returns the displayed list for a folder or a search query.
func (m *Mailbox) Conversations(folder, query string) []models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Display(m.view.get(m.store), folder, query)
}

// Conversation returns one conversation by id.
func (m *Mailbox) Conversation(id string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.view.find(m.store, id)
	if !ok {
		return models.Conversation{}, mailerr.ErrNotFound
	}
	return cloneConversation(*c), nil
}

// Settings returns a copy of the current settings.
func (m *Mailbox) Settings() models.AppSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.Clone()
}

// UserFolders returns the user-created folders in creation order.
func (m *Mailbox) UserFolders() []models.UserFolder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UserFolder(nil), m.folders...)
}

// Folders lists system folders, user folders and any other folder a message
// was routed into, each with its number of unread conversations.
func (m *Mailbox) Folders() []models.Folder {
	m.mu.Lock()
	defer m.mu.Unlock()

	convs := m.view.get(m.store)
	unread := make(map[string]int)
	for i := range convs {
		if convs[i].IsRead {
			continue
		}
		unread[convs[i].Folder]++
		if convs[i].IsStarred && convs[i].Folder != models.FolderTrash {
			unread[models.FolderStarred]++
		}
	}

	var out []models.Folder
	listed := make(map[string]bool)
	for _, name := range models.SystemFolders {
		out = append(out, models.Folder{Name: name, UnreadCount: unread[name], IsSystem: true})
		listed[name] = true
	}
	for _, f := range m.folders {
		out = append(out, models.Folder{ID: f.ID, Name: f.Name, UnreadCount: unread[f.Name]})
		listed[f.Name] = true
	}

	var extra []string
	for i := range convs {
		for j := range convs[i].Emails {
			name := convs[i].Emails[j].Folder
			if !listed[name] {
				listed[name] = true
				extra = append(extra, name)
			}
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, models.Folder{Name: name, UnreadCount: unread[name]})
	}
	return out
}

// Selection returns the selected conversation ids in selection order.
func (m *Mailbox) Selection() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.selection...)
}

// Select adds existing conversations to the selection. Unknown ids are ignored.
func (m *Mailbox) Select(ids ...string) error {
	return m.do(func() error {
		for _, id := range ids {
			if _, ok := m.view.find(m.store, id); ok && !m.isSelected(id) {
				m.selection = append(m.selection, id)
			}
		}
		return nil
	})
}

// Deselect removes conversations from the selection.
func (m *Mailbox) Deselect(ids ...string) error {
	return m.do(func() error {
		m.deselectLocked(toSet(ids))
		return nil
	})
}

// ClearSelection empties the selection.
func (m *Mailbox) ClearSelection() error {
	return m.do(func() error {
		m.selection = nil
		return nil
	})
}

func (m *Mailbox) isSelected(id string) bool {
	for _, s := range m.selection {
		if s == id {
			return true
		}
	}
	return false
}

func (m *Mailbox) deselectLocked(ids map[string]bool) {
	kept := m.selection[:0:0]
	for _, s := range m.selection {
		if !ids[s] {
			kept = append(kept, s)
		}
	}
	m.selection = kept
}

// knownFolderLocked reports whether messages can be moved into name.
func (m *Mailbox) knownFolderLocked(name string) bool {
	switch name {
	case models.FolderInbox, models.FolderSent, models.FolderDrafts, models.FolderTrash, models.FolderSpam:
		return true
	}
	for _, f := range m.folders {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (m *Mailbox) userFolderLocked(id string) (int, bool) {
	for i, f := range m.folders {
		if f.ID == id {
			return i, true
		}
	}
	return -1, false
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func idsOf(msgs []models.Message) map[string]bool {
	set := make(map[string]bool, len(msgs))
	for i := range msgs {
		set[msgs[i].ID] = true
	}
	return set
}

func inIDs(ids map[string]bool) func(*models.Message) bool {
	return func(m *models.Message) bool { return ids[m.ID] }
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

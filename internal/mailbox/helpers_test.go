package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/vdavid/webmail/internal/clock"
	"github.com/vdavid/webmail/internal/models"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

var testIdentity = models.Identity{
	UserID:       "user-1",
	EmailAddress: "me@example.com",
	DisplayName:  "Me",
}

// mockGateway is a testify mock of the mail server gateway.
type mockGateway struct {
	mock.Mock
}

func (g *mockGateway) FetchFolder(ctx context.Context, folder string) ([]models.Message, error) {
	args := g.Called(ctx, folder)
	msgs, _ := args.Get(0).([]models.Message)
	return msgs, args.Error(1)
}

func (g *mockGateway) AppendToSent(ctx context.Context, msg models.Message) error {
	args := g.Called(ctx, msg)
	return args.Error(0)
}

func (g *mockGateway) SetFlags(ctx context.Context, folder string, uids []uint32, flag Flag, on bool) error {
	args := g.Called(ctx, folder, uids, flag, on)
	return args.Error(0)
}

func (g *mockGateway) Move(ctx context.Context, folder string, uids []uint32, target string) error {
	args := g.Called(ctx, folder, uids, target)
	return args.Error(0)
}

func (g *mockGateway) DeletePermanently(ctx context.Context, folder string, uids []uint32) error {
	args := g.Called(ctx, folder, uids)
	return args.Error(0)
}

type mockSummarizer struct {
	mock.Mock
}

func (s *mockSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	args := s.Called(ctx, transcript)
	return args.String(0), args.Error(1)
}

// recordingTransport remembers every submitted message and fails with err when set.
type recordingTransport struct {
	mu   sync.Mutex
	sent []models.Message
	err  error
}

func (r *recordingTransport) Send(ctx context.Context, from models.Identity, msg models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) Sent() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.sent...)
}

// eventLog collects mailbox events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) errors() []Event {
	var out []Event
	for _, e := range l.ofType(EventNotification) {
		if e.Level == LevelError {
			out = append(out, e)
		}
	}
	return out
}

// newTestMailbox builds a mailbox on a fake clock starting at t0.
func newTestMailbox(t *testing.T, cfg Config, msgs ...models.Message) (*Mailbox, *clock.Fake, *eventLog) {
	t.Helper()

	fake := clock.NewFake(t0)
	cfg.Clock = fake
	if cfg.Identity.EmailAddress == "" {
		cfg.Identity = testIdentity
	}

	mb := New(cfg)
	t.Cleanup(mb.Close)

	events := &eventLog{}
	mb.Subscribe(events.record)

	if len(msgs) > 0 {
		if err := mb.Restore(msgs); err != nil {
			t.Fatalf("Failed to restore messages: %v", err)
		}
	}
	return mb, fake, events
}

// inboxMessage builds a read-less inbox message received at t0+offset.
func inboxMessage(id, conversationID string, offset time.Duration) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderName:     "Alice " + id,
		SenderEmail:    "alice@example.com",
		RecipientEmail: testIdentity.EmailAddress,
		Subject:        "Subject " + id,
		Body:           "<p>Body of " + id + "</p>",
		Snippet:        "Body of " + id,
		Timestamp:      t0.Add(offset),
		Folder:         models.FolderInbox,
		Attachments:    []models.Attachment{},
	}
}

func findMessage(msgs []models.Message, id string) (models.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

func countInFolder(msgs []models.Message, folder string) int {
	n := 0
	for _, m := range msgs {
		if m.Folder == folder {
			n++
		}
	}
	return n
}

func conversationIDs(convs []models.Conversation) []string {
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	return ids
}

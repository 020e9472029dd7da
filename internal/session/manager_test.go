package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/imap"
	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/testutil"
)

const testEmail = "me@example.com"

type mockGateway struct {
	mock.Mock
}

func (g *mockGateway) FetchFolder(ctx context.Context, folder string) ([]models.Message, error) {
	args := g.Called(ctx, folder)
	msgs, _ := args.Get(0).([]models.Message)
	return msgs, args.Error(1)
}

func (g *mockGateway) AppendToSent(ctx context.Context, msg models.Message) error {
	return g.Called(ctx, msg).Error(0)
}

func (g *mockGateway) SetFlags(ctx context.Context, folder string, uids []uint32, flag mailbox.Flag, on bool) error {
	return g.Called(ctx, folder, uids, flag, on).Error(0)
}

func (g *mockGateway) Move(ctx context.Context, folder string, uids []uint32, target string) error {
	return g.Called(ctx, folder, uids, target).Error(0)
}

func (g *mockGateway) DeletePermanently(ctx context.Context, folder string, uids []uint32) error {
	return g.Called(ctx, folder, uids).Error(0)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []mailbox.Event
}

func (n *recordingNotifier) SendJSON(userID string, v any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := v.(mailbox.Event); ok {
		n.events = append(n.events, e)
	}
}

func (n *recordingNotifier) has(t mailbox.EventType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func newRepo(t *testing.T) *db.SQLiteRepository {
	t.Helper()
	repo, err := db.NewSQLiteRepository(filepath.Join(t.TempDir(), "webmail.db"))
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

// configureUser stores account settings so that sessions can start.
func configureUser(t *testing.T, repo db.Repository, settings models.UserSettings) string {
	t.Helper()
	ctx := context.Background()
	userID, err := repo.GetOrCreateUser(ctx, testEmail)
	require.NoError(t, err)
	settings.UserID = userID
	if settings.DisplayName == "" {
		settings.DisplayName = "Me"
	}
	require.NoError(t, repo.SaveUserSettings(ctx, &settings))
	return userID
}

func inboxMessage(id, conversationID string, uid uint32) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderName:     "Alice",
		SenderEmail:    "alice@example.com",
		RecipientEmail: testEmail,
		Subject:        "Subject " + id,
		Body:           "Body " + id,
		Snippet:        "Body " + id,
		Timestamp:      time.Date(2025, 6, 1, 9, 0, int(uid), 0, time.UTC),
		Folder:         models.FolderInbox,
		Attachments:    []models.Attachment{},
		IMAPUID:        uid,
		IMAPFolderName: "INBOX",
	}
}

func stubBackends(gw mailbox.Gateway, folders ...string) BackendFactory {
	return func(*models.UserSettings, models.Identity) (*Backends, error) {
		return &Backends{Gateway: gw, SyncFolders: folders}, nil
	}
}

func TestManager_NotConfigured(t *testing.T) {
	mgr := NewManager(Config{Repo: newRepo(t), Backends: stubBackends(nil)})
	defer mgr.Close()

	_, err := mgr.Get(context.Background(), "new@example.com")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestManager_BootstrapFromGateway(t *testing.T) {
	repo := newRepo(t)
	userID := configureUser(t, repo, models.UserSettings{DisplayName: "Me Myself"})

	gw := new(mockGateway)
	shared := inboxMessage("m2", "c1", 2)
	gw.On("FetchFolder", mock.Anything, models.FolderInbox).Return([]models.Message{inboxMessage("m1", "c1", 1), shared}, nil)
	sentCopy := shared
	sentCopy.Folder = models.FolderSent
	gw.On("FetchFolder", mock.Anything, models.FolderSent).Return([]models.Message{sentCopy, inboxMessage("m3", "c3", 3)}, nil)
	gw.On("FetchFolder", mock.Anything, models.FolderSpam).Return(nil, errors.New("spam folder is broken"))

	notifier := &recordingNotifier{}
	mgr := NewManager(Config{
		Repo:     repo,
		Backends: stubBackends(gw, models.FolderInbox, models.FolderSent, models.FolderSpam),
		Notifier: notifier,
	})
	defer mgr.Close()

	s, err := mgr.Get(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: userID, EmailAddress: testEmail, DisplayName: "Me Myself"}, s.Identity())

	msgs := s.Mailbox.Messages()
	require.Len(t, msgs, 3, "a message seen in two folders is kept once")
	for _, m := range msgs {
		if m.ID == "m2" {
			assert.Equal(t, models.FolderInbox, m.Folder, "the first folder fetched wins")
		}
	}

	again, err := mgr.Get(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Same(t, s, again)

	assert.Eventually(t, func() bool {
		saved, err := repo.LoadMailbox(context.Background(), userID)
		return err == nil && len(saved) == 3
	}, 5*time.Second, 20*time.Millisecond, "the fetched mailbox is saved")
	assert.True(t, notifier.has(mailbox.EventMailboxChanged))
}

func TestManager_RestoresSnapshot(t *testing.T) {
	repo := newRepo(t)
	userID := configureUser(t, repo, models.UserSettings{})
	ctx := context.Background()

	require.NoError(t, repo.SaveMailbox(ctx, userID, []models.Message{inboxMessage("m1", "c1", 4)}))
	require.NoError(t, repo.SaveUserFolders(ctx, userID, []models.UserFolder{{ID: "f1", Name: "Receipts"}}))

	var listenFrom uint32
	listening := make(chan struct{})
	gw := new(mockGateway)
	mgr := NewManager(Config{
		Repo: repo,
		Backends: func(*models.UserSettings, models.Identity) (*Backends, error) {
			return &Backends{
				Gateway:     gw,
				SyncFolders: []string{models.FolderInbox},
				Listen: func(ctx context.Context, from uint32, deliver DeliverFunc) {
					listenFrom = from
					close(listening)
					<-ctx.Done()
				},
			}, nil
		},
	})
	defer mgr.Close()

	s, err := mgr.Get(ctx, testEmail)
	require.NoError(t, err)

	msgs := s.Mailbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, []models.UserFolder{{ID: "f1", Name: "Receipts"}}, s.Mailbox.UserFolders())

	<-listening
	assert.Equal(t, uint32(5), listenFrom)
	gw.AssertNotCalled(t, "FetchFolder", mock.Anything, mock.Anything)
}

func TestManager_SingleBootstrapPerUser(t *testing.T) {
	repo := newRepo(t)
	configureUser(t, repo, models.UserSettings{})

	var builds atomic.Int32
	mgr := NewManager(Config{
		Repo: repo,
		Backends: func(*models.UserSettings, models.Identity) (*Backends, error) {
			builds.Add(1)
			time.Sleep(50 * time.Millisecond)
			return &Backends{}, nil
		},
	})
	defer mgr.Close()

	const callers = 8
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := mgr.Get(context.Background(), testEmail)
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
}

func TestManager_AuthenticationFailure(t *testing.T) {
	t.Run("rejected login fails the bootstrap", func(t *testing.T) {
		repo := newRepo(t)
		configureUser(t, repo, models.UserSettings{})

		gw := new(mockGateway)
		gw.On("FetchFolder", mock.Anything, models.FolderInbox).Return(nil, &mailerr.AuthenticationError{Err: errors.New("bad password")})

		mgr := NewManager(Config{Repo: repo, Backends: stubBackends(gw, models.FolderInbox)})
		defer mgr.Close()

		_, err := mgr.Get(context.Background(), testEmail)
		assert.True(t, mailerr.IsAuthentication(err))
	})

	t.Run("rejected credentials later drop the session", func(t *testing.T) {
		repo := newRepo(t)
		userID := configureUser(t, repo, models.UserSettings{})

		gw := new(mockGateway)
		gw.On("FetchFolder", mock.Anything, models.FolderInbox).Return([]models.Message{inboxMessage("m1", "c1", 1)}, nil)
		gw.On("SetFlags", mock.Anything, "INBOX", []uint32{1}, mailbox.FlagSeen, true).
			Return(&mailerr.AuthenticationError{Err: errors.New("password changed")})

		notifier := &recordingNotifier{}
		mgr := NewManager(Config{Repo: repo, Backends: stubBackends(gw, models.FolderInbox), Notifier: notifier})
		defer mgr.Close()

		s, err := mgr.Get(context.Background(), testEmail)
		require.NoError(t, err)

		err = s.Mailbox.MarkRead(context.Background(), "c1")
		assert.True(t, mailerr.IsAuthentication(err))

		assert.Eventually(t, func() bool {
			_, ok := mgr.Lookup(userID)
			return !ok
		}, 5*time.Second, 20*time.Millisecond)
		assert.True(t, notifier.has(mailbox.EventAuthFailed))

		_, err = s.Mailbox.SaveDraft(context.Background(), models.ComposePayload{To: "x@example.com"}, "")
		assert.ErrorIs(t, err, mailbox.ErrClosed)
	})
}

func TestManager_PersistsSettingsAndFolders(t *testing.T) {
	repo := newRepo(t)
	userID := configureUser(t, repo, models.UserSettings{})
	ctx := context.Background()

	mgr := NewManager(Config{Repo: repo, Backends: stubBackends(nil)})
	defer mgr.Close()

	s, err := mgr.Get(ctx, testEmail)
	require.NoError(t, err)

	settings := s.Mailbox.Settings()
	settings.Signature = models.Signature{IsEnabled: true, Body: "-- Me"}
	_, err = s.Mailbox.UpdateSettings(settings)
	require.NoError(t, err)

	_, err = s.Mailbox.CreateFolder("Projects")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		saved, err := repo.GetAppSettings(ctx, userID)
		return err == nil && saved.Signature.Body == "-- Me"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		folders, err := repo.GetUserFolders(ctx, userID)
		return err == nil && len(folders) == 1 && folders[0].Name == "Projects"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestManager_DropCommitsPendingSend(t *testing.T) {
	repo := newRepo(t)
	userID := configureUser(t, repo, models.UserSettings{})
	ctx := context.Background()

	mgr := NewManager(Config{Repo: repo, Backends: stubBackends(nil), UndoWindow: time.Hour})
	defer mgr.Close()

	s, err := mgr.Get(ctx, testEmail)
	require.NoError(t, err)
	draftID, err := s.Mailbox.SaveDraft(ctx, models.ComposePayload{To: "bob@example.com", Subject: "Quarterly"}, "")
	require.NoError(t, err)
	sent, err := s.Mailbox.SendEmail(ctx, models.ComposePayload{To: "bob@example.com", Subject: "Quarterly"}, mailbox.SendOptions{DraftID: draftID})
	require.NoError(t, err)

	mgr.Drop(userID)

	msgs, err := repo.LoadMailbox(ctx, userID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, models.FolderSent, msgs[0].Folder)
}

func TestManager_MailBackends(t *testing.T) {
	t.Setenv("VMAIL_TEST_MODE", "true")
	imapServer := testutil.NewTestIMAPServer(t)
	smtpServer := testutil.NewTestSMTPServer(t)
	enc := testutil.GetTestEncryptor(t)

	imapServer.ClearFolder(t, "INBOX")
	imapServer.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<welcome@example.com>",
		Subject:   "Welcome",
		From:      "Alice <alice@example.com>",
		To:        testEmail,
		Body:      "Hello there",
	})

	imapPassword, err := enc.Encrypt(imapServer.Password())
	require.NoError(t, err)
	smtpPassword, err := enc.Encrypt(smtpServer.Password())
	require.NoError(t, err)

	repo := newRepo(t)
	configureUser(t, repo, models.UserSettings{
		IMAPServerHostname:    imapServer.Address,
		IMAPUsername:          imapServer.Username(),
		EncryptedIMAPPassword: imapPassword,
		SMTPServerHostname:    smtpServer.Address,
		SMTPUsername:          smtpServer.Username(),
		EncryptedSMTPPassword: smtpPassword,
	})

	pool := imap.NewPool()
	defer pool.Close()

	mgr := NewManager(Config{Repo: repo, Backends: MailBackends(pool, enc), UndoWindow: -1})
	defer mgr.Close()

	s, err := mgr.Get(context.Background(), testEmail)
	require.NoError(t, err)

	inbox := s.Mailbox.Conversations(models.FolderInbox, "")
	require.Len(t, inbox, 1)
	assert.Equal(t, "Welcome", inbox[0].Subject)

	_, err = s.Mailbox.SendEmail(context.Background(), models.ComposePayload{
		To:      "bob@example.com",
		Subject: "Hi Bob",
		Body:    "<p>Hi</p>",
	}, mailbox.SendOptions{})
	require.NoError(t, err)

	sent := smtpServer.GetMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"bob@example.com"}, sent[0].To)
	assert.True(t, strings.Contains(string(sent[0].Data), "Hi Bob"))
	assert.Len(t, imapServer.FolderUIDs(t, "Sent"), 1)
}

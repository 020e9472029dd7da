package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/auth"
	"github.com/vdavid/webmail/internal/clock"
	"github.com/vdavid/webmail/internal/crypto"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/session"
	"github.com/vdavid/webmail/internal/testutil"
)

const testEmail = "user@example.com"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testEnv is a repository plus a session manager whose sessions have no
// mail server unless a gateway is given.
type testEnv struct {
	repo      *db.SQLiteRepository
	encryptor *crypto.Encryptor
	sessions  *session.Manager
	clock     *clock.Fake
}

type envOption func(*session.Config)

func withGateway(gw mailbox.Gateway) envOption {
	return func(cfg *session.Config) {
		cfg.Backends = func(*models.UserSettings, models.Identity) (*session.Backends, error) {
			return &session.Backends{Gateway: gw}, nil
		}
	}
}

func withSummarizer(s mailbox.Summarizer) envOption {
	return func(cfg *session.Config) { cfg.Summarizer = s }
}

func withNotifier(n session.Notifier) envOption {
	return func(cfg *session.Config) { cfg.Notifier = n }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	repo, err := db.NewSQLiteRepository(filepath.Join(t.TempDir(), "webmail.db"))
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	fake := clock.NewFake(testNow)
	cfg := session.Config{
		Repo: repo,
		Backends: func(*models.UserSettings, models.Identity) (*session.Backends, error) {
			return &session.Backends{}, nil
		},
		Clock: fake,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sessions := session.NewManager(cfg)
	t.Cleanup(sessions.Close)

	return &testEnv{
		repo:      repo,
		encryptor: testutil.GetTestEncryptor(t),
		sessions:  sessions,
		clock:     fake,
	}
}

// configure stores account settings for testEmail and returns the user id.
func (e *testEnv) configure(t *testing.T) string {
	t.Helper()
	return setupTestUserAndSettings(t, e.repo, e.encryptor, testEmail)
}

// seed stores a mailbox snapshot. It must run before the first request that starts the session.
func (e *testEnv) seed(t *testing.T, userID string, msgs ...models.Message) {
	t.Helper()
	require.NoError(t, e.repo.SaveMailbox(context.Background(), userID, msgs))
}

// mailbox returns the live mailbox of testEmail.
func (e *testEnv) mailbox(t *testing.T) *mailbox.Mailbox {
	t.Helper()
	s, err := e.sessions.Get(context.Background(), testEmail)
	require.NoError(t, err)
	return s.Mailbox
}

// setupTestUserAndSettings creates a test user and saves their settings.
// Returns the userID for use in tests.
func setupTestUserAndSettings(t *testing.T, repo db.Repository, encryptor *crypto.Encryptor, email string) string {
	t.Helper()
	ctx := context.Background()
	userID, err := repo.GetOrCreateUser(ctx, email)
	require.NoError(t, err)

	encryptedIMAPPassword, err := encryptor.Encrypt("imap_pass")
	require.NoError(t, err)
	encryptedSMTPPassword, err := encryptor.Encrypt("smtp_pass")
	require.NoError(t, err)

	settings := &models.UserSettings{
		UserID:                   userID,
		DisplayName:              "Test User",
		UndoSendDelaySeconds:     20,
		PaginationThreadsPerPage: 2,
		IMAPServerHostname:       "imap.test.com",
		IMAPUsername:             "user",
		EncryptedIMAPPassword:    encryptedIMAPPassword,
		SMTPServerHostname:       "smtp.test.com",
		SMTPUsername:             "user",
		EncryptedSMTPPassword:    encryptedSMTPPassword,
	}
	require.NoError(t, repo.SaveUserSettings(ctx, settings))
	return userID
}

func testMessage(id, conversationID, folder string, minute int) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderName:     "Alice",
		SenderEmail:    "alice@example.com",
		RecipientEmail: testEmail,
		Subject:        "Subject " + conversationID,
		Body:           "Body of " + id,
		Snippet:        "Body of " + id,
		Timestamp:      testNow.Add(time.Duration(minute) * time.Minute),
		Folder:         folder,
		Attachments:    []models.Attachment{},
	}
}

// createRequestWithUser creates an HTTP request with user email in context.
// A non-nil body is sent as JSON.
func createRequestWithUser(t *testing.T, method, url, email string, body any) *http.Request {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, url, reader)
	ctx := auth.WithUserEmail(req.Context(), email)
	return req.WithContext(ctx)
}

// createRawRequestWithUser is createRequestWithUser with a literal body.
func createRawRequestWithUser(method, url, email, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	ctx := auth.WithUserEmail(req.Context(), email)
	return req.WithContext(ctx)
}

func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

// FailingResponseWriter is a ResponseWriter that fails on Write to test error handling.
type FailingResponseWriter struct {
	http.ResponseWriter
	WriteShouldFail bool
}

func (f *FailingResponseWriter) Write(p []byte) (int, error) {
	if f.WriteShouldFail {
		return 0, fmt.Errorf("write failed")
	}
	return f.ResponseWriter.Write(p)
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
}

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

type summarizerFunc func(ctx context.Context, transcript string) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

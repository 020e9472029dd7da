// Package server wires the repository, mail backends and sessions into the HTTP API.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vdavid/webmail/internal/api"
	"github.com/vdavid/webmail/internal/auth"
	"github.com/vdavid/webmail/internal/config"
	"github.com/vdavid/webmail/internal/crypto"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/imap"
	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/session"
	"github.com/vdavid/webmail/internal/summary"
	ws "github.com/vdavid/webmail/internal/websocket"
)

// maxConnectionsPerUser bounds open browser tabs per user.
const maxConnectionsPerUser = 10

// App holds everything a running server owns.
type App struct {
	cfg       *config.Config
	repo      db.Repository
	encryptor *crypto.Encryptor
	imapPool  *imap.Pool
	hub       *ws.Hub
	sessions  *session.Manager
}

// Options override collaborators, mostly for tests.
type Options struct {
	// Backends replaces the IMAP/SMTP backends.
	Backends session.BackendFactory
	// Summarizer replaces the one selected by cfg.Summarizer.
	Summarizer mailbox.Summarizer
}

// New builds an App on top of repo. The App takes ownership of repo.
func New(ctx context.Context, cfg *config.Config, repo db.Repository, opts Options) (*App, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	summarizer := opts.Summarizer
	if summarizer == nil {
		summarizer, err = newSummarizer(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	imapPool := imap.NewPoolWithMaxWorkers(cfg.IMAPMaxWorkers)
	backends := opts.Backends
	if backends == nil {
		backends = session.MailBackends(imapPool, encryptor)
	}

	hub := ws.NewHub(maxConnectionsPerUser)
	sessions := session.NewManager(session.Config{
		Repo:          repo,
		Backends:      backends,
		Summarizer:    summarizer,
		Notifier:      hub,
		UndoWindow:    cfg.UndoSendWindow,
		AutosaveDelay: cfg.AutosaveDelay,
	})

	return &App{
		cfg:       cfg,
		repo:      repo,
		encryptor: encryptor,
		imapPool:  imapPool,
		hub:       hub,
		sessions:  sessions,
	}, nil
}

// newSummarizer returns nil when summaries are turned off.
func newSummarizer(ctx context.Context, cfg *config.Config) (mailbox.Summarizer, error) {
	if cfg.Summarizer != config.SummarizerBedrock {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Printf("Server: Summaries enabled with Bedrock model %s", cfg.BedrockModelID)
	return summary.NewBedrockSummarizer(bedrockruntime.NewFromConfig(awsCfg), summary.Config{ModelID: cfg.BedrockModelID}), nil
}

// Sessions exposes the session manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Close ends every session, flushing their state, then releases connections.
// The repository is closed last.
func (a *App) Close() {
	a.hub.CloseAll()
	a.sessions.Close()
	a.imapPool.Close()
	a.repo.Close()
}

// Handler returns the HTTP handler for the API.
func (a *App) Handler() http.Handler {
	authHandler := api.NewAuthHandler(a.repo)
	settingsHandler := api.NewSettingsHandler(a.repo, a.encryptor, a.sessions)
	preferencesHandler := api.NewPreferencesHandler(a.sessions)
	foldersHandler := api.NewFoldersHandler(a.sessions)
	conversationsHandler := api.NewConversationsHandler(a.repo, a.sessions)
	selectionHandler := api.NewSelectionHandler(a.sessions)
	composeHandler := api.NewComposeHandler(a.sessions)
	wsHandler := api.NewWebSocketHandler(a.repo, a.sessions, a.hub)

	mux := http.NewServeMux()
	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth.RequireAuth(h))
	}

	mux.HandleFunc("GET /{$}", handleRoot)

	protected("GET /api/v1/auth/status", authHandler.GetAuthStatus)
	protected("GET /api/v1/settings", settingsHandler.GetSettings)
	protected("POST /api/v1/settings", settingsHandler.PostSettings)
	protected("GET /api/v1/preferences", preferencesHandler.GetPreferences)
	protected("PUT /api/v1/preferences", preferencesHandler.PutPreferences)

	protected("GET /api/v1/folders", foldersHandler.GetFolders)
	protected("POST /api/v1/folders", foldersHandler.CreateFolder)
	protected("PATCH /api/v1/folders/{id}", foldersHandler.RenameFolder)
	protected("DELETE /api/v1/folders/{id}", foldersHandler.DeleteFolder)

	protected("GET /api/v1/conversations", conversationsHandler.GetConversations)
	protected("POST /api/v1/conversations/move", conversationsHandler.MoveConversations)
	protected("GET /api/v1/conversations/{id}", conversationsHandler.GetConversation)
	protected("DELETE /api/v1/conversations/{id}", conversationsHandler.DeleteConversation)
	protected("GET /api/v1/conversations/{id}/summary", conversationsHandler.GetSummary)
	protected("POST /api/v1/conversations/{id}/star", conversationsHandler.ToggleStar)
	protected("POST /api/v1/conversations/{id}/read", conversationsHandler.MarkRead)
	protected("POST /api/v1/conversations/{id}/unread", conversationsHandler.MarkUnread)

	protected("GET /api/v1/selection", selectionHandler.GetSelection)
	protected("POST /api/v1/selection", selectionHandler.UpdateSelection)
	protected("DELETE /api/v1/selection", selectionHandler.ClearSelection)
	protected("POST /api/v1/selection/{action}", selectionHandler.ApplyBulkAction)

	protected("POST /api/v1/drafts", composeHandler.SaveDraft)
	protected("POST /api/v1/compose/{id}/autosave", composeHandler.Autosave)
	protected("DELETE /api/v1/compose/{id}", composeHandler.CloseCompose)
	protected("POST /api/v1/send", composeHandler.Send)
	protected("GET /api/v1/send/pending", composeHandler.GetPendingSend)
	protected("POST /api/v1/send/undo", composeHandler.UndoSend)
	protected("POST /api/v1/schedule", composeHandler.Schedule)
	protected("POST /api/v1/emails/{id}/edit-scheduled", composeHandler.EditScheduled)
	protected("DELETE /api/v1/emails/{id}", composeHandler.DeleteEmail)

	// WebSocket handler handles its own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.HandleFunc("GET /api/v1/ws", wsHandler.Handle)

	if a.cfg.Environment == "test" {
		testHandler := api.NewTestHandler(a.repo, a.encryptor, a.sessions)
		protected("POST /test/incoming", testHandler.SimulateIncoming)
		protected("POST /test/add-imap-message", testHandler.AddIMAPMessage)
	}

	return otelhttp.NewHandler(mux, "webmail-api")
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Webmail API is running")
}

package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vdavid/webmail/internal/auth"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/session"
	ws "github.com/vdavid/webmail/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for real-time updates.
// Mailbox events reach the client through the hub, which the session
// manager uses as its notifier.
type WebSocketHandler struct {
	repo     db.Repository
	sessions *session.Manager
	hub      *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(repo db.Repository, sessions *session.Manager, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		repo:     repo,
		sessions: sessions,
		hub:      hub,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// This server is expected to be used behind a reverse proxy in a
		// trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub.
// Authentication is handled via query parameter (?token=...) since WebSocket connections
// cannot set custom headers in browsers. The token is validated using the same ValidateToken
// function used by the RequireAuth middleware.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := bearerToken(r)
	if token == "" {
		log.Printf("WebSocketHandler: No token provided (neither query parameter nor Authorization header)")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := auth.ValidateToken(token)
	if err != nil {
		log.Printf("WebSocketHandler: Token validation failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.repo.GetOrCreateUser(ctx, userEmail)
	if err != nil {
		log.Printf("WebSocketHandler: Failed to get/create user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection for user %s: %v", userID, err)
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for user %s (max connections exceeded)", userID)
		return
	}

	log.Printf("WebSocketHandler: WebSocket connection established for user %s", userID)

	// Start the session now so that the IDLE listener runs while the client is connected.
	go h.warmSession(userEmail, userID)

	go h.hub.Serve(userID, client)
}

func (h *WebSocketHandler) warmSession(email, userID string) {
	if _, err := h.sessions.Get(context.Background(), email); err != nil {
		if errors.Is(err, session.ErrNotConfigured) {
			return
		}
		log.Printf("WebSocketHandler: Failed to start session for user %s: %v", userID, err)
	}
}

// bearerToken reads the token from ?token=, falling back to the Authorization
// header for tools that can set headers.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	token, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return token
}

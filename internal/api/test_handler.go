package api

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	imapclient "github.com/emersion/go-imap/client"
	"github.com/google/uuid"

	"github.com/vdavid/webmail/internal/crypto"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/imap"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/rfc822"
	"github.com/vdavid/webmail/internal/session"
)

// TestHandler provides test-only endpoints used by E2E tests.
// These endpoints are only registered in test environments.
type TestHandler struct {
	repo      db.Repository
	encryptor *crypto.Encryptor
	sessions  *session.Manager
}

// NewTestHandler creates a new TestHandler instance.
func NewTestHandler(repo db.Repository, encryptor *crypto.Encryptor, sessions *session.Manager) *TestHandler {
	return &TestHandler{
		repo:      repo,
		encryptor: encryptor,
		sessions:  sessions,
	}
}

type incomingRequest struct {
	// Folder is the server mailbox for AddIMAPMessage; ignored by SimulateIncoming.
	Folder   string `json:"folder"`
	Subject  string `json:"subject"`
	FromName string `json:"from_name"`
	From     string `json:"from"`
	To       string `json:"to"`
	Body     string `json:"body"`
}

func (req *incomingRequest) validate() error {
	if req.Subject == "" || req.From == "" {
		return fmt.Errorf("subject and from are required")
	}
	if req.Body == "" {
		req.Body = "E2E test message."
	}
	return nil
}

// SimulateIncoming hands a message straight to the user's mailbox as if it
// had just arrived. Rules and the auto-responder apply.
func (h *TestHandler) SimulateIncoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	var req incomingRequest
	if !decodeJSONBody(w, r, "TestHandler", &req) {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	to := req.To
	if to == "" {
		to = s.Identity().EmailAddress
	}
	stored, err := s.Mailbox.ReceiveIncoming(ctx, models.Message{
		SenderName:     req.FromName,
		SenderEmail:    req.From,
		RecipientEmail: to,
		Subject:        req.Subject,
		Body:           req.Body,
		Attachments:    []models.Attachment{},
	})
	if err != nil {
		WriteError(w, "TestHandler", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, stored)
}

// AddIMAPMessage appends a test message to the user's IMAP folder.
// New Inbox mail reaches the mailbox through the IDLE listener.
func (h *TestHandler) AddIMAPMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.repo)
	if !ok {
		return
	}

	var req incomingRequest
	if !decodeJSONBody(w, r, "TestHandler", &req) {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.To == "" {
		http.Error(w, "to is required", http.StatusBadRequest)
		return
	}
	if req.Folder == "" {
		req.Folder = "INBOX"
	}

	client, err := h.connectToIMAP(ctx, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = client.Logout()
	}()

	if err := appendMessage(client, &req); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// connectToIMAP logs in to the user's IMAP account.
func (h *TestHandler) connectToIMAP(ctx context.Context, userID string) (*imapclient.Client, error) {
	settings, err := h.repo.GetUserSettings(ctx, userID)
	if err != nil {
		log.Printf("TestHandler: failed to get user settings: %v", err)
		return nil, fmt.Errorf("failed to get user settings")
	}

	imapPassword, _, err := h.encryptor.DecryptMailPasswords(settings)
	if err != nil {
		log.Printf("TestHandler: failed to decrypt IMAP password: %v", err)
		return nil, fmt.Errorf("failed to decrypt IMAP password")
	}

	useTLS := os.Getenv("VMAIL_TEST_MODE") != "true"

	client, err := imap.ConnectToIMAP(settings.IMAPServerHostname, useTLS)
	if err != nil {
		log.Printf("TestHandler: failed to connect to IMAP server: %v", err)
		return nil, fmt.Errorf("failed to connect to IMAP server")
	}

	if err := imap.Login(client, settings.IMAPUsername, imapPassword); err != nil {
		log.Printf("TestHandler: failed to login to IMAP server: %v", err)
		_ = client.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server")
	}

	return client, nil
}

// appendMessage renders the request as MIME and appends it unread.
func appendMessage(client *imapclient.Client, req *incomingRequest) error {
	now := time.Now()
	raw, err := rfc822.Build(
		models.Identity{DisplayName: req.FromName, EmailAddress: req.From},
		models.Message{
			ID:             "e2e-" + uuid.NewString(),
			RecipientEmail: req.To,
			Subject:        req.Subject,
			Body:           req.Body,
			Timestamp:      now,
		},
	)
	if err != nil {
		log.Printf("TestHandler: failed to build message: %v", err)
		return fmt.Errorf("failed to build message")
	}

	if err := client.Append(req.Folder, []string{}, now, bytes.NewReader(raw)); err != nil {
		log.Printf("TestHandler: failed to append message: %v", err)
		if strings.Contains(err.Error(), "No such mailbox") {
			return fmt.Errorf("IMAP folder %s does not exist", req.Folder)
		}
		return fmt.Errorf("failed to append message to IMAP folder")
	}

	return nil
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/session"
)

// ConversationsHandler serves conversation lists and per-conversation mutations.
type ConversationsHandler struct {
	repo     db.Repository
	sessions *session.Manager
}

// NewConversationsHandler creates a new ConversationsHandler instance.
func NewConversationsHandler(repo db.Repository, sessions *session.Manager) *ConversationsHandler {
	return &ConversationsHandler{repo: repo, sessions: sessions}
}

type starRequest struct {
	EmailID string `json:"email_id"`
}

type moveRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
	Folder          string   `json:"folder"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// GetConversations returns one page of a folder, or of search results when q is set.
// The folder defaults to Inbox.
func (h *ConversationsHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	folder := r.URL.Query().Get("folder")
	if folder == "" {
		folder = models.FolderInbox
	}
	query := r.URL.Query().Get("q")

	page, limit := GetPaginationLimit(ctx, r, h.repo, s.Identity().UserID)
	all := s.Mailbox.Conversations(folder, query)

	WriteJSONResponse(w, models.ConversationsResponse{
		Conversations: paginate(all, page, limit),
		Pagination: models.PaginationInfo{
			TotalCount: len(all),
			Page:       page,
			PerPage:    limit,
		},
	})
}

func (h *ConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}

	conv, err := s.Mailbox.Conversation(r.PathValue("id"))
	if err != nil {
		WriteError(w, "ConversationsHandler", err)
		return
	}
	WriteJSONResponse(w, conv)
}

// GetSummary summarizes a conversation with the configured summarizer.
func (h *ConversationsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	summary, err := s.Mailbox.Summarize(ctx, r.PathValue("id"))
	if errors.Is(err, mailbox.ErrNoSummarizer) {
		http.Error(w, "Summaries are not enabled on this server", http.StatusNotImplemented)
		return
	}
	if err != nil {
		WriteError(w, "ConversationsHandler", err)
		return
	}
	WriteJSONResponse(w, summaryResponse{Summary: summary})
}

// ToggleStar flips the star of a conversation, or of one of its emails
// when the body names one.
func (h *ConversationsHandler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	var req starRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	respond(w, "ConversationsHandler", s.Mailbox.ToggleStar(ctx, r.PathValue("id"), req.EmailID))
}

func (h *ConversationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}
	respond(w, "ConversationsHandler", s.Mailbox.MarkRead(ctx, r.PathValue("id")))
}

func (h *ConversationsHandler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}
	respond(w, "ConversationsHandler", s.Mailbox.MarkUnread(ctx, r.PathValue("id")))
}

// DeleteConversation moves a conversation to Trash, or removes it for good
// when it is already there.
func (h *ConversationsHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}
	respond(w, "ConversationsHandler", s.Mailbox.DeleteConversation(ctx, r.PathValue("id")))
}

func (h *ConversationsHandler) MoveConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	var req moveRequest
	if !decodeJSONBody(w, r, "ConversationsHandler", &req) {
		return
	}
	respond(w, "ConversationsHandler", s.Mailbox.MoveConversations(ctx, req.ConversationIDs, req.Folder))
}

// respond answers 204, or the mapped error.
func respond(w http.ResponseWriter, component string, err error) {
	if err != nil {
		WriteError(w, component, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeOptionalJSON decodes the body into v when there is one.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

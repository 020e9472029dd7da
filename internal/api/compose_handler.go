package api

import (
	"net/http"
	"time"

	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/session"
)

// ComposeHandler handles drafts, sending with undo, and scheduled sends.
type ComposeHandler struct {
	sessions *session.Manager
}

// NewComposeHandler creates a new ComposeHandler instance.
func NewComposeHandler(sessions *session.Manager) *ComposeHandler {
	return &ComposeHandler{sessions: sessions}
}

type draftRequest struct {
	Payload models.ComposePayload `json:"payload"`
	DraftID string                `json:"draft_id"`
}

type draftResponse struct {
	DraftID string `json:"draft_id"`
}

type sendRequest struct {
	Payload        models.ComposePayload `json:"payload"`
	DraftID        string                `json:"draft_id"`
	ConversationID string                `json:"conversation_id"`
	ComposeID      string                `json:"compose_id"`
	// SendAt is only read by the schedule endpoint.
	SendAt time.Time `json:"send_at"`
}

func (req *sendRequest) options() mailbox.SendOptions {
	return mailbox.SendOptions{
		DraftID:        req.DraftID,
		ConversationID: req.ConversationID,
		ComposeID:      req.ComposeID,
	}
}

type autosaveRequest struct {
	Payload models.ComposePayload `json:"payload"`
}

// SaveDraft creates or overwrites a draft and returns its id.
func (h *ComposeHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	var req draftRequest
	if !decodeJSONBody(w, r, "ComposeHandler", &req) {
		return
	}

	id, err := s.Mailbox.SaveDraft(ctx, req.Payload, req.DraftID)
	if err != nil {
		WriteError(w, "ComposeHandler", err)
		return
	}
	WriteJSONResponse(w, draftResponse{DraftID: id})
}

// Autosave records the compose content. The draft is written once edits pause.
func (h *ComposeHandler) Autosave(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}

	var req autosaveRequest
	if !decodeJSONBody(w, r, "ComposeHandler", &req) {
		return
	}

	if err := s.Mailbox.AutosaveDraft(r.PathValue("id"), req.Payload); err != nil {
		WriteError(w, "ComposeHandler", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CloseCompose ends a compose session. ?save=true writes a pending autosave first.
func (h *ComposeHandler) CloseCompose(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}

	save := r.URL.Query().Get("save") == "true"
	draftID, err := s.Mailbox.CloseCompose(r.PathValue("id"), save)
	if err != nil {
		WriteError(w, "ComposeHandler", err)
		return
	}
	WriteJSONResponse(w, draftResponse{DraftID: draftID})
}

// Send starts the undo window for a new message and returns it.
func (h *ComposeHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	var req sendRequest
	if !decodeJSONBody(w, r, "ComposeHandler", &req) {
		return
	}

	msg, err := s.Mailbox.SendEmail(ctx, req.Payload, req.options())
	if err != nil {
		WriteError(w, "ComposeHandler", err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, msg)
}

// GetPendingSend returns the send inside its undo window, or 204 when there is none.
func (h *ComposeHandler) GetPendingSend(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}

	pending, found := s.Mailbox.PendingSend()
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSONResponse(w, pending)
}

// UndoSend cancels the pending send and returns what the compose surface
// reopens with. 204 means nothing was pending.
func (h *ComposeHandler) UndoSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	result, err := s.Mailbox.UndoSend(ctx)
	if err != nil {
		WriteError(w, "ComposeHandler", err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSONResponse(w, result)
}

// Schedule files a message in Scheduled to be sent at send_at.
func (h *ComposeHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	var req sendRequest
	if !decodeJSONBody(w, r, "ComposeHandler", &req) {
		return
	}

	msg, err := s.Mailbox.ScheduleEmail(ctx, req.Payload, req.SendAt, req.options())
	if err != nil {
		WriteError(w, "ComposeHandler", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, msg)
}

// EditScheduled cancels a scheduled send and returns the message, now a draft.
func (h *ComposeHandler) EditScheduled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	draft, err := s.Mailbox.EditScheduled(ctx, r.PathValue("id"))
	if err != nil {
		WriteError(w, "ComposeHandler", err)
		return
	}
	WriteJSONResponse(w, draft)
}

// DeleteEmail deletes the email's conversation, or with ?discard=true just that email.
func (h *ComposeHandler) DeleteEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	discard := r.URL.Query().Get("discard") == "true"
	respond(w, "ComposeHandler", s.Mailbox.DeleteEmail(ctx, r.PathValue("id"), discard))
}

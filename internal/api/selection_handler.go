package api

import (
	"context"
	"net/http"

	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/session"
)

// SelectionHandler manages the list selection and the bulk actions applied to it.
type SelectionHandler struct {
	sessions *session.Manager
}

func NewSelectionHandler(sessions *session.Manager) *SelectionHandler {
	return &SelectionHandler{sessions: sessions}
}

type selectionRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
	Selected        bool     `json:"selected"`
}

type selectionResponse struct {
	ConversationIDs []string `json:"conversation_ids"`
}

var bulkActions = map[string]func(*mailbox.Mailbox, context.Context) error{
	"spam":   (*mailbox.Mailbox).BulkMarkAsSpam,
	"delete": (*mailbox.Mailbox).BulkDelete,
	"read":   (*mailbox.Mailbox).BulkMarkAsRead,
	"unread": (*mailbox.Mailbox).BulkMarkAsUnread,
}

func (h *SelectionHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}
	WriteJSONResponse(w, selectionResponse{ConversationIDs: s.Mailbox.Selection()})
}

// UpdateSelection selects or deselects the given conversations and returns the new selection.
func (h *SelectionHandler) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}

	var req selectionRequest
	if !decodeJSONBody(w, r, "SelectionHandler", &req) {
		return
	}

	var err error
	if req.Selected {
		err = s.Mailbox.Select(req.ConversationIDs...)
	} else {
		err = s.Mailbox.Deselect(req.ConversationIDs...)
	}
	if err != nil {
		WriteError(w, "SelectionHandler", err)
		return
	}
	WriteJSONResponse(w, selectionResponse{ConversationIDs: s.Mailbox.Selection()})
}

func (h *SelectionHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}
	respond(w, "SelectionHandler", s.Mailbox.ClearSelection())
}

// ApplyBulkAction runs spam, delete, read or unread on every selected conversation.
func (h *SelectionHandler) ApplyBulkAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	action, known := bulkActions[r.PathValue("action")]
	if !known {
		http.Error(w, "Unknown bulk action", http.StatusNotFound)
		return
	}

	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}
	respond(w, "SelectionHandler", action(s.Mailbox, ctx))
}

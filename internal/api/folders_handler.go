package api

import (
	"net/http"

	"github.com/vdavid/webmail/internal/session"
)

// FoldersHandler lists folders and manages user-created ones.
type FoldersHandler struct {
	sessions *session.Manager
}

// NewFoldersHandler creates a new FoldersHandler instance.
func NewFoldersHandler(sessions *session.Manager) *FoldersHandler {
	return &FoldersHandler{sessions: sessions}
}

type folderRequest struct {
	Name string `json:"name"`
}

// GetFolders returns system folders first, then user folders, each with its unread count.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}
	WriteJSONResponse(w, s.Mailbox.Folders())
}

func (h *FoldersHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}

	var req folderRequest
	if !decodeJSONBody(w, r, "FoldersHandler", &req) {
		return
	}

	folder, err := s.Mailbox.CreateFolder(req.Name)
	if err != nil {
		WriteError(w, "FoldersHandler", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, folder)
}

func (h *FoldersHandler) RenameFolder(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}

	var req folderRequest
	if !decodeJSONBody(w, r, "FoldersHandler", &req) {
		return
	}

	folder, err := s.Mailbox.RenameFolder(r.PathValue("id"), req.Name)
	if err != nil {
		WriteError(w, "FoldersHandler", err)
		return
	}
	WriteJSONResponse(w, folder)
}

// DeleteFolder removes a user folder. Its conversations go to Trash.
func (h *FoldersHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := GetSessionFromContext(ctx, w, h.sessions)
	if !ok {
		return
	}

	if err := s.Mailbox.DeleteFolder(ctx, r.PathValue("id")); err != nil {
		WriteError(w, "FoldersHandler", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

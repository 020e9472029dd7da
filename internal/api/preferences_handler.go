package api

import (
	"net/http"

	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/session"
)

// PreferencesHandler serves the signature, auto-responder and routing rules.
type PreferencesHandler struct {
	sessions *session.Manager
}

func NewPreferencesHandler(sessions *session.Manager) *PreferencesHandler {
	return &PreferencesHandler{sessions: sessions}
}

func (h *PreferencesHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}
	WriteJSONResponse(w, s.Mailbox.Settings())
}

// PutPreferences replaces the preferences as a whole.
func (h *PreferencesHandler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	s, ok := GetSessionFromContext(r.Context(), w, h.sessions)
	if !ok {
		return
	}

	var req models.AppSettings
	if !decodeJSONBody(w, r, "PreferencesHandler", &req) {
		return
	}
	if req.Rules == nil {
		req.Rules = []models.Rule{}
	}

	saved, err := s.Mailbox.UpdateSettings(req)
	if err != nil {
		WriteError(w, "PreferencesHandler", err)
		return
	}
	WriteJSONResponse(w, saved)
}

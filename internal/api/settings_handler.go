package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/vdavid/webmail/internal/crypto"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/session"
)

// SettingsHandler serves the mail account settings of the current user.
type SettingsHandler struct {
	repo      db.Repository
	encryptor *crypto.Encryptor
	sessions  *session.Manager
}

func NewSettingsHandler(repo db.Repository, encryptor *crypto.Encryptor, sessions *session.Manager) *SettingsHandler {
	return &SettingsHandler{
		repo:      repo,
		encryptor: encryptor,
		sessions:  sessions,
	}
}

// GetSettings returns the account settings without passwords.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.repo)
	if !ok {
		return
	}

	settings, err := h.repo.GetUserSettings(ctx, userID)
	if errors.Is(err, db.ErrUserSettingsNotFound) {
		http.Error(w, "Settings not found for this user", http.StatusNotFound)
		return
	}
	if err != nil {
		WriteError(w, "SettingsHandler", err)
		return
	}

	WriteJSONResponse(w, settings.Response())
}

// PostSettings saves the account settings. The user's mailbox session is
// dropped, so the next request reconnects with the new account.
func (h *SettingsHandler) PostSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.repo)
	if !ok {
		return
	}

	var req models.UserSettingsRequest
	if !decodeJSONBody(w, r, "SettingsHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, "SettingsHandler", err)
		return
	}

	existing, err := h.repo.GetUserSettings(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrUserSettingsNotFound) {
		WriteError(w, "SettingsHandler", err)
		return
	}
	if existing == nil {
		existing = &models.UserSettings{}
	}

	imapSealed, err := h.sealPassword("imap_password", "IMAP", req.IMAPPassword, existing.EncryptedIMAPPassword)
	if err != nil {
		WriteError(w, "SettingsHandler", err)
		return
	}
	smtpSealed, err := h.sealPassword("smtp_password", "SMTP", req.SMTPPassword, existing.EncryptedSMTPPassword)
	if err != nil {
		WriteError(w, "SettingsHandler", err)
		return
	}

	if err := h.repo.SaveUserSettings(ctx, req.Settings(userID, imapSealed, smtpSealed)); err != nil {
		WriteError(w, "SettingsHandler", err)
		return
	}
	log.Printf("SettingsHandler: Saved settings for user %s", userID)

	h.sessions.Drop(userID)

	WriteJSONResponse(w, struct {
		Success bool `json:"success"`
	}{Success: true})
}

// sealPassword encrypts a newly entered password or keeps the stored one.
// Initial setup requires a password.
func (h *SettingsHandler) sealPassword(field, kind, plain string, stored []byte) ([]byte, error) {
	if plain == "" {
		if len(stored) == 0 {
			return nil, mailerr.Validation(field, "%s password is required for initial setup", kind)
		}
		return stored, nil
	}
	return h.encryptor.Encrypt(plain)
}

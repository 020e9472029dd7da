package models

import (
	"time"

	"github.com/vdavid/webmail/internal/mailerr"
)

// UserSettings is one user's mail account: where to connect, the sealed
// passwords, and overrides for the special folder names on the server.
type UserSettings struct {
	UserID                   string    `json:"user_id"`
	DisplayName              string    `json:"display_name"`
	UndoSendDelaySeconds     int       `json:"undo_send_delay_seconds"`
	PaginationThreadsPerPage int       `json:"pagination_threads_per_page"`
	IMAPServerHostname       string    `json:"imap_server_hostname"`
	IMAPUsername             string    `json:"imap_username"`
	EncryptedIMAPPassword    []byte    `json:"-"`
	SMTPServerHostname       string    `json:"smtp_server_hostname"`
	SMTPUsername             string    `json:"smtp_username"`
	EncryptedSMTPPassword    []byte    `json:"-"`
	ArchiveFolderName        string    `json:"archive_folder_name"`
	SentFolderName           string    `json:"sent_folder_name"`
	DraftsFolderName         string    `json:"drafts_folder_name"`
	TrashFolderName          string    `json:"trash_folder_name"`
	SpamFolderName           string    `json:"spam_folder_name"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Response strips the sealed passwords, keeping only whether they are set.
func (s *UserSettings) Response() UserSettingsResponse {
	return UserSettingsResponse{
		DisplayName:              s.DisplayName,
		UndoSendDelaySeconds:     s.UndoSendDelaySeconds,
		PaginationThreadsPerPage: s.PaginationThreadsPerPage,
		IMAPServerHostname:       s.IMAPServerHostname,
		IMAPUsername:             s.IMAPUsername,
		IMAPPasswordSet:          len(s.EncryptedIMAPPassword) > 0,
		SMTPServerHostname:       s.SMTPServerHostname,
		SMTPUsername:             s.SMTPUsername,
		SMTPPasswordSet:          len(s.EncryptedSMTPPassword) > 0,
		ArchiveFolderName:        s.ArchiveFolderName,
		SentFolderName:           s.SentFolderName,
		DraftsFolderName:         s.DraftsFolderName,
		TrashFolderName:          s.TrashFolderName,
		SpamFolderName:           s.SpamFolderName,
	}
}

// UserSettingsRequest is the settings form. Empty passwords keep the stored ones.
type UserSettingsRequest struct {
	DisplayName              string `json:"display_name"`
	UndoSendDelaySeconds     int    `json:"undo_send_delay_seconds"`
	PaginationThreadsPerPage int    `json:"pagination_threads_per_page"`
	IMAPServerHostname       string `json:"imap_server_hostname"`
	IMAPUsername             string `json:"imap_username"`
	IMAPPassword             string `json:"imap_password"`
	SMTPServerHostname       string `json:"smtp_server_hostname"`
	SMTPUsername             string `json:"smtp_username"`
	SMTPPassword             string `json:"smtp_password"`
	ArchiveFolderName        string `json:"archive_folder_name"`
	SentFolderName           string `json:"sent_folder_name"`
	DraftsFolderName         string `json:"drafts_folder_name"`
	TrashFolderName          string `json:"trash_folder_name"`
	SpamFolderName           string `json:"spam_folder_name"`
}

// Validate checks everything except the passwords, which depend on what is stored.
func (r *UserSettingsRequest) Validate() error {
	switch {
	case r.IMAPServerHostname == "":
		return mailerr.Validation("imap_server_hostname", "IMAP server hostname is required")
	case r.IMAPUsername == "":
		return mailerr.Validation("imap_username", "IMAP username is required")
	case r.SMTPServerHostname == "":
		return mailerr.Validation("smtp_server_hostname", "SMTP server hostname is required")
	case r.SMTPUsername == "":
		return mailerr.Validation("smtp_username", "SMTP username is required")
	case r.UndoSendDelaySeconds < 0:
		return mailerr.Validation("undo_send_delay_seconds", "undo send delay cannot be negative")
	case r.PaginationThreadsPerPage < 0:
		return mailerr.Validation("pagination_threads_per_page", "threads per page cannot be negative")
	}
	return nil
}

// Settings builds the stored form of r for userID with the given sealed passwords.
func (r *UserSettingsRequest) Settings(userID string, imapSealed, smtpSealed []byte) *UserSettings {
	return &UserSettings{
		UserID:                   userID,
		DisplayName:              r.DisplayName,
		UndoSendDelaySeconds:     r.UndoSendDelaySeconds,
		PaginationThreadsPerPage: r.PaginationThreadsPerPage,
		IMAPServerHostname:       r.IMAPServerHostname,
		IMAPUsername:             r.IMAPUsername,
		EncryptedIMAPPassword:    imapSealed,
		SMTPServerHostname:       r.SMTPServerHostname,
		SMTPUsername:             r.SMTPUsername,
		EncryptedSMTPPassword:    smtpSealed,
		ArchiveFolderName:        r.ArchiveFolderName,
		SentFolderName:           r.SentFolderName,
		DraftsFolderName:         r.DraftsFolderName,
		TrashFolderName:          r.TrashFolderName,
		SpamFolderName:           r.SpamFolderName,
	}
}

// UserSettingsResponse never carries passwords.
type UserSettingsResponse struct {
	DisplayName              string `json:"display_name"`
	UndoSendDelaySeconds     int    `json:"undo_send_delay_seconds"`
	PaginationThreadsPerPage int    `json:"pagination_threads_per_page"`
	IMAPServerHostname       string `json:"imap_server_hostname"`
	IMAPUsername             string `json:"imap_username"`
	IMAPPasswordSet          bool   `json:"imap_password_set"`
	SMTPServerHostname       string `json:"smtp_server_hostname"`
	SMTPUsername             string `json:"smtp_username"`
	SMTPPasswordSet          bool   `json:"smtp_password_set"`
	ArchiveFolderName        string `json:"archive_folder_name"`
	SentFolderName           string `json:"sent_folder_name"`
	DraftsFolderName         string `json:"drafts_folder_name"`
	TrashFolderName          string `json:"trash_folder_name"`
	SpamFolderName           string `json:"spam_folder_name"`
}

// AuthStatusResponse represents the authentication and setup status of a user.
type AuthStatusResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
	IsSetupComplete bool `json:"isSetupComplete"`
}

// Identity is the authenticated sender a mailbox session acts as.
type Identity struct {
	UserID       string `json:"user_id"`
	EmailAddress string `json:"email_address"`
	DisplayName  string `json:"display_name"`
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vdavid/webmail/internal/models"
)

// userSettingsRow is the user_settings table as both drivers read and write it.
type userSettingsRow struct {
	UserID                   string    `db:"user_id"`
	DisplayName              string    `db:"display_name"`
	UndoSendDelaySeconds     int       `db:"undo_send_delay_seconds"`
	PaginationThreadsPerPage int       `db:"pagination_threads_per_page"`
	IMAPServerHostname       string    `db:"imap_server_hostname"`
	IMAPUsername             string    `db:"imap_username"`
	EncryptedIMAPPassword    []byte    `db:"encrypted_imap_password"`
	SMTPServerHostname       string    `db:"smtp_server_hostname"`
	SMTPUsername             string    `db:"smtp_username"`
	EncryptedSMTPPassword    []byte    `db:"encrypted_smtp_password"`
	ArchiveFolderName        string    `db:"archive_folder_name"`
	SentFolderName           string    `db:"sent_folder_name"`
	DraftsFolderName         string    `db:"drafts_folder_name"`
	TrashFolderName          string    `db:"trash_folder_name"`
	SpamFolderName           string    `db:"spam_folder_name"`
	CreatedAt                time.Time `db:"created_at"`
	UpdatedAt                time.Time `db:"updated_at"`
}

func (r *PostgresRepository) UserSettingsExist(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_settings WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user settings existence: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id::text AS user_id, display_name, undo_send_delay_seconds, pagination_threads_per_page,
			imap_server_hostname, imap_username, encrypted_imap_password,
			smtp_server_hostname, smtp_username, encrypted_smtp_password,
			archive_folder_name, sent_folder_name, drafts_folder_name, trash_folder_name, spam_folder_name,
			created_at, updated_at
		FROM user_settings
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[userSettingsRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	settings := models.UserSettings(row)
	return &settings, nil
}

func (r *PostgresRepository) SaveUserSettings(ctx context.Context, settings *models.UserSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_settings (
			user_id, display_name, undo_send_delay_seconds, pagination_threads_per_page,
			imap_server_hostname, imap_username, encrypted_imap_password,
			smtp_server_hostname, smtp_username, encrypted_smtp_password,
			archive_folder_name, sent_folder_name, drafts_folder_name, trash_folder_name, spam_folder_name
		) VALUES (
			@user_id, @display_name, @undo_send_delay_seconds, @pagination_threads_per_page,
			@imap_server_hostname, @imap_username, @encrypted_imap_password,
			@smtp_server_hostname, @smtp_username, @encrypted_smtp_password,
			@archive_folder_name, @sent_folder_name, @drafts_folder_name, @trash_folder_name, @spam_folder_name
		)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			undo_send_delay_seconds = EXCLUDED.undo_send_delay_seconds,
			pagination_threads_per_page = EXCLUDED.pagination_threads_per_page,
			imap_server_hostname = EXCLUDED.imap_server_hostname,
			imap_username = EXCLUDED.imap_username,
			encrypted_imap_password = EXCLUDED.encrypted_imap_password,
			smtp_server_hostname = EXCLUDED.smtp_server_hostname,
			smtp_username = EXCLUDED.smtp_username,
			encrypted_smtp_password = EXCLUDED.encrypted_smtp_password,
			archive_folder_name = EXCLUDED.archive_folder_name,
			sent_folder_name = EXCLUDED.sent_folder_name,
			drafts_folder_name = EXCLUDED.drafts_folder_name,
			trash_folder_name = EXCLUDED.trash_folder_name,
			spam_folder_name = EXCLUDED.spam_folder_name,
			updated_at = NOW()
	`, pgx.NamedArgs{
		"user_id":                     settings.UserID,
		"display_name":                settings.DisplayName,
		"undo_send_delay_seconds":     settings.UndoSendDelaySeconds,
		"pagination_threads_per_page": settings.PaginationThreadsPerPage,
		"imap_server_hostname":        settings.IMAPServerHostname,
		"imap_username":               settings.IMAPUsername,
		"encrypted_imap_password":     settings.EncryptedIMAPPassword,
		"smtp_server_hostname":        settings.SMTPServerHostname,
		"smtp_username":               settings.SMTPUsername,
		"encrypted_smtp_password":     settings.EncryptedSMTPPassword,
		"archive_folder_name":         settings.ArchiveFolderName,
		"sent_folder_name":            settings.SentFolderName,
		"drafts_folder_name":          settings.DraftsFolderName,
		"trash_folder_name":           settings.TrashFolderName,
		"spam_folder_name":            settings.SpamFolderName,
	})
	if err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}
	return nil
}

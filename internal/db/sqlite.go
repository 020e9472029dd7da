package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vdavid/webmail/internal/models"
)

// SQLiteRepository implements Repository on a local SQLite file. It suits
// single-node deployments where running Postgres is not worth it.
type SQLiteRepository struct {
	db *sqlx.DB
}

type sqliteMigration struct {
	version int
	sql     string
}

var sqliteMigrations = []sqliteMigration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id                     TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	display_name                TEXT NOT NULL DEFAULT '',
	undo_send_delay_seconds     INTEGER NOT NULL DEFAULT 5,
	pagination_threads_per_page INTEGER NOT NULL DEFAULT 100,
	imap_server_hostname        TEXT NOT NULL,
	imap_username               TEXT NOT NULL,
	encrypted_imap_password     BLOB NOT NULL,
	smtp_server_hostname        TEXT NOT NULL,
	smtp_username               TEXT NOT NULL,
	encrypted_smtp_password     BLOB NOT NULL,
	archive_folder_name         TEXT NOT NULL DEFAULT '',
	sent_folder_name            TEXT NOT NULL DEFAULT '',
	drafts_folder_name          TEXT NOT NULL DEFAULT '',
	trash_folder_name           TEXT NOT NULL DEFAULT '',
	spam_folder_name            TEXT NOT NULL DEFAULT '',
	created_at                  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at                  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS app_settings (
	user_id    TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	settings   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_folders (
	id       TEXT NOT NULL,
	user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name     TEXT NOT NULL COLLATE NOCASE,
	position INTEGER NOT NULL,
	PRIMARY KEY (user_id, id),
	UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS mailbox_snapshots (
	user_id  TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	saved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mailbox_messages (
	user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	id                  TEXT NOT NULL,
	position            INTEGER NOT NULL,
	conversation_id     TEXT NOT NULL,
	sender_name         TEXT NOT NULL,
	sender_email        TEXT NOT NULL,
	recipient_email     TEXT NOT NULL,
	subject             TEXT NOT NULL,
	body                TEXT NOT NULL,
	snippet             TEXT NOT NULL,
	sent_at             DATETIME NOT NULL,
	is_read             INTEGER NOT NULL DEFAULT 0,
	is_starred          INTEGER NOT NULL DEFAULT 0,
	folder              TEXT NOT NULL,
	attachments         TEXT NOT NULL DEFAULT '[]',
	scheduled_send_time DATETIME,
	imap_uid            INTEGER NOT NULL DEFAULT 0,
	imap_folder_name    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, id)
);

CREATE INDEX IF NOT EXISTS idx_mailbox_messages_position ON mailbox_messages(user_id, position);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// NewSQLiteRepository opens (or creates) the database at path, enables WAL
// and foreign keys, and applies pending migrations.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps PRAGMAs and in-memory databases consistent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", pragma, err)
		}
	}

	r := &SQLiteRepository{db: db}
	if err := r.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) runMigrations() error {
	current := 0

	var tables int
	if err := r.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if tables > 0 {
		if err := r.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= current {
			continue
		}
		if _, err := r.db.Exec(m.sql); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Close() {
	_ = r.db.Close()
}

func (r *SQLiteRepository) GetOrCreateUser(ctx context.Context, email string) (string, error) {
	var userID string
	err := r.db.GetContext(ctx, &userID, `
		INSERT INTO users (id, email) VALUES (?, ?)
		ON CONFLICT (email) DO UPDATE SET email = excluded.email
		RETURNING id
	`, uuid.NewString(), email)
	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}
	return userID, nil
}

func (r *SQLiteRepository) UserSettingsExist(ctx context.Context, userID string) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM user_settings WHERE user_id = ?", userID); err != nil {
		return false, fmt.Errorf("failed to check user settings existence: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	var row userSettingsRow
	err := r.db.GetContext(ctx, &row, "SELECT * FROM user_settings WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	s := models.UserSettings(row)
	return &s, nil
}

func (r *SQLiteRepository) SaveUserSettings(ctx context.Context, settings *models.UserSettings) error {
	row := userSettingsRow(*settings)
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO user_settings (
			user_id, display_name, undo_send_delay_seconds, pagination_threads_per_page,
			imap_server_hostname, imap_username, encrypted_imap_password,
			smtp_server_hostname, smtp_username, encrypted_smtp_password,
			archive_folder_name, sent_folder_name, drafts_folder_name, trash_folder_name, spam_folder_name
		) VALUES (
			:user_id, :display_name, :undo_send_delay_seconds, :pagination_threads_per_page,
			:imap_server_hostname, :imap_username, :encrypted_imap_password,
			:smtp_server_hostname, :smtp_username, :encrypted_smtp_password,
			:archive_folder_name, :sent_folder_name, :drafts_folder_name, :trash_folder_name, :spam_folder_name
		)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = excluded.display_name,
			undo_send_delay_seconds = excluded.undo_send_delay_seconds,
			pagination_threads_per_page = excluded.pagination_threads_per_page,
			imap_server_hostname = excluded.imap_server_hostname,
			imap_username = excluded.imap_username,
			encrypted_imap_password = excluded.encrypted_imap_password,
			smtp_server_hostname = excluded.smtp_server_hostname,
			smtp_username = excluded.smtp_username,
			encrypted_smtp_password = excluded.encrypted_smtp_password,
			archive_folder_name = excluded.archive_folder_name,
			sent_folder_name = excluded.sent_folder_name,
			drafts_folder_name = excluded.drafts_folder_name,
			trash_folder_name = excluded.trash_folder_name,
			spam_folder_name = excluded.spam_folder_name,
			updated_at = CURRENT_TIMESTAMP
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAppSettings(ctx context.Context, userID string) (*models.AppSettings, error) {
	var raw string
	err := r.db.GetContext(ctx, &raw, "SELECT settings FROM app_settings WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAppSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app settings: %w", err)
	}
	return decodeAppSettings([]byte(raw))
}

func (r *SQLiteRepository) SaveAppSettings(ctx context.Context, userID string, settings models.AppSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode app settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO app_settings (user_id, settings) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET settings = excluded.settings, updated_at = CURRENT_TIMESTAMP
	`, userID, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save app settings: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUserFolders(ctx context.Context, userID string) ([]models.UserFolder, error) {
	folders := []models.UserFolder{}
	err := r.db.SelectContext(ctx, &folders, "SELECT id, name FROM user_folders WHERE user_id = ? ORDER BY position", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user folders: %w", err)
	}
	return folders, nil
}

func (r *SQLiteRepository) SaveUserFolders(ctx context.Context, userID string, folders []models.UserFolder) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM user_folders WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear user folders: %w", err)
	}
	for i, f := range folders {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_folders (id, user_id, name, position) VALUES (?, ?, ?, ?)",
			f.ID, userID, f.Name, i,
		); err != nil {
			return fmt.Errorf("failed to save user folder %s: %w", f.Name, err)
		}
	}
	return tx.Commit()
}

type messageRow struct {
	ID                string       `db:"id"`
	ConversationID    string       `db:"conversation_id"`
	SenderName        string       `db:"sender_name"`
	SenderEmail       string       `db:"sender_email"`
	RecipientEmail    string       `db:"recipient_email"`
	Subject           string       `db:"subject"`
	Body              string       `db:"body"`
	Snippet           string       `db:"snippet"`
	SentAt            time.Time    `db:"sent_at"`
	IsRead            bool         `db:"is_read"`
	IsStarred         bool         `db:"is_starred"`
	Folder            string       `db:"folder"`
	Attachments       string       `db:"attachments"`
	ScheduledSendTime sql.NullTime `db:"scheduled_send_time"`
	IMAPUID           int64        `db:"imap_uid"`
	IMAPFolderName    string       `db:"imap_folder_name"`
}

func (r *SQLiteRepository) SaveMailbox(ctx context.Context, userID string, messages []models.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM mailbox_messages WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear mailbox: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO mailbox_messages (
			user_id, id, position, conversation_id, sender_name, sender_email, recipient_email,
			subject, body, snippet, sent_at, is_read, is_starred, folder, attachments,
			scheduled_send_time, imap_uid, imap_folder_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for i := range messages {
		msg := &messages[i]
		attachments, err := encodeAttachments(msg.Attachments)
		if err != nil {
			return err
		}
		var scheduled sql.NullTime
		if msg.ScheduledSendTime != nil {
			scheduled = sql.NullTime{Time: msg.ScheduledSendTime.UTC(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			userID, msg.ID, i, msg.ConversationID, msg.SenderName, msg.SenderEmail, msg.RecipientEmail,
			msg.Subject, msg.Body, msg.Snippet, msg.Timestamp.UTC(), msg.IsRead, msg.IsStarred, msg.Folder,
			attachments, scheduled, int64(msg.IMAPUID), msg.IMAPFolderName,
		); err != nil {
			return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mailbox_snapshots (user_id) VALUES (?)
		ON CONFLICT (user_id) DO UPDATE SET saved_at = CURRENT_TIMESTAMP
	`, userID); err != nil {
		return fmt.Errorf("failed to mark mailbox snapshot: %w", err)
	}

	return tx.Commit()
}

func (r *SQLiteRepository) LoadMailbox(ctx context.Context, userID string) ([]models.Message, error) {
	var saved int
	if err := r.db.GetContext(ctx, &saved, "SELECT COUNT(*) FROM mailbox_snapshots WHERE user_id = ?", userID); err != nil {
		return nil, fmt.Errorf("failed to check mailbox snapshot: %w", err)
	}
	if saved == 0 {
		return nil, ErrMailboxNotFound
	}

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT id, conversation_id, sender_name, sender_email, recipient_email, subject, body, snippet,
			sent_at, is_read, is_starred, folder, attachments, scheduled_send_time, imap_uid, imap_folder_name
		FROM mailbox_messages
		WHERE user_id = ?
		ORDER BY position
	`, userID); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		attachments, err := decodeAttachments([]byte(row.Attachments))
		if err != nil {
			return nil, err
		}
		msg := models.Message{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			SenderName:     row.SenderName,
			SenderEmail:    row.SenderEmail,
			RecipientEmail: row.RecipientEmail,
			Subject:        row.Subject,
			Body:           row.Body,
			Snippet:        row.Snippet,
			Timestamp:      row.SentAt,
			IsRead:         row.IsRead,
			IsStarred:      row.IsStarred,
			Folder:         row.Folder,
			Attachments:    attachments,
			IMAPUID:        uint32(row.IMAPUID),
			IMAPFolderName: row.IMAPFolderName,
		}
		if row.ScheduledSendTime.Valid {
			t := row.ScheduledSendTime.Time
			msg.ScheduledSendTime = &t
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

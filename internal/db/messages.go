package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/webmail/internal/models"
)

// SaveMailbox replaces the user's stored messages with messages, keeping their order.
func SaveMailbox(ctx context.Context, pool *pgxpool.Pool, userID string, messages []models.Message) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM mailbox_messages WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear mailbox: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range messages {
		msg := &messages[i]
		attachments, err := encodeAttachments(msg.Attachments)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO mailbox_messages (
				user_id,
				id,
				position,
				conversation_id,
				sender_name,
				sender_email,
				recipient_email,
				subject,
				body,
				snippet,
				sent_at,
				is_read,
				is_starred,
				folder,
				attachments,
				scheduled_send_time,
				imap_uid,
				imap_folder_name
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16, $17, $18)
		`,
			userID,
			msg.ID,
			i,
			msg.ConversationID,
			msg.SenderName,
			msg.SenderEmail,
			msg.RecipientEmail,
			msg.Subject,
			msg.Body,
			msg.Snippet,
			msg.Timestamp,
			msg.IsRead,
			msg.IsStarred,
			msg.Folder,
			attachments,
			msg.ScheduledSendTime,
			int64(msg.IMAPUID),
			msg.IMAPFolderName,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save messages: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO mailbox_snapshots (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET saved_at = NOW()
	`, userID); err != nil {
		return fmt.Errorf("failed to mark mailbox snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit mailbox: %w", err)
	}
	return nil
}

// LoadMailbox returns the user's stored messages in the order they were saved.
// It returns ErrMailboxNotFound if SaveMailbox never ran for this user.
func LoadMailbox(ctx context.Context, pool *pgxpool.Pool, userID string) ([]models.Message, error) {
	var saved bool
	if err := pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM mailbox_snapshots WHERE user_id = $1)
	`, userID).Scan(&saved); err != nil {
		return nil, fmt.Errorf("failed to check mailbox snapshot: %w", err)
	}
	if !saved {
		return nil, ErrMailboxNotFound
	}

	rows, err := pool.Query(ctx, `
		SELECT
			id,
			conversation_id,
			sender_name,
			sender_email,
			recipient_email,
			subject,
			body,
			snippet,
			sent_at,
			is_read,
			is_starred,
			folder,
			attachments,
			scheduled_send_time,
			imap_uid,
			imap_folder_name
		FROM mailbox_messages
		WHERE user_id = $1
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			msg         models.Message
			attachments []byte
			scheduled   *time.Time
			uid         int64
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderName,
			&msg.SenderEmail,
			&msg.RecipientEmail,
			&msg.Subject,
			&msg.Body,
			&msg.Snippet,
			&msg.Timestamp,
			&msg.IsRead,
			&msg.IsStarred,
			&msg.Folder,
			&attachments,
			&scheduled,
			&uid,
			&msg.IMAPFolderName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Attachments, err = decodeAttachments(attachments); err != nil {
			return nil, err
		}
		msg.ScheduledSendTime = scheduled
		msg.IMAPUID = uint32(uid)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func encodeAttachments(attachments []models.Attachment) (string, error) {
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(raw), nil
}

func decodeAttachments(raw []byte) ([]models.Attachment, error) {
	attachments := []models.Attachment{}
	if len(raw) == 0 {
		return attachments, nil
	}
	if err := json.Unmarshal(raw, &attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	return attachments, nil
}

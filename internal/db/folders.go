package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/webmail/internal/models"
)

// GetUserFolders returns the user's custom folders in display order.
func GetUserFolders(ctx context.Context, pool *pgxpool.Pool, userID string) ([]models.UserFolder, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, name
		FROM user_folders
		WHERE user_id = $1
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user folders: %w", err)
	}
	defer rows.Close()

	folders := []models.UserFolder{}
	for rows.Next() {
		var f models.UserFolder
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, fmt.Errorf("failed to scan user folder: %w", err)
		}
		folders = append(folders, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user folders: %w", err)
	}

	return folders, nil
}

// SaveUserFolders replaces the user's folder list.
func SaveUserFolders(ctx context.Context, pool *pgxpool.Pool, userID string, folders []models.UserFolder) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM user_folders WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear user folders: %w", err)
	}

	batch := &pgx.Batch{}
	for i, f := range folders {
		batch.Queue(`
			INSERT INTO user_folders (id, user_id, name, position)
			VALUES ($1, $2, $3, $4)
		`, f.ID, userID, f.Name, i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save user folders: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit user folders: %w", err)
	}
	return nil
}

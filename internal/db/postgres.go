package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/webmail/internal/models"
)

// PostgresRepository implements Repository on a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Pool exposes the underlying pool for callers that need raw access.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// GetOrCreateUser returns the id of the user with email, creating the user first
// if needed. The no-op update makes RETURNING yield the existing row.
func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, email string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email) VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET updated_at = users.updated_at
		RETURNING id::text
	`, email).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}
	return userID, nil
}

func (r *PostgresRepository) GetAppSettings(ctx context.Context, userID string) (*models.AppSettings, error) {
	return GetAppSettings(ctx, r.pool, userID)
}

func (r *PostgresRepository) SaveAppSettings(ctx context.Context, userID string, settings models.AppSettings) error {
	return SaveAppSettings(ctx, r.pool, userID, settings)
}

func (r *PostgresRepository) GetUserFolders(ctx context.Context, userID string) ([]models.UserFolder, error) {
	return GetUserFolders(ctx, r.pool, userID)
}

func (r *PostgresRepository) SaveUserFolders(ctx context.Context, userID string, folders []models.UserFolder) error {
	return SaveUserFolders(ctx, r.pool, userID, folders)
}

func (r *PostgresRepository) LoadMailbox(ctx context.Context, userID string) ([]models.Message, error) {
	return LoadMailbox(ctx, r.pool, userID)
}

func (r *PostgresRepository) SaveMailbox(ctx context.Context, userID string, messages []models.Message) error {
	return SaveMailbox(ctx, r.pool, userID, messages)
}

func (r *PostgresRepository) Close() {
	CloseConnection(r.pool)
}

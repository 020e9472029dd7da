package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/webmail/internal/config"
	"github.com/vdavid/webmail/internal/models"
)

var (
	// ErrUserSettingsNotFound is returned when user settings cannot be found.
	ErrUserSettingsNotFound = errors.New("user settings not found")
	// ErrAppSettingsNotFound is returned when a user has never saved mail preferences.
	ErrAppSettingsNotFound = errors.New("app settings not found")
	// ErrMailboxNotFound is returned when no mailbox snapshot was ever saved for a user.
	ErrMailboxNotFound = errors.New("mailbox snapshot not found")
)

// Repository is the persistence contract the session layer depends on.
// PostgresRepository and SQLiteRepository both satisfy it.
type Repository interface {
	GetOrCreateUser(ctx context.Context, email string) (string, error)
	UserSettingsExist(ctx context.Context, userID string) (bool, error)
	GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	SaveUserSettings(ctx context.Context, settings *models.UserSettings) error
	GetAppSettings(ctx context.Context, userID string) (*models.AppSettings, error)
	SaveAppSettings(ctx context.Context, userID string, settings models.AppSettings) error
	GetUserFolders(ctx context.Context, userID string) ([]models.UserFolder, error)
	SaveUserFolders(ctx context.Context, userID string, folders []models.UserFolder) error
	LoadMailbox(ctx context.Context, userID string) ([]models.Message, error)
	SaveMailbox(ctx context.Context, userID string, messages []models.Message) error
	Close()
}

// Open connects to the database selected by cfg.DBDriver.
func Open(ctx context.Context, cfg *config.Config) (Repository, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		return NewSQLiteRepository(cfg.SQLitePath)
	case "", config.DriverPostgres:
		pool, err := NewConnection(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepository(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

// NewConnection creates a new PostgreSQL connection pool with the given configuration.
func NewConnection(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dbURL := cfg.GetDatabaseURL()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// CloseConnection closes the given database connection pool.
func CloseConnection(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

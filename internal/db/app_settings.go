package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/webmail/internal/models"
)

// GetAppSettings returns the stored mail preferences for the user.
// It returns ErrAppSettingsNotFound when nothing was saved yet.
func GetAppSettings(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.AppSettings, error) {
	var raw []byte
	err := pool.QueryRow(ctx, `
		SELECT settings FROM app_settings WHERE user_id = $1
	`, userID).Scan(&raw)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app settings: %w", err)
	}

	return decodeAppSettings(raw)
}

// SaveAppSettings stores the whole settings document, replacing the previous one.
func SaveAppSettings(ctx context.Context, pool *pgxpool.Pool, userID string, settings models.AppSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode app settings: %w", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO app_settings (user_id, settings)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (user_id) DO UPDATE SET
			settings = EXCLUDED.settings,
			updated_at = NOW()
	`, userID, string(raw))

	if err != nil {
		return fmt.Errorf("failed to save app settings: %w", err)
	}

	return nil
}

// LoadAppSettingsOrDefault never fails: a missing or unreadable document
// yields DefaultAppSettings.
func LoadAppSettingsOrDefault(ctx context.Context, repo Repository, userID string) models.AppSettings {
	settings, err := repo.GetAppSettings(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrAppSettingsNotFound) {
			log.Printf("Warning: failed to load app settings for user %s, using defaults: %v", userID, err)
		}
		return models.DefaultAppSettings()
	}
	return *settings
}

// decodeAppSettings starts from the defaults so that keys missing from an
// older document keep their default values.
func decodeAppSettings(raw []byte) (*models.AppSettings, error) {
	settings := models.DefaultAppSettings()
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode app settings: %w", err)
	}
	if settings.Rules == nil {
		settings.Rules = []models.Rule{}
	}
	return &settings, nil
}

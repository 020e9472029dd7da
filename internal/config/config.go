package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	SummarizerNone    = "none"
	SummarizerBedrock = "bedrock"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	AutheliaURL         string
	DBDriver            string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	SQLitePath          string
	Port                string
	Timezone            string
	IMAPMaxWorkers      int
	UndoSendWindow      time.Duration
	AutosaveDelay       time.Duration
	Summarizer          string
	BedrockModelID      string
}

// newViper wires defaults for every key. Values come from the process
// environment, which .env has already been merged into in development.
func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("VMAIL_ENV", "development")
	v.SetDefault("VMAIL_DB_DRIVER", DriverPostgres)
	v.SetDefault("VMAIL_DB_HOST", "localhost")
	v.SetDefault("VMAIL_DB_PORT", "5432")
	v.SetDefault("VMAIL_DB_USER", "webmail")
	v.SetDefault("VMAIL_DB_NAME", "webmail")
	v.SetDefault("VMAIL_DB_SSLMODE", "disable")
	v.SetDefault("VMAIL_SQLITE_PATH", "webmail.db")
	v.SetDefault("PORT", "11764")
	v.SetDefault("TZ", "UTC")
	v.SetDefault("VMAIL_IMAP_MAX_WORKERS", 3)
	v.SetDefault("VMAIL_UNDO_SEND_SECONDS", 5)
	v.SetDefault("VMAIL_AUTOSAVE_DELAY", "2s")
	v.SetDefault("VMAIL_SUMMARIZER", SummarizerNone)
	v.SetDefault("VMAIL_BEDROCK_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0")
	return v
}

func NewConfig() (*Config, error) {
	v := newViper()
	env := v.GetString("VMAIL_ENV")

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: v.GetString("VMAIL_ENCRYPTION_KEY_BASE64"),
		AutheliaURL:         v.GetString("AUTHELIA_URL"),
		DBDriver:            strings.ToLower(v.GetString("VMAIL_DB_DRIVER")),
		DBHost:              v.GetString("VMAIL_DB_HOST"),
		DBPort:              v.GetString("VMAIL_DB_PORT"),
		DBUsername:          v.GetString("VMAIL_DB_USER"),
		DBPassword:          v.GetString("VMAIL_DB_PASSWORD"),
		DBName:              v.GetString("VMAIL_DB_NAME"),
		DBSSLMode:           v.GetString("VMAIL_DB_SSLMODE"),
		SQLitePath:          v.GetString("VMAIL_SQLITE_PATH"),
		Port:                v.GetString("PORT"),
		Timezone:            v.GetString("TZ"),
		IMAPMaxWorkers:      v.GetInt("VMAIL_IMAP_MAX_WORKERS"),
		UndoSendWindow:      time.Duration(v.GetInt("VMAIL_UNDO_SEND_SECONDS")) * time.Second,
		AutosaveDelay:       v.GetDuration("VMAIL_AUTOSAVE_DELAY"),
		Summarizer:          strings.ToLower(v.GetString("VMAIL_SUMMARIZER")),
		BedrockModelID:      v.GetString("VMAIL_BEDROCK_MODEL_ID"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("VMAIL_ENCRYPTION_KEY_BASE64 is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("VMAIL_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("VMAIL_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if c.AutheliaURL == "" {
		return fmt.Errorf("AUTHELIA_URL is required")
	}
	if !strings.HasPrefix(c.AutheliaURL, "http://") && !strings.HasPrefix(c.AutheliaURL, "https://") {
		return fmt.Errorf("AUTHELIA_URL must use http:// or https:// scheme")
	}

	switch c.DBDriver {
	case "", DriverPostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("VMAIL_DB_PASSWORD is required")
		}
		if !validPort(c.DBPort) {
			return fmt.Errorf("VMAIL_DB_PORT is not a valid port number: %q", c.DBPort)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("VMAIL_SQLITE_PATH is required when VMAIL_DB_DRIVER is sqlite")
		}
	default:
		return fmt.Errorf("VMAIL_DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver)
	}

	if !validPort(c.Port) {
		return fmt.Errorf("PORT is not a valid port number: %q", c.Port)
	}

	if c.UndoSendWindow < 0 {
		return fmt.Errorf("VMAIL_UNDO_SEND_SECONDS cannot be negative")
	}

	switch c.Summarizer {
	case "", SummarizerNone:
	case SummarizerBedrock:
		if c.BedrockModelID == "" {
			return fmt.Errorf("VMAIL_BEDROCK_MODEL_ID is required when VMAIL_SUMMARIZER is bedrock")
		}
	default:
		return fmt.Errorf("VMAIL_SUMMARIZER must be %q or %q, got %q", SummarizerNone, SummarizerBedrock, c.Summarizer)
	}

	return nil
}

// GetDatabaseURL builds the Postgres connection URL with the credentials escaped.
func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func validPort(s string) bool {
	p, err := strconv.Atoi(s)
	return err == nil && p >= 1 && p <= 65535
}

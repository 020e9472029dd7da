package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"

	"github.com/vdavid/webmail/internal/config"
	"github.com/vdavid/webmail/internal/crypto"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/server"
	"github.com/vdavid/webmail/internal/testutil"
)

const testEmail = "test@example.com"

func main() {
	ctx := context.Background()

	// Setup environment variables
	if err := setupTestEnvironment(); err != nil {
		log.Fatalf("Failed to setup test environment: %v", err)
	}

	// Start Postgres database
	postgresContainer, connStr, err := startPostgres(ctx)
	if err != nil {
		log.Fatalf("Failed to start Postgres: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate Postgres container: %v", err)
		}
	}()

	// Start test mail servers
	imapServer, smtpServer, err := startMailServers()
	if err != nil {
		log.Fatalf("Failed to start mail servers: %v", err)
	}
	defer imapServer.Close()
	defer smtpServer.Close()

	if err := seedTestData(imapServer); err != nil {
		log.Fatalf("Failed to seed test data: %v", err)
	}

	cfg, pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to setup database: %v", err)
	}
	repo := db.NewPostgresRepository(pool)

	if err := seedUserSettings(ctx, repo, cfg, imapServer, smtpServer); err != nil {
		repo.Close()
		log.Fatalf("Failed to seed user settings: %v", err)
	}
	log.Println("User settings seeded for test user")

	// The app owns repo from here on and closes it on shutdown.
	if err := startHTTPServer(ctx, cfg, repo, imapServer, smtpServer); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// setupTestEnvironment sets up required environment variables for the test server.
func setupTestEnvironment() error {
	vars := map[string]string{
		"VMAIL_ENV":                   "test",
		"VMAIL_TEST_MODE":             "true",
		"VMAIL_ENCRYPTION_KEY_BASE64": testutil.TestEncryptionKeyBase64,
		"AUTHELIA_URL":                "http://localhost:9091",
		"VMAIL_DB_PASSWORD":           testutil.PostgresCredential,
	}
	for key, value := range vars {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// startPostgres starts a test Postgres database using testcontainers.
func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	log.Println("Starting test Postgres database...")
	container, connStr, err := testutil.StartPostgres(ctx)
	if err != nil {
		return nil, "", err
	}
	log.Println("Test Postgres database started")
	return container, connStr, nil
}

// startMailServers starts test IMAP and SMTP servers.
func startMailServers() (*testutil.TestIMAPServer, *testutil.TestSMTPServer, error) {
	log.Println("Starting test IMAP server...")
	imapServer, err := testutil.NewTestIMAPServerForE2E()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start test IMAP server: %w", err)
	}
	log.Printf("Test IMAP server started on %s", imapServer.Address)

	log.Println("Starting test SMTP server...")
	smtpServer, err := testutil.NewTestSMTPServerForE2E()
	if err != nil {
		imapServer.Close()
		return nil, nil, fmt.Errorf("failed to start test SMTP server: %w", err)
	}
	log.Printf("Test SMTP server started on %s", smtpServer.Address)

	return imapServer, smtpServer, nil
}

// setupDatabase loads the config and prepares a migrated connection pool.
func setupDatabase(ctx context.Context, connStr string) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := testutil.NewMigratedPool(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	log.Println("Successfully connected to database and ran migrations")
	return cfg, pool, nil
}

// startHTTPServer serves the API until SIGINT or SIGTERM.
func startHTTPServer(ctx context.Context, cfg *config.Config, repo db.Repository, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) error {
	app, err := server.New(ctx, cfg, repo, server.Options{})
	if err != nil {
		repo.Close()
		return err
	}
	defer app.Close()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: app.Handler()}

	log.Printf("Webmail test server starting on %s", srv.Addr)
	log.Printf("Test IMAP server: %s (username: %s, password: %s)", imapServer.Address, imapServer.Username(), imapServer.Password())
	log.Printf("Test SMTP server: %s (username: %s, password: %s)", smtpServer.Address, smtpServer.Username(), smtpServer.Password())
	log.Println("Server ready for E2E tests. Press Ctrl+C to stop.")

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}

// seedTestData fills the IMAP server with the messages the E2E fixtures expect.
func seedTestData(imapServer *testutil.TestIMAPServer) error {
	for _, folder := range []string{"INBOX", "Sent", "Drafts", "Trash", "Spam", "Archive"} {
		if err := imapServer.EnsureFolderForE2E(folder); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", folder, err)
		}
	}

	now := time.Now()
	messages := []testutil.TestMessage{
		{
			MessageID: "<msg1@test>",
			Subject:   "Welcome to Webmail",
			From:      "sender@example.com",
			To:        testEmail,
			Body:      "This is a test message.",
			SentAt:    now.Add(-2 * time.Hour),
		},
		{
			MessageID: "<msg2@test>",
			Subject:   "Meeting Tomorrow",
			From:      "colleague@example.com",
			To:        testEmail,
			Body:      "Don't forget about the meeting tomorrow at 2 PM.",
			SentAt:    now.Add(-1 * time.Hour),
		},
		{
			MessageID: "<msg3@test>",
			InReplyTo: "<msg2@test>",
			Subject:   "Re: Meeting Tomorrow",
			From:      "boss@example.com",
			To:        testEmail,
			Body:      "Please bring the Q3 numbers.",
			SentAt:    now.Add(-30 * time.Minute),
			Flagged:   true,
		},
		{
			MessageID:  "<msg4@test>",
			Subject:    "Special Report Q3",
			From:       "reports@example.com",
			To:         testEmail,
			Body:       "<p>Here is the <b>Q3 report</b> you requested.</p>",
			HTML:       true,
			SentAt:     now,
			Attachment: "report.txt",
		},
	}

	for _, msg := range messages {
		if _, err := imapServer.AddMessageForE2E("INBOX", msg); err != nil {
			return fmt.Errorf("failed to add message %s: %w", msg.MessageID, err)
		}
	}

	return nil
}

// seedUserSettings creates user settings for the test user so "existing user" tests work.
func seedUserSettings(ctx context.Context, repo db.Repository, cfg *config.Config, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) error {
	userID, err := repo.GetOrCreateUser(ctx, testEmail)
	if err != nil {
		return fmt.Errorf("failed to get or create user: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}

	encryptedIMAPPassword, encryptedSMTPPassword, err := encryptor.EncryptMailPasswords(imapServer.Password(), smtpServer.Password())
	if err != nil {
		return err
	}

	settings := &models.UserSettings{
		UserID:                   userID,
		DisplayName:              "Test User",
		IMAPServerHostname:       imapServer.Address,
		IMAPUsername:             imapServer.Username(),
		EncryptedIMAPPassword:    encryptedIMAPPassword,
		SMTPServerHostname:       smtpServer.Address,
		SMTPUsername:             smtpServer.Username(),
		EncryptedSMTPPassword:    encryptedSMTPPassword,
		UndoSendDelaySeconds:     20,
		PaginationThreadsPerPage: 100,
	}

	if err := repo.SaveUserSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}
	return nil
}

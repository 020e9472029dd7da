package testutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ReceivedMessage is one message accepted by the test SMTP server.
type ReceivedMessage struct {
	From     string
	To       []string
	Data     []byte
	Username string
}

// MemoryBackend is a simple in-memory SMTP backend for testing.
// It accepts PLAIN authentication for its configured credentials only.
type MemoryBackend struct {
	mu       sync.Mutex
	messages []ReceivedMessage
	username string
	password string
	failWith error
}

// NewMemoryBackend creates a new in-memory SMTP backend.
func NewMemoryBackend(username, password string) *MemoryBackend {
	return &MemoryBackend{
		messages: make([]ReceivedMessage, 0),
		username: username,
		password: password,
	}
}

// NewSession creates a new SMTP session.
func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b}, nil
}

// GetMessages returns a copy of all received messages.
func (b *MemoryBackend) GetMessages() []ReceivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ReceivedMessage(nil), b.messages...)
}

// ClearMessages clears all stored messages.
func (b *MemoryBackend) ClearMessages() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = make([]ReceivedMessage, 0)
}

// RejectData makes every following DATA command fail with err (nil restores acceptance).
func (b *MemoryBackend) RejectData(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}

type memorySession struct {
	backend  *MemoryBackend
	username string
	from     string
	to       []string
}

var _ smtp.AuthSession = (*memorySession)(nil)

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.username || password != s.backend.password {
			return errors.New("invalid credentials")
		}
		s.username = username
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, opts *smtp.MailOptions) error {
	if s.username == "" {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	if s.backend.failWith != nil {
		return s.backend.failWith
	}
	s.backend.messages = append(s.backend.messages, ReceivedMessage{
		From:     s.from,
		To:       append([]string(nil), s.to...),
		Data:     data,
		Username: s.username,
	})

	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer represents a test SMTP server instance.
type TestSMTPServer struct {
	Server   *smtp.Server
	Address  string
	Backend  *MemoryBackend
	cleanup  func()
	username string
	password string
}

func startSMTPServer(addr string) (*TestSMTPServer, error) {
	username := "test-user"
	password := "test-pass"
	be := NewMemoryBackend(username, password)

	s := smtp.NewServer(be)
	s.Addr = addr
	s.AllowInsecureAuth = true
	s.Domain = "localhost"

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		// Serve returns once the server is closed.
		_ = s.Serve(listener)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	return &TestSMTPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		cleanup: func() {
			_ = s.Close()
		},
		username: username,
		password: password,
	}, nil
}

// NewTestSMTPServer creates a new test SMTP server with an in-memory backend on a random port.
// The server is closed when the test ends.
func NewTestSMTPServer(t *testing.T) *TestSMTPServer {
	t.Helper()

	s, err := startSMTPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start SMTP server: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// NewTestSMTPServerForE2E creates a new test SMTP server for E2E tests (non-test context).
// Uses a fixed port (1025) for E2E tests so Playwright can connect to it.
func NewTestSMTPServerForE2E() (*TestSMTPServer, error) {
	return startSMTPServer("127.0.0.1:1025")
}

// Close shuts down the test SMTP server.
func (s *TestSMTPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the test username.
func (s *TestSMTPServer) Username() string {
	return s.username
}

// Password returns the test password.
func (s *TestSMTPServer) Password() string {
	return s.password
}

// GetMessages returns all messages received by the server.
func (s *TestSMTPServer) GetMessages() []ReceivedMessage {
	return s.Backend.GetMessages()
}

// ClearMessages clears all stored messages.
func (s *TestSMTPServer) ClearMessages() {
	s.Backend.ClearMessages()
}

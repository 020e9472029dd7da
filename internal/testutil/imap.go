package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer represents a test IMAP server instance.
// The memory backend creates a default user with username "username" and password "password",
// and seeds its INBOX with one message (use ClearFolder to start empty).
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// TestMessage describes a message to append to the test server.
type TestMessage struct {
	MessageID  string
	InReplyTo  string
	Subject    string
	From       string
	To         string
	Body       string
	HTML       bool
	SentAt     time.Time
	Seen       bool
	Flagged    bool
	Attachment string // file name of a small text/plain attachment, if any
}

// Raw renders the message as RFC 822 text.
func (m TestMessage) Raw() string {
	sentAt := m.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	contentType := "text/plain"
	if m.HTML {
		contentType = "text/html"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\r\n", m.MessageID)
	if m.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\nReferences: %s\r\n", m.InReplyTo, m.InReplyTo)
	}
	fmt.Fprintf(&b, "Date: %s\r\nFrom: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\n", sentAt.Format(time.RFC1123Z), m.From, m.To, m.Subject)

	if m.Attachment == "" {
		fmt.Fprintf(&b, "Content-Type: %s; charset=utf-8\r\n\r\n%s\r\n", contentType, m.Body)
		return b.String()
	}

	const boundary = "test-boundary"
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: %s; charset=utf-8\r\n\r\n%s\r\n", boundary, contentType, m.Body)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain\r\nContent-Disposition: attachment; filename=%q\r\n\r\nattached content\r\n", boundary, m.Attachment)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.String()
}

func (m TestMessage) flags() []string {
	var flags []string
	if m.Seen {
		flags = append(flags, imap.SeenFlag)
	}
	if m.Flagged {
		flags = append(flags, imap.FlaggedFlag)
	}
	return flags
}

func startIMAPServer(addr string) (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

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

	return &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		cleanup: func() {
			_ = s.Close()
		},
		username: "username",
		password: "password",
	}, nil
}

// NewTestIMAPServer creates a new test IMAP server with an in-memory backend on a random port.
// The server is closed when the test ends.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := startIMAPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// NewTestIMAPServerForE2E creates a test IMAP server outside a test context.
// Uses a fixed port (1143) so E2E tests can point the app at it.
func NewTestIMAPServerForE2E() (*TestIMAPServer, error) {
	return startIMAPServer("127.0.0.1:1143")
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Dial opens a logged-in client connection.
func (s *TestIMAPServer) Dial() (*imapclient.Client, error) {
	client, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test server: %w", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	return client, nil
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := s.Dial()
	if err != nil {
		t.Fatalf("%v", err)
	}

	return client, func() {
		_ = client.Logout()
	}
}

// EnsureFolder creates the folder unless it already exists.
func (s *TestIMAPServer) EnsureFolder(t *testing.T, name string) {
	t.Helper()
	if err := s.ensureFolder(name); err != nil {
		t.Fatalf("%v", err)
	}
}

// EnsureFolderForE2E is EnsureFolder outside a test context.
func (s *TestIMAPServer) EnsureFolderForE2E(name string) error {
	return s.ensureFolder(name)
}

func (s *TestIMAPServer) ensureFolder(name string) error {
	client, err := s.Dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Logout()
	}()

	if _, err := client.Select(name, true); err == nil {
		return nil
	}
	if err := client.Create(name); err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	return nil
}

// ClearFolder permanently removes every message in the folder.
func (s *TestIMAPServer) ClearFolder(t *testing.T, name string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	mbox, err := client.Select(name, false)
	if err != nil {
		t.Fatalf("Failed to select %s: %v", name, err)
	}
	if mbox.Messages == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, mbox.Messages)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := client.Store(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to flag messages: %v", err)
	}
	if err := client.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge: %v", err)
	}
}

// AddMessage appends msg to the folder and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName string, msg TestMessage) uint32 {
	t.Helper()

	uid, err := s.addMessage(folderName, msg)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return uid
}

// AddMessageForE2E is AddMessage outside a test context.
func (s *TestIMAPServer) AddMessageForE2E(folderName string, msg TestMessage) (uint32, error) {
	return s.addMessage(folderName, msg)
}

func (s *TestIMAPServer) addMessage(folderName string, msg TestMessage) (uint32, error) {
	client, err := s.Dial()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = client.Logout()
	}()

	if err := client.Append(folderName, msg.flags(), time.Now(), strings.NewReader(msg.Raw())); err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := client.Select(folderName, true); err != nil {
		return 0, fmt.Errorf("failed to select folder: %w", err)
	}

	// Search for the message we just added to get its UID
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", msg.MessageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for message: %w", err)
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("message %s not found after append", msg.MessageID)
	}
	return uids[len(uids)-1], nil
}

// FolderUIDs returns the UIDs currently in the folder.
func (s *TestIMAPServer) FolderUIDs(t *testing.T, folderName string) []uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folderName, true); err != nil {
		t.Fatalf("Failed to select %s: %v", folderName, err)
	}
	uids, err := client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		t.Fatalf("Failed to search %s: %v", folderName, err)
	}
	return uids
}

// Flags returns the flags of one message.
func (s *TestIMAPServer) Flags(t *testing.T, folderName string, uid uint32) []string {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folderName, true); err != nil {
		t.Fatalf("Failed to select %s: %v", folderName, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	messages := make(chan *imap.Message, 1)
	if err := client.UidFetch(seqSet, []imap.FetchItem{imap.FetchFlags}, messages); err != nil {
		t.Fatalf("Failed to fetch flags: %v", err)
	}
	msg := <-messages
	if msg == nil {
		t.Fatalf("Message %d not found in %s", uid, folderName)
	}
	return msg.Flags
}

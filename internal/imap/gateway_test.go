package imap

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/testutil"
)

var testIdentity = models.Identity{
	UserID:       "user-1",
	EmailAddress: "me@example.com",
	DisplayName:  "Me",
}

// newTestGateway starts a server with an empty INBOX and a gateway for it.
func newTestGateway(t *testing.T) (*Gateway, *testutil.TestIMAPServer) {
	t.Helper()
	t.Setenv("VMAIL_TEST_MODE", "true")

	server := testutil.NewTestIMAPServer(t)
	server.ClearFolder(t, "INBOX")

	pool := NewPool()
	t.Cleanup(pool.Close)

	return NewGateway(pool, testCredentials(server, testIdentity.UserID), FolderMapFromSettings(nil), testIdentity), server
}

func findMessage(t *testing.T, msgs []models.Message, id string) models.Message {
	t.Helper()
	for _, m := range msgs {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("message %s not found", id)
	return models.Message{}
}

func TestGateway_FetchFolder(t *testing.T) {
	gw, server := newTestGateway(t)
	ctx := context.Background()

	rootUID := server.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<root@example.com>",
		Subject:   "Lunch?",
		From:      "Alice <alice@example.com>",
		To:        "me@example.com",
		Body:      "Are you free?",
		SentAt:    time.Now().Add(-time.Hour),
		Seen:      true,
	})
	replyUID := server.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<reply@example.com>",
		InReplyTo: "<root@example.com>",
		Subject:   "Re: Lunch?",
		From:      "Bob <bob@example.com>",
		To:        "me@example.com",
		Body:      "<p>Count me in</p>",
		HTML:      true,
		Flagged:   true,
	})

	t.Run("fetches and threads by references", func(t *testing.T) {
		msgs, err := gw.FetchFolder(ctx, models.FolderInbox)
		require.NoError(t, err)
		require.Len(t, msgs, 2)

		root := findMessage(t, msgs, StableID("<root@example.com>"))
		reply := findMessage(t, msgs, StableID("<reply@example.com>"))

		assert.Equal(t, rootUID, root.IMAPUID)
		assert.Equal(t, replyUID, reply.IMAPUID)
		assert.Equal(t, "INBOX", root.IMAPFolderName)
		assert.Equal(t, models.FolderInbox, root.Folder)
		assert.Equal(t, root.ID, root.ConversationID)
		assert.Equal(t, root.ID, reply.ConversationID)
		assert.True(t, root.IsRead)
		assert.False(t, reply.IsRead)
		assert.True(t, reply.IsStarred)
		assert.Equal(t, "alice@example.com", root.SenderEmail)
		assert.Contains(t, reply.Body, "<p>Count me in</p>")
		assert.Equal(t, "Count me in", reply.Snippet)
	})

	t.Run("folder missing on the server is empty", func(t *testing.T) {
		msgs, err := gw.FetchFolder(ctx, models.FolderSpam)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("local-only folder is empty", func(t *testing.T) {
		msgs, err := gw.FetchFolder(ctx, models.FolderScheduled)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("FetchNew returns messages from a uid on", func(t *testing.T) {
		msgs, err := gw.FetchNew(ctx, "INBOX", replyUID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, replyUID, msgs[0].IMAPUID)
		assert.Equal(t, models.FolderInbox, msgs[0].Folder)
	})
}

func TestGateway_SetFlags(t *testing.T) {
	gw, server := newTestGateway(t)
	ctx := context.Background()

	uid := server.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<flags@example.com>",
		Subject:   "Flags",
		From:      "alice@example.com",
		To:        "me@example.com",
		Body:      "Body",
	})

	require.NoError(t, gw.SetFlags(ctx, "INBOX", []uint32{uid}, mailbox.FlagSeen, true))
	require.NoError(t, gw.SetFlags(ctx, "INBOX", []uint32{uid}, mailbox.FlagFlagged, true))
	flags := server.Flags(t, "INBOX", uid)
	assert.Contains(t, flags, imap.SeenFlag)
	assert.Contains(t, flags, imap.FlaggedFlag)

	require.NoError(t, gw.SetFlags(ctx, "INBOX", []uint32{uid}, mailbox.FlagSeen, false))
	assert.NotContains(t, server.Flags(t, "INBOX", uid), imap.SeenFlag)

	assert.NoError(t, gw.SetFlags(ctx, "INBOX", nil, mailbox.FlagSeen, true), "no uids is a no-op")
	assert.Error(t, gw.SetFlags(ctx, "INBOX", []uint32{uid}, mailbox.Flag("answered"), true))
}

func TestGateway_Move(t *testing.T) {
	gw, server := newTestGateway(t)
	ctx := context.Background()

	keep := server.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<keep@example.com>", Subject: "Keep", From: "a@example.com", To: "me@example.com", Body: "k",
	})
	move := server.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID: "<move@example.com>", Subject: "Move", From: "a@example.com", To: "me@example.com", Body: "m",
	})

	require.NoError(t, gw.Move(ctx, "INBOX", []uint32{move}, ArchiveFolder))

	assert.Equal(t, []uint32{keep}, server.FolderUIDs(t, "INBOX"))
	assert.Len(t, server.FolderUIDs(t, "Archive"), 1)

	archived, err := gw.FetchFolder(ctx, ArchiveFolder)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, StableID("<move@example.com>"), archived[0].ID)
	assert.Equal(t, ArchiveFolder, archived[0].Folder)

	t.Run("no-ops", func(t *testing.T) {
		assert.NoError(t, gw.Move(ctx, "INBOX", nil, models.FolderTrash))
		assert.NoError(t, gw.Move(ctx, "INBOX", []uint32{keep}, models.FolderScheduled))
		assert.NoError(t, gw.Move(ctx, "INBOX", []uint32{keep}, models.FolderInbox))
		assert.Equal(t, []uint32{keep}, server.FolderUIDs(t, "INBOX"))
	})
}

func TestGateway_DeletePermanently(t *testing.T) {
	gw, server := newTestGateway(t)
	ctx := context.Background()

	server.EnsureFolder(t, "Trash")
	uid := server.AddMessage(t, "Trash", testutil.TestMessage{
		MessageID: "<gone@example.com>", Subject: "Gone", From: "a@example.com", To: "me@example.com", Body: "g",
	})

	require.NoError(t, gw.DeletePermanently(ctx, "Trash", []uint32{uid}))
	assert.Empty(t, server.FolderUIDs(t, "Trash"))
}

func TestGateway_AppendToSent(t *testing.T) {
	gw, server := newTestGateway(t)
	ctx := context.Background()

	msg := models.Message{
		ID:             "3f0d4b8e-6a2c-4f0e-9b8d-1c2e3f4a5b6c",
		RecipientEmail: "bob@example.com",
		Subject:        "Report",
		Body:           "<p>Attached is the report.</p>",
		Timestamp:      time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, gw.AppendToSent(ctx, msg))

	uids := server.FolderUIDs(t, "Sent")
	require.Len(t, uids, 1)
	assert.Contains(t, server.Flags(t, "Sent", uids[0]), imap.SeenFlag)

	sent, err := gw.FetchFolder(ctx, models.FolderSent)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "Report", sent[0].Subject)
	assert.Equal(t, "me@example.com", sent[0].SenderEmail)
	assert.Equal(t, "bob@example.com", sent[0].RecipientEmail)
	assert.Equal(t, models.FolderSent, sent[0].Folder)
}

func TestGateway_AuthenticationFailure(t *testing.T) {
	t.Setenv("VMAIL_TEST_MODE", "true")
	server := testutil.NewTestIMAPServer(t)
	pool := NewPool()
	defer pool.Close()

	creds := testCredentials(server, "bad-user")
	creds.Password = "nope"
	gw := NewGateway(pool, creds, FolderMapFromSettings(nil), testIdentity)

	_, err := gw.FetchFolder(context.Background(), models.FolderInbox)
	require.Error(t, err)
	assert.True(t, mailerr.IsAuthentication(err))
}

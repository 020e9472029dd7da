package mailbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
)

func folderNames(folders []models.Folder) []string {
	names := make([]string, len(folders))
	for i, f := range folders {
		names[i] = f.Name
	}
	return names
}

func TestMailbox_CreateFolder(t *testing.T) {
	mb, _, events := newTestMailbox(t, Config{})

	folder, err := mb.CreateFolder("  Projects ")
	require.NoError(t, err)
	assert.Equal(t, "Projects", folder.Name)
	assert.NotEmpty(t, folder.ID)
	assert.Len(t, events.ofType(EventFoldersChanged), 1)

	tests := []struct {
		name string
		in   string
	}{
		{"duplicate ignoring case", "projects"},
		{"empty", "   "},
		{"system folder", "inbox"},
		{"virtual folder", "Starred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mb.CreateFolder(tt.in)
			assert.True(t, mailerr.IsValidation(err))
			assert.Len(t, mb.UserFolders(), 1)
		})
	}
}

func TestMailbox_DeleteFolder(t *testing.T) {
	ctx := context.Background()
	var msgs []models.Message
	for i, id := range []string{"p1", "p2", "p3"} {
		m := inboxMessage(id, "", time.Duration(i)*time.Minute)
		m.Folder = "Projects"
		msgs = append(msgs, m)
	}

	settings := models.DefaultAppSettings()
	settings.Rules = []models.Rule{newsletterRule("jira", "Projects"), newsletterRule("news", "Archive")}
	mb, _, events := newTestMailbox(t, Config{
		Settings: &settings,
		Folders:  []models.UserFolder{{ID: "f-projects", Name: "Projects"}},
	}, msgs...)
	require.Contains(t, folderNames(mb.Folders()), "Projects")

	require.NoError(t, mb.DeleteFolder(ctx, "f-projects"))

	assert.Equal(t, 3, countInFolder(mb.Messages(), FallbackFolder))
	assert.NotContains(t, folderNames(mb.Folders()), "Projects")
	assert.Empty(t, mb.Conversations("Projects", ""))
	assert.Empty(t, mb.UserFolders())

	rules := mb.Settings().Rules
	require.Len(t, rules, 1, "rules routing into the deleted folder are dropped")
	assert.Equal(t, "Archive", rules[0].Action.Folder)
	assert.Len(t, events.ofType(EventSettingsChanged), 1)

	assert.NoError(t, mb.DeleteFolder(ctx, "f-projects"), "deleting twice is a no-op")
}

func TestMailbox_DeleteFolder_GatewayFailure(t *testing.T) {
	gw := &mockGateway{}
	m := inboxMessage("p1", "", 0)
	m.Folder, m.IMAPFolderName, m.IMAPUID = "Projects", "Projects", 4
	gw.On("Move", mock.Anything, "Projects", []uint32{4}, models.FolderTrash).Return(errors.New("NO server error"))

	mb, _, _ := newTestMailbox(t, Config{Gateway: gw, Folders: []models.UserFolder{{ID: "f", Name: "Projects"}}}, m)

	err := mb.DeleteFolder(context.Background(), "f")
	assert.Error(t, err)
	assert.Len(t, mb.UserFolders(), 1)
	assert.Equal(t, 1, countInFolder(mb.Messages(), "Projects"))
}

func TestMailbox_RenameFolder(t *testing.T) {
	m := inboxMessage("w1", "", 0)
	m.Folder = "Work"
	settings := models.DefaultAppSettings()
	settings.Rules = []models.Rule{newsletterRule("boss", "Work")}
	mb, _, _ := newTestMailbox(t, Config{
		Settings: &settings,
		Folders:  []models.UserFolder{{ID: "f-work", Name: "Work"}, {ID: "f-home", Name: "Home"}},
	}, m)

	renamed, err := mb.RenameFolder("f-work", "Office")
	require.NoError(t, err)
	assert.Equal(t, "Office", renamed.Name)
	assert.Len(t, mb.Conversations("Office", ""), 1)
	assert.Equal(t, "Office", mb.Settings().Rules[0].Action.Folder)

	_, err = mb.RenameFolder("f-work", "HOME")
	assert.True(t, mailerr.IsValidation(err))

	_, err = mb.RenameFolder("f-work", "office")
	assert.NoError(t, err, "changing only the case of its own name is allowed")

	_, err = mb.RenameFolder("missing", "X")
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}

func TestMailbox_Folders(t *testing.T) {
	routed := inboxMessage("r", "", 0)
	routed.Folder = "Archive"
	starred := inboxMessage("s", "", 0)
	starred.IsStarred = true
	mb, _, _ := newTestMailbox(t, Config{Folders: []models.UserFolder{{ID: "f", Name: "Work"}}}, routed, starred)

	folders := mb.Folders()
	names := folderNames(folders)
	assert.Equal(t, append(append([]string{}, models.SystemFolders...), "Work", "Archive"), names)

	counts := make(map[string]int)
	for _, f := range folders {
		counts[f.Name] = f.UnreadCount
	}
	assert.Equal(t, 1, counts[models.FolderInbox])
	assert.Equal(t, 1, counts[models.FolderStarred])
	assert.Equal(t, 1, counts["Archive"])
}

func TestMailbox_UpdateSettings(t *testing.T) {
	mb, _, events := newTestMailbox(t, Config{})

	t.Run("assigns rule ids", func(t *testing.T) {
		rule := newsletterRule("news", "Archive")
		rule.ID = ""
		saved, err := mb.UpdateSettings(models.AppSettings{Rules: []models.Rule{rule}})
		require.NoError(t, err)
		require.Len(t, saved.Rules, 1)
		assert.NotEmpty(t, saved.Rules[0].ID)
		assert.Len(t, events.ofType(EventSettingsChanged), 1)
	})

	t.Run("rejects malformed rules", func(t *testing.T) {
		before := mb.Settings()
		_, err := mb.UpdateSettings(models.AppSettings{Rules: []models.Rule{newsletterRule(" ", "Archive")}})
		assert.True(t, mailerr.IsValidation(err))
		assert.Equal(t, before, mb.Settings())
	})

	t.Run("rejects inverted auto-responder dates", func(t *testing.T) {
		start, end := t0, t0.Add(-time.Hour)
		_, err := mb.UpdateSettings(models.AppSettings{AutoResponder: models.AutoResponder{StartDate: &start, EndDate: &end}})
		assert.True(t, mailerr.IsValidation(err))
	})
}

func TestMailbox_Summarize(t *testing.T) {
	ctx := context.Background()

	t.Run("single message is too short", func(t *testing.T) {
		s := &mockSummarizer{}
		mb, _, _ := newTestMailbox(t, Config{Summarizer: s}, inboxMessage("a", "", 0))

		got, err := mb.Summarize(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, TooShortSummary, got)
		s.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything)
	})

	t.Run("sends a transcript", func(t *testing.T) {
		s := &mockSummarizer{}
		s.On("Summarize", mock.Anything, mock.MatchedBy(func(tr string) bool {
			return strings.Contains(tr, "From: Alice a <alice@example.com>") &&
				strings.Contains(tr, "Body of a\n\n---\nFrom: Alice b") &&
				strings.HasSuffix(tr, "Body of b\n")
		})).Return("They talked.", nil)
		mb, _, _ := newTestMailbox(t, Config{Summarizer: s}, inboxMessage("a", "c", 0), inboxMessage("b", "c", time.Minute))

		got, err := mb.Summarize(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, "They talked.", got)
		s.AssertExpectations(t)
	})

	t.Run("no summarizer configured", func(t *testing.T) {
		mb, _, _ := newTestMailbox(t, Config{}, inboxMessage("a", "c", 0), inboxMessage("b", "c", time.Minute))
		_, err := mb.Summarize(ctx, "c")
		assert.ErrorIs(t, err, ErrNoSummarizer)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		mb, _, _ := newTestMailbox(t, Config{})
		_, err := mb.Summarize(ctx, "nope")
		assert.ErrorIs(t, err, mailerr.ErrNotFound)
	})
}

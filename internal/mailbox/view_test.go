package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vdavid/webmail/internal/models"
)

func TestDisplay(t *testing.T) {
	inbox := inboxMessage("inbox", "", time.Hour)
	older := inboxMessage("older", "", 0)
	starred := inboxMessage("starred", "", 2*time.Hour)
	starred.IsStarred = true
	trashedStar := inboxMessage("trashed", "", 3*time.Hour)
	trashedStar.IsStarred = true
	trashedStar.Folder = models.FolderTrash
	trashedStar.Subject = "Quarterly Report"
	spam := inboxMessage("spam", "", 4*time.Hour)
	spam.Folder = models.FolderSpam
	spam.SenderName = "Prize Department"
	tieA := inboxMessage("tie-a", "", 5*time.Hour)
	tieB := inboxMessage("tie-b", "", 5*time.Hour)
	tieA.Folder, tieB.Folder = "Work", "Work"

	convs := Project([]models.Message{older, inbox, starred, trashedStar, spam, tieA, tieB})

	tests := []struct {
		name   string
		folder string
		query  string
		want   []string
	}{
		{"folder sorted newest first", models.FolderInbox, "", []string{"starred", "inbox", "older"}},
		{"starred skips trash", models.FolderStarred, "", []string{"starred"}},
		{"trash folder", models.FolderTrash, "", []string{"trashed"}},
		{"ties keep input order", "Work", "", []string{"tie-a", "tie-b"}},
		{"unknown folder is empty", "Nope", "", []string{}},
		{"search ignores folder and reaches trash", models.FolderInbox, "quarterly", []string{"trashed"}},
		{"search matches sender name in spam", models.FolderInbox, "PRIZE", []string{"spam"}},
		{"search matches body", "", "body of older", []string{"older"}},
		{"blank query falls back to folder", models.FolderSpam, "   ", []string{"spam"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Display(convs, tt.folder, tt.query)
			assert.Equal(t, tt.want, conversationIDs(got))
		})
	}

	t.Run("returns copies", func(t *testing.T) {
		got := Display(convs, models.FolderInbox, "")
		got[0].Emails[0].Subject = "changed"
		again := Display(convs, models.FolderInbox, "")
		assert.NotEqual(t, "changed", again[0].Emails[0].Subject)
	})
}

package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/models"
)

func TestProject(t *testing.T) {
	first := inboxMessage("m1", "thread", 0)
	first.IsRead = true
	second := inboxMessage("m2", "thread", time.Hour)
	second.SenderName = "Bob"
	second.SenderEmail = "bob@example.com"
	second.IsStarred = true
	second.Folder = "Work"
	third := inboxMessage("m3", "thread", 30*time.Minute)
	third.Attachments = []models.Attachment{{FileName: "plan.pdf", FileSize: 2048}}
	lone := inboxMessage("solo", "", 2*time.Hour)
	lone.IsRead = true

	convs := Project([]models.Message{second, first, lone, third})
	require.Len(t, convs, 2)

	thread := convs[0]
	t.Run("groups by conversation id", func(t *testing.T) {
		assert.Equal(t, "thread", thread.ID)
		assert.Len(t, thread.Emails, 3)
	})

	t.Run("emails ascend by timestamp", func(t *testing.T) {
		assert.Equal(t, []string{"m1", "m3", "m2"}, []string{thread.Emails[0].ID, thread.Emails[1].ID, thread.Emails[2].ID})
	})

	t.Run("latest message drives subject and folder", func(t *testing.T) {
		assert.Equal(t, "Subject m2", thread.Subject)
		assert.Equal(t, "Work", thread.Folder)
		assert.Equal(t, second.Timestamp, thread.LastTimestamp)
	})

	t.Run("aggregates", func(t *testing.T) {
		assert.False(t, thread.IsRead, "one unread message makes the thread unread")
		assert.True(t, thread.IsStarred, "one starred message stars the thread")
		assert.True(t, thread.HasAttachments)
	})

	t.Run("participants are distinct in first-seen order", func(t *testing.T) {
		assert.Equal(t, []models.Participant{
			{Name: "Alice m1", Email: "alice@example.com"},
			{Name: "Alice m3", Email: "alice@example.com"},
			{Name: "Bob", Email: "bob@example.com"},
		}, thread.Participants)
	})

	t.Run("missing conversation id falls back to own id", func(t *testing.T) {
		assert.Equal(t, "solo", convs[1].ID)
		assert.True(t, convs[1].IsRead)
		assert.False(t, convs[1].HasAttachments)
	})

	t.Run("empty input yields no conversations", func(t *testing.T) {
		assert.Empty(t, Project(nil))
	})

	t.Run("input is untouched", func(t *testing.T) {
		in := []models.Message{second, first}
		Project(in)
		assert.Equal(t, "m2", in[0].ID)
	})
}

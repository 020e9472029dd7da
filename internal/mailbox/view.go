package mailbox

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/vdavid/webmail/internal/models"
)

// Display picks the conversations shown for a folder or a search.
//
// A non-empty query searches every folder, Trash and Spam included, and
// ignores folder. The Starred view holds starred conversations outside Trash.
// Any other folder matches the conversation's folder exactly. The result is
// sorted newest first; equal timestamps keep their input order.
func Display(convs []models.Conversation, folder, query string) []models.Conversation {
	query = strings.TrimSpace(query)

	var keep func(*models.Conversation) bool
	switch {
	case query != "":
		needle := fold(query)
		keep = func(c *models.Conversation) bool { return matches(c, needle) }
	case folder == models.FolderStarred:
		keep = func(c *models.Conversation) bool { return c.IsStarred && c.Folder != models.FolderTrash }
	default:
		keep = func(c *models.Conversation) bool { return c.Folder == folder }
	}

	out := make([]models.Conversation, 0)
	for i := range convs {
		if keep(&convs[i]) {
			out = append(out, cloneConversation(convs[i]))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastTimestamp.After(out[j].LastTimestamp)
	})
	return out
}

func matches(c *models.Conversation, needle string) bool {
	for i := range c.Emails {
		e := &c.Emails[i]
		if strings.Contains(fold(e.Subject), needle) ||
			strings.Contains(fold(e.Snippet), needle) ||
			strings.Contains(fold(e.Body), needle) ||
			strings.Contains(fold(e.SenderName), needle) {
			return true
		}
	}
	return false
}

// fold maps s to its case-folded form for case-insensitive comparison.
func fold(s string) string {
	return cases.Fold().String(s)
}

func cloneConversation(c models.Conversation) models.Conversation {
	emails := make([]models.Message, len(c.Emails))
	for i := range c.Emails {
		emails[i] = c.Emails[i].Clone()
	}
	c.Emails = emails
	c.Participants = append([]models.Participant(nil), c.Participants...)
	return c
}

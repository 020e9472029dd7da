package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/snippet"
)

// TooShortSummary is returned for conversations with fewer than two messages.
const TooShortSummary = "This conversation is too short to summarize."

// Summarize asks the summarizer for a summary of one conversation. The lock
// is not held while the summarizer works.
func (m *Mailbox) Summarize(ctx context.Context, conversationID string) (string, error) {
	conv, err := m.Conversation(conversationID)
	if err != nil {
		return "", err
	}
	if len(conv.Emails) < 2 {
		return TooShortSummary, nil
	}
	if m.summarizer == nil {
		return "", ErrNoSummarizer
	}

	var b strings.Builder
	for i, e := range conv.Emails {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "From: %s <%s>\n", e.SenderName, e.SenderEmail)
		fmt.Fprintf(&b, "Date: %s\n", e.Timestamp.Format(time.RFC1123))
		fmt.Fprintf(&b, "Subject: %s\n\n", e.Subject)
		b.WriteString(snippet.PlainText(e.Body))
		b.WriteString("\n")
	}

	summary, err := m.summarizer.Summarize(ctx, b.String())
	if err != nil {
		return "", mailerr.Classify("summarize", err)
	}
	return summary, nil
}

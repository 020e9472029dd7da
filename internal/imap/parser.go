package imap

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"

	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/rfc822"
	"github.com/vdavid/webmail/internal/snippet"
)

// messageNamespace scopes the ids derived from Message-ID headers.
var messageNamespace = uuid.MustParse("6f1e5a8c-2d0b-4c57-9a43-0c5b8f3e7d21")

// StableID derives a mailbox id from a Message-ID header, so the same mail
// fetched twice (or seen by IDLE after a fetch) gets the same id.
func StableID(messageID string) string {
	return uuid.NewSHA1(messageNamespace, []byte(strings.TrimSpace(messageID))).String()
}

// ParseMessage converts a fetched IMAP message into a mailbox message in folder.
// serverFolder is the mailbox the UID belongs to. The conversation defaults to
// the message's References root; callers with THREAD results override it.
func ParseMessage(imapMsg *imap.Message, folder, serverFolder string) (*models.Message, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	msg := &models.Message{
		IMAPUID:        imapMsg.Uid,
		IMAPFolderName: serverFolder,
		Folder:         folder,
		Attachments:    []models.Attachment{},
		Timestamp:      imapMsg.InternalDate,
	}

	for _, flag := range imapMsg.Flags {
		switch flag {
		case imap.SeenFlag:
			msg.IsRead = true
		case imap.FlaggedFlag:
			msg.IsStarred = true
		}
	}

	var headerID string
	if env := imapMsg.Envelope; env != nil {
		if len(env.From) > 0 && env.From[0] != nil {
			msg.SenderName = env.From[0].PersonalName
			msg.SenderEmail = formatAddress(env.From[0])
		}
		if len(env.To) > 0 {
			msg.RecipientEmail = formatAddress(env.To[0])
		}
		msg.Subject = env.Subject
		if !env.Date.IsZero() {
			msg.Timestamp = env.Date
		}
		headerID = env.MessageId
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	threadRoot := headerID
	if body := imapMsg.GetBody(fullMessageSection); body != nil {
		content, err := rfc822.Parse(body)
		if err != nil {
			return nil, err
		}
		msg.Body = content.HTML
		msg.Attachments = content.Attachments
		if headerID == "" {
			headerID = content.MessageID
		}
		if root := content.ThreadRoot(); root != "" {
			threadRoot = root
		}
	}
	msg.Snippet = snippet.Derive(msg.Body)

	if headerID == "" {
		headerID = fmt.Sprintf("<%s.%d@uid>", serverFolder, imapMsg.Uid)
	}
	if threadRoot == "" {
		threadRoot = headerID
	}
	msg.ID = StableID(headerID)
	msg.ConversationID = StableID(threadRoot)

	return msg, nil
}

// formatAddress returns the bare mailbox@host form of address.
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}
	if address.HostName == "" {
		return address.MailboxName
	}

	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}

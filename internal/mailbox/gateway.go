package mailbox

import (
	"context"
	"sort"

	"github.com/vdavid/webmail/internal/models"
)

// Flag is a message flag the gateway can set or clear on the server.
type Flag string

const (
	FlagSeen    Flag = "seen"
	FlagFlagged Flag = "flagged"
)

// Gateway is the mail server seen as folders of UID-addressed messages.
// The folder argument of SetFlags, Move and DeletePermanently is the server
// mailbox the UIDs belong to (Message.IMAPFolderName). FetchFolder's folder and
// Move's target are mailbox folder names (Inbox, Trash, a user folder) that the
// implementation maps to server mailboxes.
type Gateway interface {
	FetchFolder(ctx context.Context, folder string) ([]models.Message, error)
	AppendToSent(ctx context.Context, msg models.Message) error
	SetFlags(ctx context.Context, folder string, uids []uint32, flag Flag, on bool) error
	Move(ctx context.Context, folder string, uids []uint32, target string) error
	DeletePermanently(ctx context.Context, folder string, uids []uint32) error
}

// Transport submits outgoing mail.
type Transport interface {
	Send(ctx context.Context, from models.Identity, msg models.Message) error
}

// Summarizer turns a conversation transcript into a short prose summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// uidGroup is a set of server UIDs living in one folder.
type uidGroup struct {
	folder string
	uids   []uint32
}

// groupUIDs collects the server-backed messages by folder, in folder name order.
func groupUIDs(msgs []models.Message) []uidGroup {
	byFolder := make(map[string][]uint32)
	for i := range msgs {
		if msgs[i].IMAPUID == 0 || msgs[i].IMAPFolderName == "" {
			continue
		}
		byFolder[msgs[i].IMAPFolderName] = append(byFolder[msgs[i].IMAPFolderName], msgs[i].IMAPUID)
	}

	groups := make([]uidGroup, 0, len(byFolder))
	for folder, uids := range byFolder {
		groups = append(groups, uidGroup{folder: folder, uids: uids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].folder < groups[j].folder })
	return groups
}

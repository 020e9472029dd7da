package imap

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/vdavid/webmail/internal/models"
)

// ArchiveFolder is the user folder that maps to the account's archive mailbox.
const ArchiveFolder = "Archive"

// FolderMap translates mailbox folder names to server mailbox names.
// Inbox is always INBOX; Scheduled only exists locally.
type FolderMap struct {
	Sent    string
	Drafts  string
	Trash   string
	Spam    string
	Archive string
}

// FolderMapFromSettings reads the configured server names, defaulting each to
// the mailbox folder name.
func FolderMapFromSettings(s *models.UserSettings) FolderMap {
	m := FolderMap{
		Sent:    models.FolderSent,
		Drafts:  models.FolderDrafts,
		Trash:   models.FolderTrash,
		Spam:    models.FolderSpam,
		Archive: ArchiveFolder,
	}
	if s == nil {
		return m
	}
	if s.SentFolderName != "" {
		m.Sent = s.SentFolderName
	}
	if s.DraftsFolderName != "" {
		m.Drafts = s.DraftsFolderName
	}
	if s.TrashFolderName != "" {
		m.Trash = s.TrashFolderName
	}
	if s.SpamFolderName != "" {
		m.Spam = s.SpamFolderName
	}
	if s.ArchiveFolderName != "" {
		m.Archive = s.ArchiveFolderName
	}
	return m
}

// ServerName returns the server mailbox for folder, or "" for local-only folders.
func (m FolderMap) ServerName(folder string) string {
	switch folder {
	case models.FolderInbox:
		return "INBOX"
	case models.FolderSent:
		return m.Sent
	case models.FolderDrafts:
		return m.Drafts
	case models.FolderTrash:
		return m.Trash
	case models.FolderSpam:
		return m.Spam
	case ArchiveFolder:
		return m.Archive
	case models.FolderScheduled, models.FolderStarred, "":
		return ""
	}
	return folder
}

// LocalName is the inverse of ServerName.
func (m FolderMap) LocalName(server string) string {
	switch {
	case strings.EqualFold(server, "INBOX"):
		return models.FolderInbox
	case server == m.Sent:
		return models.FolderSent
	case server == m.Drafts:
		return models.FolderDrafts
	case server == m.Trash:
		return models.FolderTrash
	case server == m.Spam:
		return models.FolderSpam
	case server == m.Archive:
		return ArchiveFolder
	}
	return server
}

// SyncedFolders are the folders fetched when a mailbox is first loaded.
func (m FolderMap) SyncedFolders() []string {
	return []string{models.FolderInbox, models.FolderSent, models.FolderDrafts, models.FolderSpam, models.FolderTrash}
}

// ListFolders lists all folders on the IMAP server.
func ListFolders(c *client.Client) ([]string, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return folders, nil
}

// folderExists reports whether the server has a mailbox called name.
func folderExists(c *client.Client, name string) (bool, error) {
	folders, err := ListFolders(c)
	if err != nil {
		return false, err
	}
	for _, f := range folders {
		if f == name || (strings.EqualFold(name, "INBOX") && strings.EqualFold(f, "INBOX")) {
			return true, nil
		}
	}
	return false, nil
}

// EnsureFolder creates the mailbox unless the server already has it.
func EnsureFolder(c *client.Client, name string) error {
	exists, err := folderExists(c, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := c.Create(name); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	return nil
}

package models

import (
	"strings"
	"time"
)

// System folder names. Every message lives in exactly one folder: one of these
// or a user folder name.
const (
	FolderInbox     = "Inbox"
	FolderSent      = "Sent"
	FolderDrafts    = "Drafts"
	FolderScheduled = "Scheduled"
	FolderTrash     = "Trash"
	FolderSpam      = "Spam"

	// FolderStarred is a virtual view. No message is ever stored in it.
	FolderStarred = "Starred"
)

// SystemFolders lists the fixed folders in display order.
var SystemFolders = []string{
	FolderInbox,
	FolderStarred,
	FolderSent,
	FolderDrafts,
	FolderScheduled,
	FolderSpam,
	FolderTrash,
}

// IsSystemFolder reports whether name is one of the fixed folders, ignoring case.
func IsSystemFolder(name string) bool {
	for _, f := range SystemFolders {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

type Folder struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	UnreadCount int    `json:"unread_count"`
	IsSystem    bool   `json:"is_system"`
}

// UserFolder is a folder the user created. Names are unique case-insensitively.
type UserFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Attachment struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type Message struct {
	ID                string       `json:"id"`
	ConversationID    string       `json:"conversation_id"`
	SenderName        string       `json:"sender_name"`
	SenderEmail       string       `json:"sender_email"`
	RecipientEmail    string       `json:"recipient_email"`
	Subject           string       `json:"subject"`
	Body              string       `json:"body"`
	Snippet           string       `json:"snippet"`
	Timestamp         time.Time    `json:"timestamp"`
	IsRead            bool         `json:"is_read"`
	IsStarred         bool         `json:"is_starred"`
	Folder            string       `json:"folder"`
	Attachments       []Attachment `json:"attachments"`
	ScheduledSendTime *time.Time   `json:"scheduled_send_time,omitempty"`

	// Location on the mail server. Zero for messages that only exist locally.
	IMAPUID        uint32 `json:"imap_uid,omitempty"`
	IMAPFolderName string `json:"imap_folder_name,omitempty"`
}

// ThreadKey returns the conversation id, falling back to the message's own id.
func (m *Message) ThreadKey() string {
	if m.ConversationID != "" {
		return m.ConversationID
	}
	return m.ID
}

// Clone returns a deep copy so callers can't alias store state.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ScheduledSendTime != nil {
		t := *m.ScheduledSendTime
		m.ScheduledSendTime = &t
	}
	return m
}

type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Conversation is derived from messages sharing a thread key. It is never stored.
type Conversation struct {
	ID             string        `json:"id"`
	Subject        string        `json:"subject"`
	Emails         []Message     `json:"emails"`
	Participants   []Participant `json:"participants"`
	LastTimestamp  time.Time     `json:"last_timestamp"`
	IsRead         bool          `json:"is_read"`
	IsStarred      bool          `json:"is_starred"`
	Folder         string        `json:"folder"`
	HasAttachments bool          `json:"has_attachments"`
}

// Latest returns the most recent message. Conversations always hold at least one.
func (c *Conversation) Latest() *Message {
	return &c.Emails[len(c.Emails)-1]
}

// ComposePayload is what the compose surface submits for drafts, sends and schedules.
type ComposePayload struct {
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
}

type PaginationInfo struct {
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
}

// ConversationsResponse is one page of a conversation list.
type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Pagination    PaginationInfo `json:"pagination"`
}

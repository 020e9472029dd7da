package mailbox

// EventType names what an Event announces.
type EventType string

const (
	// EventMailboxChanged follows every operation that changed stored messages.
	EventMailboxChanged EventType = "mailbox_changed"
	// EventNotification carries a transient, user-visible message.
	EventNotification EventType = "notification"
	EventSettingsChanged EventType = "settings_changed"
	EventFoldersChanged  EventType = "folders_changed"
	// EventDraftSaved reports the draft id an autosave produced.
	EventDraftSaved EventType = "draft_saved"
	// EventAuthFailed means the session's credentials stopped working.
	EventAuthFailed EventType = "auth_failed"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

type Event struct {
	Type      EventType `json:"type"`
	Version   uint64    `json:"version,omitempty"`
	Level     Level     `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	ComposeID string    `json:"compose_id,omitempty"`
	DraftID   string    `json:"draft_id,omitempty"`
}

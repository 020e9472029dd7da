package mailbox

import (
	"context"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/snippet"
)

// SendOptions ties an outgoing message to the draft or compose session it came from.
type SendOptions struct {
	DraftID        string
	ConversationID string
	// ComposeID cancels that compose session's pending autosave and, when
	// DraftID is empty, uses the draft the autosave created.
	ComposeID string
}

// PendingSend describes the message waiting out its undo window.
type PendingSend struct {
	Message   models.Message `json:"message"`
	CommitsAt time.Time      `json:"commits_at"`
}

// UndoResult is what the compose surface reopens with after an undo.
type UndoResult struct {
	Payload models.ComposePayload `json:"payload"`
	DraftID string                `json:"draft_id,omitempty"`
}

type pendingSend struct {
	msg     models.Message
	payload models.ComposePayload
	draft   *models.Message
}

type composeState struct {
	payload models.ComposePayload
	draftID string
}

func autosaveKey(composeID string) string {
	return "compose:" + composeID
}

// PendingSend returns the send currently inside its undo window.
func (m *Mailbox) PendingSend() (PendingSend, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return PendingSend{}, false
	}
	due, _ := m.sched.Due(m.pending.msg.ID)
	return PendingSend{Message: m.pending.msg.Clone(), CommitsAt: due}, true
}

// SaveDraft overwrites the draft with draftID, or creates a new draft when
// draftID is empty or gone. It returns the draft's id.
func (m *Mailbox) SaveDraft(ctx context.Context, payload models.ComposePayload, draftID string) (string, error) {
	var id string
	err := m.do(func() error {
		id = m.saveDraftLocked(payload, draftID)
		m.notify("Draft saved")
		return nil
	})
	return id, err
}

func (m *Mailbox) saveDraftLocked(payload models.ComposePayload, draftID string) string {
	if draftID != "" {
		if _, ok := m.store.Find(draftID); ok {
			m.sched.Cancel(draftID)
			now := m.clock.Now()
			m.store.UpdateWhere(byID(draftID), func(msg *models.Message) {
				if msg.Folder != models.FolderDrafts {
					clearServerLocation(msg)
				}
				msg.RecipientEmail = strings.TrimSpace(payload.To)
				msg.Subject = payload.Subject
				msg.Body = payload.Body
				msg.Snippet = snippet.Derive(payload.Body)
				msg.Attachments = append([]models.Attachment{}, payload.Attachments...)
				msg.Folder = models.FolderDrafts
				msg.Timestamp = now
				msg.IsRead = true
			})
			return draftID
		}
	}

	msg := m.newOutgoing(payload, "", models.FolderDrafts, false)
	if err := m.store.Insert(msg); err != nil {
		log.Printf("Mailbox: Failed to insert draft: %v", err)
	}
	return msg.ID
}

// SendEmail removes the draft (if any) and hands the message to the undo
// window. It is delivered and filed in Sent when the window expires. A send
// still pending from before is committed first.
func (m *Mailbox) SendEmail(ctx context.Context, payload models.ComposePayload, opts SendOptions) (models.Message, error) {
	var sent models.Message
	err := m.do(func() error {
		if err := validateRecipient(payload.To); err != nil {
			return m.fail("send", err)
		}

		opts = m.closeComposeLocked(opts)
		if m.pending != nil {
			m.sched.Flush(m.pending.msg.ID)
		}

		draft := m.takeDraftLocked(opts.DraftID)
		msg := m.newOutgoing(payload, conversationFor(opts, draft), models.FolderSent, true)
		m.pending = &pendingSend{msg: msg, payload: payload, draft: draft}

		m.notify("Message sent")
		m.sched.Arm(msg.ID, KindUndoSend, m.clock.Now().Add(m.undoWindow), func() {
			m.commitPendingLocked(msg.ID)
		})
		sent = msg.Clone()
		return nil
	})
	return sent, err
}

// UndoSend cancels the pending send. The draft it came from is restored.
// With nothing pending it returns nil and no error.
func (m *Mailbox) UndoSend(ctx context.Context) (*UndoResult, error) {
	var result *UndoResult
	err := m.do(func() error {
		p := m.pending
		if p == nil {
			return nil
		}
		m.sched.Cancel(p.msg.ID)
		m.pending = nil

		result = &UndoResult{Payload: p.payload}
		if p.draft != nil {
			if err := m.store.Insert(*p.draft); err != nil {
				log.Printf("Mailbox: Failed to restore draft %s: %v", p.draft.ID, err)
			} else {
				result.DraftID = p.draft.ID
			}
		}
		m.notify("Sending canceled")
		return nil
	})
	return result, err
}

// ScheduleEmail files the message in Scheduled and sends it at the given
// instant. An instant that already passed sends it immediately.
func (m *Mailbox) ScheduleEmail(ctx context.Context, payload models.ComposePayload, at time.Time, opts SendOptions) (models.Message, error) {
	var scheduled models.Message
	err := m.do(func() error {
		if err := validateRecipient(payload.To); err != nil {
			return m.fail("schedule", err)
		}
		if at.IsZero() {
			return m.fail("schedule", mailerr.Validation("send_at", "a send time is required"))
		}

		opts = m.closeComposeLocked(opts)
		draft := m.takeDraftLocked(opts.DraftID)
		msg := m.newOutgoing(payload, conversationFor(opts, draft), models.FolderScheduled, true)
		msg.ScheduledSendTime = &at
		if err := m.store.Insert(msg); err != nil {
			return m.fail("schedule", err)
		}

		fired, err := m.armScheduledLocked(msg.ID, at)
		if !fired {
			m.notify("Message scheduled for %s", at.Format(time.RFC1123))
		}

		scheduled, _ = m.store.Find(msg.ID)
		return err
	})
	return scheduled, err
}

// EditScheduled cancels a scheduled send and moves the message back to Drafts.
func (m *Mailbox) EditScheduled(ctx context.Context, id string) (models.Message, error) {
	var draft models.Message
	err := m.do(func() error {
		msg, ok := m.store.Find(id)
		if !ok {
			return mailerr.ErrNotFound
		}
		if msg.Folder != models.FolderScheduled {
			return m.fail("edit", mailerr.Validation("id", "message is not scheduled"))
		}

		m.sched.Cancel(id)
		m.store.UpdateWhere(byID(id), func(msg *models.Message) {
			msg.Folder = models.FolderDrafts
		})
		draft, _ = m.store.Find(id)
		m.notify("Scheduled send canceled, message moved to Drafts")
		return nil
	})
	return draft, err
}

// DeleteEmail removes just one message when discard is set (throwing away a
// draft); otherwise it deletes the message's whole conversation.
func (m *Mailbox) DeleteEmail(ctx context.Context, id string, discard bool) error {
	return m.do(func() error {
		msg, ok := m.store.Find(id)
		if !ok {
			return nil
		}
		if !discard {
			return m.deleteLocked(ctx, []string{msg.ThreadKey()})
		}

		if err := m.deleteOnServerLocked(ctx, []models.Message{msg}); err != nil {
			return m.fail("discard", err)
		}
		m.cancelTimersLocked([]models.Message{msg})
		m.store.RemoveWhere(byID(id))
		if msg.Folder == models.FolderDrafts {
			m.notify("Draft discarded")
		} else {
			m.notify("Message deleted")
		}
		return nil
	})
}

// AutosaveDraft records the latest compose content and saves it as a draft
// once edits pause for the autosave delay.
func (m *Mailbox) AutosaveDraft(composeID string, payload models.ComposePayload) error {
	return m.do(func() error {
		if composeID == "" {
			return m.fail("autosave", mailerr.Validation("compose_id", "compose id is required"))
		}
		cs, ok := m.compose[composeID]
		if !ok {
			cs = &composeState{}
			m.compose[composeID] = cs
		}
		cs.payload = payload

		m.sched.Arm(autosaveKey(composeID), KindAutosave, m.clock.Now().Add(m.autosaveDelay), func() {
			m.flushAutosaveLocked(composeID)
		})
		return nil
	})
}

// CloseCompose ends a compose session. With save set a pending autosave is
// written now; otherwise it is dropped. It returns the session's draft id.
func (m *Mailbox) CloseCompose(composeID string, save bool) (string, error) {
	var draftID string
	err := m.do(func() error {
		if save {
			m.sched.Flush(autosaveKey(composeID))
		} else {
			m.sched.Cancel(autosaveKey(composeID))
		}
		if cs, ok := m.compose[composeID]; ok {
			draftID = cs.draftID
			delete(m.compose, composeID)
		}
		return nil
	})
	return draftID, err
}

func (m *Mailbox) flushAutosaveLocked(composeID string) {
	cs, ok := m.compose[composeID]
	if !ok {
		return
	}
	cs.draftID = m.saveDraftLocked(cs.payload, cs.draftID)
	m.emit(Event{Type: EventDraftSaved, ComposeID: composeID, DraftID: cs.draftID})
}

// closeComposeLocked drops the compose session named in opts and fills in
// its draft id.
func (m *Mailbox) closeComposeLocked(opts SendOptions) SendOptions {
	if opts.ComposeID == "" {
		return opts
	}
	m.sched.Cancel(autosaveKey(opts.ComposeID))
	if cs, ok := m.compose[opts.ComposeID]; ok {
		if opts.DraftID == "" {
			opts.DraftID = cs.draftID
		}
		delete(m.compose, opts.ComposeID)
	}
	return opts
}

// takeDraftLocked removes the draft with id and returns it.
func (m *Mailbox) takeDraftLocked(id string) *models.Message {
	if id == "" {
		return nil
	}
	removed := m.store.RemoveWhere(func(msg *models.Message) bool {
		return msg.ID == id && msg.Folder == models.FolderDrafts
	})
	if len(removed) == 0 {
		return nil
	}
	m.sched.Cancel(id)
	d := removed[0].Clone()
	return &d
}

// armScheduledLocked reports whether the send ran right away, and its
// error when it did.
func (m *Mailbox) armScheduledLocked(id string, at time.Time) (bool, error) {
	var err error
	fired := m.sched.Arm(id, KindScheduledSend, at, func() {
		err = m.commitScheduledLocked(id)
	})
	return fired, err
}

// commitPendingLocked delivers the pending send and files it in Sent. A
// failed delivery leaves the message in Drafts.
func (m *Mailbox) commitPendingLocked(id string) {
	p := m.pending
	if p == nil || p.msg.ID != id {
		return
	}
	m.pending = nil

	ctx, cancel := context.WithTimeout(context.Background(), m.gatewayTimeout)
	defer cancel()

	msg := p.msg
	if err := m.deliverLocked(ctx, msg); err != nil {
		msg.Folder = models.FolderDrafts
		if insertErr := m.store.Insert(msg); insertErr != nil {
			log.Printf("Mailbox: Failed to keep unsent message %s: %v", msg.ID, insertErr)
		}
		_ = m.fail("send the message", err)
		return
	}

	if err := m.store.Insert(msg); err != nil {
		log.Printf("Mailbox: Failed to file sent message %s: %v", msg.ID, err)
	}
}

// commitScheduledLocked sends a scheduled message and moves it to Sent. A
// failed delivery leaves the message in Drafts.
func (m *Mailbox) commitScheduledLocked(id string) error {
	msg, ok := m.store.Find(id)
	if !ok || msg.Folder != models.FolderScheduled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.gatewayTimeout)
	defer cancel()

	now := m.clock.Now()
	msg.Folder = models.FolderSent
	msg.Timestamp = now
	if err := m.deliverLocked(ctx, msg); err != nil {
		m.store.UpdateWhere(byID(id), func(msg *models.Message) {
			msg.Folder = models.FolderDrafts
		})
		return m.fail("send the scheduled message", err)
	}

	m.store.UpdateWhere(byID(id), func(msg *models.Message) {
		msg.Folder = models.FolderSent
		msg.Timestamp = now
	})
	m.notify("Scheduled message sent")
	return nil
}

// deliverLocked submits msg and stores a copy in the server's Sent folder.
// Only the submission can fail the send.
func (m *Mailbox) deliverLocked(ctx context.Context, msg models.Message) error {
	if m.transport != nil {
		if err := m.transport.Send(ctx, m.identity, msg); err != nil {
			return err
		}
	}
	if m.gateway != nil {
		if err := m.gateway.AppendToSent(ctx, msg); err != nil {
			log.Printf("Mailbox: Warning: failed to copy message %s to Sent: %v", msg.ID, err)
		}
	}
	return nil
}

func (m *Mailbox) newOutgoing(payload models.ComposePayload, conversationID, folder string, withSignature bool) models.Message {
	id := uuid.NewString()
	if conversationID == "" {
		conversationID = id
	}

	body := payload.Body
	if withSignature && m.settings.Signature.IsEnabled && strings.TrimSpace(m.settings.Signature.Body) != "" {
		body = body + "<br><br>" + m.settings.Signature.Body
	}

	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderName:     m.identity.DisplayName,
		SenderEmail:    m.identity.EmailAddress,
		RecipientEmail: strings.TrimSpace(payload.To),
		Subject:        payload.Subject,
		Body:           body,
		Snippet:        snippet.Derive(body),
		Timestamp:      m.clock.Now(),
		IsRead:         true,
		Folder:         folder,
		Attachments:    append([]models.Attachment{}, payload.Attachments...),
	}
}

// conversationFor keeps a reply draft's thread when the caller names none.
func conversationFor(opts SendOptions, draft *models.Message) string {
	if opts.ConversationID != "" {
		return opts.ConversationID
	}
	if draft != nil && draft.ConversationID != "" && draft.ConversationID != draft.ID {
		return draft.ConversationID
	}
	return ""
}

func validateRecipient(to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return mailerr.Validation("to", "a recipient is required")
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return mailerr.Validation("to", "%q is not a valid email address", to)
	}
	return nil
}

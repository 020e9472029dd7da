package mailbox

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/snippet"
)

// ReceiveIncoming files a newly arrived message. Routing rules pick its
// folder (first match wins), the auto-responder may answer it, and the
// message is inserted last. Problems with the auto-reply never keep the
// original out of the mailbox.
func (m *Mailbox) ReceiveIncoming(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := m.do(func() error {
		now := m.clock.Now()
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Folder == "" {
			msg.Folder = models.FolderInbox
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		if msg.Snippet == "" {
			msg.Snippet = snippet.Derive(msg.Body)
		}
		if _, exists := m.store.Find(msg.ID); exists {
			stored, _ = m.store.Find(msg.ID)
			return nil
		}

		if rule, ok := matchRule(m.settings.Rules, msg.SenderEmail); ok && rule.Action.Folder != msg.Folder {
			m.routeOnServerLocked(ctx, &msg, rule.Action.Folder)
			msg.Folder = rule.Action.Folder
		}

		if reply, ok := m.autoReplyLocked(ctx, msg); ok {
			if err := m.store.Insert(reply); err != nil {
				log.Printf("Mailbox: Warning: failed to store auto-reply to %s: %v", msg.SenderEmail, err)
			}
		}

		if err := m.store.Insert(msg); err != nil {
			return err
		}
		stored, _ = m.store.Find(msg.ID)
		m.notify("New message from %s", displayName(msg))
		return nil
	})
	return stored, err
}

// matchRule returns the first usable rule whose sender condition matches.
// Malformed rules are skipped.
func matchRule(rules []models.Rule, sender string) (models.Rule, bool) {
	sender = fold(sender)
	for _, r := range rules {
		if !r.Valid() {
			continue
		}
		if strings.Contains(sender, fold(r.Condition.Value)) {
			return r, true
		}
	}
	return models.Rule{}, false
}

// routeOnServerLocked moves a server-backed message to the rule's folder.
// If the server refuses, the message is still routed locally but loses its UID.
func (m *Mailbox) routeOnServerLocked(ctx context.Context, msg *models.Message, target string) {
	if m.gateway == nil || msg.IMAPUID == 0 {
		clearServerLocation(msg)
		return
	}
	if err := m.moveOnServerLocked(ctx, []models.Message{*msg}, target); err != nil {
		log.Printf("Mailbox: Warning: failed to route message %s to %s on server: %v", msg.ID, target, err)
	}
	clearServerLocation(msg)
}

// autoReplyLocked builds and delivers the auto-response to msg, if one is due.
func (m *Mailbox) autoReplyLocked(ctx context.Context, msg models.Message) (models.Message, bool) {
	ar := m.settings.AutoResponder
	now := m.clock.Now()
	if !ar.Active(now) {
		return models.Message{}, false
	}
	if msg.SenderEmail == "" || strings.EqualFold(msg.SenderEmail, m.identity.EmailAddress) {
		return models.Message{}, false
	}

	id := uuid.NewString()
	reply := models.Message{
		ID:             id,
		ConversationID: id,
		SenderName:     m.identity.DisplayName,
		SenderEmail:    m.identity.EmailAddress,
		RecipientEmail: msg.SenderEmail,
		Subject:        ar.Subject,
		Body:           ar.Message,
		Snippet:        snippet.Derive(ar.Message),
		Timestamp:      now,
		IsRead:         true,
		Folder:         models.FolderSent,
		Attachments:    []models.Attachment{},
	}

	gctx, cancel := m.gatewayContext(ctx)
	defer cancel()
	if err := m.deliverLocked(gctx, reply); err != nil {
		log.Printf("Mailbox: Warning: auto-reply to %s was not delivered: %v", msg.SenderEmail, err)
	}
	return reply, true
}

func displayName(msg models.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderEmail
}

package mailbox

import (
	"context"

	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
)

// ToggleStar flips the star of one message when emailID is set. Without
// emailID it inverts the conversation's aggregate star and applies the new
// value to every message, so toggling twice restores the original state.
func (m *Mailbox) ToggleStar(ctx context.Context, conversationID, emailID string) error {
	return m.do(func() error {
		conv, ok := m.view.find(m.store, conversationID)
		if !ok {
			return nil
		}

		var targets []models.Message
		var on bool
		if emailID != "" {
			for i := range conv.Emails {
				if conv.Emails[i].ID == emailID {
					targets = append(targets, conv.Emails[i].Clone())
				}
			}
			if len(targets) == 0 {
				return nil
			}
			on = !targets[0].IsStarred
		} else {
			on = !conv.IsStarred
			for i := range conv.Emails {
				if conv.Emails[i].IsStarred != on {
					targets = append(targets, conv.Emails[i].Clone())
				}
			}
		}

		if err := m.setFlagsLocked(ctx, targets, FlagFlagged, on); err != nil {
			return m.fail("update the star", err)
		}

		m.store.UpdateWhere(inIDs(idsOf(targets)), func(msg *models.Message) {
			msg.IsStarred = on
		})
		if on {
			m.notify("Conversation starred")
		} else {
			m.notify("Star removed")
		}
		return nil
	})
}

// MarkRead marks every message of the conversation read.
func (m *Mailbox) MarkRead(ctx context.Context, conversationID string) error {
	return m.do(func() error {
		return m.setReadLocked(ctx, []string{conversationID}, true)
	})
}

// MarkUnread marks every message of the conversation unread.
func (m *Mailbox) MarkUnread(ctx context.Context, conversationID string) error {
	return m.do(func() error {
		return m.setReadLocked(ctx, []string{conversationID}, false)
	})
}

// DeleteConversation moves the conversation to Trash and marks it read, or
// removes it for good when it is already in Trash.
func (m *Mailbox) DeleteConversation(ctx context.Context, conversationID string) error {
	return m.do(func() error {
		return m.deleteLocked(ctx, []string{conversationID})
	})
}

// MoveConversations moves every message of the named conversations to
// target. Scheduled sends among them are canceled and the moved
// conversations leave the selection.
func (m *Mailbox) MoveConversations(ctx context.Context, conversationIDs []string, target string) error {
	return m.do(func() error {
		return m.moveLocked(ctx, conversationIDs, target)
	})
}

// BulkMarkAsSpam moves the selected conversations to Spam.
func (m *Mailbox) BulkMarkAsSpam(ctx context.Context) error {
	return m.do(func() error {
		return m.bulkLocked(func(ids []string) error {
			return m.moveLocked(ctx, ids, models.FolderSpam)
		})
	})
}

// BulkDelete deletes the selected conversations as DeleteConversation would.
func (m *Mailbox) BulkDelete(ctx context.Context) error {
	return m.do(func() error {
		return m.bulkLocked(func(ids []string) error {
			return m.deleteLocked(ctx, ids)
		})
	})
}

func (m *Mailbox) BulkMarkAsRead(ctx context.Context) error {
	return m.do(func() error {
		return m.bulkLocked(func(ids []string) error {
			return m.setReadLocked(ctx, ids, true)
		})
	})
}

func (m *Mailbox) BulkMarkAsUnread(ctx context.Context) error {
	return m.do(func() error {
		return m.bulkLocked(func(ids []string) error {
			return m.setReadLocked(ctx, ids, false)
		})
	})
}

// bulkLocked applies fn to the selection and clears it when fn succeeds.
func (m *Mailbox) bulkLocked(fn func(ids []string) error) error {
	if len(m.selection) == 0 {
		return nil
	}
	ids := append([]string(nil), m.selection...)
	if err := fn(ids); err != nil {
		return err
	}
	m.selection = nil
	return nil
}

func (m *Mailbox) setReadLocked(ctx context.Context, conversationIDs []string, read bool) error {
	keys := m.existingThreads(conversationIDs)
	if len(keys) == 0 {
		return nil
	}

	targets := m.store.Select(func(msg *models.Message) bool {
		return keys[msg.ThreadKey()] && msg.IsRead != read
	})
	if len(targets) == 0 {
		return nil
	}

	if err := m.setFlagsLocked(ctx, targets, FlagSeen, read); err != nil {
		if read {
			return m.fail("mark as read", err)
		}
		return m.fail("mark as unread", err)
	}

	m.store.UpdateWhere(inIDs(idsOf(targets)), func(msg *models.Message) {
		msg.IsRead = read
	})
	if read {
		m.notify("%s marked as read", plural(len(keys), "conversation"))
	} else {
		m.notify("%s marked as unread", plural(len(keys), "conversation"))
	}
	return nil
}

// deleteLocked soft-deletes conversations outside Trash and hard-deletes
// the ones already in it, in a single pass.
func (m *Mailbox) deleteLocked(ctx context.Context, conversationIDs []string) error {
	keys := m.existingThreads(conversationIDs)
	if len(keys) == 0 {
		return nil
	}

	purge := make(map[string]bool)
	trash := make(map[string]bool)
	for key := range keys {
		conv, _ := m.view.find(m.store, key)
		if conv.Folder == models.FolderTrash {
			purge[key] = true
		} else {
			trash[key] = true
		}
	}

	purged := m.store.Select(inThreads(purge))
	trashed := m.store.Select(inThreads(trash))

	if err := m.deleteOnServerLocked(ctx, purged); err != nil {
		return m.fail("delete the conversation", err)
	}
	if err := m.moveOnServerLocked(ctx, trashed, models.FolderTrash); err != nil {
		return m.fail("move the conversation to Trash", err)
	}

	m.cancelTimersLocked(purged)
	m.cancelTimersLocked(trashed)
	m.store.RemoveWhere(inThreads(purge))
	m.store.UpdateWhere(inThreads(trash), func(msg *models.Message) {
		if msg.Folder != models.FolderTrash {
			msg.Folder = models.FolderTrash
			clearServerLocation(msg)
		}
		msg.IsRead = true
	})
	m.deselectLocked(keys)

	switch {
	case len(purge) > 0 && len(trash) == 0:
		m.notify("%s deleted permanently", plural(len(purge), "conversation"))
	case len(purge) == 0:
		m.notify("%s moved to Trash", plural(len(trash), "conversation"))
	default:
		m.notify("%s moved to Trash, %d deleted permanently", plural(len(trash), "conversation"), len(purge))
	}
	return nil
}

func (m *Mailbox) moveLocked(ctx context.Context, conversationIDs []string, target string) error {
	if !m.knownFolderLocked(target) {
		return m.fail("move", mailerr.Validation("folder", "cannot move messages to %q", target))
	}

	keys := m.existingThreads(conversationIDs)
	if len(keys) == 0 {
		return nil
	}

	moving := m.store.Select(func(msg *models.Message) bool {
		return keys[msg.ThreadKey()] && msg.Folder != target
	})
	if err := m.moveOnServerLocked(ctx, moving, target); err != nil {
		return m.fail("move", err)
	}

	m.cancelTimersLocked(moving)
	m.store.UpdateWhere(inIDs(idsOf(moving)), func(msg *models.Message) {
		msg.Folder = target
		clearServerLocation(msg)
	})
	m.deselectLocked(keys)
	m.notify("%s moved to %s", plural(len(keys), "conversation"), target)
	return nil
}

// existingThreads filters ids down to conversations that still exist.
func (m *Mailbox) existingThreads(ids []string) map[string]bool {
	keys := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.view.find(m.store, id); ok {
			keys[id] = true
		}
	}
	return keys
}

// cancelTimersLocked stops any deferred action owned by msgs so a stale
// timer can't resurrect a moved or deleted message. A compose session whose
// draft is among msgs loses its pending autosave and starts a new draft on
// the next edit.
func (m *Mailbox) cancelTimersLocked(msgs []models.Message) {
	ids := make(map[string]bool, len(msgs))
	for i := range msgs {
		m.sched.Cancel(msgs[i].ID)
		ids[msgs[i].ID] = true
	}
	for composeID, cs := range m.compose {
		if cs.draftID != "" && ids[cs.draftID] {
			m.sched.Cancel(autosaveKey(composeID))
			cs.draftID = ""
		}
	}
}

func (m *Mailbox) setFlagsLocked(ctx context.Context, msgs []models.Message, flag Flag, on bool) error {
	if m.gateway == nil {
		return nil
	}
	ctx, cancel := m.gatewayContext(ctx)
	defer cancel()

	for _, g := range groupUIDs(msgs) {
		if err := m.gateway.SetFlags(ctx, g.folder, g.uids, flag, on); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mailbox) moveOnServerLocked(ctx context.Context, msgs []models.Message, target string) error {
	if m.gateway == nil {
		return nil
	}
	ctx, cancel := m.gatewayContext(ctx)
	defer cancel()

	for _, g := range groupUIDs(msgs) {
		if g.folder == target {
			continue
		}
		if err := m.gateway.Move(ctx, g.folder, g.uids, target); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mailbox) deleteOnServerLocked(ctx context.Context, msgs []models.Message) error {
	if m.gateway == nil {
		return nil
	}
	ctx, cancel := m.gatewayContext(ctx)
	defer cancel()

	for _, g := range groupUIDs(msgs) {
		if err := m.gateway.DeletePermanently(ctx, g.folder, g.uids); err != nil {
			return err
		}
	}
	return nil
}

// clearServerLocation forgets the UID of a message that left its server folder.
func clearServerLocation(msg *models.Message) {
	msg.IMAPUID = 0
	msg.IMAPFolderName = ""
}

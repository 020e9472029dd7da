package mailbox

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
)

// CreateFolder adds a user folder. Names are trimmed and must be unique
// ignoring case, including against the system folders.
func (m *Mailbox) CreateFolder(name string) (models.UserFolder, error) {
	var folder models.UserFolder
	err := m.do(func() error {
		name = strings.TrimSpace(name)
		if err := m.validateFolderNameLocked(name, ""); err != nil {
			return m.fail("create the folder", err)
		}

		folder = models.UserFolder{ID: uuid.NewString(), Name: name}
		m.folders = append(m.folders, folder)
		m.emit(Event{Type: EventFoldersChanged})
		m.notify("Folder %q created", name)
		return nil
	})
	return folder, err
}

// RenameFolder renames a user folder and carries its messages and the rules
// pointing at it along.
func (m *Mailbox) RenameFolder(id, name string) (models.UserFolder, error) {
	var folder models.UserFolder
	err := m.do(func() error {
		i, ok := m.userFolderLocked(id)
		if !ok {
			return mailerr.ErrNotFound
		}
		name = strings.TrimSpace(name)
		if err := m.validateFolderNameLocked(name, id); err != nil {
			return m.fail("rename the folder", err)
		}

		old := m.folders[i].Name
		m.folders[i].Name = name
		folder = m.folders[i]

		m.store.UpdateWhere(func(msg *models.Message) bool { return msg.Folder == old }, func(msg *models.Message) {
			msg.Folder = name
		})
		if m.retargetRulesLocked(old, name) {
			m.emit(Event{Type: EventSettingsChanged})
		}
		m.emit(Event{Type: EventFoldersChanged})
		m.notify("Folder renamed to %q", name)
		return nil
	})
	return folder, err
}

// DeleteFolder removes a user folder. Its messages move to FallbackFolder
// and rules routing into it are dropped.
func (m *Mailbox) DeleteFolder(ctx context.Context, id string) error {
	return m.do(func() error {
		i, ok := m.userFolderLocked(id)
		if !ok {
			return nil
		}
		name := m.folders[i].Name

		members := m.store.Select(func(msg *models.Message) bool { return msg.Folder == name })
		if err := m.moveOnServerLocked(ctx, members, FallbackFolder); err != nil {
			return m.fail("delete the folder", err)
		}

		m.cancelTimersLocked(members)
		m.store.UpdateWhere(inIDs(idsOf(members)), func(msg *models.Message) {
			msg.Folder = FallbackFolder
			clearServerLocation(msg)
		})
		m.folders = append(m.folders[:i:i], m.folders[i+1:]...)
		if m.retargetRulesLocked(name, "") {
			m.emit(Event{Type: EventSettingsChanged})
		}

		m.emit(Event{Type: EventFoldersChanged})
		m.notify("Folder %q deleted, %s moved to %s", name, plural(len(members), "message"), FallbackFolder)
		return nil
	})
}

func (m *Mailbox) validateFolderNameLocked(name, exceptID string) error {
	if name == "" {
		return mailerr.Validation("name", "folder name cannot be empty")
	}
	if models.IsSystemFolder(name) {
		return mailerr.Validation("name", "%q is a reserved folder name", name)
	}
	needle := fold(name)
	for _, f := range m.folders {
		if f.ID != exceptID && fold(f.Name) == needle {
			return mailerr.Validation("name", "a folder named %q already exists", f.Name)
		}
	}
	return nil
}

// retargetRulesLocked points rules at folder from to folder to, or drops them
// when to is empty. It reports whether any rule changed.
func (m *Mailbox) retargetRulesLocked(from, to string) bool {
	changed := false
	rules := m.settings.Rules[:0:0]
	for _, r := range m.settings.Rules {
		if r.Action.Folder == from {
			changed = true
			if to == "" {
				continue
			}
			r.Action.Folder = to
		}
		rules = append(rules, r)
	}
	m.settings.Rules = rules
	return changed
}

// UpdateSettings validates and stores new settings. Rules without an id get one.
func (m *Mailbox) UpdateSettings(s models.AppSettings) (models.AppSettings, error) {
	var saved models.AppSettings
	err := m.do(func() error {
		s = s.Clone()
		for i := range s.Rules {
			r := &s.Rules[i]
			r.Condition.Value = strings.TrimSpace(r.Condition.Value)
			r.Action.Folder = strings.TrimSpace(r.Action.Folder)
			if !r.Valid() {
				return m.fail("save the settings", mailerr.Validation("rules", "rule %d needs a sender value and a target folder", i+1))
			}
			if r.Action.Folder == models.FolderStarred || r.Action.Folder == models.FolderScheduled {
				return m.fail("save the settings", mailerr.Validation("rules", "rule %d cannot route into %s", i+1, r.Action.Folder))
			}
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
		}
		ar := s.AutoResponder
		if ar.StartDate != nil && ar.EndDate != nil && ar.EndDate.Before(*ar.StartDate) {
			return m.fail("save the settings", mailerr.Validation("auto_responder", "end date is before start date"))
		}

		m.settings = s
		saved = s.Clone()
		m.emit(Event{Type: EventSettingsChanged})
		m.notify("Settings saved")
		return nil
	})
	return saved, err
}

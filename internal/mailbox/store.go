package mailbox

import (
	"errors"
	"fmt"

	"github.com/vdavid/webmail/internal/models"
)

// ErrDuplicateID is returned when an insert would create a second message with an existing id.
var ErrDuplicateID = errors.New("duplicate message id")

// Store is the flat, ordered set of messages every view is derived from.
// Newest inserts come first. A Store is not safe for concurrent use; the
// Mailbox owning it serializes access.
type Store struct {
	msgs    []models.Message
	version uint64
}

func NewStore() *Store {
	return &Store{}
}

// Version increments on every effective change.
func (s *Store) Version() uint64 {
	return s.version
}

func (s *Store) Len() int {
	return len(s.msgs)
}

// Get returns a copy of all messages in store order.
func (s *Store) Get() []models.Message {
	out := make([]models.Message, len(s.msgs))
	for i := range s.msgs {
		out[i] = s.msgs[i].Clone()
	}
	return out
}

// Find returns a copy of the message with the given id.
func (s *Store) Find(id string) (models.Message, bool) {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return s.msgs[i].Clone(), true
		}
	}
	return models.Message{}, false
}

// Select returns copies of every message matching pred, in store order.
func (s *Store) Select(pred func(*models.Message) bool) []models.Message {
	var out []models.Message
	for i := range s.msgs {
		if pred(&s.msgs[i]) {
			out = append(out, s.msgs[i].Clone())
		}
	}
	return out
}

// Insert prepends msgs in the given order, so the last one ends up first.
// Either all are inserted or, on an id collision, none are.
func (s *Store) Insert(msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(s.msgs)+len(msgs))
	for i := range s.msgs {
		seen[s.msgs[i].ID] = true
	}
	for i := range msgs {
		if msgs[i].ID == "" {
			return fmt.Errorf("failed to insert message: empty id")
		}
		if seen[msgs[i].ID] {
			return fmt.Errorf("failed to insert message %s: %w", msgs[i].ID, ErrDuplicateID)
		}
		seen[msgs[i].ID] = true
	}

	next := make([]models.Message, 0, len(s.msgs)+len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i].Clone()
		normalize(&m)
		next = append(next, m)
	}
	s.msgs = append(next, s.msgs...)
	s.version++
	return nil
}

// UpdateWhere applies patch to every message matching pred and returns how
// many were touched. Patches cannot change a message's id.
func (s *Store) UpdateWhere(pred func(*models.Message) bool, patch func(*models.Message)) int {
	n := 0
	for i := range s.msgs {
		if !pred(&s.msgs[i]) {
			continue
		}
		id := s.msgs[i].ID
		patch(&s.msgs[i])
		s.msgs[i].ID = id
		normalize(&s.msgs[i])
		n++
	}
	if n > 0 {
		s.version++
	}
	return n
}

// RemoveWhere deletes every message matching pred and returns the removed messages.
func (s *Store) RemoveWhere(pred func(*models.Message) bool) []models.Message {
	var removed []models.Message
	kept := s.msgs[:0:0]
	for i := range s.msgs {
		if pred(&s.msgs[i]) {
			removed = append(removed, s.msgs[i])
			continue
		}
		kept = append(kept, s.msgs[i])
	}
	if len(removed) > 0 {
		s.msgs = kept
		s.version++
	}
	return removed
}

// Replace swaps the whole contents, used when a session restores its snapshot.
func (s *Store) Replace(msgs []models.Message) error {
	seen := make(map[string]bool, len(msgs))
	next := make([]models.Message, 0, len(msgs))
	for i := range msgs {
		if seen[msgs[i].ID] {
			return fmt.Errorf("failed to replace store: %s: %w", msgs[i].ID, ErrDuplicateID)
		}
		seen[msgs[i].ID] = true
		m := msgs[i].Clone()
		normalize(&m)
		next = append(next, m)
	}
	s.msgs = next
	s.version++
	return nil
}

// normalize keeps folder and scheduled time coupled.
func normalize(m *models.Message) {
	if m.Folder != models.FolderScheduled {
		m.ScheduledSendTime = nil
	}
}

func byID(id string) func(*models.Message) bool {
	return func(m *models.Message) bool { return m.ID == id }
}

func inThread(key string) func(*models.Message) bool {
	return func(m *models.Message) bool { return m.ThreadKey() == key }
}

func inThreads(keys map[string]bool) func(*models.Message) bool {
	return func(m *models.Message) bool { return keys[m.ThreadKey()] }
}

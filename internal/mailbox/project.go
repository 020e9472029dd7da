package mailbox

import (
	"sort"

	"github.com/vdavid/webmail/internal/models"
)

// Project groups messages into conversations by thread key. Conversations come
// out in the order their first message appears in the input. It has no side
// effects and the input slice is not modified.
func Project(messages []models.Message) []models.Conversation {
	var order []string
	groups := make(map[string][]models.Message)
	for i := range messages {
		key := messages[i].ThreadKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], messages[i].Clone())
	}

	convs := make([]models.Conversation, 0, len(order))
	for _, key := range order {
		convs = append(convs, buildConversation(key, groups[key]))
	}
	return convs
}

func buildConversation(id string, emails []models.Message) models.Conversation {
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].Timestamp.Before(emails[j].Timestamp)
	})

	latest := emails[len(emails)-1]
	c := models.Conversation{
		ID:            id,
		Subject:       latest.Subject,
		Emails:        emails,
		LastTimestamp: latest.Timestamp,
		Folder:        latest.Folder,
		IsRead:        true,
	}

	seen := make(map[models.Participant]bool)
	for i := range emails {
		e := &emails[i]
		if !e.IsRead {
			c.IsRead = false
		}
		if e.IsStarred {
			c.IsStarred = true
		}
		if len(e.Attachments) > 0 {
			c.HasAttachments = true
		}
		p := models.Participant{Name: e.SenderName, Email: e.SenderEmail}
		if !seen[p] {
			seen[p] = true
			c.Participants = append(c.Participants, p)
		}
	}
	return c
}

// projection caches Project output for one store version.
type projection struct {
	version uint64
	valid   bool
	convs   []models.Conversation
	byID    map[string]int
}

func (p *projection) get(s *Store) []models.Conversation {
	if !p.valid || p.version != s.Version() {
		p.convs = Project(s.msgs)
		p.byID = make(map[string]int, len(p.convs))
		for i := range p.convs {
			p.byID[p.convs[i].ID] = i
		}
		p.version = s.Version()
		p.valid = true
	}
	return p.convs
}

func (p *projection) find(s *Store, id string) (*models.Conversation, bool) {
	convs := p.get(s)
	i, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	return &convs[i], true
}

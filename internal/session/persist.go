package session

import (
	"context"
	"log"
	"time"

	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/mailbox"
)

const saveTimeout = 10 * time.Second

// persister writes the mailbox back to the repository in the background.
// Bursts of changes collapse into one save of the latest state.
type persister struct {
	repo   db.Repository
	userID string
	mb     *mailbox.Mailbox

	messages chan struct{}
	settings chan struct{}
	folders  chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

func newPersister(repo db.Repository, userID string, mb *mailbox.Mailbox) *persister {
	p := &persister{
		repo:     repo,
		userID:   userID,
		mb:       mb,
		messages: make(chan struct{}, 1),
		settings: make(chan struct{}, 1),
		folders:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// observe marks what an event changed.
func (p *persister) observe(e mailbox.Event) {
	switch e.Type {
	case mailbox.EventMailboxChanged:
		signal(p.messages)
	case mailbox.EventSettingsChanged:
		signal(p.settings)
	case mailbox.EventFoldersChanged:
		signal(p.folders)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.messages:
			p.saveMessages()
		case <-p.settings:
			p.saveSettings()
		case <-p.folders:
			p.saveFolders()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

// drain writes whatever is still marked dirty.
func (p *persister) drain() {
	for {
		select {
		case <-p.messages:
			p.saveMessages()
		case <-p.settings:
			p.saveSettings()
		case <-p.folders:
			p.saveFolders()
		default:
			return
		}
	}
}

// close flushes pending saves and waits for the writer to finish.
func (p *persister) close() {
	close(p.stop)
	<-p.done
}

func (p *persister) saveMessages() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := p.repo.SaveMailbox(ctx, p.userID, p.mb.Messages()); err != nil {
		log.Printf("SessionManager: Warning: failed to save mailbox for user %s: %v", p.userID, err)
	}
}

func (p *persister) saveSettings() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := p.repo.SaveAppSettings(ctx, p.userID, p.mb.Settings()); err != nil {
		log.Printf("SessionManager: Warning: failed to save app settings for user %s: %v", p.userID, err)
	}
}

func (p *persister) saveFolders() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := p.repo.SaveUserFolders(ctx, p.userID, p.mb.UserFolders()); err != nil {
		log.Printf("SessionManager: Warning: failed to save folders for user %s: %v", p.userID, err)
	}
}

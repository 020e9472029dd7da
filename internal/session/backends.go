package session

import (
	"context"
	"fmt"

	"github.com/vdavid/webmail/internal/crypto"
	"github.com/vdavid/webmail/internal/imap"
	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/smtp"
)

// DeliverFunc hands a newly arrived message to the session's mailbox.
type DeliverFunc func(ctx context.Context, msg models.Message) error

// Backends are the mail-server collaborators of one session.
type Backends struct {
	Gateway   mailbox.Gateway
	Transport mailbox.Transport
	// SyncFolders are fetched through the gateway when no snapshot exists.
	SyncFolders []string
	// Listen reports Inbox mail with UID >= from until ctx ends. Nil means
	// the session never hears about new mail on its own.
	Listen func(ctx context.Context, from uint32, deliver DeliverFunc)
}

// BackendFactory builds the backends for a user's stored account settings.
type BackendFactory func(settings *models.UserSettings, identity models.Identity) (*Backends, error)

// MailBackends connects sessions to their IMAP and SMTP accounts. IMAP
// connections are borrowed from pool; passwords are decrypted with enc.
func MailBackends(pool imap.ClientPool, enc *crypto.Encryptor) BackendFactory {
	return func(settings *models.UserSettings, identity models.Identity) (*Backends, error) {
		imapPassword, smtpPassword, err := enc.DecryptMailPasswords(settings)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt mail passwords: %w", err)
		}

		creds := imap.Credentials{
			UserID:   identity.UserID,
			Server:   settings.IMAPServerHostname,
			Username: settings.IMAPUsername,
			Password: imapPassword,
		}
		smtpUsername := settings.SMTPUsername
		if smtpUsername == "" {
			smtpUsername = settings.IMAPUsername
		}

		folders := imap.FolderMapFromSettings(settings)
		gateway := imap.NewGateway(pool, creds, folders, identity)

		return &Backends{
			Gateway:     gateway,
			Transport:   smtp.NewSender(settings.SMTPServerHostname, smtpUsername, smtpPassword),
			SyncFolders: folders.SyncedFolders(),
			Listen: func(ctx context.Context, from uint32, deliver DeliverFunc) {
				listener := imap.NewListener(pool, gateway, imap.Sink(deliver))
				listener.NextUID = from
				listener.Run(ctx)
			},
		}, nil
	}
}

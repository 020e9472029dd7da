package imap

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/rfc822"
)

var tracer = otel.Tracer("github.com/vdavid/webmail/internal/imap")

// Gateway is the mailbox.Gateway of one user's IMAP account.
// Source folder arguments of SetFlags, Move and DeletePermanently are server
// mailbox names (as recorded in Message.IMAPFolderName); every other folder
// argument is a mailbox folder name and goes through the FolderMap.
type Gateway struct {
	pool     ClientPool
	creds    Credentials
	folders  FolderMap
	identity models.Identity
}

var _ mailbox.Gateway = (*Gateway)(nil)

// NewGateway creates a gateway that borrows connections from pool.
func NewGateway(pool ClientPool, creds Credentials, folders FolderMap, identity models.Identity) *Gateway {
	return &Gateway{
		pool:     pool,
		creds:    creds,
		folders:  folders,
		identity: identity,
	}
}

// Folders returns the folder mapping in use.
func (g *Gateway) Folders() FolderMap {
	return g.folders
}

// run opens a span, runs fn on a pooled connection and classifies the error.
func (g *Gateway) run(ctx context.Context, op, folder string, fn func(c *client.Client) error) error {
	ctx, span := tracer.Start(ctx, "imap."+op, trace.WithAttributes(
		attribute.String("imap.folder", folder),
	))
	defer span.End()

	err := g.pool.WithClient(ctx, g.creds, fn)
	if err == nil {
		return nil
	}

	err = mailerr.Classify(op, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if mailerr.IsAuthentication(err) {
		g.pool.RemoveClient(g.creds.UserID)
	}
	return err
}

// FetchFolder returns every message of a mailbox folder. Local-only folders
// and folders missing on the server are empty.
func (g *Gateway) FetchFolder(ctx context.Context, folder string) ([]models.Message, error) {
	server := g.folders.ServerName(folder)
	if server == "" {
		return []models.Message{}, nil
	}

	var out []models.Message
	err := g.run(ctx, "fetch folder", server, func(c *client.Client) error {
		exists, err := folderExists(c, server)
		if err != nil {
			return err
		}
		if !exists {
			out = []models.Message{}
			return nil
		}

		mbox, err := c.Select(server, true)
		if err != nil {
			return fmt.Errorf("failed to select folder %s: %w", server, err)
		}
		if mbox.Messages == 0 {
			out = []models.Message{}
			return nil
		}

		uids, err := searchUIDs(c)
		if err != nil {
			return err
		}

		var roots map[uint32]uint32
		if supportsThread(c) {
			threads, err := RunThreadCommand(c)
			if err != nil {
				log.Printf("IMAP gateway: THREAD failed for %s, using references: %v", server, err)
			} else {
				roots = threadRoots(threads)
			}
		}

		fetched, err := FetchMessages(c, uids)
		if err != nil {
			return err
		}

		out, err = g.parseAll(fetched, folder, server, roots)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("IMAP gateway: Fetched %d messages from %s for user %s", len(out), server, g.creds.UserID)
	return out, nil
}

// parseAll converts fetched messages. With THREAD results, each message joins
// the conversation of its thread root.
func (g *Gateway) parseAll(fetched []*imap.Message, folder, server string, roots map[uint32]uint32) ([]models.Message, error) {
	out := make([]models.Message, 0, len(fetched))
	idByUID := make(map[uint32]string, len(fetched))
	for _, f := range fetched {
		msg, err := ParseMessage(f, folder, server)
		if err != nil {
			log.Printf("IMAP gateway: Warning: skipping UID %d in %s: %v", f.Uid, server, err)
			continue
		}
		idByUID[f.Uid] = msg.ID
		out = append(out, *msg)
	}

	if roots != nil {
		for i := range out {
			if root, ok := roots[out[i].IMAPUID]; ok {
				if rootID, ok := idByUID[root]; ok {
					out[i].ConversationID = rootID
				}
			}
		}
	}
	return out, nil
}

// FetchNew returns the messages of a server folder with UID >= from.
func (g *Gateway) FetchNew(ctx context.Context, server string, from uint32) ([]models.Message, error) {
	var out []models.Message
	err := g.run(ctx, "fetch new", server, func(c *client.Client) error {
		if _, err := c.Select(server, true); err != nil {
			return fmt.Errorf("failed to select folder %s: %w", server, err)
		}
		uids, err := searchUIDsFrom(c, from)
		if err != nil {
			return err
		}
		fetched, err := FetchMessages(c, uids)
		if err != nil {
			return err
		}
		out, err = g.parseAll(fetched, g.folders.LocalName(server), server, nil)
		return err
	})
	return out, err
}

// AppendToSent stores a copy of a sent message in the server's Sent folder.
func (g *Gateway) AppendToSent(ctx context.Context, msg models.Message) error {
	server := g.folders.ServerName(models.FolderSent)
	raw, err := rfc822.Build(g.identity, msg)
	if err != nil {
		return err
	}

	return g.run(ctx, "append to sent", server, func(c *client.Client) error {
		if err := EnsureFolder(c, server); err != nil {
			return err
		}
		date := msg.Timestamp
		if date.IsZero() {
			date = time.Now()
		}
		if err := c.Append(server, []string{imap.SeenFlag}, date, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("failed to append to %s: %w", server, err)
		}
		return nil
	})
}

// SetFlags adds or removes \Seen or \Flagged on uids.
func (g *Gateway) SetFlags(ctx context.Context, folder string, uids []uint32, flag mailbox.Flag, on bool) error {
	if len(uids) == 0 {
		return nil
	}

	var imapFlag string
	switch flag {
	case mailbox.FlagSeen:
		imapFlag = imap.SeenFlag
	case mailbox.FlagFlagged:
		imapFlag = imap.FlaggedFlag
	default:
		return fmt.Errorf("unknown flag %q", flag)
	}

	op := imap.RemoveFlags
	if on {
		op = imap.AddFlags
	}

	return g.run(ctx, "set flags", folder, func(c *client.Client) error {
		if _, err := c.Select(folder, false); err != nil {
			return fmt.Errorf("failed to select folder %s: %w", folder, err)
		}
		item := imap.FormatFlagsOp(imap.FlagsOp(op), true)
		if err := c.UidStore(uidSet(uids), item, []interface{}{imapFlag}, nil); err != nil {
			return fmt.Errorf("failed to store flags: %w", err)
		}
		return nil
	})
}

// Move moves uids from a server folder to a mailbox folder, creating the
// target mailbox when needed.
func (g *Gateway) Move(ctx context.Context, folder string, uids []uint32, target string) error {
	dest := g.folders.ServerName(target)
	if len(uids) == 0 || dest == "" || dest == folder {
		return nil
	}

	return g.run(ctx, "move", folder, func(c *client.Client) error {
		if err := EnsureFolder(c, dest); err != nil {
			return err
		}
		if _, err := c.Select(folder, false); err != nil {
			return fmt.Errorf("failed to select folder %s: %w", folder, err)
		}

		seqSet := uidSet(uids)
		err := c.UidMove(seqSet, dest)
		if err == nil {
			return nil
		}
		if !strings.Contains(strings.ToLower(err.Error()), "not supported") {
			return fmt.Errorf("failed to move to %s: %w", dest, err)
		}

		// The server advertises MOVE without implementing it.
		if err := c.UidCopy(seqSet, dest); err != nil {
			return fmt.Errorf("failed to copy to %s: %w", dest, err)
		}
		return expungeUIDs(c, seqSet)
	})
}

// DeletePermanently flags uids \Deleted and expunges them.
func (g *Gateway) DeletePermanently(ctx context.Context, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	return g.run(ctx, "delete permanently", folder, func(c *client.Client) error {
		if _, err := c.Select(folder, false); err != nil {
			return fmt.Errorf("failed to select folder %s: %w", folder, err)
		}
		return expungeUIDs(c, uidSet(uids))
	})
}

func expungeUIDs(c *client.Client, seqSet *imap.SeqSet) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("failed to flag messages deleted: %w", err)
	}
	if err := c.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}
	return nil
}

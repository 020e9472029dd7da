// Package smtp submits outgoing mail through the user's SMTP server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/rfc822"
)

const dialTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/vdavid/webmail/internal/smtp")

// Sender is the mailbox.Transport of one SMTP account.
type Sender struct {
	server   string
	username string
	password string
}

var _ mailbox.Transport = (*Sender)(nil)

// NewSender creates a sender for server (host:port).
func NewSender(server, username, password string) *Sender {
	return &Sender{
		server:   server,
		username: username,
		password: password,
	}
}

// useTLS is false only in test mode, where the in-memory server speaks plain SMTP.
func useTLS() bool {
	return os.Getenv("VMAIL_TEST_MODE") != "true"
}

// Send renders msg as MIME and submits it to msg.RecipientEmail.
func (s *Sender) Send(ctx context.Context, from models.Identity, msg models.Message) error {
	if msg.RecipientEmail == "" {
		return mailerr.Validation("recipient_email", "recipient is required")
	}

	ctx, span := tracer.Start(ctx, "smtp.send", trace.WithAttributes(
		attribute.String("smtp.server", s.server),
	))
	defer span.End()

	err := s.send(ctx, from, msg)
	if err != nil {
		err = mailerr.Classify("send", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("SMTP: Failed to send message %s for user %s: %v", msg.ID, from.UserID, err)
		return err
	}
	return nil
}

func (s *Sender) send(ctx context.Context, from models.Identity, msg models.Message) error {
	raw, err := rfc822.Build(from, msg)
	if err != nil {
		return err
	}

	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		c.CommandTimeout = remaining
		c.SubmissionTimeout = remaining
	}

	if err := c.Hello("localhost"); err != nil {
		return fmt.Errorf("failed to greet server: %w", err)
	}
	if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if err := c.SendMail(from.EmailAddress, []string{msg.RecipientEmail}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	if err := c.Quit(); err != nil {
		log.Printf("SMTP: Warning: QUIT failed after sending %s: %v", msg.ID, err)
	}

	log.Printf("SMTP: Sent message %s for user %s", msg.ID, from.UserID)
	return nil
}

// dial opens the connection, over TLS unless in test mode.
func (s *Sender) dial(ctx context.Context) (*gosmtp.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	if useTLS() {
		host, _, err := net.SplitHostPort(s.server)
		if err != nil {
			host = s.server
		}
		conn = tls.Client(conn, &tls.Config{ServerName: host})
	}

	return gosmtp.NewClient(conn), nil
}

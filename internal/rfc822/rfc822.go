// Package rfc822 converts between mailbox messages and MIME wire format.
package rfc822

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/vdavid/webmail/internal/models"
	"github.com/vdavid/webmail/internal/snippet"
)

// NoSubject stands in for an empty subject on the wire.
const NoSubject = "(no subject)"

// Content is what the mailbox keeps from a parsed MIME message.
type Content struct {
	HTML        string
	Text        string
	Attachments []models.Attachment
	MessageID   string
	InReplyTo   string
	References  []string
}

// Parse reads a full RFC 822 message.
// Plain-text-only messages get an HTML body with escaped text and <br> line breaks.
func Parse(r io.Reader) (*Content, error) {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email body: %w", err)
	}

	c := &Content{
		HTML:        envelope.HTML,
		Text:        envelope.Text,
		Attachments: []models.Attachment{},
		MessageID:   strings.TrimSpace(envelope.GetHeader("Message-ID")),
		InReplyTo:   strings.TrimSpace(envelope.GetHeader("In-Reply-To")),
		References:  strings.Fields(envelope.GetHeader("References")),
	}
	if c.HTML == "" {
		text := strings.TrimRight(strings.ReplaceAll(c.Text, "\r\n", "\n"), "\n")
		c.HTML = strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
	}

	for _, part := range envelope.Attachments {
		c.Attachments = append(c.Attachments, models.Attachment{
			FileName: part.FileName,
			FileSize: int64(len(part.Content)),
		})
	}

	return c, nil
}

// ThreadRoot is the Message-ID that starts the conversation this message belongs to.
func (c *Content) ThreadRoot() string {
	if len(c.References) > 0 {
		return c.References[0]
	}
	if c.InReplyTo != "" {
		return c.InReplyTo
	}
	return c.MessageID
}

// Build renders msg as a multipart/alternative message sent by from.
// Attachments are metadata only in the mailbox, so they are not encoded.
func Build(from models.Identity, msg models.Message) ([]byte, error) {
	subject := msg.Subject
	if strings.TrimSpace(subject) == "" {
		subject = NoSubject
	}

	builder := enmime.Builder().
		From(from.DisplayName, from.EmailAddress).
		To("", msg.RecipientEmail).
		Subject(subject).
		Date(msg.Timestamp).
		Header("Message-ID", MessageID(msg.ID, from.EmailAddress)).
		HTML([]byte(msg.Body)).
		Text([]byte(snippet.PlainText(msg.Body)))

	part, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// MessageID returns the Message-ID header for a locally created message.
func MessageID(id, senderEmail string) string {
	domain := "localhost"
	if at := strings.LastIndex(senderEmail, "@"); at >= 0 && at < len(senderEmail)-1 {
		domain = senderEmail[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", id, domain)
}

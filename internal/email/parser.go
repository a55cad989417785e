package email

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// NoSubject is stored when a message carries no Subject header
const NoSubject = "(No Subject)"

// ErrEmptyMessage is returned by Parse for a message with no content
var ErrEmptyMessage = errors.New("empty message")

// ParsedMessage is the normalized form of one raw RFC 5322 message
type ParsedMessage struct {
	MessageID string
	Subject   string
	From      string
	To        string
	FromName  string
	FromEmail string
	HTML      string
	Text      string

	// SentAt is zero when the message has no usable Date header
	SentAt time.Time

	HasAttachments bool
	IsImportant    bool
}

// Parse decodes a raw message. It performs no I/O.
func Parse(raw []byte) (*ParsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIME message: %w", err)
	}

	msg := &ParsedMessage{
		MessageID:      strings.TrimSpace(env.GetHeader("Message-Id")),
		Subject:        strings.TrimSpace(env.GetHeader("Subject")),
		From:           strings.TrimSpace(env.GetHeader("From")),
		To:             strings.TrimSpace(env.GetHeader("To")),
		HTML:           env.HTML,
		Text:           env.Text,
		HasAttachments: len(env.Attachments) > 0,
		IsImportant:    isImportant(env.GetHeader("Importance"), env.GetHeader("X-Priority")),
	}

	if msg.Subject == "" {
		msg.Subject = NoSubject
	}

	if addrs, err := env.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.FromName = addrs[0].Name
		msg.FromEmail = strings.ToLower(addrs[0].Address)
	}

	if date := env.GetHeader("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			msg.SentAt = t.UTC()
		}
	}

	return msg, nil
}

// isImportant reads the two headers clients use to mark priority mail.
// X-Priority is "1 (Highest)" .. "5 (Lowest)".
func isImportant(importance, priority string) bool {
	if strings.EqualFold(strings.TrimSpace(importance), "high") {
		return true
	}
	priority = strings.TrimSpace(priority)
	return strings.HasPrefix(priority, "1") || strings.HasPrefix(priority, "2")
}

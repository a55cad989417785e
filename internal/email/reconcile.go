package email

import (
	"strings"
	"time"

	"github.com/emersion/go-imap"

	"github.com/brandon/mailmirror/pkg/types"
)

// Folders names the remote folders mirrored into each category
type Folders struct {
	Inbox string
	Sent  string
}

// CategoryOf maps a remote folder to its local category
func (f Folders) CategoryOf(folder string) (types.Category, bool) {
	switch folder {
	case f.Inbox:
		return types.CategoryInbox, true
	case f.Sent:
		return types.CategorySent, true
	}
	return "", false
}

// Reconcile builds the mirror row for a parsed message. The folder the
// message was fetched from decides its category; the address heuristic
// only applies to folders outside the configured pair.
func Reconcile(msg *ParsedMessage, raw RawMessage, owner types.Account, folders Folders, now time.Time) types.MirroredMessage {
	category, ok := folders.CategoryOf(raw.Folder)
	if !ok {
		category, ok = AddressCategory(owner.Email, msg.From, msg.To)
		if !ok {
			category = types.CategoryInbox
		}
	}

	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = raw.InternalDate
	}
	if sentAt.IsZero() {
		sentAt = now
	}

	return types.MirroredMessage{
		OwnerID:   owner.ID,
		To:        msg.To,
		From:      msg.From,
		FromName:  msg.FromName,
		FromEmail: msg.FromEmail,
		Subject:   msg.Subject,
		BodyHTML:  msg.HTML,
		BodyText:  msg.Text,
		Category:  category,
		Flags: types.Flags{
			IsRead:         raw.HasFlag(imap.SeenFlag),
			IsStarred:      raw.HasFlag(imap.FlaggedFlag),
			IsImportant:    msg.IsImportant,
			HasAttachments: msg.HasAttachments,
		},
		Source: types.SourceMetadata{
			Origin:    types.OriginIMAPSync,
			MessageID: msg.MessageID,
			Folder:    raw.Folder,
			ServerUID: raw.UID,
			SentAt:    sentAt.UTC(),
		},
	}
}

// AddressCategory guesses a category from the address headers: mail the
// owner sent is "sent", mail addressed to the owner is "inbox".
func AddressCategory(ownerEmail, from, to string) (types.Category, bool) {
	owner := strings.ToLower(strings.TrimSpace(ownerEmail))
	if owner == "" {
		return "", false
	}
	if strings.Contains(strings.ToLower(from), owner) {
		return types.CategorySent, true
	}
	if strings.Contains(strings.ToLower(to), owner) {
		return types.CategoryInbox, true
	}
	return "", false
}

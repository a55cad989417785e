package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmirror/internal/config"
	"github.com/brandon/mailmirror/pkg/types"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache  *Cache
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UpsertAccount upserts a local account and returns its ID
func (s *Store) UpsertAccount(ctx context.Context, acc *config.AccountConfig) (int64, error) {
	query := `
		INSERT INTO accounts (email, name, role, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			updated_at = CURRENT_TIMESTAMP
	`
	email := strings.ToLower(strings.TrimSpace(acc.Email))
	if _, err := s.cache.DB().ExecContext(ctx, query, email, acc.Name, acc.Role); err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}

	// LastInsertId is unreliable on the update path, so always read it back
	var id int64
	if err := s.cache.DB().GetContext(ctx, &id, "SELECT id FROM accounts WHERE email = ?", email); err != nil {
		return 0, fmt.Errorf("failed to get account ID: %w", err)
	}
	return id, nil
}

// GetAccountByEmail resolves a local account by its email address
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*types.Account, error) {
	var acc types.Account
	err := s.cache.DB().GetContext(ctx, &acc,
		"SELECT id, email, name, role FROM accounts WHERE email = ?",
		strings.ToLower(strings.TrimSpace(email)),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}

// MirrorExists reports whether a remote message is already mirrored for the
// owner. The message-id is tried first since it survives moves between
// folders; the folder+uid pair is only consulted when there is no message-id.
// A store without the mirror table yet simply has no rows.
func (s *Store) MirrorExists(ctx context.Context, ownerID int64, messageID, folder string, uid uint32) (bool, error) {
	var (
		query string
		args  []interface{}
	)
	if messageID != "" {
		query = "SELECT EXISTS(SELECT 1 FROM mirrored_messages WHERE owner_id = ? AND message_id = ?)"
		args = []interface{}{ownerID, messageID}
	} else {
		query = "SELECT EXISTS(SELECT 1 FROM mirrored_messages WHERE owner_id = ? AND folder = ? AND server_uid = ?)"
		args = []interface{}{ownerID, folder, uid}
	}

	var exists bool
	if err := s.cache.DB().GetContext(ctx, &exists, query, args...); err != nil {
		if isMissingTable(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check mirrored message: %w", err)
	}
	return exists, nil
}

// InsertMirror persists a new mirror row and sets its ID and timestamps
func (s *Store) InsertMirror(ctx context.Context, msg *types.MirroredMessage) error {
	if !msg.Category.Valid() {
		return fmt.Errorf("invalid category %q", msg.Category)
	}
	if msg.Source.Origin == "" {
		msg.Source.Origin = types.OriginLocal
	}

	now := s.now()
	row := rowFromMessage(msg)
	row.CreatedAt = now
	row.UpdatedAt = now

	query := `
		INSERT INTO mirrored_messages (
			owner_id, to_addr, from_addr, from_name, from_email, subject, body_html, body_text,
			category, is_read, is_starred, is_important, has_attachments,
			origin, message_id, folder, server_uid, sent_at, created_at, updated_at, search_fold
		) VALUES (
			:owner_id, :to_addr, :from_addr, :from_name, :from_email, :subject, :body_html, :body_text,
			:category, :is_read, :is_starred, :is_important, :has_attachments,
			:origin, :message_id, :folder, :server_uid, :sent_at, :created_at, :updated_at, :search_fold
		)
	`
	result, err := s.cache.DB().NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to insert mirrored message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get mirrored message ID: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	msg.UpdatedAt = now
	return nil
}

// DeleteSynced removes every sync-origin row owned by ownerID
func (s *Store) DeleteSynced(ctx context.Context, ownerID int64) (int64, error) {
	result, err := s.cache.DB().ExecContext(ctx,
		"DELETE FROM mirrored_messages WHERE owner_id = ? AND origin = ?",
		ownerID, string(types.OriginIMAPSync),
	)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to delete synced messages: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}
	return n, nil
}

// GetMessage retrieves one mirrored message owned by ownerID
func (s *Store) GetMessage(ctx context.Context, ownerID, id int64) (*types.MirroredMessage, error) {
	var row messageRow
	err := s.cache.DB().GetContext(ctx, &row,
		"SELECT "+messageColumns+" FROM mirrored_messages WHERE id = ? AND owner_id = ?",
		id, ownerID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg := row.toMessage()
	return &msg, nil
}

const messageColumns = `id, owner_id, to_addr, from_addr, from_name, from_email, subject, body_html, body_text,
	category, is_read, is_starred, is_important, has_attachments,
	origin, message_id, folder, server_uid, sent_at, created_at, updated_at`

// messageRow is the flat database shape of types.MirroredMessage
type messageRow struct {
	ID             int64          `db:"id"`
	OwnerID        int64          `db:"owner_id"`
	To             string         `db:"to_addr"`
	From           string         `db:"from_addr"`
	FromName       string         `db:"from_name"`
	FromEmail      string         `db:"from_email"`
	Subject        string         `db:"subject"`
	BodyHTML       string         `db:"body_html"`
	BodyText       string         `db:"body_text"`
	Category       string         `db:"category"`
	IsRead         bool           `db:"is_read"`
	IsStarred      bool           `db:"is_starred"`
	IsImportant    bool           `db:"is_important"`
	HasAttachments bool           `db:"has_attachments"`
	Origin         string         `db:"origin"`
	MessageID      sql.NullString `db:"message_id"`
	Folder         string         `db:"folder"`
	ServerUID      int64          `db:"server_uid"`
	SentAt         time.Time      `db:"sent_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	SearchFold     string         `db:"search_fold"`
}

func rowFromMessage(msg *types.MirroredMessage) messageRow {
	return messageRow{
		OwnerID:        msg.OwnerID,
		To:             msg.To,
		From:           msg.From,
		FromName:       msg.FromName,
		FromEmail:      msg.FromEmail,
		Subject:        msg.Subject,
		BodyHTML:       msg.BodyHTML,
		BodyText:       msg.BodyText,
		Category:       string(msg.Category),
		IsRead:         msg.Flags.IsRead,
		IsStarred:      msg.Flags.IsStarred,
		IsImportant:    msg.Flags.IsImportant,
		HasAttachments: msg.Flags.HasAttachments,
		Origin:         string(msg.Source.Origin),
		MessageID:      sql.NullString{String: msg.Source.MessageID, Valid: msg.Source.MessageID != ""},
		Folder:         msg.Source.Folder,
		ServerUID:      int64(msg.Source.ServerUID),
		SentAt:         msg.Source.SentAt.UTC(),
		SearchFold:     searchFold(msg.Subject, msg.BodyText, msg.FromEmail, msg.FromName),
	}
}

func (r messageRow) toMessage() types.MirroredMessage {
	return types.MirroredMessage{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		To:        r.To,
		From:      r.From,
		FromName:  r.FromName,
		FromEmail: r.FromEmail,
		Subject:   r.Subject,
		BodyHTML:  r.BodyHTML,
		BodyText:  r.BodyText,
		Category:  types.Category(r.Category),
		Flags: types.Flags{
			IsRead:         r.IsRead,
			IsStarred:      r.IsStarred,
			IsImportant:    r.IsImportant,
			HasAttachments: r.HasAttachments,
		},
		Source: types.SourceMetadata{
			Origin:    types.Origin(r.Origin),
			MessageID: r.MessageID.String,
			Folder:    r.Folder,
			ServerUID: uint32(r.ServerUID),
			SentAt:    r.SentAt,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

package types

import "time"

// Category is the local taxonomy a mirrored message is filed under
type Category string

const (
	CategoryInbox Category = "inbox"
	CategorySent  Category = "sent"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	return c == CategoryInbox || c == CategorySent
}

// Origin marks where a mirrored row came from
type Origin string

const (
	OriginIMAPSync Origin = "imap_sync"
	OriginLocal    Origin = "local"
)

// RoleAdmin may run privileged operations such as forced resyncs
const RoleAdmin = "admin"

// Account is a local account that owns mirrored messages
type Account struct {
	ID    int64  `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`
	Role  string `json:"role" db:"role"`
}

// IsAdmin reports whether the account may run privileged operations
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Flags is the local copy of the remote flags taken at ingestion time
type Flags struct {
	IsRead         bool `json:"is_read"`
	IsStarred      bool `json:"is_starred"`
	IsImportant    bool `json:"is_important"`
	HasAttachments bool `json:"has_attachments"`
}

// SourceMetadata records the remote identity of a synced row
type SourceMetadata struct {
	Origin    Origin    `json:"origin"`
	MessageID string    `json:"message_id,omitempty"`
	Folder    string    `json:"folder,omitempty"`
	ServerUID uint32    `json:"server_uid,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// MirroredMessage is one row of the local mirror table
type MirroredMessage struct {
	ID        int64    `json:"id"`
	OwnerID   int64    `json:"owner_id"`
	To        string   `json:"to"`
	From      string   `json:"from"`
	FromName  string   `json:"from_name"`
	FromEmail string   `json:"from_email"`
	Subject   string   `json:"subject"`
	BodyHTML  string   `json:"body_html,omitempty"`
	BodyText  string   `json:"body_text,omitempty"`
	Category  Category `json:"category"`

	Flags  Flags          `json:"flags"`
	Source SourceMetadata `json:"source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessagePage is one bounded page of a mailbox view
type MessagePage struct {
	Messages    []MirroredMessage `json:"messages"`
	Page        int               `json:"page"`
	Limit       int               `json:"limit"`
	Total       int               `json:"total"`
	TotalPages  int               `json:"total_pages"`
	HasMore     bool              `json:"has_more"`
	UnreadCount int               `json:"unread_count"`
}

// FolderCounts counts the outcomes of one folder in a sync run
type FolderCounts struct {
	Fetched int `json:"fetched"`
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
}

// Add accumulates o into c
func (c *FolderCounts) Add(o FolderCounts) {
	c.Fetched += o.Fetched
	c.Saved += o.Saved
	c.Skipped += o.Skipped
}

// SyncReport summarises one sync run
type SyncReport struct {
	RunID      string       `json:"run_id"`
	Owner      string       `json:"owner"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Inbox      FolderCounts `json:"inbox"`
	Sent       FolderCounts `json:"sent"`
	Total      FolderCounts `json:"total"`
}

// SyncStatus is the engine state exposed to clients
type SyncStatus struct {
	Connected      bool        `json:"connected"`
	SyncInProgress bool        `json:"sync_in_progress"`
	LastRunAt      *time.Time  `json:"last_run_at,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	LastReport     *SyncReport `json:"last_report,omitempty"`
}

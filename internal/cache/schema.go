package cache

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	version int
	sql     string
	// after runs once the SQL has been applied
	after func(db *sqlx.DB) error
}

// migrations are applied in order; each records itself in schema_version
var migrations = []migration{
	{version: 1, sql: `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Local accounts, seeded from configuration
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'user',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Mirrored messages
CREATE TABLE IF NOT EXISTS mirrored_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id INTEGER NOT NULL,
    to_addr TEXT NOT NULL DEFAULT '',
    from_addr TEXT NOT NULL DEFAULT '',
    from_name TEXT NOT NULL DEFAULT '',
    from_email TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body_html TEXT NOT NULL DEFAULT '',
    body_text TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL CHECK (category IN ('inbox', 'sent')),
    is_read INTEGER NOT NULL DEFAULT 0,
    is_starred INTEGER NOT NULL DEFAULT 0,
    is_important INTEGER NOT NULL DEFAULT 0,
    has_attachments INTEGER NOT NULL DEFAULT 0,
    origin TEXT NOT NULL DEFAULT 'local',
    message_id TEXT,
    folder TEXT NOT NULL DEFAULT '',
    server_uid INTEGER NOT NULL DEFAULT 0,
    sent_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    FOREIGN KEY (owner_id) REFERENCES accounts(id) ON DELETE CASCADE
);

-- Bounded views read newest first per owner and category
CREATE INDEX IF NOT EXISTS idx_mirror_owner_category_created
    ON mirrored_messages(owner_id, category, created_at DESC);

-- Identity keys
CREATE UNIQUE INDEX IF NOT EXISTS idx_mirror_owner_message_id
    ON mirrored_messages(owner_id, message_id)
    WHERE message_id IS NOT NULL;

CREATE UNIQUE INDEX IF NOT EXISTS idx_mirror_owner_folder_uid
    ON mirrored_messages(owner_id, folder, server_uid)
    WHERE origin = 'imap_sync';

INSERT INTO schema_version (version) VALUES (1);
`},
	{version: 2, sql: `
-- Unicode case-folded subject, body text and sender, for search
ALTER TABLE mirrored_messages ADD COLUMN search_fold TEXT NOT NULL DEFAULT '';

-- The folder+uid key only identifies messages without a message-id
DROP INDEX IF EXISTS idx_mirror_owner_folder_uid;
CREATE UNIQUE INDEX idx_mirror_owner_folder_uid
    ON mirrored_messages(owner_id, folder, server_uid)
    WHERE origin = 'imap_sync' AND message_id IS NULL;

INSERT INTO schema_version (version) VALUES (2);
`, after: refoldSearch},
}

// refoldSearch fills search_fold for rows written before the column existed
func refoldSearch(db *sqlx.DB) error {
	var rows []struct {
		ID        int64  `db:"id"`
		Subject   string `db:"subject"`
		BodyText  string `db:"body_text"`
		FromEmail string `db:"from_email"`
		FromName  string `db:"from_name"`
	}
	if err := db.Select(&rows, "SELECT id, subject, body_text, from_email, from_name FROM mirrored_messages"); err != nil {
		return fmt.Errorf("failed to read messages: %w", err)
	}

	for _, r := range rows {
		fold := searchFold(r.Subject, r.BodyText, r.FromEmail, r.FromName)
		if _, err := db.Exec("UPDATE mirrored_messages SET search_fold = ? WHERE id = ?", fold, r.ID); err != nil {
			return fmt.Errorf("failed to fold message %d: %w", r.ID, err)
		}
	}
	return nil
}

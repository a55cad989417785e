package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Cache owns the SQLite mirror database
type Cache struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewCache opens the mirror database at dbPath and migrates it.
// ":memory:" is accepted for tests.
func NewCache(dbPath string, logger *logrus.Logger) (*Cache, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// an in-memory database only exists on the connection that created it
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	c := &Cache{db: db, logger: logger}
	applied, err := c.migrate()
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"path":       dbPath,
		"migrations": applied,
	}).Info("Cache initialized")
	return c, nil
}

// migrate applies pending migrations and returns how many ran
func (c *Cache) migrate() (int, error) {
	current := 0

	var tables int
	err := c.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'")
	if err != nil {
		return 0, fmt.Errorf("failed to check schema version: %w", err)
	}
	if tables > 0 {
		if err := c.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return 0, fmt.Errorf("failed to read schema version: %w", err)
		}
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return applied, fmt.Errorf("failed to apply migration v%d: %w", m.version, err)
		}
		if m.after != nil {
			if err := m.after(c.db); err != nil {
				return applied, fmt.Errorf("failed to finish migration v%d: %w", m.version, err)
			}
		}
		applied++
	}
	return applied, nil
}

// Close closes the database
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB returns the underlying handle
func (c *Cache) DB() *sqlx.DB {
	return c.db
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

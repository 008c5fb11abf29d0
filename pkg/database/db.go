package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	DefaultBusyTimeout = 5 * time.Second
	DefaultJournalMode = "wal"
)

var journalModes = map[string]bool{
	"delete": true, "truncate": true, "persist": true, "memory": true, "wal": true, "off": true,
}

// Config describes one sqlite database. Zero values fall back to the
// defaults above; foreign keys are always on.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	JournalMode string
}

func (c Config) busyTimeout() time.Duration {
	if c.BusyTimeout <= 0 {
		return DefaultBusyTimeout
	}
	return c.BusyTimeout
}

func (c Config) journalMode() (string, error) {
	mode := strings.ToLower(strings.TrimSpace(c.JournalMode))
	if mode == "" {
		return DefaultJournalMode, nil
	}
	if !journalModes[mode] {
		return "", fmt.Errorf("unknown journal mode %q", c.JournalMode)
	}
	return mode, nil
}

// DSN carries the pragmas as driver options so every pooled connection
// gets them, not just the first one.
func (c Config) DSN() (string, error) {
	mode, err := c.journalMode()
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(c.busyTimeout().Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	q.Set("_journal_mode", strings.ToUpper(mode))
	return c.Path + "?" + q.Encode(), nil
}

func EnsureDataDir(cfg Config) error {
	return os.MkdirAll(filepath.Dir(cfg.Path), 0o755)
}

func Open(cfg Config) (*sql.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	if err := EnsureDataDir(cfg); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"liveinterview/internal/domain"
)

// SQLiteStore keeps session cache entries in a local database file.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "liveinterview.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger.With().Str("module", "cache.sqlite").Logger()}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create session_cache table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (domain.CachedSessionEntry, bool, error) {
	if err := validSessionID(sessionID); err != nil {
		return domain.CachedSessionEntry{}, false, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_cache WHERE key = ?`, Key(sessionID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CachedSessionEntry{}, false, nil
	}
	if err != nil {
		return domain.CachedSessionEntry{}, false, fmt.Errorf("read cache entry: %w", err)
	}

	entry, err := decodeEntry([]byte(raw))
	if err != nil {
		return domain.CachedSessionEntry{}, false, err
	}
	return entry, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, sessionID string, entry domain.CachedSessionEntry) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO session_cache (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, Key(sessionID), string(raw), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	s.logger.Debug().Str("session_id", sessionID).Msg("cache entry stored")
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_cache WHERE key = ?`, Key(sessionID)); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

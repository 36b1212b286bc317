package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/llm"
	"github.com/ashureev/agentdesk/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetryAttempts = 3
	writeRetryDelay    = 50 * time.Millisecond
)

// SQLiteStore implements SessionRegistry using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	ttl     time.Duration
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a SQLite-backed registry. ttl <= 0 disables read-time expiry.
func NewSQLite(dbPath string, ttl time.Duration) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		website_url TEXT NOT NULL DEFAULT '',
		website_provided INTEGER NOT NULL DEFAULT 0,
		screenshot_path TEXT NOT NULL DEFAULT '',
		favicon_path TEXT NOT NULL DEFAULT '',
		transcript_json TEXT NOT NULL,
		histories_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves a session by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	query := `
		SELECT user_id, session_id, website_url, website_provided,
		       screenshot_path, favicon_path, transcript_json, histories_json,
		       created_at, updated_at
		FROM sessions WHERE session_key = ?`

	var (
		sess                 domain.Session
		transcriptJSON       string
		historiesJSON        string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&sess.UserID, &sess.SessionID, &sess.WebsiteURL, &sess.WebsiteProvided,
		&sess.ScreenshotPath, &sess.FaviconPath, &transcriptJSON, &historiesJSON,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	if s.ttl > 0 && time.Since(sess.UpdatedAt) > s.ttl {
		return nil, nil
	}

	if err := json.Unmarshal([]byte(transcriptJSON), &sess.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	histories := make(map[string][]llm.Message)
	if err := json.Unmarshal([]byte(historiesJSON), &histories); err != nil {
		return nil, fmt.Errorf("decode agent histories: %w", err)
	}
	sess.AgentHistories = histories
	return &sess, nil
}

// Put creates or updates a session record.
func (s *SQLiteStore) Put(ctx context.Context, key string, session *domain.Session) error {
	transcript, err := json.Marshal(session.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	histories := session.AgentHistories
	if histories == nil {
		histories = map[string][]llm.Message{}
	}
	historiesJSON, err := json.Marshal(histories)
	if err != nil {
		return fmt.Errorf("encode agent histories: %w", err)
	}

	query := `
	INSERT INTO sessions (
		session_key, user_id, session_id, website_url, website_provided,
		screenshot_path, favicon_path, transcript_json, histories_json,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_key) DO UPDATE SET
		website_url = excluded.website_url,
		website_provided = excluded.website_provided,
		screenshot_path = excluded.screenshot_path,
		favicon_path = excluded.favicon_path,
		transcript_json = excluded.transcript_json,
		histories_json = excluded.histories_json,
		updated_at = excluded.updated_at`

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err = shared.RetryOnConflict(ctx, writeRetryAttempts, writeRetryDelay, func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			key, session.UserID, session.SessionID, session.WebsiteURL, session.WebsiteProvided,
			session.ScreenshotPath, session.FaviconPath, string(transcript), string(historiesJSON),
			createdAt.UnixMilli(), time.Now().UnixMilli(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Remove deletes a session.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := shared.RetryOnConflict(ctx, writeRetryAttempts, writeRetryDelay, func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Prune removes sessions older than ttl.
func (s *SQLiteStore) Prune(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var removed int64
	err := shared.RetryOnConflict(ctx, writeRetryAttempts, writeRetryDelay, func() error {
		result, execErr := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
		if execErr != nil {
			return execErr
		}
		removed, execErr = result.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return removed, nil
}

// Len counts stored sessions.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements SessionRegistry.
var _ SessionRegistry = (*SQLiteStore)(nil)

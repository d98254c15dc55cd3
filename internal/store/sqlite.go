package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/alertbot/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	listMaxRetries = 3
	listBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements FeedbackRepository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating on first use) the feedback database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the export read while submissions append.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Columns follow the export header order.
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT NOT NULL DEFAULT '',
		ecn TEXT NOT NULL DEFAULT '',
		xa_id TEXT NOT NULL DEFAULT '',
		original_prompt_message TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		satisfactory_message TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_id);
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

// SaveFeedback appends one feedback record.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, f *domain.Feedback) error {
	query := `
	INSERT INTO feedback (
		customer_id, ecn, xa_id, original_prompt_message,
		session_id, timestamp, satisfactory_message, reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		f.CustomerID, f.ECN, f.XAID, f.OriginalPromptMessage,
		f.SessionID, f.Timestamp.UnixMilli(), f.SatisfactoryMessage, f.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// ListFeedback returns all records oldest first.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) ListFeedback(ctx context.Context) ([]domain.Feedback, error) {
	var lastErr error
	for i := 0; i < listMaxRetries; i++ {
		rows, err := s.listFeedbackOnce(ctx)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !IsConflictError(err) || i == listMaxRetries-1 {
			break
		}

		delay := listBaseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("ListFeedback hit a locked database, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("list feedback: %w", lastErr)
}

func (s *SQLiteStore) listFeedbackOnce(ctx context.Context) ([]domain.Feedback, error) {
	query := `
		SELECT customer_id, ecn, xa_id, original_prompt_message,
		       session_id, timestamp, satisfactory_message, reason
		FROM feedback ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close feedback rows", "error", closeErr)
		}
	}()

	var out []domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		var ts int64
		if err := rows.Scan(
			&f.CustomerID, &f.ECN, &f.XAID, &f.OriginalPromptMessage,
			&f.SessionID, &ts, &f.SatisfactoryMessage, &f.Reason,
		); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		f.Timestamp = time.UnixMilli(ts)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

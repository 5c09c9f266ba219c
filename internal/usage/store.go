// Package usage records per-request accounting rows: which channel asked,
// how large the history was, how the upstream call ended, and how long it
// took. Message content is never written here.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome values recorded per request.
const (
	OutcomeSuccess        = "success"
	OutcomeInvalidRequest = "invalid_request"
	OutcomeNotConfigured  = "not_configured"
	OutcomeAuthError      = "auth_error"
	OutcomeRateLimited    = "rate_limited"
	OutcomeUpstreamError  = "upstream_error"
)

// Entry is one recorded request.
type Entry struct {
	Channel      string
	MessageCount int
	Outcome      string
	LatencyMs    int64
	CreatedAt    time.Time
}

// Summary aggregates the recorded entries.
type Summary struct {
	Total        int64
	ByOutcome    map[string]int64
	ByChannel    map[string]int64
	AvgLatencyMs float64
}

// Store persists usage entries in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite writes serialize anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_requests (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		channel       TEXT NOT NULL,
		message_count INTEGER NOT NULL,
		outcome       TEXT NOT NULL,
		latency_ms    INTEGER NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chat_requests_time ON chat_requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_chat_requests_outcome ON chat_requests(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts one entry. Failures are logged, not returned: accounting
// must never break the request path.
func (s *Store) Record(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_requests (channel, message_count, outcome, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Channel, e.MessageCount, e.Outcome, e.LatencyMs, e.CreatedAt,
	)
	if err != nil {
		s.logger.Warn("usage record failed", "err", err)
	}
}

// Summarize aggregates all recorded entries.
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		ByOutcome: make(map[string]int64),
		ByChannel: make(map[string]int64),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(latency_ms), 0) FROM chat_requests`,
	).Scan(&sum.Total, &sum.AvgLatencyMs)
	if err != nil {
		return nil, fmt.Errorf("summarize totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM chat_requests GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("summarize outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		sum.ByOutcome[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chRows, err := s.db.QueryContext(ctx,
		`SELECT channel, COUNT(*) FROM chat_requests GROUP BY channel`)
	if err != nil {
		return nil, fmt.Errorf("summarize channels: %w", err)
	}
	defer chRows.Close()
	for chRows.Next() {
		var channel string
		var n int64
		if err := chRows.Scan(&channel, &n); err != nil {
			return nil, err
		}
		sum.ByChannel[channel] = n
	}
	return sum, chRows.Err()
}

// Prune deletes entries older than retentionDays and returns how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_requests WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

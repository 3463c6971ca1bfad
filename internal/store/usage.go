package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/agentx/agentx-cli/internal/llm"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_session_time ON usage_records(session_id, created_at);
`

// UsageStore persists per-call usage records to SQLite so cost history
// survives the process. The core treats it as an optional RecordSink; the
// host owns the lifecycle.
type UsageStore struct {
	db        *sqlx.DB
	sessionID string
}

// UsageRow is one stored usage record
type UsageRow struct {
	ID               int64     `db:"id"`
	SessionID        string    `db:"session_id"`
	Model            string    `db:"model"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	TotalTokens      int       `db:"total_tokens"`
	Cost             float64   `db:"cost"`
	CreatedAt        time.Time `db:"created_at"`
}

// UsageTotals aggregates stored usage for one model
type UsageTotals struct {
	Model            string  `db:"model" json:"model"`
	RequestCount     int64   `db:"request_count" json:"request_count"`
	PromptTokens     int64   `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64   `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int64   `db:"total_tokens" json:"total_tokens"`
	TotalCost        float64 `db:"total_cost" json:"total_cost"`
}

// Open creates the store and runs auto-migration
func Open(path, sessionID string) (*UsageStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &UsageStore{db: db, sessionID: sessionID}, nil
}

// Append stores one usage record under the current session
func (s *UsageStore) Append(record llm.TokenUsageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_records (session_id, model, prompt_tokens, completion_tokens, total_tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, record.Model, record.InputTokens, record.OutputTokens,
		record.TotalTokens, record.TotalCost, record.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// SessionRecords returns the stored records for the current session,
// oldest first
func (s *UsageStore) SessionRecords() ([]UsageRow, error) {
	var rows []UsageRow
	err := s.db.Select(&rows,
		`SELECT id, session_id, model, prompt_tokens, completion_tokens, total_tokens, cost, created_at
		 FROM usage_records WHERE session_id = ? ORDER BY created_at ASC`,
		s.sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("session records: %w", err)
	}
	return rows, nil
}

// Totals aggregates all stored usage grouped by model
func (s *UsageStore) Totals() ([]UsageTotals, error) {
	var totals []UsageTotals
	err := s.db.Select(&totals,
		`SELECT model, COUNT(*) AS request_count,
		        COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
		        COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
		        COALESCE(SUM(total_tokens), 0) AS total_tokens,
		        COALESCE(SUM(cost), 0) AS total_cost
		 FROM usage_records GROUP BY model ORDER BY model`,
	)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	return totals, nil
}

// Close releases the database connection
func (s *UsageStore) Close() error {
	return s.db.Close()
}

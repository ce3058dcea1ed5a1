package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/aigate/pkg/models"
)

// Tracker records and queries billed usage.
type Tracker interface {
	// Record appends a usage record. Records are never updated.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByUser returns a user's records since a given time, newest first.
	QueryByUser(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error)
	// TotalCreditsByUser returns credits charged to a user since a given time.
	TotalCreditsByUser(ctx context.Context, userID string, since time.Time) (int64, error)
	// Summary aggregates records by user, feature and provider, optionally
	// filtered by user.
	Summary(ctx context.Context, userID string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	feature TEXT NOT NULL,
	provider_used TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_excerpt TEXT NOT NULL DEFAULT '',
	response_metadata TEXT NOT NULL DEFAULT '{}',
	credits_charged INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_records(user_id, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record. Missing IDs and timestamps are filled in.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	metadata := []byte("{}")
	if len(rec.ResponseMetadata) > 0 {
		var err error
		if metadata, err = json.Marshal(rec.ResponseMetadata); err != nil {
			return fmt.Errorf("encode usage metadata: %w", err)
		}
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, request_id, user_id, feature, provider_used, model, prompt_excerpt, response_metadata, credits_charged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.UserID, rec.Feature, rec.ProviderUsed, rec.Model,
		rec.PromptExcerpt, string(metadata), rec.CreditsCharged, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByUser returns usage records for a user since a given time.
func (t *SQLiteTracker) QueryByUser(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, user_id, feature, provider_used, model, prompt_excerpt, response_metadata, credits_charged, created_at
		 FROM usage_records WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC`,
		userID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var (
			r        models.UsageRecord
			metadata string
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &r.UserID, &r.Feature, &r.ProviderUsed, &r.Model,
			&r.PromptExcerpt, &metadata, &r.CreditsCharged, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &r.ResponseMetadata); err != nil {
				return nil, fmt.Errorf("decode usage metadata: %w", err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalCreditsByUser returns credits charged to a user since a given time.
func (t *SQLiteTracker) TotalCreditsByUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := t.db.QueryRowContext(ctx,
		`SELECT SUM(credits_charged) FROM usage_records WHERE user_id = ? AND created_at >= ?`,
		userID, since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total credits: %w", err)
	}
	return total.Int64, nil
}

// Summary returns aggregated usage, optionally filtered by user.
func (t *SQLiteTracker) Summary(ctx context.Context, userID string) ([]models.UsageSummary, error) {
	query := `SELECT user_id, feature, provider_used, COUNT(*), SUM(credits_charged) FROM usage_records`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY user_id, feature, provider_used ORDER BY user_id, feature, provider_used`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	var out []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.UserID, &s.Feature, &s.Provider, &s.RequestCount, &s.TotalCredits); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

// Package ledger holds user credit balances and feature prices.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/aigate/pkg/models"
)

var (
	// ErrAccountNotFound is returned by Account for users with no credit row.
	ErrAccountNotFound = errors.New("credit account not found")
	// ErrInvalidAmount is returned for non-positive debits and grants.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrUnknownBucket is returned by Grant for an unrecognized bucket name.
	ErrUnknownBucket = errors.New("unknown credit bucket")
)

// Ledger is the balance contract the gateway bills against.
type Ledger interface {
	// GetBalance returns the user's total spendable credits, 0 for unknown users.
	GetBalance(ctx context.Context, userID string) (int64, error)
	// Debit subtracts amount in one atomic conditional step. It returns false,
	// leaving the balance untouched, when the total is below amount.
	Debit(ctx context.Context, userID string, amount int64, feature, description string) (bool, error)
}

// CostTable resolves the credit price of a feature.
type CostTable interface {
	// Lookup returns the configured cost; ok is false when the feature has no entry.
	Lookup(ctx context.Context, feature string) (cost uint, ok bool, err error)
}

// SQLiteLedger implements Ledger and CostTable on SQLite.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ Ledger    = (*SQLiteLedger)(nil)
	_ CostTable = (*SQLiteLedger)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id TEXT PRIMARY KEY,
	monthly_credits INTEGER NOT NULL DEFAULT 0 CHECK (monthly_credits >= 0),
	purchased_credits INTEGER NOT NULL DEFAULT 0 CHECK (purchased_credits >= 0),
	bonus_credits INTEGER NOT NULL DEFAULT 0 CHECK (bonus_credits >= 0),
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS credit_transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	amount INTEGER NOT NULL,
	feature TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	balance_after INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_tx_user_time ON credit_transactions(user_id, created_at);
CREATE TABLE IF NOT EXISTS feature_costs (
	feature_slug TEXT PRIMARY KEY,
	credit_cost INTEGER NOT NULL CHECK (credit_cost >= 0)
);
`

// New opens the ledger at dbPath and runs auto-migration.
func New(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &SQLiteLedger{db: db, now: time.Now}, nil
}

// GetBalance returns the user's total credits.
func (l *SQLiteLedger) GetBalance(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := l.db.QueryRowContext(ctx,
		`SELECT monthly_credits + purchased_credits + bonus_credits FROM credit_accounts WHERE user_id = ?`,
		userID,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return total, nil
}

// The update drains monthly, then bonus, then purchased credits. SQLite
// evaluates every SET expression against the row as it was before the update.
const debitQuery = `
UPDATE credit_accounts SET
	monthly_credits = monthly_credits - MIN(monthly_credits, ?1),
	bonus_credits = bonus_credits - MIN(bonus_credits, ?1 - MIN(monthly_credits, ?1)),
	purchased_credits = purchased_credits - (?1 - MIN(monthly_credits, ?1) - MIN(bonus_credits, ?1 - MIN(monthly_credits, ?1))),
	updated_at = ?3
WHERE user_id = ?2 AND monthly_credits + purchased_credits + bonus_credits >= ?1
RETURNING monthly_credits + purchased_credits + bonus_credits`

// Debit atomically subtracts amount if the balance covers it and journals the change.
func (l *SQLiteLedger) Debit(ctx context.Context, userID string, amount int64, feature, description string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	now := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("debit: %w", err)
	}
	defer tx.Rollback()

	var balanceAfter int64
	err = tx.QueryRowContext(ctx, debitQuery, amount, userID, now).Scan(&balanceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("debit: %w", err)
	}

	if err := insertTransaction(ctx, tx, userID, -amount, feature, description, balanceAfter, now); err != nil {
		return false, fmt.Errorf("debit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("debit commit: %w", err)
	}
	return true, nil
}

// Grant adds amount to one bucket of the user's account, creating it if needed.
func (l *SQLiteLedger) Grant(ctx context.Context, userID string, bucket models.CreditBucket, amount int64, description string) (models.CreditAccount, error) {
	if amount <= 0 {
		return models.CreditAccount{}, ErrInvalidAmount
	}
	var column string
	switch bucket {
	case models.BucketMonthly:
		column = "monthly_credits"
	case models.BucketPurchased:
		column = "purchased_credits"
	case models.BucketBonus:
		column = "bonus_credits"
	default:
		return models.CreditAccount{}, fmt.Errorf("grant: %w %q", ErrUnknownBucket, bucket)
	}
	now := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return models.CreditAccount{}, fmt.Errorf("grant: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO credit_accounts (user_id, %[1]s, updated_at) VALUES (?1, ?2, ?3)
		ON CONFLICT(user_id) DO UPDATE SET %[1]s = %[1]s + ?2, updated_at = ?3
		RETURNING monthly_credits, purchased_credits, bonus_credits`, column)
	acct := models.CreditAccount{UserID: userID, UpdatedAt: now}
	if err := tx.QueryRowContext(ctx, query, userID, amount, now).
		Scan(&acct.MonthlyCredits, &acct.PurchasedCredits, &acct.BonusCredits); err != nil {
		return models.CreditAccount{}, fmt.Errorf("grant: %w", err)
	}
	acct.TotalCredits = acct.MonthlyCredits + acct.PurchasedCredits + acct.BonusCredits

	if err := insertTransaction(ctx, tx, userID, amount, "", description, acct.TotalCredits, now); err != nil {
		return models.CreditAccount{}, fmt.Errorf("grant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.CreditAccount{}, fmt.Errorf("grant commit: %w", err)
	}
	return acct, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID string, amount int64, feature, description string, balanceAfter int64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, feature, description, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, amount, feature, description, balanceAfter, at,
	)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// Account returns the full bucket breakdown for a user.
func (l *SQLiteLedger) Account(ctx context.Context, userID string) (models.CreditAccount, error) {
	acct := models.CreditAccount{UserID: userID}
	err := l.db.QueryRowContext(ctx,
		`SELECT monthly_credits, purchased_credits, bonus_credits, updated_at FROM credit_accounts WHERE user_id = ?`,
		userID,
	).Scan(&acct.MonthlyCredits, &acct.PurchasedCredits, &acct.BonusCredits, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CreditAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return models.CreditAccount{}, fmt.Errorf("account: %w", err)
	}
	acct.TotalCredits = acct.MonthlyCredits + acct.PurchasedCredits + acct.BonusCredits
	return acct, nil
}

// Transactions returns the user's most recent journal rows, newest first.
// A non-positive limit returns every row.
func (l *SQLiteLedger) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	query := `SELECT id, user_id, amount, feature, description, balance_after, created_at
		FROM credit_transactions WHERE user_id = ? ORDER BY rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transactions: %w", err)
	}
	defer rows.Close()

	var out []models.CreditTransaction
	for rows.Next() {
		var tx models.CreditTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Feature, &tx.Description, &tx.BalanceAfter, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

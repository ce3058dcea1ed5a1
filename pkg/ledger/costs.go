package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pario-ai/aigate/pkg/models"
)

// Lookup returns the stored cost for feature.
func (l *SQLiteLedger) Lookup(ctx context.Context, feature string) (uint, bool, error) {
	var cost int64
	err := l.db.QueryRowContext(ctx,
		`SELECT credit_cost FROM feature_costs WHERE feature_slug = ?`, feature,
	).Scan(&cost)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup cost: %w", err)
	}
	return uint(cost), true, nil
}

// SetCost creates or replaces the price of a feature.
func (l *SQLiteLedger) SetCost(ctx context.Context, feature string, cost uint) error {
	if feature == "" {
		return errors.New("set cost: feature is required")
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO feature_costs (feature_slug, credit_cost) VALUES (?, ?)
		 ON CONFLICT(feature_slug) DO UPDATE SET credit_cost = excluded.credit_cost`,
		feature, int64(cost),
	)
	if err != nil {
		return fmt.Errorf("set cost: %w", err)
	}
	return nil
}

// Costs lists every stored price ordered by feature.
func (l *SQLiteLedger) Costs(ctx context.Context) ([]models.FeatureCost, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT feature_slug, credit_cost FROM feature_costs ORDER BY feature_slug`)
	if err != nil {
		return nil, fmt.Errorf("list costs: %w", err)
	}
	defer rows.Close()

	var out []models.FeatureCost
	for rows.Next() {
		var (
			fc   models.FeatureCost
			cost int64
		)
		if err := rows.Scan(&fc.FeatureSlug, &cost); err != nil {
			return nil, fmt.Errorf("scan cost: %w", err)
		}
		fc.CreditCost = uint(cost)
		out = append(out, fc)
	}
	return out, rows.Err()
}

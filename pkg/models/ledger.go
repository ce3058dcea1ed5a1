package models

import "time"

// CreditBucket names one of the balances that make up a credit account.
type CreditBucket string

const (
	BucketMonthly   CreditBucket = "monthly"
	BucketPurchased CreditBucket = "purchased"
	BucketBonus     CreditBucket = "bonus"
)

// CreditAccount holds a user's spendable balance.
// TotalCredits is always MonthlyCredits + PurchasedCredits + BonusCredits.
type CreditAccount struct {
	UserID           string    `json:"user_id"`
	MonthlyCredits   int64     `json:"monthly_credits"`
	PurchasedCredits int64     `json:"purchased_credits"`
	BonusCredits     int64     `json:"bonus_credits"`
	TotalCredits     int64     `json:"total_credits"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CreditTransaction is a ledger journal row. Amount is negative for debits.
type CreditTransaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Amount       int64     `json:"amount"`
	Feature      string    `json:"feature,omitempty"`
	Description  string    `json:"description"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// FeatureCost is the credit price of one request for a feature.
type FeatureCost struct {
	FeatureSlug string `json:"feature_slug" yaml:"feature"`
	CreditCost  uint   `json:"credit_cost" yaml:"cost"`
}

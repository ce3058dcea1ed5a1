package models

import "time"

// UsageRecord is an append-only fact written once per billed request.
type UsageRecord struct {
	ID               string            `json:"id"`
	RequestID        string            `json:"request_id,omitempty"`
	UserID           string            `json:"user_id"`
	Feature          string            `json:"feature"`
	ProviderUsed     string            `json:"provider_used"`
	Model            string            `json:"model"`
	PromptExcerpt    string            `json:"prompt_excerpt"`
	ResponseMetadata map[string]string `json:"response_metadata,omitempty"`
	CreditsCharged   int64             `json:"credits_charged"`
	CreatedAt        time.Time         `json:"created_at"`
}

// UsageSummary aggregates usage records by user, feature and provider.
type UsageSummary struct {
	UserID       string `json:"user_id"`
	Feature      string `json:"feature"`
	Provider     string `json:"provider"`
	RequestCount int    `json:"request_count"`
	TotalCredits int64  `json:"total_credits"`
}

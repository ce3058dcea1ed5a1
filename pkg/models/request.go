package models

import "time"

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// ModelPreference overrides the model parameters used for one provider.
type ModelPreference struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"maxTokens,omitempty" validate:"omitempty,gt=0"`
}

// Request is a feature-scoped generation request from a client.
type Request struct {
	Feature          string                     `json:"feature" validate:"required,max=64"`
	Prompt           string                     `json:"prompt,omitempty"`
	Messages         []Message                  `json:"messages,omitempty" validate:"dive"`
	Options          Options                    `json:"options,omitempty"`
	ModelPreferences map[string]ModelPreference `json:"modelPreferences,omitempty" validate:"dive"`
}

// Response is returned to the client for a served request.
type Response struct {
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	Content  string            `json:"content"`
	Cached   bool              `json:"cached"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Usage holds token counts reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ProviderResponse is the normalized result of a successful provider call.
// It is also the payload stored in the cache.
type ProviderResponse struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Content  string        `json:"content"`
	Usage    Usage         `json:"usage"`
	Latency  time.Duration `json:"latency"`
}

// Package provider adapts upstream model APIs to a single Generate call.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/config"
	"github.com/pario-ai/aigate/pkg/models"
)

// Request is one generation attempt against a provider.
type Request struct {
	Model       string
	Messages    []models.Message
	Temperature *float64
	MaxTokens   *int
}

// Result is the single text payload extracted from a provider response.
type Result struct {
	Model   string
	Content string
	Usage   models.Usage
}

// Adapter calls one upstream provider. Failures are returned as
// *apierr.ProviderError.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// New builds the adapter for cfg.Type.
func New(cfg config.ProviderConfig) (Adapter, error) {
	switch cfg.Type {
	case "", "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "gemini":
		return NewGemini(cfg)
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", cfg.Name, cfg.Type)
	}
}

func providerError(name string, status int, err error) *apierr.ProviderError {
	return &apierr.ProviderError{Provider: name, StatusCode: status, Err: err}
}

// splitSystem separates system messages from the conversation for APIs that
// carry the system prompt out of band.
func splitSystem(messages []models.Message) (string, []models.Message) {
	var (
		system []string
		rest   = make([]models.Message, 0, len(messages))
	)
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

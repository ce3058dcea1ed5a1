package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/config"
	"github.com/pario-ai/aigate/pkg/models"
)

const (
	defaultAnthropicURL     = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultAnthropicMaxToks = 1024
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Anthropic talks to the Messages API.
type Anthropic struct {
	name   string
	url    string
	apiKey string
	client *http.Client
}

// NewAnthropic builds an Anthropic adapter.
func NewAnthropic(cfg config.ProviderConfig) *Anthropic {
	url := cfg.URL
	if url == "" {
		url = defaultAnthropicURL
	}
	return &Anthropic{
		name:   cfg.Name,
		url:    strings.TrimRight(url, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{},
	}
}

// Name implements Adapter.
func (a *Anthropic) Name() string { return a.name }

// Generate implements Adapter.
func (a *Anthropic) Generate(ctx context.Context, req Request) (Result, error) {
	system, convo := splitSystem(req.Messages)
	areq := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   defaultAnthropicMaxToks,
		System:      system,
		Messages:    toAnthropicMessages(convo),
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil {
		areq.MaxTokens = *req.MaxTokens
	}
	body, err := json.Marshal(areq)
	if err != nil {
		return Result{}, providerError(a.name, 0, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Result{}, providerError(a.name, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Result{}, providerError(a.name, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, providerError(a.name, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		var ae anthropicError
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		return Result{}, providerError(a.name, resp.StatusCode, errors.New(msg))
	}

	var aresp anthropicResponse
	if err := json.Unmarshal(respBody, &aresp); err != nil {
		return Result{}, providerError(a.name, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	var text strings.Builder
	for _, block := range aresp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Result{}, providerError(a.name, resp.StatusCode, apierr.ErrEmptyContent)
	}

	model := aresp.Model
	if model == "" {
		model = req.Model
	}
	return Result{
		Model:   model,
		Content: text.String(),
		Usage:   usage(aresp.Usage.InputTokens, aresp.Usage.OutputTokens),
	}, nil
}

func toAnthropicMessages(messages []models.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func usage(input, output int) models.Usage {
	return models.Usage{InputTokens: input, OutputTokens: output}
}

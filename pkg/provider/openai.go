package provider

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/config"
)

// OpenAI talks to the OpenAI chat completions API or any compatible endpoint.
type OpenAI struct {
	name   string
	client *openai.Client
}

// NewOpenAI builds an OpenAI adapter. cfg.URL overrides the base URL and
// should include the version path, e.g. https://api.openai.com/v1.
func NewOpenAI(cfg config.ProviderConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.URL, "/")
	}
	return &OpenAI{name: cfg.Name, client: openai.NewClientWithConfig(clientConfig)}
}

// Name implements Adapter.
func (o *OpenAI) Name() string { return o.name }

// Generate implements Adapter.
func (o *OpenAI) Generate(ctx context.Context, req Request) (Result, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		creq.MaxTokens = *req.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return Result{}, providerError(o.name, openAIStatus(err), err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	if strings.TrimSpace(content) == "" {
		return Result{}, providerError(o.name, 0, apierr.ErrEmptyContent)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return Result{
		Model:   model,
		Content: content,
		Usage:   usage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

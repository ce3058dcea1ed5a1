package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/config"
	"github.com/pario-ai/aigate/pkg/models"
)

// Gemini talks to the Gemini API through the genai SDK.
type Gemini struct {
	name   string
	client *genai.Client
}

// NewGemini builds a Gemini adapter. The client is created once and shared.
func NewGemini(cfg config.ProviderConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.URL != "" {
		cc.HTTPOptions.BaseURL = cfg.URL
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("provider %q: create genai client: %w", cfg.Name, err)
	}
	return &Gemini{name: cfg.Name, client: client}, nil
}

// Name implements Adapter.
func (g *Gemini) Name() string { return g.name }

// Generate implements Adapter.
func (g *Gemini) Generate(ctx context.Context, req Request) (Result, error) {
	system, convo := splitSystem(req.Messages)

	gcfg := &genai.GenerateContentConfig{}
	if system != "" {
		gcfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		gcfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens != nil {
		gcfg.MaxOutputTokens = int32(*req.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, geminiContents(convo), gcfg)
	if err != nil {
		return Result{}, providerError(g.name, geminiStatus(err), err)
	}

	text := geminiText(resp)
	if strings.TrimSpace(text) == "" {
		return Result{}, providerError(g.name, 0, apierr.ErrEmptyContent)
	}

	model := req.Model
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}
	var u models.Usage
	if resp.UsageMetadata != nil {
		u = usage(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	}
	return Result{Model: model, Content: text, Usage: u}, nil
}

func geminiContents(messages []models.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

// geminiText joins the non-thought text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

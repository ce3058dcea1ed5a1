package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"google.golang.org/genai"

	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/config"
	"github.com/pario-ai/aigate/pkg/models"
)

func userMessages(text string) []models.Message {
	return []models.Message{{Role: "user", Content: text}}
}

func TestOpenAIGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"hola"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	a := NewOpenAI(config.ProviderConfig{Name: "primary", URL: srv.URL + "/v1", APIKey: "sk-test"})
	maxTokens := 50
	res, err := a.Generate(context.Background(), Request{Model: "gpt-4o-mini", Messages: userMessages("hi"), MaxTokens: &maxTokens})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hola" || res.Model != "gpt-4o-mini" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Usage.InputTokens != 3 || res.Usage.OutputTokens != 1 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
	if got["model"] != "gpt-4o-mini" || got["max_tokens"] != float64(50) {
		t.Errorf("unexpected request body: %v", got)
	}
}

func TestOpenAIEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","model":"m","choices":[]}`))
	}))
	defer srv.Close()

	a := NewOpenAI(config.ProviderConfig{Name: "primary", URL: srv.URL + "/v1", APIKey: "k"})
	_, err := a.Generate(context.Background(), Request{Model: "m", Messages: userMessages("hi")})
	var pe *apierr.ProviderError
	if !errors.As(err, &pe) || pe.Provider != "primary" {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !errors.Is(err, apierr.ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func TestOpenAIUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	a := NewOpenAI(config.ProviderConfig{Name: "primary", URL: srv.URL + "/v1", APIKey: "k"})
	_, err := a.Generate(context.Background(), Request{Model: "m", Messages: userMessages("hi")})
	var pe *apierr.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", pe.StatusCode)
	}
}

func TestAnthropicGenerate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("unexpected headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"model":"claude-haiku-4-5","content":[{"type":"text","text":"ho"},{"type":"text","text":"la"}],"usage":{"input_tokens":7,"output_tokens":2}}`))
	}))
	defer srv.Close()

	a := NewAnthropic(config.ProviderConfig{Name: "backup", URL: srv.URL, APIKey: "sk-ant"})
	res, err := a.Generate(context.Background(), Request{
		Model: "claude-haiku-4-5",
		Messages: []models.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hola" || res.Usage.InputTokens != 7 {
		t.Errorf("unexpected result: %+v", res)
	}
	if got.System != "be brief" || len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("system message not folded: %+v", got)
	}
	if got.MaxTokens != defaultAnthropicMaxToks {
		t.Errorf("expected default max_tokens, got %d", got.MaxTokens)
	}
}

func TestAnthropicErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	a := NewAnthropic(config.ProviderConfig{Name: "backup", URL: srv.URL, APIKey: "k"})
	_, err := a.Generate(context.Background(), Request{Model: "m", Messages: userMessages("hi")})
	var pe *apierr.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests || pe.Err.Error() != "slow down" {
		t.Errorf("unexpected error: %+v", pe)
	}
}

func TestAnthropicNoText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m","content":[{"type":"tool_use"}]}`))
	}))
	defer srv.Close()

	a := NewAnthropic(config.ProviderConfig{Name: "backup", URL: srv.URL, APIKey: "k"})
	_, err := a.Generate(context.Background(), Request{Model: "m", Messages: userMessages("hi")})
	if !errors.Is(err, apierr.ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func TestGeminiText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "ho"},
				nil,
				{Text: "la"},
			}},
		}},
	}
	if got := geminiText(resp); got != "hola" {
		t.Errorf("expected hola, got %q", got)
	}
	if got := geminiText(&genai.GenerateContentResponse{}); got != "" {
		t.Errorf("expected empty text, got %q", got)
	}
	if got := geminiText(nil); got != "" {
		t.Errorf("expected empty text for nil, got %q", got)
	}
}

func TestGeminiContents(t *testing.T) {
	contents := geminiContents([]models.Message{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
	})
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleModel {
		t.Errorf("unexpected roles: %s, %s", contents[0].Role, contents[1].Role)
	}
}

func TestNewUnknownType(t *testing.T) {
	if _, err := New(config.ProviderConfig{Name: "x", Type: "telegraph"}); err == nil {
		t.Error("expected error for unknown type")
	}
	a, err := New(config.ProviderConfig{Name: "x", APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(*OpenAI); !ok || a.Name() != "x" {
		t.Errorf("expected openai adapter named x, got %T", a)
	}
}

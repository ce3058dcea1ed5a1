// Package router dispatches a generation request across the configured
// providers in priority order until one succeeds.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/config"
	"github.com/pario-ai/aigate/pkg/metrics"
	"github.com/pario-ai/aigate/pkg/models"
	"github.com/pario-ai/aigate/pkg/provider"
)

var tracer = otel.Tracer("aigate/router")

// ErrNoProviders is the cause reported when no provider is enabled.
var ErrNoProviders = errors.New("no providers enabled")

// Route pairs a provider's configuration with its adapter.
type Route struct {
	Provider config.ProviderConfig
	Adapter  provider.Adapter
}

// Router holds the dispatch order, fixed at construction.
type Router struct {
	routes []Route
	logger *slog.Logger
}

// New keeps the enabled routes and orders them by ascending priority.
// Routes with equal priority keep their configured order.
func New(routes []Route, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	enabled := make([]Route, 0, len(routes))
	for _, r := range routes {
		if r.Provider.Enabled && r.Adapter != nil {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Provider.Priority < enabled[j].Provider.Priority
	})
	return &Router{routes: enabled, logger: logger}
}

// FromConfig builds adapters for every enabled provider in cfg.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Router, error) {
	var routes []Route
	for _, p := range cfg.EnabledProviders() {
		a, err := provider.New(p)
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", p.Name, err)
		}
		routes = append(routes, Route{Provider: p, Adapter: a})
	}
	return New(routes, logger), nil
}

// Routes returns the dispatch order.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Dispatch tries each provider in order and returns the first success.
// Messages take precedence over prompt. prefs are keyed by provider name.
// If ctx is cancelled, Dispatch stops and returns ctx.Err().
func (r *Router) Dispatch(ctx context.Context, prompt string, messages []models.Message, prefs map[string]models.ModelPreference) (*models.ProviderResponse, error) {
	ctx, span := tracer.Start(ctx, "router.Dispatch")
	defer span.End()

	if len(r.routes) == 0 {
		err := &apierr.AllProvidersFailedError{Last: ErrNoProviders}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(messages) == 0 {
		messages = []models.Message{{Role: "user", Content: prompt}}
	}

	var attempts []*apierr.ProviderError
	for _, route := range r.routes {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		req := buildRequest(route.Provider, messages, prefs)
		resp, err := r.attempt(ctx, route, req)
		if err == nil {
			span.SetAttributes(attribute.String("provider", resp.Provider), attribute.Int("attempts", len(attempts)+1))
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, ctxErr.Error())
			return nil, ctxErr
		}

		var pe *apierr.ProviderError
		if !errors.As(err, &pe) {
			pe = &apierr.ProviderError{Provider: route.Provider.Name, Err: err}
		}
		attempts = append(attempts, pe)
		r.logger.Warn("provider_failed",
			"provider", route.Provider.Name,
			"model", req.Model,
			"status", pe.StatusCode,
			"err", pe.Err,
		)
	}

	err := &apierr.AllProvidersFailedError{Attempts: attempts, Last: attempts[len(attempts)-1]}
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (r *Router) attempt(ctx context.Context, route Route, req provider.Request) (*models.ProviderResponse, error) {
	name := route.Provider.Name
	ctx, span := tracer.Start(ctx, "provider.generate", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.String("model", req.Model),
	))
	defer span.End()

	if route.Provider.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, route.Provider.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := route.Adapter.Generate(ctx, req)
	latency := time.Since(start)
	metrics.ProviderLatency.WithLabelValues(name).Observe(latency.Seconds())
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.ProviderRequests.WithLabelValues(name, "success").Inc()

	model := res.Model
	if model == "" {
		model = req.Model
	}
	return &models.ProviderResponse{
		Provider: name,
		Model:    model,
		Content:  res.Content,
		Usage:    res.Usage,
		Latency:  latency,
	}, nil
}

func buildRequest(p config.ProviderConfig, messages []models.Message, prefs map[string]models.ModelPreference) provider.Request {
	req := provider.Request{Model: p.DefaultModel, Messages: messages}
	if pref, ok := prefs[p.Name]; ok {
		if pref.Model != "" {
			req.Model = pref.Model
		}
		req.Temperature = pref.Temperature
		req.MaxTokens = pref.MaxTokens
	}
	return req
}

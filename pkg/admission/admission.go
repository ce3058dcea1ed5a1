// Package admission decides whether a generation request is served from
// cache, denied, or dispatched and billed.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/cache"
	"github.com/pario-ai/aigate/pkg/ledger"
	"github.com/pario-ai/aigate/pkg/metrics"
	"github.com/pario-ai/aigate/pkg/models"
)

// ResponseCache is the subset of cache.Cache the controller needs.
type ResponseCache interface {
	Get(ctx context.Context, key models.Fingerprint, feature string) (*models.CacheEntry, error)
	Set(ctx context.Context, key models.Fingerprint, feature string, response any, metadata map[string]string) error
}

// Dispatcher sends a request to the upstream providers.
type Dispatcher interface {
	Dispatch(ctx context.Context, prompt string, messages []models.Message, prefs map[string]models.ModelPreference) (*models.ProviderResponse, error)
}

// UsageRecorder appends billed usage.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Terminal states of a request.
const (
	OutcomeServed      = "served"
	OutcomeDenied      = "denied"
	OutcomeCommitted   = "committed"
	OutcomeAllFailed   = "all_providers_failed"
	OutcomeInvalid     = "invalid"
	OutcomeCanceled    = "canceled"
	OutcomeLedgerError = "ledger_error"
	OutcomeError       = "error"
)

// Options tunes the controller.
type Options struct {
	// DefaultCost applies to features with no cost table or FeatureCosts entry.
	DefaultCost uint
	// FeatureCosts are fallback prices used when the cost table has no entry.
	FeatureCosts map[string]uint
	// SingleFlight shares one provider dispatch between concurrent identical
	// cache misses from the same user.
	SingleFlight bool
	// ExcerptLength caps the prompt excerpt stored with usage, in runes.
	ExcerptLength int
}

// Controller orchestrates cache, ledger and router for each request.
type Controller struct {
	cache    ResponseCache
	ledger   ledger.Ledger
	costs    ledger.CostTable
	router   Dispatcher
	usage    UsageRecorder
	opts     Options
	logger   *slog.Logger
	validate *validator.Validate
	group    singleflight.Group
}

// Deps are the collaborators of a Controller. Cache, Costs and Usage may be nil.
type Deps struct {
	Cache  ResponseCache
	Ledger ledger.Ledger
	Costs  ledger.CostTable
	Router Dispatcher
	Usage  UsageRecorder
	Logger *slog.Logger
}

// New creates a Controller.
func New(deps Deps, opts Options) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = 200
	}
	return &Controller{
		cache:    deps.Cache,
		ledger:   deps.Ledger,
		costs:    deps.Costs,
		router:   deps.Router,
		usage:    deps.Usage,
		opts:     opts,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that is logged and stored with usage.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id attached to ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ResolveCost returns the credit price of feature. It never fails: lookup
// errors fall back to the configured prices.
func (c *Controller) ResolveCost(ctx context.Context, feature string) uint {
	if c.costs != nil {
		cost, ok, err := c.costs.Lookup(ctx, feature)
		switch {
		case err != nil:
			c.logger.Warn("cost_lookup_failed", "feature", feature, "err", err)
		case ok:
			return cost
		}
	}
	if cost, ok := c.opts.FeatureCosts[feature]; ok {
		return cost
	}
	return c.opts.DefaultCost
}

// Handle serves one request for userID.
func (c *Controller) Handle(ctx context.Context, userID string, req *models.Request) (*models.Response, error) {
	if err := c.validateRequest(userID, req); err != nil {
		c.finish(ctx, "", OutcomeInvalid, "user_id", userID, "err", err)
		return nil, err
	}
	feature := req.Feature
	key := cache.FingerprintRequest(req)

	if resp, ok := c.lookup(ctx, key, feature); ok {
		c.finish(ctx, feature, OutcomeServed, "user_id", userID, "cache_key", key)
		return resp, nil
	}

	cost := c.ResolveCost(ctx, feature)
	balance, err := c.ledger.GetBalance(ctx, userID)
	if err != nil {
		err = &apierr.LedgerError{Op: "get_balance", Err: err}
		c.finish(ctx, feature, OutcomeLedgerError, "user_id", userID, "err", err)
		return nil, err
	}
	if balance < int64(cost) {
		err := &apierr.InsufficientCreditsError{Required: int64(cost), Available: balance}
		c.finish(ctx, feature, OutcomeDenied, "user_id", userID, "required", cost, "available", balance)
		return nil, err
	}

	presp, err := c.dispatch(ctx, userID, key, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.finish(ctx, feature, OutcomeCanceled, "user_id", userID)
		return nil, ctxErr
	}
	if err != nil {
		outcome := OutcomeError
		var all *apierr.AllProvidersFailedError
		if errors.As(err, &all) {
			outcome = OutcomeAllFailed
		}
		c.finish(ctx, feature, outcome, "user_id", userID, "err", err)
		return nil, err
	}

	// The provider answered: billing and bookkeeping run to completion even
	// if the caller leaves now.
	commitCtx := context.WithoutCancel(ctx)
	if cost > 0 {
		ok, err := c.ledger.Debit(commitCtx, userID, int64(cost), feature, "generation: "+feature)
		if err != nil {
			err = &apierr.LedgerError{Op: "debit", Err: err}
			c.finish(ctx, feature, OutcomeLedgerError, "user_id", userID, "provider", presp.Provider, "err", err)
			return nil, err
		}
		if !ok {
			available, berr := c.ledger.GetBalance(commitCtx, userID)
			if berr != nil {
				available = balance
			}
			err := &apierr.InsufficientCreditsError{Required: int64(cost), Available: available}
			c.finish(ctx, feature, OutcomeDenied, "user_id", userID, "stage", "debit", "required", cost, "available", available)
			return nil, err
		}
		metrics.CreditsCharged.WithLabelValues(feature).Add(float64(cost))
	}

	c.store(commitCtx, key, feature, presp)
	c.record(commitCtx, userID, req, presp, cost)

	c.finish(ctx, feature, OutcomeCommitted,
		"user_id", userID,
		"provider", presp.Provider,
		"model", presp.Model,
		"credits", cost,
		"latency_ms", presp.Latency.Milliseconds(),
	)
	return &models.Response{
		Provider: presp.Provider,
		Model:    presp.Model,
		Content:  presp.Content,
		Cached:   false,
		Metadata: map[string]string{
			"credits_charged": strconv.FormatUint(uint64(cost), 10),
			"latency_ms":      strconv.FormatInt(presp.Latency.Milliseconds(), 10),
		},
	}, nil
}

func (c *Controller) validateRequest(userID string, req *models.Request) error {
	if strings.TrimSpace(userID) == "" {
		return &apierr.AuthError{Reason: "missing user identity"}
	}
	if req == nil {
		return apierr.NewValidation("", "request body is required")
	}
	req.Feature = strings.TrimSpace(req.Feature)
	if err := c.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &apierr.ValidationError{
				Field:   fe.Namespace(),
				Message: fmt.Sprintf("failed on %q", fe.Tag()),
				Err:     err,
			}
		}
		return &apierr.ValidationError{Message: err.Error(), Err: err}
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0 {
		return apierr.NewValidation("prompt", "prompt or messages is required")
	}
	return nil
}

// lookup returns a cached response. Cache failures count as a miss.
func (c *Controller) lookup(ctx context.Context, key models.Fingerprint, feature string) (*models.Response, bool) {
	if c.cache == nil {
		return nil, false
	}
	entry, err := c.cache.Get(ctx, key, feature)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.Warn("cache_read_failed", "feature", feature, "cache_key", key, "err", &apierr.CacheError{Op: "get", Err: err})
			metrics.CacheLookups.WithLabelValues(feature, "error").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues(feature, "miss").Inc()
		}
		return nil, false
	}

	var presp models.ProviderResponse
	if err := json.Unmarshal(entry.Response, &presp); err != nil {
		c.logger.Warn("cache_entry_corrupt", "feature", feature, "cache_key", key, "err", err)
		metrics.CacheLookups.WithLabelValues(feature, "error").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues(feature, "hit").Inc()

	metadata := make(map[string]string, len(entry.Metadata)+2)
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	metadata["cache_hits"] = strconv.FormatUint(entry.Hits, 10)
	metadata["cached_at"] = entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
	return &models.Response{
		Provider: presp.Provider,
		Model:    presp.Model,
		Content:  presp.Content,
		Cached:   true,
		Metadata: metadata,
	}, true
}

func (c *Controller) dispatch(ctx context.Context, userID string, key models.Fingerprint, req *models.Request) (*models.ProviderResponse, error) {
	if !c.opts.SingleFlight {
		return c.router.Dispatch(ctx, req.Prompt, req.Messages, req.ModelPreferences)
	}

	ch := c.group.DoChan(userID+"\x00"+string(key), func() (any, error) {
		return c.router.Dispatch(ctx, req.Prompt, req.Messages, req.ModelPreferences)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// The leader's caller went away; this caller is still waiting.
			if res.Shared && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				return c.router.Dispatch(ctx, req.Prompt, req.Messages, req.ModelPreferences)
			}
			return nil, res.Err
		}
		return res.Val.(*models.ProviderResponse), nil
	}
}

func (c *Controller) store(ctx context.Context, key models.Fingerprint, feature string, presp *models.ProviderResponse) {
	if c.cache == nil {
		return
	}
	metadata := map[string]string{"provider": presp.Provider, "model": presp.Model}
	if err := c.cache.Set(ctx, key, feature, presp, metadata); err != nil {
		c.logger.Warn("cache_write_failed", "feature", feature, "cache_key", key, "err", &apierr.CacheError{Op: "set", Err: err})
	}
}

func (c *Controller) record(ctx context.Context, userID string, req *models.Request, presp *models.ProviderResponse, cost uint) {
	if c.usage == nil {
		return
	}
	rec := models.UsageRecord{
		RequestID:     RequestIDFrom(ctx),
		UserID:        userID,
		Feature:       req.Feature,
		ProviderUsed:  presp.Provider,
		Model:         presp.Model,
		PromptExcerpt: excerpt(promptText(req), c.opts.ExcerptLength),
		ResponseMetadata: map[string]string{
			"input_tokens":  strconv.Itoa(presp.Usage.InputTokens),
			"output_tokens": strconv.Itoa(presp.Usage.OutputTokens),
			"latency_ms":    strconv.FormatInt(presp.Latency.Milliseconds(), 10),
		},
		CreditsCharged: int64(cost),
	}
	if err := c.usage.Record(ctx, rec); err != nil {
		c.logger.Error("usage_record_failed", "user_id", userID, "feature", req.Feature, "err", err)
	}
}

func (c *Controller) finish(ctx context.Context, feature, outcome string, attrs ...any) {
	metrics.AdmissionTotal.WithLabelValues(feature, outcome).Inc()
	attrs = append(attrs, "feature", feature, "outcome", outcome)
	if id := RequestIDFrom(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	level := slog.LevelInfo
	switch outcome {
	case OutcomeAllFailed, OutcomeLedgerError, OutcomeError:
		level = slog.LevelError
	case OutcomeInvalid, OutcomeDenied, OutcomeCanceled:
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "admission_"+outcome, attrs...)
}

// promptText is the prompt, or the last user message when only messages were sent.
func promptText(req *models.Request) string {
	if strings.TrimSpace(req.Prompt) != "" {
		return req.Prompt
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Package apierr defines the gateway error taxonomy and its mapping to
// transport status codes.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category names an error class visible to clients.
type Category string

const (
	CategoryValidation          Category = "validation_error"
	CategoryAuth                Category = "auth_error"
	CategoryInsufficientCredits Category = "insufficient_credits"
	CategoryProvider            Category = "provider_error"
	CategoryAllProvidersFailed  Category = "all_providers_failed"
	CategoryLedger              Category = "ledger_error"
	CategoryCache               Category = "cache_error"
	CategoryCanceled            Category = "request_canceled"
	CategoryTimeout             Category = "request_timeout"
	CategoryInternal            Category = "internal_error"
)

// StatusClientClosedRequest is returned when the caller went away before a
// response was produced.
const StatusClientClosedRequest = 499

// ValidationError reports a malformed request.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
	}
	return "invalid request: " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidation builds a ValidationError for a single field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AuthError reports a missing or invalid caller identity.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// InsufficientCreditsError is returned when the balance cannot cover the cost.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// ProviderError is a single provider failure. The router absorbs it and
// moves on to the next provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrEmptyContent is wrapped by adapters when a provider answered without text.
var ErrEmptyContent = errors.New("response contained no text content")

// AllProvidersFailedError is terminal: every enabled provider failed.
type AllProvidersFailedError struct {
	Attempts []*ProviderError
	Last     error
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("all providers failed: %v", e.Last)
	}
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Provider)
	}
	return fmt.Sprintf("all providers failed (%s): last error: %v", strings.Join(names, ", "), e.Last)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.Last }

// LedgerError reports an infrastructure failure in the credit ledger.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string { return fmt.Sprintf("ledger %s: %v", e.Op, e.Err) }

func (e *LedgerError) Unwrap() error { return e.Err }

// CacheError reports a cache backend failure. It is always soft-failed.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache %s: %v", e.Op, e.Err) }

func (e *CacheError) Unwrap() error { return e.Err }

// CategoryOf classifies err.
func CategoryOf(err error) Category {
	var (
		validation *ValidationError
		auth       *AuthError
		credits    *InsufficientCreditsError
		allFailed  *AllProvidersFailedError
		provider   *ProviderError
		ledger     *LedgerError
		cacheErr   *CacheError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CategoryValidation
	case errors.As(err, &auth):
		return CategoryAuth
	case errors.As(err, &credits):
		return CategoryInsufficientCredits
	case errors.As(err, &allFailed):
		return CategoryAllProvidersFailed
	case errors.As(err, &ledger):
		return CategoryLedger
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	case errors.As(err, &provider):
		return CategoryProvider
	case errors.As(err, &cacheErr):
		return CategoryCache
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	default:
		return CategoryInternal
	}
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch CategoryOf(err) {
	case "":
		return http.StatusOK
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuth:
		return http.StatusUnauthorized
	case CategoryInsufficientCredits:
		return http.StatusPaymentRequired
	case CategoryAllProvidersFailed, CategoryProvider:
		return http.StatusBadGateway
	case CategoryCanceled:
		return StatusClientClosedRequest
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload returned to clients.
type Body struct {
	Error Detail `json:"error"`
}

// Detail describes a failure and its category.
type Detail struct {
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Response converts err into a status code and payload.
func Response(err error, requestID string) (int, Body) {
	category := CategoryOf(err)
	if category == "" {
		category = CategoryInternal
	}
	detail := Detail{
		Category:  category,
		Message:   err.Error(),
		RequestID: requestID,
	}

	var credits *InsufficientCreditsError
	var allFailed *AllProvidersFailedError
	var validation *ValidationError
	switch {
	case errors.As(err, &credits):
		detail.Details = map[string]any{"required": credits.Required, "available": credits.Available}
	case errors.As(err, &allFailed):
		providers := make([]string, 0, len(allFailed.Attempts))
		for _, a := range allFailed.Attempts {
			providers = append(providers, a.Provider)
		}
		detail.Details = map[string]any{"providers": providers}
	case errors.As(err, &validation) && validation.Field != "":
		detail.Details = map[string]any{"field": validation.Field}
	}

	if category == CategoryInternal || category == CategoryLedger {
		// Infrastructure causes stay in the logs.
		detail.Message = "internal error"
		if category == CategoryLedger {
			detail.Message = "billing could not be confirmed"
		}
	}
	return Status(err), Body{Error: detail}
}

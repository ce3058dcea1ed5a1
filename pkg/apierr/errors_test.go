package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	provErr := &ProviderError{Provider: "a", Err: errors.New("boom")}
	tests := []struct {
		name     string
		err      error
		status   int
		category Category
	}{
		{"validation", NewValidation("feature", "required"), http.StatusBadRequest, CategoryValidation},
		{"auth", &AuthError{Reason: "missing token"}, http.StatusUnauthorized, CategoryAuth},
		{"credits", &InsufficientCreditsError{Required: 2, Available: 1}, http.StatusPaymentRequired, CategoryInsufficientCredits},
		{"all failed", &AllProvidersFailedError{Attempts: []*ProviderError{provErr}, Last: provErr}, http.StatusBadGateway, CategoryAllProvidersFailed},
		{"ledger", &LedgerError{Op: "debit", Err: errors.New("disk full")}, http.StatusInternalServerError, CategoryLedger},
		{"wrapped credits", fmt.Errorf("handle: %w", &InsufficientCreditsError{}), http.StatusPaymentRequired, CategoryInsufficientCredits},
		{"canceled", fmt.Errorf("dispatch: %w", context.Canceled), StatusClientClosedRequest, CategoryCanceled},
		{"deadline", fmt.Errorf("dispatch: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, CategoryTimeout},
		{"provider timeout", &ProviderError{Provider: "a", Err: context.DeadlineExceeded}, http.StatusBadGateway, CategoryProvider},
		{"unknown", errors.New("???"), http.StatusInternalServerError, CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, got)
			}
			if got := CategoryOf(tt.err); got != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, got)
			}
		})
	}
}

func TestAllProvidersFailedCarriesLastError(t *testing.T) {
	first := &ProviderError{Provider: "a", Err: context.DeadlineExceeded}
	last := &ProviderError{Provider: "b", StatusCode: 503, Err: errors.New("overloaded")}
	err := &AllProvidersFailedError{Attempts: []*ProviderError{first, last}, Last: last}

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != "b" {
		t.Fatalf("expected last provider error to unwrap, got %v", pe)
	}
	if got := err.Error(); got != "all providers failed (a, b): last error: provider b: status 503: overloaded" {
		t.Errorf("unexpected message: %s", got)
	}
}

func TestResponseHidesLedgerCause(t *testing.T) {
	status, body := Response(&LedgerError{Op: "debit", Err: errors.New("connection refused")}, "req-1")
	if status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", status)
	}
	if body.Error.Category != CategoryLedger {
		t.Errorf("expected ledger category, got %s", body.Error.Category)
	}
	if body.Error.Message != "billing could not be confirmed" {
		t.Errorf("unexpected message: %s", body.Error.Message)
	}
	if body.Error.RequestID != "req-1" {
		t.Errorf("expected request id, got %q", body.Error.RequestID)
	}
}

func TestResponseInsufficientCreditsDetails(t *testing.T) {
	_, body := Response(&InsufficientCreditsError{Required: 5, Available: 3}, "")
	if body.Error.Details["required"] != int64(5) || body.Error.Details["available"] != int64(3) {
		t.Errorf("unexpected details: %v", body.Error.Details)
	}
}

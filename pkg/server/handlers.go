package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pario-ai/aigate/pkg/admission"
	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/ledger"
	"github.com/pario-ai/aigate/pkg/models"
)

const defaultTransactionLimit = 50

func (s *Server) handleGenerate(c *gin.Context) {
	var req models.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, &apierr.ValidationError{Message: "malformed request body", Err: err})
		return
	}

	ctx := admission.WithRequestID(c.Request.Context(), getRequestID(c))
	resp, err := s.deps.Admission.Handle(ctx, c.GetString(userIDKey), &req)
	if err != nil {
		s.abort(c, err)
		return
	}

	if resp.Cached {
		c.Header(CacheHeader, "hit")
	} else {
		c.Header(CacheHeader, "miss")
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCredits(c *gin.Context) {
	userID := c.GetString(userIDKey)
	acct, err := s.deps.Accounts.Account(c.Request.Context(), userID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		c.JSON(http.StatusOK, models.CreditAccount{UserID: userID})
		return
	}
	if err != nil {
		s.abort(c, &apierr.LedgerError{Op: "account", Err: err})
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) handleTransactions(c *gin.Context) {
	limit := defaultTransactionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.abort(c, badRequest("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	txs, err := s.deps.Accounts.Transactions(c.Request.Context(), c.GetString(userIDKey), limit)
	if err != nil {
		s.abort(c, &apierr.LedgerError{Op: "transactions", Err: err})
		return
	}
	if txs == nil {
		txs = []models.CreditTransaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (s *Server) handleUsage(c *gin.Context) {
	summary, err := s.deps.Usage.Summary(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		s.abort(c, err)
		return
	}
	if summary == nil {
		summary = []models.UsageSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"usage": summary})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	stats, err := s.deps.Cache.Stats(c.Request.Context())
	if err != nil {
		s.abort(c, &apierr.CacheError{Op: "stats", Err: err})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCacheSweep(c *gin.Context) {
	n, err := s.deps.Cache.SweepExpired(c.Request.Context())
	if err != nil {
		s.abort(c, &apierr.CacheError{Op: "sweep", Err: err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

// handleCacheInvalidate deletes by key, by feature, or everything when all=true.
func (s *Server) handleCacheInvalidate(c *gin.Context) {
	feature := strings.TrimSpace(c.Query("feature"))
	key := models.Fingerprint(strings.TrimSpace(c.Query("key")))
	if feature == "" && key == "" && c.Query("all") != "true" {
		s.abort(c, badRequest("feature", "feature, key or all=true is required"))
		return
	}
	n, err := s.deps.Cache.Invalidate(c.Request.Context(), feature, key)
	if err != nil {
		s.abort(c, &apierr.CacheError{Op: "invalidate", Err: err})
		return
	}
	s.logger.Info("cache_invalidated", "request_id", getRequestID(c), "feature", feature, "cache_key", key, "removed", n)
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

type grantRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Bucket      string `json:"bucket" binding:"required,oneof=monthly purchased bonus"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
}

func (s *Server) handleGrant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, &apierr.ValidationError{Message: err.Error(), Err: err})
		return
	}
	if req.Description == "" {
		req.Description = "admin grant"
	}
	acct, err := s.deps.Accounts.Grant(c.Request.Context(), req.UserID, models.CreditBucket(req.Bucket), req.Amount, req.Description)
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		s.abort(c, badRequest("amount", err.Error()))
		return
	case errors.Is(err, ledger.ErrUnknownBucket):
		s.abort(c, badRequest("bucket", err.Error()))
		return
	case err != nil:
		s.abort(c, &apierr.LedgerError{Op: "grant", Err: err})
		return
	}
	s.logger.Info("credits_granted", "request_id", getRequestID(c), "user_id", req.UserID, "bucket", req.Bucket, "amount", req.Amount)
	c.JSON(http.StatusOK, acct)
}

func (s *Server) handleListCosts(c *gin.Context) {
	costs, err := s.deps.Accounts.Costs(c.Request.Context())
	if err != nil {
		s.abort(c, &apierr.LedgerError{Op: "costs", Err: err})
		return
	}
	if costs == nil {
		costs = []models.FeatureCost{}
	}
	c.JSON(http.StatusOK, gin.H{"costs": costs})
}

type setCostRequest struct {
	Cost *uint `json:"cost" binding:"required"`
}

func (s *Server) handleSetCost(c *gin.Context) {
	var req setCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, &apierr.ValidationError{Field: "cost", Message: "cost is required", Err: err})
		return
	}
	feature := strings.TrimSpace(c.Param("feature"))
	if err := s.deps.Accounts.SetCost(c.Request.Context(), feature, *req.Cost); err != nil {
		s.abort(c, &apierr.LedgerError{Op: "set_cost", Err: err})
		return
	}
	c.JSON(http.StatusOK, models.FeatureCost{FeatureSlug: feature, CreditCost: *req.Cost})
}

// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pario-ai/aigate/pkg/admission"
	"github.com/pario-ai/aigate/pkg/cache"
	"github.com/pario-ai/aigate/pkg/identity"
	"github.com/pario-ai/aigate/pkg/models"
	"github.com/pario-ai/aigate/pkg/tracker"
)

// Accounts is the ledger surface the HTTP API reads and administers.
type Accounts interface {
	Account(ctx context.Context, userID string) (models.CreditAccount, error)
	Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
	Grant(ctx context.Context, userID string, bucket models.CreditBucket, amount int64, description string) (models.CreditAccount, error)
	Costs(ctx context.Context) ([]models.FeatureCost, error)
	SetCost(ctx context.Context, feature string, cost uint) error
}

// Deps wires a Server. Cache and Usage may be nil.
type Deps struct {
	Admission  *admission.Controller
	Accounts   Accounts
	Cache      *cache.Cache
	Usage      tracker.Tracker
	Identity   *identity.Manager
	AdminToken string
	Logger     *slog.Logger
}

// Server is the aigate HTTP API.
type Server struct {
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine
}

// New creates a Server with all routes registered.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{deps: deps, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestID(), requestLogger(logger), requestMetrics())

	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1", s.authenticate())
	v1.POST("/generate", s.handleGenerate)
	v1.GET("/credits", s.handleCredits)
	v1.GET("/credits/transactions", s.handleTransactions)
	if deps.Usage != nil {
		v1.GET("/usage", s.handleUsage)
	}

	admin := s.engine.Group("/admin", s.requireAdmin())
	if deps.Cache != nil {
		admin.GET("/cache/stats", s.handleCacheStats)
		admin.POST("/cache/sweep", s.handleCacheSweep)
		admin.DELETE("/cache", s.handleCacheInvalidate)
	}
	admin.POST("/credits", s.handleGrant)
	admin.GET("/costs", s.handleListCosts)
	admin.PUT("/costs/:feature", s.handleSetCost)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("server_shutting_down")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

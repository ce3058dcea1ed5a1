package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pario-ai/aigate/pkg/metrics"
)

// Sweeper removes expired entries on a fixed interval.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper returns a Sweeper. A nil logger uses slog.Default.
func NewSweeper(c *Cache, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cache: c, interval: interval, logger: logger}
}

// Run sweeps until ctx is done. It returns immediately when the interval is
// not positive.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.cache.SweepExpired(ctx)
			if err != nil {
				s.logger.Warn("cache_sweep_failed", "err", err)
				continue
			}
			if n > 0 {
				metrics.CacheSwept.Add(float64(n))
				s.logger.Info("cache_swept", "removed", n)
			}
		}
	}
}

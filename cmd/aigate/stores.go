package main

import (
	"fmt"

	"github.com/pario-ai/aigate/pkg/cache"
	cachesqlite "github.com/pario-ai/aigate/pkg/cache/sqlite"
	cachevalkey "github.com/pario-ai/aigate/pkg/cache/valkey"
	"github.com/pario-ai/aigate/pkg/config"
)

// openCache builds the configured cache backend.
func openCache(cfg *config.Config) (*cache.Cache, error) {
	var (
		backend cache.Backend
		err     error
	)
	switch cfg.Cache.Backend {
	case "valkey":
		backend, err = cachevalkey.New(cfg.Cache.ValkeyURL)
	default:
		backend, err = cachesqlite.New(cfg.DBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s cache: %w", cfg.Cache.Backend, err)
	}
	return cache.New(backend, cache.WithTTLs(cfg.Cache.DefaultTTL, cfg.Cache.FeatureTTLs)), nil
}

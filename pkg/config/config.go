package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/aigate/pkg/models"
)

// Config holds all gateway configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	DBPath    string           `yaml:"db_path"`
	Providers []ProviderConfig `yaml:"providers"`
	Cache     CacheConfig      `yaml:"cache"`
	Costs     CostConfig       `yaml:"costs"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Identity  IdentityConfig   `yaml:"identity"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ProviderConfig defines an upstream model provider.
// Type is "openai" (default), "anthropic" or "gemini". Enabled is derived
// from credential presence when the config is loaded and never changes
// afterwards.
type ProviderConfig struct {
	Name           string        `yaml:"name"`
	Type           string        `yaml:"type"`
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	Priority       int           `yaml:"priority"`
	DefaultModel   string        `yaml:"default_model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Enabled        bool          `yaml:"-"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "sqlite" (default) or "valkey".
	Backend       string                   `yaml:"backend"`
	ValkeyURL     string                   `yaml:"valkey_url"`
	DefaultTTL    time.Duration            `yaml:"default_ttl"`
	FeatureTTLs   map[string]time.Duration `yaml:"feature_ttls"`
	SweepInterval time.Duration            `yaml:"sweep_interval"`
}

// CostConfig holds the fallback credit prices used when the cost table
// has no entry for a feature.
type CostConfig struct {
	Default  uint            `yaml:"default"`
	Features map[string]uint `yaml:"features"`
}

// GatewayConfig controls admission behavior.
type GatewayConfig struct {
	SingleFlight  bool   `yaml:"single_flight"`
	ExcerptLength int    `yaml:"excerpt_length"`
	AdminToken    string `yaml:"admin_token"`
}

// IdentityConfig configures caller token verification.
type IdentityConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// LoggingConfig controls log level and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

const defaultRequestTimeout = 30 * time.Second

// DefaultFeatureTTLs are cache lifetimes per feature, chosen by how quickly
// an answer goes stale.
func DefaultFeatureTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"trends":        time.Hour,
		"hashtags":      6 * time.Hour,
		"content_ideas": 24 * time.Hour,
		"captions":      72 * time.Hour,
		"viral_script":  7 * 24 * time.Hour,
	}
}

// DefaultFeatureCosts are credit prices per feature.
func DefaultFeatureCosts() map[string]uint {
	return map[string]uint{
		"viral_script":  5,
		"content_ideas": 3,
		"trends":        3,
		"hashtags":      2,
		"captions":      2,
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "aigate.db",
		Cache: CacheConfig{
			Enabled:       true,
			Backend:       "sqlite",
			DefaultTTL:    24 * time.Hour,
			FeatureTTLs:   DefaultFeatureTTLs(),
			SweepInterval: time.Hour,
		},
		Costs: CostConfig{
			Default:  1,
			Features: DefaultFeatureCosts(),
		},
		Gateway: GatewayConfig{
			ExcerptLength: 200,
		},
		Identity: IdentityConfig{
			Issuer: "aigate",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize fills per-provider defaults and computes availability.
func (c *Config) finalize() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Type == "" {
			p.Type = "openai"
		}
		if p.RequestTimeout <= 0 {
			p.RequestTimeout = defaultRequestTimeout
		}
		p.Enabled = strings.TrimSpace(p.APIKey) != ""
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "sqlite"
	}
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, errors.New("provider without name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("provider %q: duplicate name", p.Name))
		}
		seen[p.Name] = true
		switch p.Type {
		case "openai", "anthropic", "gemini":
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type))
		}
	}
	switch c.Cache.Backend {
	case "sqlite":
	case "valkey":
		if c.Cache.ValkeyURL == "" {
			errs = append(errs, errors.New("cache: valkey backend requires valkey_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown backend %q", c.Cache.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EnabledProviders returns the providers whose credentials were present at load time.
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// CostDefaults returns the fallback cost table as FeatureCost rows.
func (c *Config) CostDefaults() []models.FeatureCost {
	out := make([]models.FeatureCost, 0, len(c.Costs.Features))
	for slug, cost := range c.Costs.Features {
		out = append(out, models.FeatureCost{FeatureSlug: slug, CreditCost: cost})
	}
	return out
}

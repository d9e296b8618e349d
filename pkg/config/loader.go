package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single configuration file loaded from the config dir.
const ConfigFileName = "lexor.yaml"

// lexorYAML mirrors the lexor.yaml file structure. Sections are pointers so
// an absent section keeps its built-in defaults untouched.
type lexorYAML struct {
	Server     *ServerConfig    `yaml:"server"`
	Timeouts   *TimeoutConfig   `yaml:"timeouts"`
	Iteration  *IterationConfig `yaml:"iteration"`
	Agents     *AgentConfig     `yaml:"agents"`
	LLM        *LLMConfig       `yaml:"llm"`
	Embedding  *EmbeddingConfig `yaml:"embedding"`
	RateLimit  *rateLimitYAML   `yaml:"ratelimit"`
	Cache      *cacheYAML       `yaml:"cache"`
	Enrichment *toggleYAML      `yaml:"enrichment"`
	Masking    *maskingYAML     `yaml:"masking"`
	Backends   *BackendConfig   `yaml:"backends"`
	Retention  *RetentionConfig `yaml:"retention"`
	RLCF       *RLCFConfig      `yaml:"rlcf"`
}

// Enable flags use *bool in the YAML layer: a plain bool could not distinguish
// "disabled on purpose" from "not set".
type rateLimitYAML struct {
	Enabled       *bool          `yaml:"enabled"`
	WindowSeconds int            `yaml:"window_seconds"`
	Tiers         map[string]int `yaml:"tiers"`
}

type cacheYAML struct {
	Enabled *bool          `yaml:"enabled"`
	TTL     CacheTTLConfig `yaml:"ttl"`
}

type toggleYAML struct {
	Enabled *bool `yaml:"enabled"`
}

type maskingYAML struct {
	Enabled  *bool    `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read lexor.yaml from configDir
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML into section structs
//  4. Merge user values over built-in defaults
//  5. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"rate_limit_tiers", stats.Tiers,
		"masking_patterns", stats.Patterns,
		"max_iterations", stats.MaxIteration)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var y lexorYAML
	if err := loadYAML(filepath.Join(configDir, ConfigFileName), &y); err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	cfg := &Config{configDir: configDir}

	// Struct sections: user non-zero values override built-in defaults.
	var err error
	if cfg.Server, err = merged(DefaultServerConfig(), y.Server); err != nil {
		return nil, fmt.Errorf("failed to merge server config: %w", err)
	}
	if cfg.Timeouts, err = merged(DefaultTimeoutConfig(), y.Timeouts); err != nil {
		return nil, fmt.Errorf("failed to merge timeouts config: %w", err)
	}
	if cfg.Iteration, err = merged(DefaultIterationConfig(), y.Iteration); err != nil {
		return nil, fmt.Errorf("failed to merge iteration config: %w", err)
	}
	if cfg.Agents, err = merged(DefaultAgentConfig(), y.Agents); err != nil {
		return nil, fmt.Errorf("failed to merge agents config: %w", err)
	}
	if cfg.LLM, err = merged(DefaultLLMConfig(), y.LLM); err != nil {
		return nil, fmt.Errorf("failed to merge llm config: %w", err)
	}
	if cfg.Embedding, err = merged(DefaultEmbeddingConfig(), y.Embedding); err != nil {
		return nil, fmt.Errorf("failed to merge embedding config: %w", err)
	}
	if cfg.Backends, err = merged(DefaultBackendConfig(), y.Backends); err != nil {
		return nil, fmt.Errorf("failed to merge backends config: %w", err)
	}
	if cfg.Retention, err = merged(DefaultRetentionConfig(), y.Retention); err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}
	if cfg.RLCF, err = merged(DefaultRLCFConfig(), y.RLCF); err != nil {
		return nil, fmt.Errorf("failed to merge rlcf config: %w", err)
	}

	// Flag-carrying sections resolve explicitly.
	cfg.RateLimit = resolveRateLimit(y.RateLimit)
	cfg.Cache = resolveCache(y.Cache)
	cfg.Enrichment = resolveEnrichment(y.Enrichment)
	cfg.Masking = resolveMasking(y.Masking)

	return cfg, nil
}

// merged overlays user section values onto defaults. Nil user sections keep
// defaults as-is.
func merged[T any](defaults *T, user *T) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, *user, mergo.WithOverride); err != nil {
		return nil, err
	}
	return defaults, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func resolveRateLimit(y *rateLimitYAML) *RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	if y == nil {
		return cfg
	}
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.WindowSeconds > 0 {
		cfg.WindowSeconds = y.WindowSeconds
	}
	if len(y.Tiers) > 0 {
		cfg.Tiers = y.Tiers
	}
	return cfg
}

func resolveCache(y *cacheYAML) *CacheConfig {
	cfg := DefaultCacheConfig()
	if y == nil {
		return cfg
	}
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.TTL.Norm > 0 {
		cfg.TTL.Norm = y.TTL.Norm
	}
	if y.TTL.Case > 0 {
		cfg.TTL.Case = y.TTL.Case
	}
	if y.TTL.Doctrine > 0 {
		cfg.TTL.Doctrine = y.TTL.Doctrine
	}
	if y.TTL.Community > 0 {
		cfg.TTL.Community = y.TTL.Community
	}
	if y.TTL.Consensus > 0 {
		cfg.TTL.Consensus = y.TTL.Consensus
	}
	return cfg
}

func resolveEnrichment(y *toggleYAML) *EnrichmentConfig {
	cfg := DefaultEnrichmentConfig()
	if y != nil && y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	return cfg
}

func resolveMasking(y *maskingYAML) *MaskingConfig {
	cfg := DefaultMaskingConfig()
	if y == nil {
		return cfg
	}
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if len(y.Patterns) > 0 {
		cfg.Patterns = y.Patterns
	}
	return cfg
}

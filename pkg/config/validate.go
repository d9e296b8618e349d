package config

import (
	"fmt"
	"net/url"
	"time"
)

// Iteration bounds and per-class cache TTL floors. Values below a floor would
// hammer the upstream sources the cache exists to protect.
const (
	minIterations = 1
	maxIterations = 10

	minNormTTL      = 7 * 24 * time.Hour
	minCaseTTL      = 24 * time.Hour
	minDoctrineTTL  = 72 * time.Hour
	minCommunityTTL = time.Hour
	minConsensusTTL = 30 * time.Minute
)

// validTiers are the tier names a quota may be declared for. The unlimited
// tier never carries a quota: it bypasses counting entirely.
var validTiers = map[string]bool{
	"premium":  true,
	"standard": true,
	"limited":  true,
}

func validate(cfg *Config) error {
	if err := validateServer(cfg.Server); err != nil {
		return err
	}
	if err := validateTimeouts(cfg.Timeouts); err != nil {
		return err
	}
	if err := validateIteration(cfg.Iteration); err != nil {
		return err
	}
	if err := validateAgents(cfg.Agents); err != nil {
		return err
	}
	if err := validateLLM(cfg.LLM); err != nil {
		return err
	}
	if err := validateEmbedding(cfg.Embedding); err != nil {
		return err
	}
	if err := validateRateLimit(cfg.RateLimit); err != nil {
		return err
	}
	if err := validateCache(cfg.Cache); err != nil {
		return err
	}
	if err := validateBackends(cfg.Backends); err != nil {
		return err
	}
	if err := validateRetention(cfg.Retention); err != nil {
		return err
	}
	return validateRLCF(cfg.RLCF)
}

func validateServer(c *ServerConfig) error {
	if c.Port < 1 || c.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, c.Port))
	}
	if c.CredentialHeader == "" {
		return NewValidationError("server", "credential_header", ErrMissingRequiredField)
	}
	if c.MaxConcurrentRequests < 1 {
		return NewValidationError("server", "max_concurrent_requests", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.ShutdownTimeout <= 0 {
		return NewValidationError("server", "shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateTimeouts(c *TimeoutConfig) error {
	budgets := map[string]time.Duration{
		"preprocessing": c.Preprocessing,
		"agent":         c.Agent,
		"expert":        c.Expert,
		"synthesizer":   c.Synthesizer,
		"request":       c.Request,
	}
	for field, d := range budgets {
		if d <= 0 {
			return NewValidationError("timeouts", field, fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	if c.Request < c.Synthesizer {
		return NewValidationError("timeouts", "request",
			fmt.Errorf("%w: request budget %s is below the synthesizer budget %s", ErrInvalidValue, c.Request, c.Synthesizer))
	}
	return nil
}

func validateIteration(c *IterationConfig) error {
	if c.Max < minIterations || c.Max > maxIterations {
		return NewValidationError("iteration", "max",
			fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidValue, c.Max, minIterations, maxIterations))
	}
	if c.ConvergenceWindow < 2 {
		return NewValidationError("iteration", "convergence_window",
			fmt.Errorf("%w: needs at least 2 iterations to compare", ErrInvalidValue))
	}
	unit := map[string]float64{
		"confidence": c.Stop.Confidence,
		"consensus":  c.Stop.Consensus,
		"quality":    c.Stop.Quality,
	}
	for field, v := range unit {
		if v <= 0 || v > 1 {
			return NewValidationError("iteration", "stop."+field,
				fmt.Errorf("%w: %.2f (expected 0-1]", ErrInvalidValue, v))
		}
	}
	if c.Stop.UserRating <= 0 || c.Stop.UserRating > 5 {
		return NewValidationError("iteration", "stop.user_rating",
			fmt.Errorf("%w: %.2f (expected 0-5]", ErrInvalidValue, c.Stop.UserRating))
	}
	if c.Stop.ImprovementDelta <= 0 || c.Stop.ImprovementDelta >= 1 {
		return NewValidationError("iteration", "stop.improvement_delta",
			fmt.Errorf("%w: %.2f (expected (0,1))", ErrInvalidValue, c.Stop.ImprovementDelta))
	}
	return nil
}

func validateAgents(c *AgentConfig) error {
	if c.TopKDefault < 1 {
		return NewValidationError("agents", "topk_default", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Retries < 0 {
		return NewValidationError("agents", "retries", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func validateLLM(c *LLMConfig) error {
	if c.Model == "" {
		return NewValidationError("llm", "model", ErrMissingRequiredField)
	}
	if c.APIKeyEnv == "" {
		return NewValidationError("llm", "api_key_env", ErrMissingRequiredField)
	}
	if c.JSONMaxRetries < 0 {
		return NewValidationError("llm", "json_max_retries", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	temps := map[string]float32{
		"temperature.router":      c.Temperature.Router,
		"temperature.expert":      c.Temperature.Expert,
		"temperature.synthesizer": c.Temperature.Synthesizer,
	}
	for field, t := range temps {
		if t < 0 || t > 2 {
			return NewValidationError("llm", field, fmt.Errorf("%w: %.2f (expected 0-2)", ErrInvalidValue, t))
		}
	}
	return nil
}

func validateEmbedding(c *EmbeddingConfig) error {
	if c.Model == "" {
		return NewValidationError("embedding", "model", ErrMissingRequiredField)
	}
	if c.Dimension < 1 {
		return NewValidationError("embedding", "dimension", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateRateLimit(c *RateLimitConfig) error {
	if !c.Enabled {
		return nil
	}
	if c.WindowSeconds < 1 {
		return NewValidationError("ratelimit", "window_seconds", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	for tier, quota := range c.Tiers {
		if !validTiers[tier] {
			return NewValidationError("ratelimit", "tiers",
				fmt.Errorf("%w: unknown tier '%s'", ErrInvalidValue, tier))
		}
		if quota < 1 {
			return NewValidationError("ratelimit", "tiers",
				fmt.Errorf("%w: tier '%s' quota must be positive", ErrInvalidValue, tier))
		}
	}
	return nil
}

func validateCache(c *CacheConfig) error {
	if !c.Enabled {
		return nil
	}
	floors := []struct {
		field string
		ttl   time.Duration
		floor time.Duration
	}{
		{"ttl.norm", c.TTL.Norm, minNormTTL},
		{"ttl.case", c.TTL.Case, minCaseTTL},
		{"ttl.doctrine", c.TTL.Doctrine, minDoctrineTTL},
		{"ttl.community", c.TTL.Community, minCommunityTTL},
		{"ttl.consensus", c.TTL.Consensus, minConsensusTTL},
	}
	for _, f := range floors {
		if f.ttl < f.floor {
			return NewValidationError("cache", f.field,
				fmt.Errorf("%w: %s is below the %s floor", ErrInvalidValue, f.ttl, f.floor))
		}
	}
	return nil
}

func validateBackends(c *BackendConfig) error {
	if c.Redis.Addr == "" {
		return NewValidationError("backends", "redis.addr", ErrMissingRequiredField)
	}
	if c.Neo4j.URI == "" {
		return NewValidationError("backends", "neo4j.uri", ErrMissingRequiredField)
	}
	if c.Qdrant.Host == "" {
		return NewValidationError("backends", "qdrant.host", ErrMissingRequiredField)
	}
	if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
		return NewValidationError("backends", "qdrant.port", fmt.Errorf("%w: %d", ErrInvalidValue, c.Qdrant.Port))
	}
	if c.Qdrant.Collection == "" {
		return NewValidationError("backends", "qdrant.collection", ErrMissingRequiredField)
	}
	if c.NormService.BaseURL == "" {
		return NewValidationError("backends", "normservice.base_url", ErrMissingRequiredField)
	}
	if _, err := url.ParseRequestURI(c.NormService.BaseURL); err != nil {
		return NewValidationError("backends", "normservice.base_url", fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	if c.NormService.Timeout <= 0 {
		return NewValidationError("backends", "normservice.timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateRetention(c *RetentionConfig) error {
	if c.UsageRetentionDays < 1 {
		return NewValidationError("retention", "usage_days", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.RequestRetentionDays < 1 {
		return NewValidationError("retention", "request_days", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateRLCF(c *RLCFConfig) error {
	if c.RetrainThreshold < 1 {
		return NewValidationError("rlcf", "retrain_threshold", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.RetrainWindow <= 0 {
		return NewValidationError("rlcf", "retrain_window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

package config

import "time"

// Built-in defaults. User YAML overrides these section by section; a section
// absent from the file keeps its defaults entirely.

// DefaultServerConfig returns the built-in HTTP defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:                  "0.0.0.0",
		Port:                  8080,
		CredentialHeader:      "X-API-Key",
		MaxConcurrentRequests: 50,
		ShutdownTimeout:       35 * time.Second,
	}
}

// DefaultTimeoutConfig returns the built-in node budgets.
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Preprocessing: 3 * time.Second,
		Agent:         3 * time.Second,
		Expert:        10 * time.Second,
		Synthesizer:   15 * time.Second,
		Request:       30 * time.Second,
	}
}

// DefaultIterationConfig returns the built-in loop bounds and thresholds.
func DefaultIterationConfig() *IterationConfig {
	return &IterationConfig{
		Max:               3,
		ConvergenceWindow: 2,
		Stop: StopThresholds{
			Confidence:       0.85,
			Consensus:        0.80,
			Quality:          0.80,
			UserRating:       4.0,
			ImprovementDelta: 0.05,
		},
	}
}

// DefaultAgentConfig returns the built-in retrieval defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		TopKDefault: 10,
		Retries:     2,
	}
}

// DefaultLLMConfig returns the built-in gateway settings.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		APIKeyEnv: "LLM_API_KEY",
		Model:     "gpt-4o-mini",
		Temperature: TemperatureConfig{
			Router:      0.2,
			Expert:      0.3,
			Synthesizer: 0.2,
		},
		JSONMaxRetries: 3,
		Seed:           7,
	}
}

// DefaultEmbeddingConfig returns the built-in embedding settings.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		Model:     "text-embedding-3-large",
		Dimension: 1024,
	}
}

// DefaultRateLimitConfig returns the built-in tier quotas. The unlimited
// tier carries no entry: absence means uncapped.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled:       true,
		WindowSeconds: 3600,
		Tiers: map[string]int{
			"premium":  1000,
			"standard": 100,
			"limited":  10,
		},
	}
}

// DefaultCacheConfig returns the built-in enrichment-cache TTL floors.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled: true,
		TTL: CacheTTLConfig{
			Norm:      7 * 24 * time.Hour,
			Case:      24 * time.Hour,
			Doctrine:  3 * 24 * time.Hour,
			Community: time.Hour,
			Consensus: 30 * time.Minute,
		},
	}
}

// DefaultEnrichmentConfig returns the built-in enrichment toggle.
func DefaultEnrichmentConfig() *EnrichmentConfig {
	return &EnrichmentConfig{Enabled: true}
}

// DefaultMaskingConfig returns the built-in PII pattern selection.
func DefaultMaskingConfig() *MaskingConfig {
	return &MaskingConfig{
		Enabled:  true,
		Patterns: []string{"codice_fiscale", "email", "phone", "iban"},
	}
}

// DefaultBackendConfig returns local-development backend endpoints.
func DefaultBackendConfig() *BackendConfig {
	return &BackendConfig{
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 50,
		},
		Neo4j: Neo4jConfig{
			URI:         "bolt://localhost:7687",
			Username:    "neo4j",
			Database:    "neo4j",
			MaxPoolSize: 50,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "legal_chunks",
		},
		NormService: NormServiceConfig{
			BaseURL:  "http://localhost:8091",
			Timeout:  3 * time.Second,
			CacheTTL: time.Hour,
		},
	}
}

// DefaultRetentionConfig returns the built-in retention windows.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		UsageRetentionDays:   90,
		RequestRetentionDays: 365,
		CleanupInterval:      6 * time.Hour,
	}
}

// DefaultRLCFConfig returns the built-in community-feedback thresholds.
func DefaultRLCFConfig() *RLCFConfig {
	return &RLCFConfig{
		RetrainThreshold: 50,
		RetrainWindow:    30 * 24 * time.Hour,
	}
}

// Package config loads and validates the engine configuration from YAML
// with environment-variable expansion.
package config

import "time"

// Config is the complete, validated runtime configuration.
type Config struct {
	configDir string

	Server     *ServerConfig
	Timeouts   *TimeoutConfig
	Iteration  *IterationConfig
	Agents     *AgentConfig
	LLM        *LLMConfig
	Embedding  *EmbeddingConfig
	RateLimit  *RateLimitConfig
	Cache      *CacheConfig
	Enrichment *EnrichmentConfig
	Masking    *MaskingConfig
	Backends   *BackendConfig
	Retention  *RetentionConfig
	RLCF       *RLCFConfig
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig groups the HTTP surface settings.
type ServerConfig struct {
	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port"`
	CredentialHeader      string        `yaml:"credential_header"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// TimeoutConfig bounds each workflow node and the request as a whole.
// The preprocessing budget applies to understanding and enrichment each.
type TimeoutConfig struct {
	Preprocessing time.Duration `yaml:"preprocessing"`
	Agent         time.Duration `yaml:"agent"`
	Expert        time.Duration `yaml:"expert"`
	Synthesizer   time.Duration `yaml:"synthesizer"`
	Request       time.Duration `yaml:"request"`
}

// StopThresholds are the iteration stopping-criteria knobs.
type StopThresholds struct {
	Confidence       float64 `yaml:"confidence"`
	Consensus        float64 `yaml:"consensus"`
	Quality          float64 `yaml:"quality"`
	UserRating       float64 `yaml:"user_rating"`
	ImprovementDelta float64 `yaml:"improvement_delta"`
}

// IterationConfig bounds the refinement loop.
type IterationConfig struct {
	Max               int            `yaml:"max"`
	ConvergenceWindow int            `yaml:"convergence_window"`
	Stop              StopThresholds `yaml:"stop"`
}

// AgentConfig holds retrieval-agent defaults.
type AgentConfig struct {
	TopKDefault int `yaml:"topk_default"`
	Retries     int `yaml:"retries"`
}

// TemperatureConfig sets per-node sampling temperatures.
type TemperatureConfig struct {
	Router      float32 `yaml:"router"`
	Expert      float32 `yaml:"expert"`
	Synthesizer float32 `yaml:"synthesizer"`
}

// LLMConfig describes the chat-completions gateway.
type LLMConfig struct {
	BaseURL        string            `yaml:"base_url"`
	APIKeyEnv      string            `yaml:"api_key_env"`
	Model          string            `yaml:"model"`
	Temperature    TemperatureConfig `yaml:"temperature"`
	JSONMaxRetries int               `yaml:"json_max_retries"`
	Seed           int               `yaml:"seed"`
}

// EmbeddingConfig describes the embedding model used by the vector agent.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// RateLimitConfig holds the sliding-window quota settings.
type RateLimitConfig struct {
	Enabled       bool           `yaml:"-"`
	WindowSeconds int            `yaml:"window_seconds"`
	Tiers         map[string]int `yaml:"tiers"`
}

// Window returns the sliding window as a duration.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// CacheTTLConfig holds the per-entity-class TTL floors.
type CacheTTLConfig struct {
	Norm      time.Duration `yaml:"norm"`
	Case      time.Duration `yaml:"case"`
	Doctrine  time.Duration `yaml:"doctrine"`
	Community time.Duration `yaml:"community"`
	Consensus time.Duration `yaml:"consensus"`
}

// CacheConfig holds enrichment-cache settings.
type CacheConfig struct {
	Enabled bool           `yaml:"-"`
	TTL     CacheTTLConfig `yaml:"ttl"`
}

// EnrichmentConfig toggles graph enrichment.
type EnrichmentConfig struct {
	Enabled bool `yaml:"-"`
}

// MaskingConfig selects the PII patterns applied to query text before it is
// logged or persisted.
type MaskingConfig struct {
	Enabled  bool     `yaml:"-"`
	Patterns []string `yaml:"patterns"`
}

// RedisConfig locates the cache and rate-limit counter store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	PoolSize int    `yaml:"pool_size"`
}

// Neo4jConfig locates the legal knowledge graph.
type Neo4jConfig struct {
	URI         string `yaml:"uri"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	MaxPoolSize int    `yaml:"max_pool_size"`
}

// QdrantConfig locates the vector store.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// NormServiceConfig locates the external normative-text service.
type NormServiceConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// BackendConfig groups external collaborator endpoints. Postgres settings
// come from the environment (see pkg/database), not from this file.
type BackendConfig struct {
	Redis       RedisConfig       `yaml:"redis"`
	Neo4j       Neo4jConfig       `yaml:"neo4j"`
	Qdrant      QdrantConfig      `yaml:"qdrant"`
	NormService NormServiceConfig `yaml:"normservice"`
}

// RetentionConfig bounds how long usage and request records are kept.
type RetentionConfig struct {
	UsageRetentionDays   int           `yaml:"usage_days"`
	RequestRetentionDays int           `yaml:"request_days"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

// RLCFConfig tunes the community-feedback evaluation. The retrain threshold
// is the number of corrections accumulated inside the window that flags the
// extraction models for retraining.
type RLCFConfig struct {
	RetrainThreshold int           `yaml:"retrain_threshold"`
	RetrainWindow    time.Duration `yaml:"retrain_window"`
}

// Stats summarizes the loaded configuration for startup logging.
type Stats struct {
	Tiers        int
	Patterns     int
	MaxIteration int
}

// Stats returns a summary of the loaded configuration.
func (c *Config) Stats() Stats {
	return Stats{
		Tiers:        len(c.RateLimit.Tiers),
		Patterns:     len(c.Masking.Patterns),
		MaxIteration: c.Iteration.Max,
	}
}

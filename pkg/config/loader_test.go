package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644)
	require.NoError(t, err)
	return dir
}

func TestInitialize(t *testing.T) {
	configDir := writeConfigFile(t, `
server:
  port: 9090
timeouts:
  expert: 12s
iteration:
  max: 5
  stop:
    confidence: 0.9
llm:
  model: gpt-4o
ratelimit:
  tiers:
    premium: 2000
    standard: 200
    limited: 20
backends:
  redis:
    addr: redis.internal:6379
rlcf:
  retrain_threshold: 100
`)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)

	// User values override defaults
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 12*time.Second, cfg.Timeouts.Expert)
	assert.Equal(t, 5, cfg.Iteration.Max)
	assert.Equal(t, 0.9, cfg.Iteration.Stop.Confidence)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 2000, cfg.RateLimit.Tiers["premium"])
	assert.Equal(t, "redis.internal:6379", cfg.Backends.Redis.Addr)
	assert.Equal(t, 100, cfg.RLCF.RetrainThreshold)

	// Untouched fields keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "X-API-Key", cfg.Server.CredentialHeader)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Agent)
	assert.Equal(t, 0.80, cfg.Iteration.Stop.Consensus)
	assert.Equal(t, "LLM_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, "bolt://localhost:7687", cfg.Backends.Neo4j.URI)
	assert.Equal(t, 30*24*time.Hour, cfg.RLCF.RetrainWindow)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Masking.Enabled)

	assert.Equal(t, configDir, cfg.ConfigDir())

	stats := cfg.Stats()
	assert.Equal(t, 3, stats.Tiers)
	assert.Equal(t, 4, stats.Patterns)
	assert.Equal(t, 5, stats.MaxIteration)
}

func TestInitializeEmptyFileKeepsDefaults(t *testing.T) {
	configDir := writeConfigFile(t, "")

	cfg, err := Initialize(context.Background(), configDir)

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Iteration.Max)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Request)
	assert.Equal(t, 100, cfg.RateLimit.Tiers["standard"])
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL.Norm)
	assert.Equal(t, []string{"codice_fiscale", "email", "phone", "iban"}, cfg.Masking.Patterns)
}

func TestInitializeConfigNotFound(t *testing.T) {
	_, err := Initialize(context.Background(), "/nonexistent/directory")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeInvalidYAML(t *testing.T) {
	configDir := writeConfigFile(t, "server: [not: a: mapping")

	_, err := Initialize(context.Background(), configDir)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidationFailure(t *testing.T) {
	configDir := writeConfigFile(t, "iteration:\n  max: 99\n")

	_, err := Initialize(context.Background(), configDir)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "iteration", verr.Section)
	assert.Equal(t, "max", verr.Field)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")

	configDir := writeConfigFile(t, `
backends:
  redis:
    password: "{{.TEST_REDIS_PASSWORD}}"
`)

	cfg, err := Initialize(context.Background(), configDir)

	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Backends.Redis.Password)
}

func TestResolveRateLimitDisable(t *testing.T) {
	enabled := false
	cfg := resolveRateLimit(&rateLimitYAML{Enabled: &enabled})

	assert.False(t, cfg.Enabled)
	// Window and tiers keep defaults when not overridden
	assert.Equal(t, 3600, cfg.WindowSeconds)
	assert.Equal(t, 10, cfg.Tiers["limited"])
}

func TestResolveRateLimitTiersReplaceDefaults(t *testing.T) {
	cfg := resolveRateLimit(&rateLimitYAML{Tiers: map[string]int{"premium": 500}})

	assert.Equal(t, map[string]int{"premium": 500}, cfg.Tiers)
	assert.True(t, cfg.Enabled)
}

func TestResolveMasking(t *testing.T) {
	enabled := false
	cfg := resolveMasking(&maskingYAML{Enabled: &enabled, Patterns: []string{"email"}})

	assert.False(t, cfg.Enabled)
	assert.Equal(t, []string{"email"}, cfg.Patterns)
}

func TestResolveCachePartialTTLOverride(t *testing.T) {
	cfg := resolveCache(&cacheYAML{TTL: CacheTTLConfig{Case: 48 * time.Hour}})

	assert.Equal(t, 48*time.Hour, cfg.TTL.Case)
	assert.Equal(t, 7*24*time.Hour, cfg.TTL.Norm)
	assert.Equal(t, 30*time.Minute, cfg.TTL.Consensus)
}

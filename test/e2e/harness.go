// Package e2e boots a complete lexor instance for end-to-end testing: the
// real HTTP gate, the real workflow runtime, and a real sliding-window
// limiter over miniredis, wired against a scripted LLM gateway and
// in-memory retrieval backends. Tests drive the instance through the public
// API the way a client would.
package e2e

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/legalkit/lexor/pkg/agents"
	"github.com/legalkit/lexor/pkg/api"
	"github.com/legalkit/lexor/pkg/cache"
	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/experts"
	"github.com/legalkit/lexor/pkg/masking"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/preprocess"
	"github.com/legalkit/lexor/pkg/ratelimit"
	"github.com/legalkit/lexor/pkg/rlcf"
	"github.com/legalkit/lexor/pkg/router"
	"github.com/legalkit/lexor/pkg/synthesis"
	"github.com/legalkit/lexor/pkg/workflow"
)

// Credentials seeded into every test app, one per role.
const (
	adminSecret = "e2e-admin-key"
	userSecret  = "e2e-user-key"
	guestSecret = "e2e-guest-key"
)

// TestApp boots a complete lexor instance for e2e testing.
type TestApp struct {
	Config *config.Config

	// Scripted gateway and fake retrieval backends
	Gateway *ScriptedGateway
	Graph   *fakeGraph
	Vector  *fakeVector
	Norms   *fakeNorms

	// In-memory persistence
	Store *memoryStore
	Usage *usageLog

	// Real runtime
	Dispatcher *workflow.Dispatcher

	BaseURL string // e.g. "http://127.0.0.1:54321"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	mutators    []func(*config.Config)
	credentials map[string]*models.Credential
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig mutates the default test config before wiring. Multiple
// options apply in registration order.
func WithConfig(mutate func(*config.Config)) TestAppOption {
	return func(c *testAppConfig) { c.mutators = append(c.mutators, mutate) }
}

// WithCredential seeds an extra credential resolvable by the given secret.
func WithCredential(secret string, cred *models.Credential) TestAppOption {
	return func(c *testAppConfig) { c.credentials[secret] = cred }
}

// NewTestApp creates and starts a full lexor test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{credentials: map[string]*models.Credential{}}
	for _, opt := range opts {
		opt(tc)
	}

	cfg := defaultTestConfig()
	for _, mutate := range tc.mutators {
		mutate(cfg)
	}
	logger := slog.Default()

	// 1. Counter store — a real redis protocol server in-process, so the
	// limiter and the enrichment cache run their production code paths.
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	// 2. In-memory persistence. The usage log is a separate type because
	// its Record signature collides with the iteration store's.
	store := newMemoryStore()
	usage := newUsageLog()

	// 3. Gate: stub credential resolution, real limiter, real masking.
	verifier := newStubVerifier()
	verifier.add(adminSecret, &models.Credential{ID: "cred-admin", Role: models.RoleAdmin, Tier: models.TierUnlimited, Active: true})
	verifier.add(userSecret, &models.Credential{ID: "cred-user", Role: models.RoleUser, Tier: models.TierStandard, Active: true})
	verifier.add(guestSecret, &models.Credential{ID: "cred-guest", Role: models.RoleGuest, Tier: models.TierLimited, Active: true})
	for secret, cred := range tc.credentials {
		verifier.add(secret, cred)
	}
	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit)
	masker := masking.NewService(cfg.Masking)

	// 4. Scripted gateway and fake retrieval backends.
	gateway := NewScriptedGateway()
	graph := newFakeGraph()
	vector := newFakeVector()
	norms := newFakeNorms()

	// 5. Workflow pipeline, wired exactly like production.
	cacheStore := cache.NewStore(redisClient, cfg.Cache)
	preprocessor := preprocess.NewService(gateway, graph, cacheStore, cfg, logger)
	planner := router.NewPlanner(gateway, cfg, logger)
	runner := agents.NewRunner(cfg, logger,
		agents.NewGraphAgent(graph, logger),
		agents.NewHTTPAgent(norms, logger),
		agents.NewVectorAgent(gateway, vector, logger),
	)
	panel := experts.NewPanel(cfg, logger, experts.AllExperts(gateway, cfg, logger)...)
	synthesizer := synthesis.NewSynthesizer(gateway, cfg, nil, logger)
	evaluator := rlcf.NewEvaluator(store, cfg.RLCF, logger)

	engine := workflow.NewEngine(workflow.Dependencies{
		Preprocessor: preprocessor,
		Planner:      planner,
		Agents:       runner,
		Experts:      panel,
		Synthesizer:  synthesizer,
		Feedback:     store,
		Quality:      evaluator,
		Stores: workflow.Stores{
			Requests:   store,
			Iterations: store,
			Answers:    store,
		},
		Config: cfg,
		Logger: logger,
	})
	dispatcher := workflow.NewDispatcher(engine, cfg.Server.MaxConcurrentRequests, logger)

	// 6. HTTP server on an ephemeral port.
	server := api.NewServer(cfg, api.Dependencies{
		Executor:   dispatcher,
		Auth:       verifier,
		Limiter:    limiter,
		Masker:     masker,
		Reviewer:   evaluator,
		Requests:   store,
		Iterations: store,
		Answers:    store,
		Feedback:   store,
		Usage:      usage,
		Stats:      store,
	})
	ts := httptest.NewServer(server.Router())

	t.Cleanup(func() {
		ts.Close()
		dispatcher.Stop(2 * time.Second)
	})

	return &TestApp{
		Config:     cfg,
		Gateway:    gateway,
		Graph:      graph,
		Vector:     vector,
		Norms:      norms,
		Store:      store,
		Usage:      usage,
		Dispatcher: dispatcher,
		BaseURL:    ts.URL,
		t:          t,
	}
}

// defaultTestConfig mirrors the production defaults, tightened for tests:
// no structured-output retries so a scripted contract failure surfaces
// immediately, a small dispatcher, and a short request budget.
func defaultTestConfig() *config.Config {
	cfg := &config.Config{
		Server:     config.DefaultServerConfig(),
		Timeouts:   config.DefaultTimeoutConfig(),
		Iteration:  config.DefaultIterationConfig(),
		Agents:     config.DefaultAgentConfig(),
		LLM:        config.DefaultLLMConfig(),
		Embedding:  config.DefaultEmbeddingConfig(),
		RateLimit:  config.DefaultRateLimitConfig(),
		Cache:      config.DefaultCacheConfig(),
		Enrichment: config.DefaultEnrichmentConfig(),
		Masking:    config.DefaultMaskingConfig(),
		Backends:   config.DefaultBackendConfig(),
		Retention:  config.DefaultRetentionConfig(),
		RLCF:       config.DefaultRLCFConfig(),
	}
	cfg.Server.MaxConcurrentRequests = 4
	cfg.Timeouts.Request = 10 * time.Second
	cfg.LLM.JSONMaxRetries = 0
	return cfg
}

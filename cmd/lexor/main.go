// Lexor server — admits legal questions over HTTP, runs them through the
// iterative reasoning workflow, and serves the feedback and admin surfaces.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/legalkit/lexor/pkg/agents"
	"github.com/legalkit/lexor/pkg/api"
	"github.com/legalkit/lexor/pkg/auth"
	"github.com/legalkit/lexor/pkg/cache"
	"github.com/legalkit/lexor/pkg/cleanup"
	"github.com/legalkit/lexor/pkg/config"
	"github.com/legalkit/lexor/pkg/database"
	"github.com/legalkit/lexor/pkg/experts"
	"github.com/legalkit/lexor/pkg/graphstore"
	"github.com/legalkit/lexor/pkg/llm"
	"github.com/legalkit/lexor/pkg/masking"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/normservice"
	"github.com/legalkit/lexor/pkg/preprocess"
	"github.com/legalkit/lexor/pkg/ratelimit"
	"github.com/legalkit/lexor/pkg/rlcf"
	"github.com/legalkit/lexor/pkg/router"
	"github.com/legalkit/lexor/pkg/services"
	"github.com/legalkit/lexor/pkg/synthesis"
	"github.com/legalkit/lexor/pkg/vectorstore"
	"github.com/legalkit/lexor/pkg/version"
	"github.com/legalkit/lexor/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory before anything reads the
	// environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting lexor", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()
	logger := slog.Default()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. PostgreSQL (runs pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Redis backs both the enrichment cache and the rate-limit counters.
	redisClient, err := cache.NewClient(ctx, &cfg.Backends.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing redis client", "error", err)
		}
	}()
	slog.Info("Connected to redis", "addr", cfg.Backends.Redis.Addr)

	// 4. Retrieval backends. These degrade at runtime, so an unreachable
	// backend is a startup warning, not a startup failure.
	graphStore, err := graphstore.NewStore(&cfg.Backends.Neo4j, logger)
	if err != nil {
		slog.Error("Failed to create graph store", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := graphStore.Close(closeCtx); err != nil {
			slog.Error("Error closing graph store", "error", err)
		}
	}()
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := graphStore.Ping(pingCtx); err != nil {
		slog.Warn("Knowledge graph unreachable; enrichment and graph retrieval will degrade", "error", err)
	}
	pingCancel()

	vectorStore, err := vectorstore.NewStore(&cfg.Backends.Qdrant, cfg.Embedding, logger)
	if err != nil {
		slog.Error("Failed to create vector store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := vectorStore.Close(); err != nil {
			slog.Error("Error closing vector store", "error", err)
		}
	}()
	if err := vectorStore.EnsureCollection(ctx); err != nil {
		slog.Warn("Vector collection not ready; vector retrieval will degrade", "error", err)
	}

	normClient := normservice.NewClient(&cfg.Backends.NormService, cfg.Agents.Retries, logger)

	// 5. LLM gateway
	llmClient, err := llm.NewOpenAIClient(cfg.LLM, cfg.Embedding)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "model", cfg.LLM.Model)

	// 6. Persistence services
	pool := dbClient.Pool()
	credentialService := services.NewCredentialService(pool)
	requestService := services.NewRequestService(pool)
	iterationService := services.NewIterationService(pool)
	answerService := services.NewAnswerService(pool)
	feedbackService := services.NewFeedbackService(pool)
	usageService := services.NewUsageService(pool)
	statsService := services.NewStatsService(pool)
	slog.Info("Services initialized")

	// 7. Gate: credentials, quotas, masking
	authService := auth.NewService(credentialService)
	if err := authService.Bootstrap(ctx, os.Getenv("LEXOR_BOOTSTRAP_SECRET")); err != nil {
		slog.Error("Failed to bootstrap credentials", "error", err)
		os.Exit(1)
	}
	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit)
	maskingService := masking.NewService(cfg.Masking)

	// 8. Workflow pipeline
	cacheStore := cache.NewStore(redisClient, cfg.Cache)
	preprocessor := preprocess.NewService(llmClient, graphStore, cacheStore, cfg, logger)
	planner := router.NewPlanner(llmClient, cfg, logger)
	runner := agents.NewRunner(cfg, logger,
		agents.NewGraphAgent(graphStore, logger),
		agents.NewHTTPAgent(normClient, logger),
		agents.NewVectorAgent(llmClient, vectorStore, logger),
	)
	panelists := make([]experts.Expert, 0, len(models.AllExpertTags()))
	for _, tag := range models.AllExpertTags() {
		panelists = append(panelists, experts.NewLLMExpert(tag, llmClient, cfg, logger))
	}
	panel := experts.NewPanel(cfg, logger, panelists...)
	synthesizer := synthesis.NewSynthesizer(llmClient, cfg, nil, logger)
	evaluator := rlcf.NewEvaluator(feedbackService, cfg.RLCF, logger)

	engine := workflow.NewEngine(workflow.Dependencies{
		Preprocessor: preprocessor,
		Planner:      planner,
		Agents:       runner,
		Experts:      panel,
		Synthesizer:  synthesizer,
		Feedback:     feedbackService,
		Quality:      evaluator,
		Stores: workflow.Stores{
			Requests:   requestService,
			Iterations: iterationService,
			Answers:    answerService,
		},
		Config: cfg,
		Logger: logger,
	})
	dispatcher := workflow.NewDispatcher(engine, cfg.Server.MaxConcurrentRequests, logger)

	// 9. Retention cleanup loop
	cleanupService := cleanup.NewService(cfg.Retention, requestService, usageService)
	cleanupService.Start(ctx)

	// 10. HTTP server
	gin.SetMode(gin.ReleaseMode)
	httpServer := api.NewServer(cfg, api.Dependencies{
		Executor:   dispatcher,
		Auth:       authService,
		Limiter:    limiter,
		Masker:     maskingService,
		Reviewer:   evaluator,
		Requests:   requestService,
		Iterations: iterationService,
		Answers:    answerService,
		Feedback:   feedbackService,
		Usage:      usageService,
		Stats:      statsService,
		Pool:       pool,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Lexor started successfully",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"max_concurrent_requests", cfg.Server.MaxConcurrentRequests)

	// 11. Wait for a shutdown signal or a server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop admitting, drain in-flight executions,
	// then close the listener and the background loop.
	dispatcher.Stop(cfg.Server.ShutdownTimeout)

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cleanupService.Stop()

	slog.Info("Shutdown complete")
}

package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/atendeai/clinic-assistant/internal/api/router"
	appconfig "github.com/atendeai/clinic-assistant/internal/config"
	"github.com/atendeai/clinic-assistant/internal/conversation"
	"github.com/atendeai/clinic-assistant/internal/http/handlers"
	"github.com/atendeai/clinic-assistant/internal/knowledge"
	"github.com/atendeai/clinic-assistant/internal/observability/metrics"
	"github.com/atendeai/clinic-assistant/internal/scheduling"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	// The knowledge base is loaded once at startup and treated as immutable
	// from then on.
	kb := knowledge.New(knowledge.Default())

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	} else {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	schedRepo := scheduling.NewRepository(pool)
	schedService := scheduling.NewService(schedRepo, kb, logger)

	limiter := conversation.NewRateLimiter(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow)

	var llm conversation.LLMClient
	if cfg.GeminiAPIKey != "" {
		gemini, err := conversation.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID, logger,
			conversation.WithRateLimiter(limiter),
			conversation.WithTimeout(cfg.LLMTimeout),
			conversation.WithGenerationParams(float32(cfg.LLMTemperature), int32(cfg.LLMMaxTokens)),
		)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		llm = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, running with keyword-only NLP")
	}

	contexts := conversation.NewContextManager(redisClient, cfg.ContextTTL, logger)
	nlp := conversation.NewNLPPipeline(llm, kb, logger)
	flows := conversation.NewFlowHandler(schedService, kb, contexts, cfg.AvailabilityDays, logger)
	store := conversation.NewStore(pool)
	convMetrics := metrics.NewConversationMetrics(nil)

	managerOpts := []conversation.ManagerOption{
		conversation.WithStore(store),
		conversation.WithMetrics(convMetrics),
		conversation.WithHistoryWindow(cfg.HistoryWindow),
	}
	if cfg.OpenAIAPIKey != "" {
		semantic := conversation.NewSemanticStore(
			openai.NewClient(cfg.OpenAIAPIKey), cfg.EmbeddingModelID, logger)
		if err := semantic.Seed(ctx, kb); err != nil {
			logger.Error("failed to seed semantic store", "error", err)
			os.Exit(1)
		}
		managerOpts = append(managerOpts, conversation.WithRetriever(semantic))
	} else {
		logger.Warn("OPENAI_API_KEY not set, reply generation runs without retrieval")
	}

	manager := conversation.NewManager(nlp, llm, contexts, flows, logger, managerOpts...)

	routerCfg := &router.Config{
		Logger:             logger,
		ChatHandler:        handlers.NewChatHandler(manager, store, logger),
		HealthHandler:      handlers.NewHealthHandler(redisClient, llm),
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: []string{"*"},
		RateLimit:          cfg.HTTPRateLimit,
		RateBurst:          cfg.HTTPRateBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // streaming replies outlive the LLM timeout
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

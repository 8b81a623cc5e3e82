package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/cache"
	"github.com/chatform/flow-engine-go/internal/config"
	"github.com/chatform/flow-engine-go/internal/database"
	"github.com/chatform/flow-engine-go/internal/engine"
	"github.com/chatform/flow-engine-go/internal/gateway"
	"github.com/chatform/flow-engine-go/internal/handler"
	"github.com/chatform/flow-engine-go/internal/jobs"
	"github.com/chatform/flow-engine-go/internal/middleware"
	"github.com/chatform/flow-engine-go/internal/redis"
	"github.com/chatform/flow-engine-go/internal/repository"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	botRepo := repository.NewBotRepository(db.DB)
	contactRepo := repository.NewContactRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	historyRepo := repository.NewTriggerHistoryRepository(db.DB)
	runRepo := repository.NewRunRepository(db.DB)
	inboundRepo := repository.NewInboundLogRepository(db.DB)
	variableRepo := repository.NewVariableRepository(db.DB)

	redisCache := cache.New(redisClient)
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken)
	connectors := gateway.NewIntegrationsClient(cfg.ConnectorBaseURL, cfg.ConnectorToken)

	clock := engine.SystemClock()
	resolver := engine.NewResolver(clock)
	matcher := engine.NewMatcher(historyRepo, runRepo, inboundRepo, clock)
	interpreter := engine.NewInterpreter(
		gw, sessionRepo, contactRepo, variableRepo, resolver, connectors, clock,
	)
	router := engine.NewRouter(
		botRepo, contactRepo, sessionRepo, historyRepo, runRepo, inboundRepo, variableRepo,
		redisCache, matcher, interpreter, clock, cfg.SessionLockTTL(),
	)

	signatureMiddleware := middleware.NewSignatureMiddleware(cfg.WebhookSignatureSecret)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.WebhookRateLimit)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	webhookHandler := handler.NewWebhookHandler(router)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/webhook", func(r chi.Router) {
		r.Use(signatureMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Post("/", webhookHandler.Webhook)
	})

	retentionJob := jobs.NewRetentionJob(
		historyRepo, inboundRepo, cfg.HistoryRetention(), config.RetentionJobInterval,
	)
	retentionJob.Start()
	defer retentionJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

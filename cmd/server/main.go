package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/lexsign/internal/api"
	"github.com/rpattn/lexsign/internal/audit"
	"github.com/rpattn/lexsign/internal/auth"
	"github.com/rpattn/lexsign/internal/config"
	"github.com/rpattn/lexsign/internal/db"
	"github.com/rpattn/lexsign/internal/lifecycle"
	"github.com/rpattn/lexsign/internal/metrics"
	"github.com/rpattn/lexsign/internal/notify"
	"github.com/rpattn/lexsign/internal/provider"
	"github.com/rpattn/lexsign/internal/repository"
	"github.com/rpattn/lexsign/internal/webhook"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const relayBatch = 500

func main() {
	configPath := os.Getenv("LEXSIGN_CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		// No configured logger yet.
		zap.Must(zap.NewProduction()).Fatal("failed to load configuration", zap.Error(err))
	}

	logger := newLogger(cfg.App)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var (
		store     repository.Store
		directory repository.IdentityRepository
	)
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		conn, err := db.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer conn.Close()

		if err := db.RunMigrations(cfg.Database, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		store = repository.NewPostgresStore(conn)
		directory = repository.NewIdentityRepository(conn.Pool)
	}

	// Notifications
	dispatchers := notify.Multi{notify.NewLogDispatcher(logger)}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; real-time events will be retried from the outbox", zap.Error(err))
		}
		dispatchers = append(dispatchers, notify.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix, logger))
	}
	notifier := notify.NewAsync(dispatchers, store.Outbox(), cfg.Lifecycle.NotifyTimeout, logger)

	// Signing provider
	var signer lifecycle.SigningProvider
	client := provider.NewClient(provider.Config{
		APIURL:            cfg.Provider.APIURL,
		APIKey:            cfg.Provider.APIKey,
		FormBaseURL:       cfg.Provider.FormBaseURL,
		DefaultTemplateID: cfg.Provider.DefaultTemplateID,
		Timeout:           cfg.Provider.Timeout,
	}, logger)
	if client.Configured() {
		signer = client
	} else {
		logger.Warn("signing provider API key not set; submission endpoints are disabled")
	}

	m := metrics.New()
	engine := lifecycle.NewEngine(store, directory, signer, notifier, lifecycle.Options{
		MaxConflictRetries: cfg.Lifecycle.MaxConflictRetries,
		Observer:           m,
		Logger:             logger,
	})

	if relayed, err := notifier.Relay(ctx, relayBatch); err != nil {
		logger.Warn("failed to relay pending notifications", zap.Error(err))
	} else if relayed > 0 {
		logger.Info("relayed pending notifications", zap.Int("count", relayed))
	}

	trail := audit.NewTrail(store.Audit(), logger)
	reconciler := webhook.NewReconciler(engine, store.Documents(), signer, logger)
	if cfg.Webhook.Secret == "" {
		logger.Warn("webhook secret not set; every provider callback will be rejected")
	}
	webhookHandler := webhook.NewHandler(reconciler, trail, webhook.Config{
		Secret:        cfg.Webhook.Secret,
		MaxBodyBytes:  cfg.Webhook.MaxBodyBytes,
		VerboseErrors: cfg.Webhook.VerboseErrors,
		Observer:      m,
	}, logger)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal("failed to configure token verification", zap.Error(err))
	}

	router := api.NewRouter(api.Deps{
		Engine:            engine,
		Signatures:        store.Signatures(),
		Webhook:           webhookHandler,
		Verifier:          verifier,
		Health:            store,
		Metrics:           m,
		DefaultTemplateID: cfg.Provider.DefaultTemplateID,
		Logger:            logger,
	})

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", webhook.SignatureHeader},
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("environment", cfg.App.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	notifier.Wait()

	logger.Info("server exited")
}

func newLogger(app config.AppConfig) *zap.Logger {
	build := zap.NewProduction
	if app.Development() {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/pong-arena/clients"
	"github.com/Dosada05/pong-arena/config"
	"github.com/Dosada05/pong-arena/db"
	"github.com/Dosada05/pong-arena/events"
	"github.com/Dosada05/pong-arena/handlers"
	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/presence"
	"github.com/Dosada05/pong-arena/relay"
	"github.com/Dosada05/pong-arena/repositories"
	api "github.com/Dosada05/pong-arena/routes"
	"github.com/Dosada05/pong-arena/services"
	"github.com/Dosada05/pong-arena/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort), slog.String("store", cfg.StoreDriver))

	if err := run(cfg, logger); err != nil {
		logger.Error("application failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Storage: PostgreSQL, or memory for local development
	var store repositories.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store = repositories.NewMemoryStore()
		logger.Warn("using in-memory store, data is lost on restart")
	default:
		dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			if err := dbConn.Close(); err != nil {
				logger.Error("failed to close database connection", slog.Any("error", err))
			} else {
				logger.Info("database connection closed")
			}
		}()
		if err := db.Migrate(rootCtx, dbConn); err != nil {
			return err
		}
		store = repositories.NewPostgresStore(dbConn, logger)
		logger.Info("database connection established")
	}

	// Events to NATS JetStream
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSStream, logger)
		if err != nil {
			return err
		}
		publisher = natsPublisher
		logger.Info("NATS publisher initialized", slog.String("stream", cfg.NATSStream))
	}
	defer publisher.Close()

	// Player presence in Redis
	var tracker *presence.Tracker
	var presenceTracker services.PresenceTracker
	if cfg.RedisURL != "" {
		rdb, err := presence.Connect(rootCtx, cfg.RedisURL)
		if err != nil {
			return err
		}
		tracker = presence.NewTracker(rdb, logger)
		presenceTracker = tracker
		defer func() {
			if err := tracker.Close(); err != nil {
				logger.Warn("failed to close redis client", slog.Any("error", err))
			}
		}()
		logger.Info("redis presence tracker initialized")
	}

	// Result archive in Cloudflare R2
	var archiver services.TournamentArchiver
	if r2cfg := storage.R2Config(cfg.R2); r2cfg.Enabled() {
		bucket, err := storage.NewR2Bucket(rootCtx, r2cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize Cloudflare R2 uploader: %w", err)
		}
		archiver = storage.NewResultArchiver(bucket, logger)
		logger.Info("Cloudflare R2 archiver initialized", slog.String("bucket", r2cfg.BucketName))
	}

	var alerter services.TournamentAlerter
	if cfg.NotificationServiceURL != "" {
		alerter = clients.NewNotificationClient(cfg.NotificationServiceURL, cfg.CollaboratorTimeout)
	}

	var verifier middleware.TokenVerifier
	if cfg.AuthServiceURL != "" {
		verifier = clients.NewAuthClient(cfg.AuthServiceURL, cfg.CollaboratorTimeout)
		logger.Info("tokens verified by auth service", slog.String("url", cfg.AuthServiceURL))
	} else {
		verifier = middleware.NewJWTVerifier(cfg.JWTSecretKey)
		logger.Info("tokens verified locally with JWT secret")
	}

	// WebSocket hub
	hub := relay.NewHub(logger)
	go hub.Run(rootCtx)
	logger.Info("WebSocket Hub started")

	// Services
	ledger := services.NewLedgerService(store, publisher, logger)
	syncService := services.NewSyncService(relay.NewSessionStore(), ledger, hub, presenceTracker, services.SyncConfig{
		BallUpdateInterval: cfg.BallUpdateInterval,
		IdleTimeout:        cfg.MatchIdleTimeout,
	}, logger)
	matchmaking := services.NewMatchmakingService(ledger, syncService, logger)
	tournaments := services.NewTournamentService(store, ledger, syncService, hub, alerter, archiver, publisher,
		services.TournamentConfig{CollaboratorTimeout: cfg.CollaboratorTimeout}, logger)
	syncService.SetTournamentReporter(tournaments)
	tournaments.SetMatchQueue(matchmaking)
	logger.Info("Services initialized")

	handlers.NewMessageRouter(hub, matchmaking, syncService, tournaments, tracker, logger)

	scheduler, err := services.NewScheduler(matchmaking, syncService, services.SchedulerConfig{
		QueueRescanInterval: cfg.QueueRescanInterval,
		IdleCheckInterval:   cfg.MatchIdleTimeout / 4,
	}, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown failed", slog.Any("error", err))
		}
	}()

	// Router
	router := api.InitRoutes(api.Dependencies{
		TournamentHandler: handlers.NewTournamentHandler(tournaments),
		MatchHandler:      handlers.NewMatchHandler(ledger),
		WebSocketHandler:  handlers.NewWebSocketHandler(hub, verifier, cfg.CORSAllowedOrigins, logger),
		Verifier:          verifier,
		Online:            hub,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
	})
	logger.Info("Routes configured")

	// HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for a shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server shutdown complete")
	}
	return nil
}

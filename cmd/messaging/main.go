package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sparkmeet/messaging/internal/audit"
	"github.com/sparkmeet/messaging/internal/channel"
	"github.com/sparkmeet/messaging/internal/config"
	"github.com/sparkmeet/messaging/internal/handler"
	"github.com/sparkmeet/messaging/internal/hub"
	"github.com/sparkmeet/messaging/internal/moderation"
	"github.com/sparkmeet/messaging/internal/ratelimit"
	"github.com/sparkmeet/messaging/internal/sanitize"
	"github.com/sparkmeet/messaging/internal/service"
	"github.com/sparkmeet/messaging/internal/session"
	"github.com/sparkmeet/messaging/internal/store"
	pkgconfig "github.com/sparkmeet/messaging/pkg/config"
	"github.com/sparkmeet/messaging/pkg/database"
	"github.com/sparkmeet/messaging/pkg/log"
	"github.com/sparkmeet/messaging/pkg/pubsub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()
	logger.Info().Int("port", cfg.Server.Port).Msg("starting messaging core")

	// Database + message repository
	db, err := database.New(database.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		FilePath: cfg.Database.FilePath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	repo := store.NewGormMessageRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Realtime transport
	bus, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect pubsub transport")
	}
	defer bus.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("pubsub transport connected")

	// Audit pipeline
	recorder := audit.NewRecorder(audit.NewLogSink(), cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	defer recorder.Close()

	// Session manager
	authBackend := session.NewHTTPAuthBackend(pkgconfig.GetEnv("AUTH_BASE_URL", "http://localhost:8080"), 15*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sess, err := authBackend.GetSession(ctx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("no auth session available")
	}
	sessionMgr := session.NewManager(authBackend, sess, session.Config{
		RefreshThreshold:    cfg.Session.RefreshThreshold,
		HealthCheckInterval: cfg.Session.HealthCheckInterval,
		MaxRefreshAttempts:  cfg.Session.MaxRefreshAttempts,
	}, recorder)
	defer sessionMgr.Close()
	logger.Info().Str(log.FieldUserID, sess.UserID).Msg("session established")

	// Moderation pipeline
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxMessagesPerWindow)
	apiClient := moderation.NewAPIClient(cfg.Moderation.APIURL, cfg.Moderation.APIKey, cfg.Moderation.Timeout)
	moderator := moderation.New(apiClient, limiter, recorder)

	sanitizer := sanitize.New(cfg.Moderation.MaxMessageLength)

	// Client-side state + channel manager
	msgStore := store.NewStore(sess.UserID, repo)
	channels := channel.NewManager(bus, sessionMgr)

	wsHub := hub.NewHub()
	go wsHub.Run()

	svc := service.NewMessagingService(sanitizer, moderator, msgStore, repo, channels, bus, sessionMgr, wsHub)
	defer svc.Close()

	// HTTP surface
	mux := http.NewServeMux()
	handler.NewWSHandler(wsHub, svc, sessionMgr, cfg.WebSocket).RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
}

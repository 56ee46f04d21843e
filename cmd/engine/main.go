package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"go-mcp-session-engine/internal/config"
	"go-mcp-session-engine/internal/handlers"
	"go-mcp-session-engine/internal/instance"
	"go-mcp-session-engine/internal/ratelimit"
	"go-mcp-session-engine/internal/restore"
	"go-mcp-session-engine/internal/session"
	"go-mcp-session-engine/internal/store"
	"go-mcp-session-engine/pkg/logger"
)

func main() {
	initLogger()
	log := logger.Log

	engineCfg := config.DefaultEngineConfig()
	restoreCfg := config.DefaultRestoreConfig()
	serverCfg := config.DefaultServerConfig()
	serverCfg.Addr = config.Env("LISTEN_ADDR", serverCfg.Addr)
	snapshotCfg := config.DefaultSnapshotConfig()

	// The session store is optional: without REDIS_URL the engine runs
	// purely in-memory and every unrecognized handle is rejected as not
	// found.
	var sessionStore *store.SessionStore
	hook := func(ctx context.Context, handle string) (*instance.Context, error) {
		return nil, nil
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		client, err := store.NewRedisUniversalClient(redisURL)
		if err != nil {
			log.Error("Failed to create redis client: %v", err)
			os.Exit(1)
		}
		sessionStore = store.NewSessionStore(client)
		hook = sessionStore.Hook()
		log.Info("Session store enabled at %s", redisURL)
	} else {
		log.Warn("REDIS_URL not set, warm-start restoration disabled")
	}

	registry := session.NewRegistry(engineCfg, lifecycleHooks(sessionStore, snapshotCfg))
	restorer := restore.NewController(registry, hook, restoreCfg)
	rateLimiter := ratelimit.NewRateLimiter(rate.Limit(serverCfg.RatePerMinute/60.0), serverCfg.RateBurst)

	server := setupServer(serverCfg, registry, restorer, rateLimiter)

	// Background loops: periodic registry snapshot and rate limiter
	// eviction.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	if sessionStore != nil {
		go snapshotLoop(loopCtx, registry, sessionStore, snapshotCfg)
	}
	go evictionLoop(loopCtx, rateLimiter)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Starting session engine on %s...", server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("HTTP server error: %v", err)
		}
	}()

	<-shutdown
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error: %v", err)
	}

	stopLoops()
	registry.Close()
	if sessionStore != nil {
		if err := sessionStore.Close(); err != nil {
			log.Error("Session store close error: %v", err)
		}
	}
	log.Info("Shutdown complete")
}

func initLogger() {
	logConfig := &logger.LoggerConfig{
		Level:      logger.ParseLevel(os.Getenv("LOG_LEVEL")),
		TimeFormat: time.RFC3339,
		Filename:   filepath.Join("logs", "engine.log"),
		MaxSize:    100, // 100MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
		UseConsole: true,
		UseFile:    true,
	}
	logger.Init(logConfig)
}

// lifecycleHooks keeps the external store in step with the registry:
// new and restored sessions are persisted, explicitly deleted ones are
// purged. Expired sessions stay persisted so a returning client can
// warm-start them.
func lifecycleHooks(sessionStore *store.SessionStore, snapshotCfg config.SnapshotConfig) session.Hooks {
	if sessionStore == nil {
		return session.Hooks{}
	}

	persist := func(handle string, rec session.Record) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sessionStore.Save(ctx, rec, snapshotCfg.TTL); err != nil {
			logger.Log.Error("Failed to persist session %s: %v", handle, err)
		}
	}

	return session.Hooks{
		OnSessionCreated:  persist,
		OnSessionRestored: persist,
		OnSessionDeleted: func(handle string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sessionStore.Delete(ctx, handle); err != nil {
				logger.Log.Error("Failed to purge session %s from store: %v", handle, err)
			}
		},
	}
}

// snapshotLoop periodically persists every live record so the store
// survives process restarts even if individual lifecycle writes were
// lost.
func snapshotLoop(ctx context.Context, registry *session.Registry, sessionStore *store.SessionStore, cfg config.SnapshotConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			records := registry.ListRecords()
			saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := sessionStore.SaveSnapshot(saveCtx, records, cfg.TTL); err != nil {
				logger.Log.Error("Snapshot persist failed: %v", err)
			} else if len(records) > 0 {
				logger.Log.Debug("Persisted snapshot of %d session(s)", len(records))
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

func evictionLoop(ctx context.Context, rl *ratelimit.RateLimiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.EvictIdle(30 * time.Minute)
		case <-ctx.Done():
			return
		}
	}
}

func setupServer(cfg config.ServerConfig, registry *session.Registry, restorer *restore.Controller, rateLimiter *ratelimit.RateLimiter) *http.Server {
	mux := http.NewServeMux()
	handlers.NewSessionHandler(registry, restorer).Register(mux)

	handler := handlers.RateLimitMiddleware(rateLimiter)(
		handlers.SecurityHeaders(
			handlers.RequestLogger(mux),
		),
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

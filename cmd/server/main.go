package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aniketmishra-0/SendIt/internal/config"
	"github.com/aniketmishra-0/SendIt/internal/health"
	"github.com/aniketmishra-0/SendIt/internal/httpapi"
	"github.com/aniketmishra-0/SendIt/internal/logs"
	"github.com/aniketmishra-0/SendIt/internal/metrics"
	"github.com/aniketmishra-0/SendIt/internal/middleware"
	"github.com/aniketmishra-0/SendIt/internal/relay"
	"github.com/aniketmishra-0/SendIt/internal/rooms"
	"github.com/aniketmishra-0/SendIt/internal/ws"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	cfg := config.FromEnv()
	logger := logs.New(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("bad config", zap.Error(err))
	}

	metrics.Init()

	registry := rooms.NewRegistry(logger)
	defer registry.CloseAll()

	store, err := relay.NewStore(cfg.UploadDir, logger)
	if err != nil {
		logger.Fatal("relay store", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartJanitor(ctx)
	store.StartJanitor(ctx)

	mux := http.NewServeMux()

	// Health + readiness
	mux.Handle("/healthz", health.Healthz())
	mux.Handle("/readyz", health.Readyz())

	// Metrics
	mux.Handle(cfg.MetricsRoute, metrics.Handler())

	// Info
	started := time.Now()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "sendit", "ok": true, "uptime": time.Since(started).Seconds(),
		})
	})

	// REST
	httpapi.New(registry, store, logger).Register(mux)
	relay.NewAPI(store, logger).Register(mux)

	// Signaling: /ws/<ROOM_CODE>?peerId=<opt>&isHost=<true|false>
	mux.Handle("/ws/{code}", ws.NewHandler(cfg, logger, registry))

	limiter := middleware.NewLimiter(cfg.HTTPRatePerSec, cfg.HTTPRateBurst)
	handler := limiter.Middleware(mux)
	handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}).Handler(handler)
	handler = logs.RequestLogger(logger, handler)

	srv := &http.Server{
		Addr:              cfg.BindAddr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info("listening", logs.F("addr", cfg.BindAddr()), logs.F("uploads", cfg.UploadDir))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("bye")
}

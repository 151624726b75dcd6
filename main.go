package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"murmur/internal/config"
	"murmur/internal/db"
	"murmur/internal/handlers"
	"murmur/internal/logging"
	"murmur/internal/metrics"
	mw "murmur/internal/middleware"
	"murmur/internal/rabbitmq"
	"murmur/internal/store"
	"murmur/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	if cfg.Backend == "" || cfg.Backend == db.BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			log.Fatal().Err(err).Msg("failed to create data directory")
		}
	}
	persister, err := db.Open(db.Options{Backend: cfg.Backend, Path: cfg.DBPath, DSN: cfg.DBDSN})
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("failed to open database")
	}

	st, err := store.Open(ctx, persister, store.Options{FallbackChannel: cfg.FallbackChannel})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load store")
	}
	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	mode, reason := rabbitmq.Mode(publisher)
	log.Info().Str("mode", mode).Str("reason", reason).Msg("event mirror ready")

	hub := handlers.NewHub(st, handlers.HubOptions{
		SendBuffer:    cfg.SendBuffer,
		MaxFrameBytes: cfg.MaxFrameBytes,
		ActionRate:    cfg.ActionRate,
		ActionBurst:   cfg.ActionBurst,
		Publisher:     publisher,
	})
	go hub.Run()

	limiter := mw.NewRateLimiter(cfg.HTTPRate, cfg.HTTPBurst)

	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	if _, err := quartz.AddFunc(cfg.MaintenanceSchedule, func() {
		maintain(st)
		if n := limiter.Sweep(limiterIdle); n > 0 {
			log.Debug().Int("dropped", n).Int("tracked", limiter.Len()).Msg("rate limiter swept")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.MaintenanceSchedule).Msg("invalid maintenance schedule")
	}
	quartz.Start()

	h := handlers.New(st, hub, cfg.AllowedOrigin)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.CleanPath)
	r.Use(mw.Metrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", limiter.Handler(h.Routes()))

	server := &http.Server{
		Addr:              cfg.Bind,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			log.Info().Str("bind", cfg.Bind).Str("cert", cfg.TLSCert).Msg("murmur listening (https)")
			err = server.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			log.Info().Str("bind", cfg.Bind).Msg("murmur listening")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	// Hijacked WebSocket connections outlive server.Shutdown; drain them
	// before the final checkpoint and close.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("hub shutdown")
	}
	<-quartz.Stop().Done()
	maintain(st)
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("rabbitmq close")
	}
	if err := persister.Close(); err != nil {
		log.Warn().Err(err).Msg("database close")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}

// limiterIdle is how long an IP may stay quiet before its bucket is dropped.
const limiterIdle = 15 * time.Minute

// maintain checkpoints the persister and refreshes the store gauges.
func maintain(st *store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := st.Checkpoint(ctx); err != nil {
		log.Error().Err(err).Msg("checkpoint failed")
	}
	stats := st.Stats()
	metrics.SetStoreMessages(stats.Messages)
	log.Debug().Int("channels", stats.Channels).Int("messages", stats.Messages).Msg("maintenance done")
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolhub/internal/aggregate"
	"schoolhub/internal/backend"
	"schoolhub/internal/dashboard"
	"schoolhub/internal/direct"
	"schoolhub/internal/feed"
	"schoolhub/internal/platform/config"
	"schoolhub/internal/platform/database"
	"schoolhub/internal/platform/health"
	"schoolhub/internal/platform/logger"
	"schoolhub/internal/platform/metrics"
	"schoolhub/internal/platform/middleware"
	"schoolhub/internal/platform/redis"
	"schoolhub/internal/refresh"
	"schoolhub/internal/seeder"
	"schoolhub/internal/snapshot"
	"schoolhub/migrations"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Session and data-access logic lives in internal
// packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing schoolhub",
		"addr", cfg.Addr,
		"backend", cfg.Backend,
	)

	client, pool, err := newBackend(cfg)
	if err != nil {
		log.Error("backend init failed", "error", err)
		os.Exit(1)
	}

	if cfg.SeedDemo {
		if err := seeder.New(client, log).SeedAll(context.Background()); err != nil {
			log.Error("demo seed failed", "error", err)
			os.Exit(1)
		}
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}

	var store snapshot.Store
	if redisClient != nil {
		store = snapshot.NewRedisStore(redisClient)
	} else {
		log.Info("redis not configured; snapshots held in memory")
		store = snapshot.NewMemoryStore()
	}
	cache := snapshot.NewCache(store, cfg.SnapshotTTL, snapshot.WithLogger(log))

	source, err := newFeed(cfg, log)
	if err != nil {
		log.Error("change feed init failed", "error", err)
		os.Exit(1)
	}

	accessors := direct.New(client, direct.WithLogger(log))
	factory := &dashboard.SessionFactory{
		Backend:      client,
		Direct:       accessors,
		Cache:        cache,
		Aggregator:   aggregate.NewScheduler(accessors, cfg.AggregationDelay, aggregate.WithLogger(log)),
		Feed:         source,
		Registry:     refresh.NewRegistry(),
		RefreshQuiet: cfg.RefreshQuiet,
		Logger:       log,
	}
	handler := dashboard.NewHandler(factory, log)

	healthHandler := health.New(cfg.Backend)
	if pool != nil {
		healthHandler.RegisterCheck("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
	}
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
	}

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Metrics(metrics.New()))
	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.JWTSigningKey, log))
		handler.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	handler.Shutdown()
	if err := source.Close(); err != nil {
		log.Warn("change feed close failed", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if err := pool.Close(); err != nil {
		log.Warn("database close failed", "error", err)
	}

	log.Info("server stopped")
}

// newBackend selects the query client. The pool is returned separately for
// the readiness probe; it is nil for the in-memory backend.
func newBackend(cfg config.Server) (backend.Client, *database.Pool, error) {
	switch cfg.Backend {
	case "memory", "":
		return backend.NewMemory(), nil, nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		dbCfg := database.DefaultConfig()
		dbCfg.URL = cfg.PostgresURL
		pool, err := database.New(dbCfg)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pool.Migrate(ctx, migrations.FS); err != nil {
			pool.Close() //nolint:errcheck // best-effort cleanup on init failure
			return nil, nil, err
		}
		return backend.NewPostgres(pool.DB()), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// newFeed picks the kafka source when brokers are configured and falls back
// to the in-process bus otherwise.
func newFeed(cfg config.Server, log *slog.Logger) (feed.Source, error) {
	if cfg.KafkaBrokers == "" {
		log.Info("kafka not configured; using in-process change feed")
		return feed.NewBus(), nil
	}
	return feed.NewKafkaSource(feed.KafkaConfig{
		Brokers:     cfg.KafkaBrokers,
		Group:       cfg.KafkaGroup,
		TopicPrefix: cfg.KafkaTopicPrefix,
	}, log)
}

package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"sitestats/internal/ingest"
	"sitestats/internal/platform/config"
	"sitestats/internal/platform/httpserver"
	"sitestats/internal/platform/logger"
	"sitestats/internal/platform/redis"
	"sitestats/internal/sites/handler"
	"sitestats/internal/sites/metrics"
	"sitestats/internal/sites/service"
	"sitestats/internal/sites/store"
	httptransport "sitestats/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	var (
		st store.Store
		tx store.Tx
	)
	if cfg.DatabaseURL == "" {
		mem := store.NewMemory()
		st, tx = mem, mem
		log.Info("using in-memory store")
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("database unreachable", "error", err.Error())
			os.Exit(1)
		}
		if err := store.EnsureSchema(ctx, db); err != nil {
			log.Error("ensure schema", "error", err.Error())
			os.Exit(1)
		}
		pg := store.NewPostgres(db)
		st, tx = pg, pg
	}

	m := metrics.New()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
	}
	cache, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err.Error())
		os.Exit(1)
	}
	if cache != nil {
		defer cache.Close()
		opts = append(opts, service.WithDiscoveryCache(service.NewRedisCache(cache), cfg.DiscoveryCacheTTL))
		log.Info("discovery cache enabled", "ttl", cfg.DiscoveryCacheTTL.String())
	}

	svc, err := service.New(st, tx, opts...)
	if err != nil {
		log.Error("build service", "error", err.Error())
		os.Exit(1)
	}

	h := handler.New(svc, log)
	router := httptransport.NewRouter(h, log, m)
	srv := httpserver.New(cfg.Addr, router)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer, err := ingest.New(cfg.Kafka, st, log)
	if err != nil {
		log.Error("connect kafka", "error", err.Error())
		os.Exit(1)
	}
	if consumer != nil {
		defer consumer.Close()
		go func() {
			if err := consumer.Run(runCtx); err != nil && runCtx.Err() == nil {
				log.Error("access log ingest stopped", "error", err.Error())
			}
		}()
		log.Info("access log ingest enabled", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.Group)
	}

	log.Info("starting sitestats", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-runCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
	}
}

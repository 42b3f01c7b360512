// Package service implements the site registry's domain logic: temporal
// versioning of site records, daily summary aggregation, and discovery of
// unknown domains from access-log aggregates.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sitestats/internal/sites/metrics"
	"sitestats/internal/sites/store"
)

// DiscoveryCache is the optional result cache for discovery runs. The Redis
// adapter implements it; a nil cache disables caching.
type DiscoveryCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Service coordinates the store and domain rules. All mutating operations on
// a single site URL are serialized through a per-URL lock since the engine
// reads the current open version and writes based on that read.
type Service struct {
	store    store.Store
	tx       store.Tx
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cache    DiscoveryCache
	cacheTTL time.Duration

	urlLocks lockTable
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics attaches the Prometheus metrics of the sites vertical.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDiscoveryCache enables caching of full-range discovery results.
func WithDiscoveryCache(cache DiscoveryCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// New constructs the Service. The store and tx runner are required; in the
// default wiring both are the same object.
func New(st store.Store, tx store.Tx, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("sites store is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}

	svc := &Service{
		store:  st,
		tx:     tx,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// lockTable hands out one mutex per site URL. Entries are never evicted; the
// registry tracks a few thousand sites at most.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *lockTable) lock(key string) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

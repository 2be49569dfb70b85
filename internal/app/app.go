// Package app assembles the pipeline and its collaborators from configuration.
// Both binaries share this wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/daioe-etl/internal/adapter/cache"
	"github.com/couchcryptid/daioe-etl/internal/adapter/daioe"
	"github.com/couchcryptid/daioe-etl/internal/adapter/scb"
	"github.com/couchcryptid/daioe-etl/internal/adapter/workbook"
	"github.com/couchcryptid/daioe-etl/internal/config"
	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
	"github.com/couchcryptid/daioe-etl/internal/pipeline"
)

// ReadinessChecker reports whether a dependency can serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Store is a result store that can also report readiness.
type Store interface {
	pipeline.Store
	ReadinessChecker
}

// App holds the assembled pipeline and the resources it owns.
type App struct {
	Pipeline *pipeline.Pipeline
	// Store is nil when caching is disabled.
	Store Store

	redis *redis.Client
}

// New wires the SCB fetcher, DAIOE loader and configured cache into a pipeline.
// Extra options, such as a publisher, are applied last.
func New(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, opts ...pipeline.Option) (*App, error) {
	a := &App{}
	clock := clockwork.NewRealClock()

	if cfg.CacheEnabled {
		if err := a.openStore(cfg, clock, logger); err != nil {
			return nil, err
		}
		opts = append([]pipeline.Option{pipeline.WithStore(a.Store)}, opts...)
	} else {
		logger.Info("result cache disabled")
	}

	fetcher := scb.NewClient(cfg.SCBBaseURL, cfg.SCBLanguage, cfg.HTTPTimeout, logger, metrics)
	loader := daioe.NewLoader(cfg.DatasetURLs, cfg.CSVSeparator, cfg.HTTPTimeout, logger, metrics)
	a.Pipeline = pipeline.New(fetcher, loader, logger, metrics, opts...)
	return a, nil
}

func (a *App) openStore(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) error {
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		a.Store = cache.NewRedisStore(a.redis, clock)
		logger.Info("result cache enabled", "backend", cfg.CacheBackend, "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	default:
		dir, err := cache.ResolveDir(cfg.CacheDirCandidates()...)
		if err != nil {
			return err
		}
		store, err := cache.NewFileStore(dir, clock)
		if err != nil {
			return err
		}
		a.Store = fileStore{store}
		logger.Info("result cache enabled", "backend", cfg.CacheBackend, "dir", dir)
	}
	return nil
}

// CheckReadiness is ready once the pipeline has a result and the cache, if
// any, is reachable.
func (a *App) CheckReadiness(ctx context.Context) error {
	if err := a.Pipeline.CheckReadiness(ctx); err != nil {
		return err
	}
	if a.Store != nil {
		if err := a.Store.CheckReadiness(ctx); err != nil {
			return fmt.Errorf("cache not ready: %w", err)
		}
	}
	return nil
}

// Close releases the cache connection.
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// LoadTranslators builds a translator for each taxonomy with a configured
// source. Taxonomies without a source are left out.
func LoadTranslators(ctx context.Context, l *workbook.Loader, sources map[domain.Taxonomy]string, taxonomies []domain.Taxonomy) (map[domain.Taxonomy]*domain.Translator, error) {
	out := make(map[domain.Taxonomy]*domain.Translator)
	var errs []error
	for _, tax := range taxonomies {
		src := sources[tax]
		if src == "" {
			continue
		}
		tr, err := l.Load(ctx, src, tax)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s translation: %w", tax, err))
			continue
		}
		out[tax] = tr
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// fileStore is always ready once its directory exists.
type fileStore struct {
	*cache.FileStore
}

func (fileStore) CheckReadiness(context.Context) error { return nil }

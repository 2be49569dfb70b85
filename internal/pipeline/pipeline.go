package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
)

// Stage names reported in domain.StageError.
const (
	StageFetch     = "fetch"
	StageLoad      = "load"
	StageAggregate = "aggregate"
	StagePublish   = "publish"
)

// Fetcher returns employment counts for the latest SCB year.
type Fetcher interface {
	FetchEmployment(ctx context.Context, tax domain.Taxonomy) (domain.Employment, error)
}

// SourceLoader returns the DAIOE dataset of a taxonomy.
type SourceLoader interface {
	Load(ctx context.Context, tax domain.Taxonomy) (domain.Dataset, error)
}

// Store persists results between runs. Read returns domain.ErrCacheMiss when
// nothing is stored.
type Store interface {
	Read(ctx context.Context, tax domain.Taxonomy) (domain.Result, error)
	Write(ctx context.Context, r domain.Result) error
}

// Publisher forwards freshly computed results downstream.
type Publisher interface {
	Publish(ctx context.Context, r domain.Result) error
}

// RunOptions controls a single run.
type RunOptions struct {
	// Translators holds an optional label translator per taxonomy.
	Translators map[domain.Taxonomy]*domain.Translator
	// Refresh skips the cache read and always recomputes.
	Refresh bool
}

// Pipeline orchestrates fetch, load, translate, aggregate, cache and publish
// for one taxonomy at a time.
type Pipeline struct {
	fetcher   Fetcher
	loader    SourceLoader
	store     Store
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	mu     sync.RWMutex
	latest map[domain.Taxonomy]domain.Result
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithStore enables the result cache.
func WithStore(s Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithPublisher publishes every freshly computed result.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// New creates a Pipeline with the given stages and observability.
func New(f Fetcher, l SourceLoader, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: f,
		loader:  l,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
		latest:  make(map[domain.Taxonomy]domain.Result),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once at least one run has produced a result.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not produced any results yet")
	}
	return nil
}

// Latest returns the most recent result of a taxonomy, if any.
func (p *Pipeline) Latest(tax domain.Taxonomy) (domain.Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.latest[tax]
	return r, ok
}

// RunAll runs each taxonomy in order; an empty list means all taxonomies.
// The first failure aborts the remaining runs.
func (p *Pipeline) RunAll(ctx context.Context, taxonomies []domain.Taxonomy, opts RunOptions) ([]domain.Result, error) {
	if len(taxonomies) == 0 {
		taxonomies = domain.AllTaxonomies
	}
	results := make([]domain.Result, 0, len(taxonomies))
	for _, tax := range taxonomies {
		r, err := p.Run(ctx, tax, opts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Run produces the weighted and simple tables for one taxonomy, from the
// cache when possible.
func (p *Pipeline) Run(ctx context.Context, tax domain.Taxonomy, opts RunOptions) (domain.Result, error) {
	if tax.SCBTable() == "" {
		return domain.Result{}, fmt.Errorf("%w: unknown taxonomy %q", domain.ErrConfig, tax)
	}
	start := p.clock.Now()
	runID := uuid.NewString()
	logger := p.logger.With("taxonomy", tax, "run_id", runID)

	tr := opts.Translators[tax]
	if cached, ok := p.readCache(ctx, tax, opts.Refresh, logger); ok {
		if tr == nil || cached.Translated {
			p.metrics.PipelineRuns.WithLabelValues(string(tax), "cached").Inc()
			p.record(cached)
			logger.Info("serving cached result", "cached_run_id", cached.RunID, "scb_year", cached.SCBYear)
			return cached, nil
		}
		logger.Warn("cached result is untranslated, recomputing with translations", "cached_run_id", cached.RunID)
	}

	r, err := p.compute(ctx, tax, runID, tr, logger)
	if err != nil {
		p.metrics.PipelineRuns.WithLabelValues(string(tax), "error").Inc()
		logger.Error("pipeline run failed", "error", err)
		return domain.Result{}, err
	}

	if p.store != nil {
		if err := p.store.Write(ctx, r); err != nil {
			p.metrics.CacheWriteErrors.Inc()
			logger.Warn("cache write failed, returning computed result", "error", err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, r); err != nil {
			p.metrics.PipelineRuns.WithLabelValues(string(tax), "error").Inc()
			return domain.Result{}, &domain.StageError{Stage: StagePublish, Taxonomy: tax, Err: err}
		}
	}

	p.metrics.PipelineRuns.WithLabelValues(string(tax), "success").Inc()
	p.metrics.PipelineRunDuration.WithLabelValues(string(tax)).Observe(p.clock.Since(start).Seconds())
	p.record(r)
	logger.Info("pipeline run complete",
		"scb_year", r.SCBYear,
		"weighted_rows", len(r.Weighted.Rows),
		"simple_rows", len(r.Simple.Rows),
		"duration", p.clock.Since(start),
	)
	return r, nil
}

// readCache returns a cached result when one is usable. Corrupt or
// unreachable caches are logged and treated as a miss.
func (p *Pipeline) readCache(ctx context.Context, tax domain.Taxonomy, refresh bool, logger *slog.Logger) (domain.Result, bool) {
	if p.store == nil || refresh {
		return domain.Result{}, false
	}
	r, err := p.store.Read(ctx, tax)
	switch {
	case err == nil:
		p.metrics.CacheLookups.WithLabelValues("hit").Inc()
		r.FromCache = true
		return r, true
	case errors.Is(err, domain.ErrCacheMiss):
		p.metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		p.metrics.CacheLookups.WithLabelValues("error").Inc()
		logger.Warn("cache read failed, recomputing", "error", err)
	}
	return domain.Result{}, false
}

func (p *Pipeline) compute(ctx context.Context, tax domain.Taxonomy, runID string, tr *domain.Translator, logger *slog.Logger) (domain.Result, error) {
	emp, err := p.fetcher.FetchEmployment(ctx, tax)
	if err != nil {
		return domain.Result{}, &domain.StageError{Stage: StageFetch, Taxonomy: tax, Err: err}
	}
	ds, err := p.loader.Load(ctx, tax)
	if err != nil {
		return domain.Result{}, &domain.StageError{Stage: StageLoad, Taxonomy: tax, Err: err}
	}

	unmatched := make(map[string][]string)
	if tr != nil {
		ds, unmatched = ds.Translate(tr)
		for col, codes := range unmatched {
			if len(codes) > 0 {
				logger.Info("translation notes", "column", col, "codes", len(codes))
			}
		}
	}

	agg, err := domain.Aggregate(ds, emp.Records)
	if err != nil {
		return domain.Result{}, &domain.StageError{Stage: StageAggregate, Taxonomy: tax, Err: err}
	}
	if len(agg.Dropped) > 0 {
		unmatched["employment"] = agg.Dropped
		logger.Warn("dropped occupations without employment", "codes", len(agg.Dropped))
	}

	return domain.Result{
		Taxonomy:    tax,
		RunID:       runID,
		SCBYear:     emp.Year,
		Weighted:    agg.Weighted,
		Simple:      agg.Simple,
		Unmatched:   unmatched,
		Translated:  tr != nil,
		GeneratedAt: p.clock.Now().UTC(),
	}, nil
}

func (p *Pipeline) record(r domain.Result) {
	p.mu.Lock()
	p.latest[r.Taxonomy] = r
	p.mu.Unlock()

	p.metrics.SCBYear.WithLabelValues(string(r.Taxonomy)).Set(float64(r.SCBYear))
	p.metrics.TableRows.WithLabelValues(string(r.Taxonomy), string(domain.WeightingEmployment)).Set(float64(len(r.Weighted.Rows)))
	p.metrics.TableRows.WithLabelValues(string(r.Taxonomy), string(domain.WeightingSimple)).Set(float64(len(r.Simple.Rows)))
	p.ready.Store(true)
}

// Serve runs every taxonomy once, then recomputes them every interval until
// the context is cancelled. Failed rounds are logged and the previous results
// keep being served. A zero interval runs a single round.
func (p *Pipeline) Serve(ctx context.Context, taxonomies []domain.Taxonomy, opts RunOptions, interval time.Duration) {
	p.logger.Info("pipeline started", "taxonomies", taxonomies, "refresh_interval", interval)
	p.round(ctx, taxonomies, opts)
	if interval <= 0 {
		return
	}

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()
	opts.Refresh = true
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return
		case <-ticker.Chan():
			p.round(ctx, taxonomies, opts)
		}
	}
}

func (p *Pipeline) round(ctx context.Context, taxonomies []domain.Taxonomy, opts RunOptions) {
	if len(taxonomies) == 0 {
		taxonomies = domain.AllTaxonomies
	}
	// Unlike RunAll, a failed taxonomy does not end the round.
	for _, tax := range taxonomies {
		if ctx.Err() != nil {
			return
		}
		_, _ = p.Run(ctx, tax, opts)
	}
}

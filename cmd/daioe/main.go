// Command daioe runs the DAIOE aggregation pipeline once and reports what it
// produced for each taxonomy.
//
// Usage:
//
//	go run ./cmd/daioe \
//	  -taxonomy ssyk2012 \
//	  -translation-source ssyk2012=data/ssyk2012_en.xlsx \
//	  -refresh
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/daioe-etl/internal/adapter/workbook"
	"github.com/couchcryptid/daioe-etl/internal/app"
	"github.com/couchcryptid/daioe-etl/internal/config"
	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
	"github.com/couchcryptid/daioe-etl/internal/pipeline"
)

// taxonomyList collects repeated -taxonomy flags.
type taxonomyList []domain.Taxonomy

func (l *taxonomyList) String() string {
	parts := make([]string, len(*l))
	for i, t := range *l {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func (l *taxonomyList) Set(s string) error {
	ts, err := domain.ParseTaxonomies(s)
	if err != nil {
		return err
	}
	*l = append(*l, ts...)
	return nil
}

// sourceFlags collects -translation-source values, either "path" for every
// selected taxonomy or "taxonomy=path" for one.
type sourceFlags struct {
	all   string
	byTax map[domain.Taxonomy]string
}

func (f *sourceFlags) String() string { return f.all }

func (f *sourceFlags) Set(s string) error {
	name, path, ok := strings.Cut(s, "=")
	if !ok {
		f.all = s
		return nil
	}
	tax, err := domain.ParseTaxonomy(name)
	if err != nil {
		return err
	}
	if f.byTax == nil {
		f.byTax = make(map[domain.Taxonomy]string)
	}
	f.byTax[tax] = path
	return nil
}

// apply overrides the configured sources for the selected taxonomies.
func (f *sourceFlags) apply(cfg map[domain.Taxonomy]string, taxonomies []domain.Taxonomy) map[domain.Taxonomy]string {
	out := make(map[domain.Taxonomy]string, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	for _, tax := range taxonomies {
		if f.all != "" {
			out[tax] = f.all
		}
		if p, ok := f.byTax[tax]; ok {
			out[tax] = p
		}
	}
	return out
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("daioe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var taxonomies taxonomyList
	var sources sourceFlags
	fs.Var(&taxonomies, "taxonomy", "taxonomy to build (ssyk2012, ssyk96); repeatable, default DAIOE_TAXONOMIES")
	fs.Var(&sources, "translation-source", "translation workbook path or URL, optionally prefixed with taxonomy=")
	refresh := fs.Bool("refresh", false, "ignore cached results and recompute")
	noCache := fs.Bool("no-cache", false, "neither read nor write the result cache")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(stderr, nil)).Error("failed to load config", "error", err)
		return 1
	}
	if *noCache {
		cfg.CacheEnabled = false
	}
	if len(taxonomies) > 0 {
		cfg.Taxonomies = taxonomies
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "daioe-etl")
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())

	a, err := app.New(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to set up pipeline", "error", err)
		return 1
	}
	defer a.Close()

	wb := workbook.NewLoader(cfg.HTTPTimeout, logger, metrics)
	translators, err := app.LoadTranslators(ctx, wb, sources.apply(cfg.TranslationSources, cfg.Taxonomies), cfg.Taxonomies)
	if err != nil {
		logger.Error("failed to load translations", "error", err)
		return 1
	}

	results, err := a.Pipeline.RunAll(ctx, cfg.Taxonomies, pipeline.RunOptions{
		Translators: translators,
		Refresh:     *refresh,
	})
	for _, r := range results {
		report(logger, r)
	}
	if err != nil {
		logger.Error("pipeline failed", "error", err)
		return 1
	}
	return 0
}

func report(logger *slog.Logger, r domain.Result) {
	logger.Info("aggregates ready",
		"taxonomy", r.Taxonomy,
		"scb_year", r.SCBYear,
		"weighted_rows", len(r.Weighted.Rows),
		"simple_rows", len(r.Simple.Rows),
		"from_cache", r.FromCache,
		"run_id", r.RunID,
	)
	keys := make([]string, 0, len(r.Unmatched))
	for k := range r.Unmatched {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		codes := r.Unmatched[k]
		if len(codes) == 0 {
			continue
		}
		logger.Info("translation notes", "taxonomy", r.Taxonomy, "column", k, "count", len(codes), "sample", sample(codes, 5))
	}
}

func sample(codes []string, n int) string {
	if len(codes) <= n {
		return strings.Join(codes, ",")
	}
	return fmt.Sprintf("%s,... (+%d)", strings.Join(codes[:n], ","), len(codes)-n)
}

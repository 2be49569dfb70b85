package daioe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
)

const sourceLabel = "daioe"

// DefaultURLs are the published pre-translated DAIOE files, keyed by SSYK taxonomy.
var DefaultURLs = map[domain.Taxonomy]string{
	domain.SSYK2012: "https://raw.githubusercontent.com/joseph-data/07_translate_ssyk/main/03_translated_files/daioe_ssyk2012_translated.csv",
	domain.SSYK96:   "https://raw.githubusercontent.com/joseph-data/07_translate_ssyk/main/03_translated_files/daioe_ssyk96_translated.csv",
}

// Loader downloads and parses the DAIOE file of a taxonomy.
type Loader struct {
	httpClient *http.Client
	urls       map[domain.Taxonomy]string
	sep        rune
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewLoader creates a Loader. Taxonomies missing from urls use DefaultURLs.
func NewLoader(urls map[domain.Taxonomy]string, sep rune, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	merged := make(map[domain.Taxonomy]string, len(DefaultURLs))
	for tax, u := range DefaultURLs {
		merged[tax] = u
	}
	for tax, u := range urls {
		if u != "" {
			merged[tax] = u
		}
	}
	if sep == 0 {
		sep = ','
	}
	return &Loader{
		httpClient: &http.Client{Timeout: timeout},
		urls:       merged,
		sep:        sep,
		logger:     logger,
		metrics:    metrics,
	}
}

// Load fetches and parses the dataset for a taxonomy.
func (l *Loader) Load(ctx context.Context, tax domain.Taxonomy) (domain.Dataset, error) {
	u, ok := l.urls[tax]
	if !ok {
		return domain.Dataset{}, fmt.Errorf("%w: no dataset URL configured for taxonomy %q", domain.ErrConfig, tax)
	}

	start := time.Now()
	body, err := l.download(ctx, u)
	l.metrics.SourceRequestDuration.WithLabelValues(sourceLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		l.metrics.SourceRequests.WithLabelValues(sourceLabel, "error").Inc()
		return domain.Dataset{}, err
	}
	l.metrics.SourceRequests.WithLabelValues(sourceLabel, "success").Inc()

	ds, err := Parse(bytes.NewReader(body), tax, l.sep)
	if err != nil {
		return domain.Dataset{}, err
	}
	l.logger.Info("daioe dataset loaded",
		"taxonomy", tax,
		"rows", len(ds.Rows),
		"metrics", len(ds.Metrics),
		"bytes", len(body),
	)
	return ds, nil
}

func (l *Loader) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrConfig, err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: daioe download: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: daioe download %s: status %d", domain.ErrNetwork, u, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read daioe body: %w", domain.ErrNetwork, err)
	}
	return body, nil
}

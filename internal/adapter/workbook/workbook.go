// Package workbook reads SSYK translation workbooks (xlsx) into a domain.Translator.
package workbook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
)

const sourceLabel = "workbook"

// SheetNames returns the sheet holding each level (1-4) for a taxonomy.
func SheetNames(tax domain.Taxonomy) ([domain.MaxLevel]string, bool) {
	switch tax {
	case domain.SSYK96:
		return [domain.MaxLevel]string{"Level_1", "Level_2", "Level_3", "Level_4"}, true
	case domain.SSYK2012:
		return [domain.MaxLevel]string{"1-digit", "2-digit", "3-digit", "4-digit"}, true
	default:
		return [domain.MaxLevel]string{}, false
	}
}

// Loader resolves translation sources, which are local paths or http(s) URLs.
type Loader struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewLoader creates a workbook Loader.
func NewLoader(timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

// Load reads the workbook at source and builds the translator for a taxonomy.
func (l *Loader) Load(ctx context.Context, source string, tax domain.Taxonomy) (*domain.Translator, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty translation source", domain.ErrConfig)
	}

	var body []byte
	var err error
	if strings.Contains(source, "://") {
		body, err = l.download(ctx, source)
	} else {
		body, err = readFile(source)
	}
	if err != nil {
		return nil, err
	}

	tr, err := Parse(bytes.NewReader(body), tax)
	if err != nil {
		return nil, err
	}
	l.logger.Info("translation workbook loaded", "taxonomy", tax, "source", source, "labels", tr.Len())
	return tr, nil
}

func readFile(path string) ([]byte, error) {
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: translation file not found: %s", domain.ErrConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read translation file: %w", domain.ErrConfig, err)
	}
	return body, nil
}

func (l *Loader) download(ctx context.Context, source string) ([]byte, error) {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: unsupported translation source %q", domain.ErrConfig, source)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrConfig, err)
	}

	start := time.Now()
	body, err := l.fetch(req)
	l.metrics.SourceRequestDuration.WithLabelValues(sourceLabel).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	l.metrics.SourceRequests.WithLabelValues(sourceLabel, outcome).Inc()
	return body, err
}

func (l *Loader) fetch(req *http.Request) ([]byte, error) {
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download translation workbook: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download translation workbook: status %d", domain.ErrNetwork, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read translation workbook: %w", domain.ErrNetwork, err)
	}
	return body, nil
}

// Parse reads the level sheets of a taxonomy from an xlsx stream. Each sheet
// has a header row followed by code and name columns. Rows without a numeric
// code or a name are skipped.
func Parse(r io.Reader, tax domain.Taxonomy) (*domain.Translator, error) {
	sheets, ok := SheetNames(tax)
	if !ok {
		return nil, fmt.Errorf("%w: no translation sheets for taxonomy %q", domain.ErrConfig, tax)
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %w", domain.ErrData, err)
	}
	defer f.Close()

	byLevel := make(map[int]map[string]string, domain.MaxLevel)
	for i, sheet := range sheets {
		level := i + 1
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %q: %w", domain.ErrData, sheet, err)
		}
		labels := make(map[string]string)
		for _, row := range rows[min(1, len(rows)):] {
			if len(row) < 2 {
				continue
			}
			code, ok := normalizeCell(row[0], level)
			name := strings.TrimSpace(row[1])
			if !ok || name == "" {
				continue
			}
			labels[code] = name
		}
		byLevel[level] = labels
	}
	return domain.NewTranslator(byLevel), nil
}

// normalizeCell converts a code cell to its canonical form. Spreadsheets
// often store codes as numbers, so "110", "110.0" and "0110" all map to "0110"
// at level 4.
func normalizeCell(cell string, level int) (string, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || f < 0 || f != math.Trunc(f) {
		return "", false
	}
	return domain.NormalizeCode(strconv.FormatInt(int64(f), 10), level)
}

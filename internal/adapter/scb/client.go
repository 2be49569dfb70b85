package scb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/daioe-etl/internal/domain"
	"github.com/couchcryptid/daioe-etl/internal/observability"
)

const (
	// DefaultBaseURL is the PxWeb v1 root of the SCB statistical database.
	DefaultBaseURL = "https://api.scb.se/OV0104/v1/doris"
	// DefaultLanguage selects English variable texts.
	DefaultLanguage = "en"

	unspecifiedCode = "0002"
	contentsCode    = "ContentsCode"
	timeCode        = "Tid"
	sourceLabel     = "scb"
)

var utf8BOM = []byte("\ufeff")

// Client fetches employment counts per occupation from the SCB PxWeb API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	language   string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an SCB client. Empty baseURL and language fall back to the defaults.
func NewClient(baseURL, language string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if language == "" {
		language = DefaultLanguage
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		logger:     logger,
		metrics:    metrics,
	}
}

// FetchEmployment pulls employment counts for the latest year SCB publishes
// and rolls them up to all four SSYK levels. Records are sorted by year,
// level and code.
func (c *Client) FetchEmployment(ctx context.Context, tax domain.Taxonomy) (domain.Employment, error) {
	table := tax.SCBTable()
	if table == "" {
		return domain.Employment{}, fmt.Errorf("%w: no SCB table for taxonomy %q", domain.ErrConfig, tax)
	}
	tableURL := fmt.Sprintf("%s/%s/ssd/%s", c.baseURL, c.language, table)

	var meta metadata
	if err := c.do(ctx, http.MethodGet, tableURL, nil, &meta); err != nil {
		return domain.Employment{}, err
	}
	occupation, timeVar, err := meta.resolve()
	if err != nil {
		return domain.Employment{}, err
	}
	year, err := latestYear(timeVar.Values)
	if err != nil {
		return domain.Employment{}, err
	}

	q := newQuery(meta, occupation, timeVar, year)
	body, err := json.Marshal(q)
	if err != nil {
		return domain.Employment{}, fmt.Errorf("encode query: %w", err)
	}

	var resp dataResponse
	if err := c.do(ctx, http.MethodPost, tableURL, body, &resp); err != nil {
		return domain.Employment{}, err
	}
	counts, err := c.parseCounts(resp, occupation.Code, timeVar.Code)
	if err != nil {
		return domain.Employment{}, err
	}
	if len(counts) == 0 {
		return domain.Employment{}, domain.DataErrorf("SCB returned no data for taxonomy %s", tax)
	}

	records := RollUp(tax, year, counts)
	c.logger.Info("scb employment fetched",
		"taxonomy", tax,
		"year", year,
		"occupations", len(counts),
		"records", len(records),
	)
	return domain.Employment{Taxonomy: tax, Year: year, Records: records}, nil
}

func (c *Client) do(ctx context.Context, method, fullURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", domain.ErrConfig, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	err = c.send(req, out)
	c.metrics.SourceRequestDuration.WithLabelValues(sourceLabel).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.SourceRequests.WithLabelValues(sourceLabel, outcome).Inc()
	return err
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: scb %s request: %w", domain.ErrNetwork, req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: scb API error: status %d: %s", domain.ErrNetwork, resp.StatusCode, bytes.TrimSpace(msg))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read scb response: %w", domain.ErrNetwork, err)
	}
	// PxWeb prefixes JSON data responses with a UTF-8 BOM.
	body = bytes.TrimPrefix(body, utf8BOM)
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode scb response: %w", domain.ErrNetwork, err)
	}
	return nil
}

// parseCounts reads level-4 counts from a PxWeb data response. The key
// positions of the occupation and year dimensions come from the columns;
// responses without columns use the conventional (occupation, year) order.
func (c *Client) parseCounts(resp dataResponse, occupationCode, yearCode string) (map[string]int64, error) {
	if resp.Data == nil {
		return nil, domain.DataErrorf("scb response has no data field")
	}
	codeIdx, yearIdx := 0, 1
	if len(resp.Columns) > 0 {
		codeIdx, yearIdx = -1, -1
		pos := 0
		for _, col := range resp.Columns {
			if col.Type == "c" {
				continue
			}
			switch col.Code {
			case occupationCode:
				codeIdx = pos
			case yearCode:
				yearIdx = pos
			}
			pos++
		}
		if codeIdx < 0 || yearIdx < 0 {
			return nil, domain.DataErrorf("scb response columns lack %s or %s", occupationCode, yearCode)
		}
	}

	counts := make(map[string]int64)
	for i, row := range resp.Data {
		if len(row.Key) <= max(codeIdx, yearIdx) || len(row.Values) == 0 {
			return nil, domain.DataErrorf("scb data row %d is missing key or value", i)
		}
		raw := strings.TrimSpace(row.Key[codeIdx])
		if raw == unspecifiedCode {
			continue
		}
		code, ok := domain.NormalizeCode(raw, domain.MaxLevel)
		if !ok {
			c.logger.Warn("skipping scb row with non-numeric occupation code", "code", raw)
			continue
		}
		value, present, err := parseCount(row.Values[0])
		if err != nil {
			return nil, domain.DataErrorf("scb count for %s: %v", code, err)
		}
		if !present {
			continue
		}
		counts[code] += value
	}
	return counts, nil
}

// parseCount converts a PxWeb value. Missing markers report present=false.
func parseCount(s string) (int64, bool, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "..", ".", "-":
		return 0, false, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid count %q", s)
	}
	return int64(f), true, nil
}

func latestYear(values []string) (int, error) {
	latest := 0
	for _, v := range values {
		y, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		latest = max(latest, y)
	}
	if latest == 0 {
		return 0, domain.DataErrorf("scb variable metadata did not provide any valid years")
	}
	return latest, nil
}

// RollUp expands level-4 counts into records for levels 1-4 by summing over
// code prefixes. Output is sorted by year, level and code.
func RollUp(tax domain.Taxonomy, year int, counts map[string]int64) []domain.EmploymentRecord {
	type key struct {
		level int
		code  string
	}
	sums := make(map[key]int64)
	for code4, n := range counts {
		for level := domain.MinLevel; level <= domain.MaxLevel; level++ {
			sums[key{level, domain.AncestorCode(code4, level)}] += n
		}
	}
	records := make([]domain.EmploymentRecord, 0, len(sums))
	for k, n := range sums {
		records = append(records, domain.EmploymentRecord{
			Taxonomy: tax,
			Year:     year,
			Level:    k.level,
			Code:     k.code,
			Count:    n,
		})
	}
	slices.SortFunc(records, func(a, b domain.EmploymentRecord) int {
		if a.Year != b.Year {
			return a.Year - b.Year
		}
		if a.Level != b.Level {
			return a.Level - b.Level
		}
		return strings.Compare(a.Code, b.Code)
	})
	return records
}

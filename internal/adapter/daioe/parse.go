package daioe

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

const metricPrefix = "daioe_"

// Parse reads a DAIOE CSV. Required columns are year, <taxonomy>_1..4 (each
// holding "<code> <label>") and at least one daioe_* metric. Other columns,
// such as a leading unnamed index, are ignored. Empty metric cells become NaN.
func Parse(r io.Reader, tax domain.Taxonomy, sep rune) (domain.Dataset, error) {
	reader := csv.NewReader(r)
	reader.Comma = sep
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return domain.Dataset{}, domain.DataErrorf("%s csv is empty", tax)
	}
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("%w: read csv header: %w", domain.ErrData, err)
	}
	cols, err := mapColumns(header, tax)
	if err != nil {
		return domain.Dataset{}, err
	}

	ds := domain.Dataset{Taxonomy: tax, Metrics: cols.metricNames}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("%w: read csv: %w", domain.ErrData, err)
		}
		row, err := cols.parseRow(record)
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("%s csv line %d: %w", tax, line, err)
		}
		ds.Rows = append(ds.Rows, row)
	}
	if len(ds.Rows) == 0 {
		return domain.Dataset{}, domain.DataErrorf("%s csv has no data rows", tax)
	}
	return ds, nil
}

type columns struct {
	year        int
	levels      [domain.MaxLevel]int
	metricIdx   []int
	metricNames []string
}

func mapColumns(header []string, tax domain.Taxonomy) (columns, error) {
	index := make(map[string]int, len(header))
	c := columns{}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		index[h] = i
		if strings.HasPrefix(h, metricPrefix) {
			c.metricIdx = append(c.metricIdx, i)
			c.metricNames = append(c.metricNames, h)
		}
	}

	var missing []string
	var ok bool
	if c.year, ok = index["year"]; !ok {
		missing = append(missing, "year")
	}
	for level := domain.MinLevel; level <= domain.MaxLevel; level++ {
		name := tax.CodeColumn(level)
		if c.levels[level-1], ok = index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return columns{}, domain.DataErrorf("%s csv is missing expected columns: %s", tax, strings.Join(missing, ", "))
	}
	if len(c.metricIdx) == 0 {
		return columns{}, domain.DataErrorf("%s csv has no %s* columns", tax, metricPrefix)
	}
	return c, nil
}

func (c columns) parseRow(record []string) (domain.SourceRow, error) {
	year, err := parseYear(record[c.year])
	if err != nil {
		return domain.SourceRow{}, err
	}
	row := domain.SourceRow{Year: year, Values: make([]float64, len(c.metricIdx))}
	for level := domain.MinLevel; level <= domain.MaxLevel; level++ {
		rawCode, label := SplitCodeLabel(record[c.levels[level-1]])
		code, ok := domain.NormalizeCode(rawCode, level)
		if !ok {
			return domain.SourceRow{}, domain.DataErrorf("invalid level-%d code %q", level, rawCode)
		}
		row.Codes[level-1] = code
		row.Labels[level-1] = label
	}
	for i, idx := range c.metricIdx {
		v, err := parseMetric(record[idx])
		if err != nil {
			return domain.SourceRow{}, domain.DataErrorf("%s: %v", c.metricNames[i], err)
		}
		row.Values[i] = v
	}
	return row, nil
}

// SplitCodeLabel splits a "<code> <label>" cell at the first space.
func SplitCodeLabel(cell string) (code, label string) {
	code, label, _ = strings.Cut(strings.TrimSpace(cell), " ")
	return code, strings.TrimSpace(label)
}

func parseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if y, err := strconv.Atoi(s); err == nil {
		return y, nil
	}
	// Years exported from float columns, e.g. "2022.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, domain.DataErrorf("invalid year %q", s)
	}
	return int(f), nil
}

func parseMetric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return f, nil
}

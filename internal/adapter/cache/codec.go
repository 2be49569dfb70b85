// Package cache persists pipeline results so repeated runs can skip the
// network. Tables are stored as CSV, run details as a JSON manifest.
package cache

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

var fixedColumns = []string{"taxonomy", "level", "code", "label", "year", "n_children", "employment"}

// EncodeTable writes a table as CSV: the fixed columns, then one column per
// metric, then one percentile column per metric. NaN is written as an empty cell.
func EncodeTable(w io.Writer, t domain.Table) error {
	cw := csv.NewWriter(w)
	header := slices.Concat(fixedColumns, t.Metrics, t.PercentileColumns())
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, row := range t.Rows {
		if len(row.Values) != len(t.Metrics) || len(row.Percentiles) != len(t.Metrics) {
			return fmt.Errorf("row %s/%s/%d: %d values, %d percentiles for %d metrics",
				row.Taxonomy, row.Code, row.Year, len(row.Values), len(row.Percentiles), len(t.Metrics))
		}
		record = record[:0]
		record = append(record,
			string(row.Taxonomy),
			strconv.Itoa(row.Level),
			row.Code,
			row.Label,
			strconv.Itoa(row.Year),
			strconv.Itoa(row.NChildren),
			strconv.FormatInt(row.Employment, 10),
		)
		for _, v := range row.Values {
			record = append(record, formatFloat(v))
		}
		for _, v := range row.Percentiles {
			record = append(record, formatFloat(v))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeTable reads a table written by EncodeTable. Any structural problem is
// reported as domain.ErrData.
func DecodeTable(r io.Reader, weighting domain.Weighting) (domain.Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.Table{}, domain.DataErrorf("cached table is empty")
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("%w: read cached header: %w", domain.ErrData, err)
	}
	metrics, err := parseHeader(header)
	if err != nil {
		return domain.Table{}, err
	}

	t := domain.Table{Weighting: weighting, Metrics: metrics}
	n := len(metrics)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Table{}, fmt.Errorf("%w: read cached row: %w", domain.ErrData, err)
		}
		row, err := parseRow(rec, n)
		if err != nil {
			return domain.Table{}, fmt.Errorf("%w: cached row %d: %w", domain.ErrData, len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func parseHeader(header []string) ([]string, error) {
	if len(header) < len(fixedColumns) || !slices.Equal(header[:len(fixedColumns)], fixedColumns) {
		return nil, domain.DataErrorf("cached table has unexpected header %v", header)
	}
	rest := header[len(fixedColumns):]
	if len(rest)%2 != 0 {
		return nil, domain.DataErrorf("cached table has unpaired metric columns")
	}
	metrics := slices.Clone(rest[:len(rest)/2])
	for i, m := range metrics {
		if want := domain.PercentileColumn(m); rest[len(metrics)+i] != want {
			return nil, domain.DataErrorf("cached table column %q, want %q", rest[len(metrics)+i], want)
		}
	}
	return metrics, nil
}

func parseRow(rec []string, metrics int) (domain.AggregateRow, error) {
	var row domain.AggregateRow
	var err error
	row.Taxonomy = domain.Taxonomy(rec[0])
	if row.Level, err = strconv.Atoi(rec[1]); err != nil {
		return row, fmt.Errorf("level: %w", err)
	}
	row.Code = rec[2]
	row.Label = rec[3]
	if row.Year, err = strconv.Atoi(rec[4]); err != nil {
		return row, fmt.Errorf("year: %w", err)
	}
	if row.NChildren, err = strconv.Atoi(rec[5]); err != nil {
		return row, fmt.Errorf("n_children: %w", err)
	}
	if row.Employment, err = strconv.ParseInt(rec[6], 10, 64); err != nil {
		return row, fmt.Errorf("employment: %w", err)
	}

	base := len(fixedColumns)
	row.Values = make([]float64, metrics)
	row.Percentiles = make([]float64, metrics)
	for i := range metrics {
		if row.Values[i], err = parseFloat(rec[base+i]); err != nil {
			return row, err
		}
		if row.Percentiles[i], err = parseFloat(rec[base+metrics+i]); err != nil {
			return row, err
		}
	}
	return row, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

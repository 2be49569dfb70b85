package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

// EmploymentRecord is the number of employees for one code at one level in one year.
type EmploymentRecord struct {
	Taxonomy Taxonomy `json:"taxonomy"`
	Year     int      `json:"year"`
	Level    int      `json:"level"`
	Code     string   `json:"code"`
	Count    int64    `json:"count"`
}

// Employment is the tidy SCB table for a taxonomy together with the year it covers.
type Employment struct {
	Taxonomy Taxonomy
	Year     int
	Records  []EmploymentRecord
}

// TaxonomyEntry is one occupation label at one level of the hierarchy.
type TaxonomyEntry struct {
	Code            string `json:"code"`
	Level           int    `json:"level"`
	Label           string `json:"label"`
	TranslatedLabel string `json:"translated_label,omitempty"`
}

// DisplayLabel prefers the translated label when one exists.
func (e TaxonomyEntry) DisplayLabel() string {
	if e.TranslatedLabel != "" {
		return e.TranslatedLabel
	}
	return e.Label
}

// SourceRow is one DAIOE row: a level-4 occupation in one year with its ancestry.
type SourceRow struct {
	Year       int
	Codes      [MaxLevel]string
	Labels     [MaxLevel]string
	Translated [MaxLevel]string
	// Values is aligned with Dataset.Metrics. Missing values are NaN.
	Values []float64
}

// Code returns the canonical code at a level (1-4).
func (r SourceRow) Code(level int) string {
	return r.Codes[level-1]
}

// Label returns the translated label at a level when present, the source label otherwise.
func (r SourceRow) Label(level int) string {
	if t := r.Translated[level-1]; t != "" {
		return t
	}
	return r.Labels[level-1]
}

// Dataset is the parsed DAIOE file for one taxonomy.
type Dataset struct {
	Taxonomy Taxonomy
	Metrics  []string
	Rows     []SourceRow
}

// Entries lists the distinct taxonomy entries of the dataset, ordered by level then code.
// The first label seen for a code wins.
func (d Dataset) Entries() []TaxonomyEntry {
	type key struct {
		level int
		code  string
	}
	seen := make(map[key]struct{})
	var out []TaxonomyEntry
	for _, row := range d.Rows {
		for level := MinLevel; level <= MaxLevel; level++ {
			k := key{level, row.Code(level)}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, TaxonomyEntry{
				Code:            k.code,
				Level:           level,
				Label:           row.Labels[level-1],
				TranslatedLabel: row.Translated[level-1],
			})
		}
	}
	slices.SortStableFunc(out, func(a, b TaxonomyEntry) int {
		if a.Level != b.Level {
			return a.Level - b.Level
		}
		return strings.Compare(a.Code, b.Code)
	})
	return out
}

// Weighting names the two aggregate tables.
type Weighting string

const (
	WeightingEmployment Weighting = "emp_weighted"
	WeightingSimple     Weighting = "simple_avg"
)

// Label is the human-readable weighting name shown by the dashboard.
func (w Weighting) Label() string {
	switch w {
	case WeightingEmployment:
		return "Employment weighted"
	case WeightingSimple:
		return "Simple average"
	default:
		return string(w)
	}
}

// AggregateRow is one (level, code, year) row of an aggregate table.
type AggregateRow struct {
	Taxonomy   Taxonomy
	Level      int
	Code       string
	Label      string
	Year       int
	NChildren  int
	Employment int64
	// Values and Percentiles are aligned with Table.Metrics. NaN marks no data.
	Values      []float64
	Percentiles []float64
}

// Table is an aggregate table: metric names plus rows sorted by level, code and year.
type Table struct {
	Weighting Weighting
	Metrics   []string
	Rows      []AggregateRow
}

// PercentileColumn returns the rank column name for a metric, e.g. daioe_genai -> pct_rank_genai.
func PercentileColumn(metric string) string {
	return "pct_rank_" + strings.TrimPrefix(metric, "daioe_")
}

// PercentileColumns lists the rank column names in metric order.
func (t Table) PercentileColumns() []string {
	cols := make([]string, len(t.Metrics))
	for i, m := range t.Metrics {
		cols[i] = PercentileColumn(m)
	}
	return cols
}

// Filter returns the rows at the given level; level 0 returns every row.
func (t Table) Filter(level int) []AggregateRow {
	if level == 0 {
		return t.Rows
	}
	var out []AggregateRow
	for _, r := range t.Rows {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

// RowView is the JSON shape of an aggregate row. NaN values become null.
type RowView struct {
	Taxonomy    Taxonomy            `json:"taxonomy"`
	Weighting   Weighting           `json:"weighting"`
	Level       int                 `json:"level"`
	Code        string              `json:"code"`
	Label       string              `json:"label"`
	Year        int                 `json:"year"`
	NChildren   int                 `json:"n_children"`
	Employment  int64               `json:"employment"`
	Metrics     map[string]*float64 `json:"metrics"`
	Percentiles map[string]*float64 `json:"percentiles"`
}

// View converts a row of this table into its JSON shape.
func (t Table) View(row AggregateRow) RowView {
	v := RowView{
		Taxonomy:    row.Taxonomy,
		Weighting:   t.Weighting,
		Level:       row.Level,
		Code:        row.Code,
		Label:       row.Label,
		Year:        row.Year,
		NChildren:   row.NChildren,
		Employment:  row.Employment,
		Metrics:     make(map[string]*float64, len(t.Metrics)),
		Percentiles: make(map[string]*float64, len(t.Metrics)),
	}
	for i, m := range t.Metrics {
		v.Metrics[m] = nullable(row.Values, i)
		v.Percentiles[PercentileColumn(m)] = nullable(row.Percentiles, i)
	}
	return v
}

func nullable(values []float64, i int) *float64 {
	if i >= len(values) || math.IsNaN(values[i]) {
		return nil
	}
	f := values[i]
	return &f
}

// Result is the output of one pipeline run for one taxonomy.
type Result struct {
	Taxonomy Taxonomy
	RunID    string
	SCBYear  int
	Weighted Table
	Simple   Table
	// Unmatched lists codes that could not be aligned, keyed by what failed:
	// "<taxonomy>_<level>" for missing translations, "employment" for DAIOE
	// level-4 codes SCB does not report, "info" for notes.
	Unmatched map[string][]string
	// Translated reports whether labels were rewritten from a translation
	// workbook before aggregating.
	Translated  bool
	FromCache   bool
	GeneratedAt time.Time
}

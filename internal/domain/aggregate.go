package domain

import (
	"cmp"
	"math"
	"slices"
	"sort"
	"strings"
)

// Aggregates holds both aggregate tables built from one dataset.
type Aggregates struct {
	Weighted Table
	Simple   Table
	// Dropped lists DAIOE level-4 codes with no employment record, sorted.
	Dropped []string
}

type levelCode struct {
	level int
	code  string
}

type groupKey struct {
	year int
	code string
}

type joinedRow struct {
	SourceRow
	employment int64
}

// Aggregate joins level-4 employment onto the dataset and rolls every metric up
// to all four levels, employment-weighted and as a simple mean.
func Aggregate(ds Dataset, employment []EmploymentRecord) (Aggregates, error) {
	if len(ds.Rows) == 0 {
		return Aggregates{}, DataErrorf("%s dataset has no rows", ds.Taxonomy)
	}
	if len(ds.Metrics) == 0 {
		return Aggregates{}, DataErrorf("%s dataset has no daioe_* metrics", ds.Taxonomy)
	}

	emp4 := make(map[string]int64)
	known := make(map[levelCode]struct{}, len(employment))
	for _, rec := range employment {
		known[levelCode{rec.Level, rec.Code}] = struct{}{}
		if rec.Level != MaxLevel {
			continue
		}
		if _, dup := emp4[rec.Code]; dup {
			return Aggregates{}, DataErrorf("duplicate level-4 employment record for code %s", rec.Code)
		}
		emp4[rec.Code] = rec.Count
	}
	if len(emp4) == 0 {
		return Aggregates{}, DataErrorf("employment data has no level-4 rows")
	}

	joined := make([]joinedRow, 0, len(ds.Rows))
	dropped := make(map[string]struct{})
	for _, row := range ds.Rows {
		count, ok := emp4[row.Code(MaxLevel)]
		if !ok {
			dropped[row.Code(MaxLevel)] = struct{}{}
			continue
		}
		joined = append(joined, joinedRow{SourceRow: row, employment: count})
	}
	if len(joined) == 0 {
		return Aggregates{}, DataErrorf("no %s dataset codes matched employment codes", ds.Taxonomy)
	}

	children := countChildren(joined)
	out := Aggregates{
		Weighted: buildTable(ds, joined, children, known, WeightingEmployment),
		Simple:   buildTable(ds, joined, children, known, WeightingSimple),
	}
	for code := range dropped {
		out.Dropped = append(out.Dropped, code)
	}
	slices.Sort(out.Dropped)
	return out, nil
}

// countChildren counts distinct child codes one level down per (year, code).
func countChildren(rows []joinedRow) map[levelCode]map[int]int {
	sets := make(map[levelCode]map[int]map[string]struct{})
	for _, r := range rows {
		for level := MinLevel; level < MaxLevel; level++ {
			k := levelCode{level, r.Code(level)}
			byYear, ok := sets[k]
			if !ok {
				byYear = make(map[int]map[string]struct{})
				sets[k] = byYear
			}
			kids, ok := byYear[r.Year]
			if !ok {
				kids = make(map[string]struct{})
				byYear[r.Year] = kids
			}
			kids[r.Code(level+1)] = struct{}{}
		}
	}
	counts := make(map[levelCode]map[int]int, len(sets))
	for k, byYear := range sets {
		counts[k] = make(map[int]int, len(byYear))
		for year, kids := range byYear {
			counts[k][year] = len(kids)
		}
	}
	return counts
}

type accumulator struct {
	label      string
	employment int64
	wx, w      []float64
	sum        []float64
	n          []int
}

func newAccumulator(metrics int, label string) *accumulator {
	return &accumulator{
		label: label,
		wx:    make([]float64, metrics),
		w:     make([]float64, metrics),
		sum:   make([]float64, metrics),
		n:     make([]int, metrics),
	}
}

func (a *accumulator) add(r joinedRow) {
	a.employment += r.employment
	emp := float64(r.employment)
	for i, v := range r.Values {
		if math.IsNaN(v) {
			continue
		}
		a.wx[i] += v * emp
		a.w[i] += emp
		a.sum[i] += v
		a.n[i]++
	}
}

func (a *accumulator) values(w Weighting) []float64 {
	out := make([]float64, len(a.n))
	for i := range out {
		switch {
		case w == WeightingEmployment && a.w[i] != 0:
			out[i] = a.wx[i] / a.w[i]
		case w == WeightingSimple && a.n[i] > 0:
			out[i] = a.sum[i] / float64(a.n[i])
		default:
			out[i] = math.NaN()
		}
	}
	return out
}

func buildTable(ds Dataset, rows []joinedRow, children map[levelCode]map[int]int, known map[levelCode]struct{}, w Weighting) Table {
	t := Table{Weighting: w, Metrics: append([]string(nil), ds.Metrics...)}

	for level := MinLevel; level <= MaxLevel; level++ {
		groups := make(map[groupKey]*accumulator)
		var order []groupKey
		for _, r := range rows {
			k := groupKey{r.Year, r.Code(level)}
			acc, ok := groups[k]
			if !ok {
				acc = newAccumulator(len(ds.Metrics), r.Label(level))
				groups[k] = acc
				order = append(order, k)
			}
			acc.add(r)
		}

		for _, k := range order {
			if _, ok := known[levelCode{level, k.code}]; !ok {
				continue
			}
			acc := groups[k]
			nChildren := 1
			if level < MaxLevel {
				nChildren = children[levelCode{level, k.code}][k.year]
			}
			t.Rows = append(t.Rows, AggregateRow{
				Taxonomy:   ds.Taxonomy,
				Level:      level,
				Code:       k.code,
				Label:      acc.label,
				Year:       k.year,
				NChildren:  nChildren,
				Employment: acc.employment,
				Values:     acc.values(w),
			})
		}
	}

	rankPercentiles(t.Rows, len(t.Metrics))
	slices.SortStableFunc(t.Rows, func(a, b AggregateRow) int {
		if c := cmp.Compare(a.Level, b.Level); c != 0 {
			return c
		}
		if c := strings.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		return cmp.Compare(a.Year, b.Year)
	})
	return t
}

// rankPercentiles fills Percentiles with the percentile rank of each value
// within its (year, level) bucket. Ties share their average rank.
func rankPercentiles(rows []AggregateRow, metrics int) {
	type bucket struct{ year, level int }
	buckets := make(map[bucket][]int)
	for i := range rows {
		b := bucket{rows[i].Year, rows[i].Level}
		buckets[b] = append(buckets[b], i)
		rows[i].Percentiles = make([]float64, metrics)
		for m := range rows[i].Percentiles {
			rows[i].Percentiles[m] = math.NaN()
		}
	}

	for _, idx := range buckets {
		for m := 0; m < metrics; m++ {
			present := make([]int, 0, len(idx))
			for _, i := range idx {
				if !math.IsNaN(rows[i].Values[m]) {
					present = append(present, i)
				}
			}
			sort.SliceStable(present, func(a, b int) bool {
				return rows[present[a]].Values[m] < rows[present[b]].Values[m]
			})
			n := float64(len(present))
			for start := 0; start < len(present); {
				end := start + 1
				for end < len(present) && rows[present[end]].Values[m] == rows[present[start]].Values[m] {
					end++
				}
				// 1-based ranks start+1..end share their mean.
				avg := float64(start+1+end) / 2
				for j := start; j < end; j++ {
					rows[present[j]].Percentiles[m] = avg / n
				}
				start = end
			}
		}
	}
}

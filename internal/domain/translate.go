package domain

import (
	"slices"
	"strings"
)

// Translator maps (level, code) to a target-language label. It is built once
// from a translation source and is safe for concurrent reads.
type Translator struct {
	labels [MaxLevel]map[string]string
}

// NewTranslator builds a Translator from per-level code->label maps. Codes are
// normalised to the level width; invalid codes and blank labels are skipped.
func NewTranslator(byLevel map[int]map[string]string) *Translator {
	t := &Translator{}
	for level := MinLevel; level <= MaxLevel; level++ {
		t.labels[level-1] = make(map[string]string)
		for code, label := range byLevel[level] {
			norm, ok := NormalizeCode(code, level)
			label = strings.TrimSpace(label)
			if !ok || label == "" {
				continue
			}
			t.labels[level-1][norm] = label
		}
	}
	return t
}

// Lookup returns the translated label for a canonical code.
func (t *Translator) Lookup(level int, code string) (string, bool) {
	if t == nil || level < MinLevel || level > MaxLevel {
		return "", false
	}
	label, ok := t.labels[level-1][code]
	return label, ok
}

// Len returns the number of codes the translator knows across all levels.
func (t *Translator) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, m := range t.labels {
		n += len(m)
	}
	return n
}

// Translate returns a copy of the dataset with translated labels filled in.
// Codes without a translation keep their source label and are reported per
// code column, e.g. "ssyk96_4" -> ["3461"]. An empty translator leaves the
// dataset unchanged and reports an "info" note.
func (d Dataset) Translate(t *Translator) (Dataset, map[string][]string) {
	unmatched := make(map[string][]string)
	if t.Len() == 0 {
		unmatched["info"] = []string{"translation skipped (no mapping available)"}
		return d, unmatched
	}

	missing := make([]map[string]struct{}, MaxLevel)
	for i := range missing {
		missing[i] = make(map[string]struct{})
	}

	out := d
	out.Rows = make([]SourceRow, len(d.Rows))
	for i, row := range d.Rows {
		for level := MinLevel; level <= MaxLevel; level++ {
			if label, ok := t.Lookup(level, row.Code(level)); ok {
				row.Translated[level-1] = label
			} else {
				missing[level-1][row.Code(level)] = struct{}{}
			}
		}
		out.Rows[i] = row
	}

	for level := MinLevel; level <= MaxLevel; level++ {
		col := d.Taxonomy.CodeColumn(level)
		codes := make([]string, 0, len(missing[level-1]))
		for code := range missing[level-1] {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		unmatched[col] = codes
	}
	return out, unmatched
}

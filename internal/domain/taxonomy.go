package domain

import (
	"fmt"
	"strings"
)

// Taxonomy identifies an SSYK revision.
type Taxonomy string

const (
	SSYK2012 Taxonomy = "ssyk2012"
	SSYK96   Taxonomy = "ssyk96"
)

// Hierarchy depth of SSYK codes.
const (
	MinLevel = 1
	MaxLevel = 4
)

// AllTaxonomies lists the supported taxonomies in processing order.
var AllTaxonomies = []Taxonomy{SSYK2012, SSYK96}

// ParseTaxonomy validates a taxonomy identifier, case-insensitively.
func ParseTaxonomy(s string) (Taxonomy, error) {
	switch t := Taxonomy(strings.ToLower(strings.TrimSpace(s))); t {
	case SSYK2012, SSYK96:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown taxonomy %q", ErrConfig, s)
	}
}

// ParseTaxonomies parses a comma-separated list. An empty list yields AllTaxonomies.
func ParseTaxonomies(s string) ([]Taxonomy, error) {
	if strings.TrimSpace(s) == "" {
		return append([]Taxonomy(nil), AllTaxonomies...), nil
	}
	var out []Taxonomy
	for _, part := range strings.Split(s, ",") {
		t, err := ParseTaxonomy(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SCBTable returns the PxWeb table path holding employment counts for the
// taxonomy, relative to the "ssd" database root.
func (t Taxonomy) SCBTable() string {
	switch t {
	case SSYK2012:
		return "AM/AM0208/AM0208E/YREG51BAS"
	case SSYK96:
		return "AM/AM0208/AM0208E/YREG33"
	default:
		return ""
	}
}

// CodeColumn returns the DAIOE column holding codes and labels for a level,
// e.g. "ssyk2012_3".
func (t Taxonomy) CodeColumn(level int) string {
	return fmt.Sprintf("%s_%d", t, level)
}

// NormalizeCode canonicalises an occupation code for the given level: digits
// only, left-padded with zeros to the level width. It reports false for
// empty, non-numeric or over-long codes.
func NormalizeCode(code string, level int) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" || level < MinLevel || level > MaxLevel {
		return "", false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	if len(code) > level {
		// Over-padded input such as "0011" at level 3.
		trimmed := strings.TrimLeft(code, "0")
		if len(trimmed) > level {
			return "", false
		}
		code = trimmed
	}
	return strings.Repeat("0", level-len(code)) + code, true
}

// AncestorCode returns the level-n prefix of a canonical level-4 code.
func AncestorCode(code4 string, level int) string {
	if level >= len(code4) {
		return code4
	}
	return code4[:level]
}

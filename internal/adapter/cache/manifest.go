package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

// Version is bumped whenever the stored layout changes; it is part of every
// file name and key so old entries are simply never read.
const Version = 1

// Manifest describes one cached result.
type Manifest struct {
	Version     int                      `json:"version"`
	Taxonomy    domain.Taxonomy          `json:"taxonomy"`
	RunID       string                   `json:"run_id"`
	SCBYear     int                      `json:"scb_year"`
	GeneratedAt time.Time                `json:"generated_at"`
	WrittenAt   time.Time                `json:"written_at"`
	Rows        map[domain.Weighting]int `json:"rows"`
	Unmatched   map[string][]string      `json:"unmatched,omitempty"`
	Translated  bool                     `json:"translated"`
}

// entry is the serialized form of a result, shared by every store.
type entry struct {
	weighted []byte
	simple   []byte
	manifest []byte
}

func encodeEntry(r domain.Result, writtenAt time.Time) (entry, error) {
	var e entry
	var buf bytes.Buffer
	if err := EncodeTable(&buf, r.Weighted); err != nil {
		return e, fmt.Errorf("encode weighted table: %w", err)
	}
	e.weighted = bytes.Clone(buf.Bytes())

	buf.Reset()
	if err := EncodeTable(&buf, r.Simple); err != nil {
		return e, fmt.Errorf("encode simple table: %w", err)
	}
	e.simple = bytes.Clone(buf.Bytes())

	m := Manifest{
		Version:     Version,
		Taxonomy:    r.Taxonomy,
		RunID:       r.RunID,
		SCBYear:     r.SCBYear,
		GeneratedAt: r.GeneratedAt.UTC(),
		WrittenAt:   writtenAt.UTC(),
		Rows: map[domain.Weighting]int{
			domain.WeightingEmployment: len(r.Weighted.Rows),
			domain.WeightingSimple:     len(r.Simple.Rows),
		},
		Unmatched:  r.Unmatched,
		Translated: r.Translated,
	}
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return e, fmt.Errorf("encode manifest: %w", err)
	}
	e.manifest = manifest
	return e, nil
}

func decodeEntry(tax domain.Taxonomy, e entry) (domain.Result, error) {
	var m Manifest
	if err := json.Unmarshal(e.manifest, &m); err != nil {
		return domain.Result{}, fmt.Errorf("%w: decode manifest: %w", domain.ErrData, err)
	}
	if m.Version != Version || m.Taxonomy != tax {
		return domain.Result{}, domain.DataErrorf("manifest is for %s v%d, want %s v%d", m.Taxonomy, m.Version, tax, Version)
	}

	weighted, err := DecodeTable(bytes.NewReader(e.weighted), domain.WeightingEmployment)
	if err != nil {
		return domain.Result{}, fmt.Errorf("weighted table: %w", err)
	}
	simple, err := DecodeTable(bytes.NewReader(e.simple), domain.WeightingSimple)
	if err != nil {
		return domain.Result{}, fmt.Errorf("simple table: %w", err)
	}
	if len(weighted.Rows) != m.Rows[domain.WeightingEmployment] || len(simple.Rows) != m.Rows[domain.WeightingSimple] {
		return domain.Result{}, domain.DataErrorf("cached tables do not match manifest row counts")
	}

	return domain.Result{
		Taxonomy:    tax,
		RunID:       m.RunID,
		SCBYear:     m.SCBYear,
		Weighted:    weighted,
		Simple:      simple,
		Unmatched:   m.Unmatched,
		Translated:  m.Translated,
		FromCache:   true,
		GeneratedAt: m.GeneratedAt,
	}, nil
}

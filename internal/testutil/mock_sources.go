// Package testutil provides fake SCB and DAIOE endpoints for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

// SCBTable is the content served for one PxWeb table. Counts maps occupation
// codes to the raw value string for the latest year, so tests can serve
// PxWeb missing markers such as "..".
type SCBTable struct {
	Years  []string
	Counts map[string]string
}

// MockSources serves PxWeb metadata and data for the SCB tables plus the
// DAIOE CSV files from a single httptest server.
type MockSources struct {
	server *httptest.Server

	mu       sync.RWMutex
	tables   map[string]SCBTable // keyed by table path
	csv      map[string]string   // keyed by request path
	handlers map[string]http.HandlerFunc
	status   int
	bom      bool
	requests int
	queries  [][]byte
}

// NewMockSources starts a mock server with no content configured.
func NewMockSources() *MockSources {
	m := &MockSources{
		tables:   make(map[string]SCBTable),
		csv:      make(map[string]string),
		handlers: make(map[string]http.HandlerFunc),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the server root. Use it as the SCB base URL.
func (m *MockSources) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockSources) Close() {
	m.server.Close()
}

// CSVURL returns the URL serving the DAIOE file of a taxonomy.
func (m *MockSources) CSVURL(tax domain.Taxonomy) string {
	return m.server.URL + csvPath(tax)
}

// SetEmployment configures the PxWeb table of a taxonomy.
func (m *MockSources) SetEmployment(tax domain.Taxonomy, table SCBTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[tax.SCBTable()] = table
}

// SetCSV configures the DAIOE file body of a taxonomy.
func (m *MockSources) SetCSV(tax domain.Taxonomy, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.csv[csvPath(tax)] = body
}

// Handle overrides the response for an exact request path.
func (m *MockSources) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// FailWith makes every request answer with the given status. Zero restores normal service.
func (m *MockSources) FailWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// PrefixBOM makes PxWeb JSON responses start with a UTF-8 byte order mark,
// as the live SCB API does.
func (m *MockSources) PrefixBOM(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bom = on
}

// Requests returns the number of requests served so far.
func (m *MockSources) Requests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests
}

// Queries returns the PxWeb query bodies received, in order.
func (m *MockSources) Queries() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.queries)
}

func (m *MockSources) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	status := m.status
	handler := m.handlers[r.URL.Path]
	bom := m.bom
	m.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if handler != nil {
		handler(w, r)
		return
	}

	if body, ok := m.csvBody(r.URL.Path); ok {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(body))
		return
	}

	_, path, ok := strings.Cut(r.URL.Path, "/ssd/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	m.mu.RLock()
	table, ok := m.tables[path]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, table.metadata(), bom)
	case http.MethodPost:
		var q pxQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		raw, _ := json.Marshal(q)
		m.mu.Lock()
		m.queries = append(m.queries, raw)
		m.mu.Unlock()
		writeJSON(w, table.data(q), bom)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockSources) csvBody(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.csv[path]
	return body, ok
}

func csvPath(tax domain.Taxonomy) string {
	return fmt.Sprintf("/daioe/daioe_%s_translated.csv", tax)
}

func writeJSON(w http.ResponseWriter, v any, bom bool) {
	w.Header().Set("Content-Type", "application/json")
	if bom {
		_, _ = w.Write([]byte("\ufeff"))
	}
	_ = json.NewEncoder(w).Encode(v)
}

// PxWeb wire shapes, kept independent of the client under test.

type pxQuery struct {
	Query []struct {
		Code      string `json:"code"`
		Selection struct {
			Filter string   `json:"filter"`
			Values []string `json:"values"`
		} `json:"selection"`
	} `json:"query"`
	Response struct {
		Format string `json:"format"`
	} `json:"response"`
}

func (t SCBTable) codes() []string {
	codes := make([]string, 0, len(t.Counts))
	for c := range t.Counts {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}

func (t SCBTable) metadata() map[string]any {
	codes := t.codes()
	return map[string]any{
		"title": "Employed persons by occupation and year",
		"variables": []map[string]any{
			{"code": "Yrke2012", "text": "occupation", "values": codes, "valueTexts": codes},
			{"code": "ContentsCode", "text": "observations", "values": []string{"000001"}, "valueTexts": []string{"Number of employees"}},
			{"code": "Tid", "text": "year", "values": t.Years, "valueTexts": t.Years, "time": true},
		},
	}
}

func (t SCBTable) data(q pxQuery) map[string]any {
	var year string
	for _, sel := range q.Query {
		if sel.Code == "Tid" && len(sel.Selection.Values) > 0 {
			year = sel.Selection.Values[0]
		}
	}
	rows := make([]map[string]any, 0, len(t.Counts))
	for _, code := range t.codes() {
		rows = append(rows, map[string]any{
			"key":    []string{code, year},
			"values": []string{t.Counts[code]},
		})
	}
	return map[string]any{
		"columns": []map[string]string{
			{"code": "Yrke2012", "text": "occupation", "type": "d"},
			{"code": "Tid", "text": "year", "type": "t"},
			{"code": "000001", "text": "Number of employees", "type": "c"},
		},
		"data": rows,
	}
}

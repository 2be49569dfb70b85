package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

// ResultSource returns the most recent pipeline result of a taxonomy.
type ResultSource interface {
	Latest(tax domain.Taxonomy) (domain.Result, bool)
}

// Server exposes health, readiness, metrics and the aggregate tables over HTTP.
type Server struct {
	httpServer *http.Server
	results    ResultSource
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /v1/aggregates and /v1/meta routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, results ResultSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		results: results,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/aggregates", s.handleAggregates)
	mux.HandleFunc("GET /v1/meta", s.handleMeta)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type aggregatesResponse struct {
	Taxonomy    domain.Taxonomy  `json:"taxonomy"`
	Weighting   domain.Weighting `json:"weighting"`
	SCBYear     int              `json:"scb_year"`
	RunID       string           `json:"run_id"`
	FromCache   bool             `json:"from_cache"`
	GeneratedAt time.Time        `json:"generated_at"`
	Rows        []domain.RowView `json:"rows"`
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tax, err := domain.ParseTaxonomy(q.Get("taxonomy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	weighting := domain.Weighting(q.Get("weighting"))
	if weighting == "" {
		weighting = domain.WeightingEmployment
	}
	if weighting != domain.WeightingEmployment && weighting != domain.WeightingSimple {
		writeError(w, http.StatusBadRequest, "weighting must be emp_weighted or simple_avg")
		return
	}

	level := 0
	if raw := q.Get("level"); raw != "" {
		level, err = strconv.Atoi(raw)
		if err != nil || level < domain.MinLevel || level > domain.MaxLevel {
			writeError(w, http.StatusBadRequest, "level must be between 1 and 4")
			return
		}
	}

	res, ok := s.results.Latest(tax)
	if !ok {
		writeError(w, http.StatusNotFound, "no results for "+string(tax)+" yet")
		return
	}

	table := res.Weighted
	if weighting == domain.WeightingSimple {
		table = res.Simple
	}
	rows := table.Filter(level)
	views := make([]domain.RowView, 0, len(rows))
	for _, row := range rows {
		views = append(views, table.View(row))
	}

	sharedobs.WriteJSON(w, http.StatusOK, aggregatesResponse{
		Taxonomy:    tax,
		Weighting:   weighting,
		SCBYear:     res.SCBYear,
		RunID:       res.RunID,
		FromCache:   res.FromCache,
		GeneratedAt: res.GeneratedAt,
		Rows:        views,
	})
}

type taxonomyMeta struct {
	Taxonomy    domain.Taxonomy          `json:"taxonomy"`
	SCBYear     int                      `json:"scb_year"`
	RunID       string                   `json:"run_id"`
	FromCache   bool                     `json:"from_cache"`
	GeneratedAt time.Time                `json:"generated_at"`
	Metrics     []string                 `json:"metrics"`
	Rows        map[domain.Weighting]int `json:"rows"`
	Unmatched   map[string]int           `json:"unmatched"`
}

func (s *Server) handleMeta(w http.ResponseWriter, _ *http.Request) {
	out := make([]taxonomyMeta, 0, len(domain.AllTaxonomies))
	for _, tax := range domain.AllTaxonomies {
		res, ok := s.results.Latest(tax)
		if !ok {
			continue
		}
		unmatched := make(map[string]int, len(res.Unmatched))
		for k, codes := range res.Unmatched {
			unmatched[k] = len(codes)
		}
		out = append(out, taxonomyMeta{
			Taxonomy:    tax,
			SCBYear:     res.SCBYear,
			RunID:       res.RunID,
			FromCache:   res.FromCache,
			GeneratedAt: res.GeneratedAt,
			Metrics:     res.Weighted.Metrics,
			Rows: map[domain.Weighting]int{
				domain.WeightingEmployment: len(res.Weighted.Rows),
				domain.WeightingSimple:     len(res.Simple.Rows),
			},
			Unmatched: unmatched,
		})
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"taxonomies": out})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}

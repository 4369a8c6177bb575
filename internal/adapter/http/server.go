package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/accident-data-etl/internal/pipeline"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// AnalysisSource hands out the most recently published analysis.
type AnalysisSource interface {
	ReadinessChecker
	Latest() *pipeline.Analysis
}

// Server exposes health, readiness, metrics and the published analysis.
type Server struct {
	httpServer *http.Server
	source     AnalysisSource
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// read-only /api routes.
func NewServer(addr string, source AnalysisSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		source: source,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(source))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/summaries", s.withAnalysis(s.handleSummaries))
	mux.HandleFunc("GET /api/summaries/{name}", s.withAnalysis(s.handleSummary))
	mux.HandleFunc("GET /api/pivots/fatal", s.withAnalysis(s.handleFatalPivot))
	mux.HandleFunc("GET /api/clusters", s.withAnalysis(s.handleClusters))
	mux.HandleFunc("GET /api/influence/{year}", s.withAnalysis(s.handleInfluence))

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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type analysisHandler func(w http.ResponseWriter, r *http.Request, a *pipeline.Analysis)

// withAnalysis answers 503 until the first analysis is published.
func (s *Server) withAnalysis(h analysisHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := s.source.Latest()
		if a == nil {
			writeError(w, http.StatusServiceUnavailable, "no analysis published yet")
			return
		}
		h(w, r, a)
	}
}

type summaryInfo struct {
	Name       string   `json:"name"`
	Dimensions []string `json:"dimensions"`
	Measures   []string `json:"measures"`
	Rows       int      `json:"rows"`
}

func (s *Server) handleSummaries(w http.ResponseWriter, _ *http.Request, a *pipeline.Analysis) {
	out := make([]summaryInfo, len(a.Summaries))
	for i, sum := range a.Summaries {
		out[i] = summaryInfo{Name: sum.Name, Dimensions: sum.Dimensions, Measures: sum.Measures, Rows: len(sum.Rows)}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":       a.RunID,
		"generated_at": a.GeneratedAt,
		"rows":         a.Rows,
		"summaries":    out,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, a *pipeline.Analysis) {
	name := r.PathValue("name")
	sum, ok := a.Summary(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown summary "+strconv.Quote(name))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleFatalPivot(w http.ResponseWriter, _ *http.Request, a *pipeline.Analysis) {
	writeJSON(w, http.StatusOK, a.FatalPivot)
}

func (s *Server) handleClusters(w http.ResponseWriter, _ *http.Request, a *pipeline.Analysis) {
	fc := a.Clusters.FeatureCollection(a.CRS)
	fc.ExtraMembers["region"] = a.ClusterRegion.String()
	writeGeoJSON(w, fc)
}

func (s *Server) handleInfluence(w http.ResponseWriter, r *http.Request, a *pipeline.Analysis) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be a number")
		return
	}
	p, ok := a.Influence[year]
	if !ok {
		writeError(w, http.StatusNotFound, "no influence layer for year "+strconv.Itoa(year))
		return
	}
	writeGeoJSON(w, p.FeatureCollection())
}

func writeGeoJSON(w http.ResponseWriter, v json.Marshaler) {
	data, err := v.MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

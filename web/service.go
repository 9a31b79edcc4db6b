// Package web serves the read-only HTTP API over the corpus store:
// documents, runs, per-run results, and the cross-pipeline comparison
// report. Evaluation is driven by the queue, never by HTTP.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/lexalign/compare"
	"github.com/hazyhaar/lexalign/corpus"
	"github.com/hazyhaar/lexalign/store"
)

// Service exposes the store over HTTP.
type Service struct {
	store   *store.Store
	compare compare.Config
	logger  *slog.Logger
}

// New creates the web service.
func New(st *store.Store, cmp compare.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, compare: cmp, logger: logger}
}

// RegisterHTTP registers the API endpoints on a chi router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/documents", s.handleListDocuments)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Get("/api/v1/runs", s.handleListRuns)
	r.Get("/api/v1/runs/{id}", s.handleGetRun)
	r.Get("/api/v1/runs/{id}/results", s.handleRunResults)
	r.Get("/api/v1/compare", s.handleCompare)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// documentSummary is the list view; paragraphs only ship on the detail
// endpoint.
type documentSummary struct {
	ID          string `json:"id"`
	SourceGroup string `json:"source_group"`
	Paragraphs  int    `json:"paragraphs"`
	GTFallback  bool   `json:"ground_truth_fallback,omitempty"`
}

func (s *Service) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.serverError(w, "list documents", err)
		return
	}
	out := make([]documentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentSummary{
			ID:          d.ID,
			SourceGroup: d.SourceGroup,
			Paragraphs:  len(d.Paragraphs),
			GTFallback:  d.GTFallback,
		})
	}
	s.writeJSON(w, out)
}

func (s *Service) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serverError(w, "get document", err)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, map[string]any{
		"id":                    doc.ID,
		"source_group":          doc.SourceGroup,
		"ground_truth_fallback": doc.GTFallback,
		"paragraphs":            doc.Paragraphs,
	})
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("pipeline"), limit)
	if err != nil {
		s.serverError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	s.writeJSON(w, runs)
}

func (s *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.serverError(w, "get run", err)
		return
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	matrices := make([]corpus.ConfusionMatrix, 0, len(corpus.Labels()))
	for _, lbl := range corpus.Labels() {
		m, err := s.store.GetMatrix(r.Context(), id, lbl)
		if err != nil {
			s.serverError(w, "get matrix", err)
			return
		}
		if m != nil {
			matrices = append(matrices, *m)
		}
	}
	s.writeJSON(w, map[string]any{
		"run":      run,
		"matrices": matrices,
	})
}

func (s *Service) handleRunResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.serverError(w, "get run", err)
		return
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	frags, err := s.store.GetFragments(r.Context(), id)
	if err != nil {
		s.serverError(w, "get fragments", err)
		return
	}
	results, err := s.store.GetResults(r.Context(), id)
	if err != nil {
		s.serverError(w, "get results", err)
		return
	}
	s.writeJSON(w, map[string]any{
		"fragments": frags,
		"results":   results,
	})
}

func (s *Service) handleCompare(w http.ResponseWriter, r *http.Request) {
	target := corpus.LabelBody
	if q := r.URL.Query().Get("target"); q != "" {
		target = corpus.Label(q)
		known := false
		for _, l := range corpus.Labels() {
			if target == l {
				known = true
				break
			}
		}
		if !known {
			http.Error(w, "unknown target label", http.StatusBadRequest)
			return
		}
	}
	report, err := compare.BuildReport(r.Context(), s.store, target, s.compare)
	if err != nil {
		s.serverError(w, "build report", err)
		return
	}
	s.writeJSON(w, report)
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

func (s *Service) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// Package ragapi exposes the RAG retriever over HTTP, mirroring the
// chi-based API server the document platform this pipeline was lifted
// from uses for its own query endpoints: a router, standard middleware,
// and permissive CORS for browser-based dashboards.
package ragapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/spmedge/pipeline/internal/rag"
)

// shutdownGrace bounds how long Run waits for in-flight requests to drain
// once its context is canceled.
const shutdownGrace = 5 * time.Second

// Server adapts a *rag.Retriever to the optional HTTP query endpoint
// described by the retrieval spec: GET /api/query, plus a health check.
type Server struct {
	retriever *rag.Retriever
}

// NewServer builds a Server around an already-loaded retriever.
func NewServer(retriever *rag.Retriever) *Server {
	return &Server{retriever: retriever}
}

// Handler builds the chi router: logging and panic recovery middleware,
// permissive CORS, and the query/health routes under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/query", s.query)
		r.Get("/healthz", s.healthz)
	})
	return r
}

// queryResponse mirrors rag.SearchResult but keeps only the id, text,
// metadata, similarity, match score and combined score; the distance and
// the per-mode vector/keyword scores do not cross the wire.
type queryResponse struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Similarity    float64        `json:"similarity,omitempty"`
	MatchScore    int            `json:"match_score,omitempty"`
	CombinedScore float64        `json:"combined_score,omitempty"`
}

// query implements GET /api/query?q=...&k=...&mode=similarity|keyword|hybrid&alpha=...
func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, `missing required query parameter "q"`, http.StatusBadRequest)
		return
	}

	k := 5
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}
	alpha := 0.5
	if v := r.URL.Query().Get("alpha"); v != "" {
		if a, err := strconv.ParseFloat(v, 64); err == nil {
			alpha = a
		}
	}

	var (
		results []rag.SearchResult
		err     error
	)
	switch mode := r.URL.Query().Get("mode"); mode {
	case "keyword":
		results, err = s.retriever.KeywordSearch(r.Context(), q, k, nil)
	case "hybrid":
		results, err = s.retriever.HybridSearch(r.Context(), q, k, alpha, nil, nil)
	case "similarity", "":
		results, err = s.retriever.SimilaritySearch(r.Context(), q, k, nil)
	default:
		http.Error(w, `unknown "mode" (want similarity, keyword, or hybrid)`, http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]queryResponse, len(results))
	for i, res := range results {
		out[i] = queryResponse{
			ID: res.ID, Text: res.Text, Metadata: res.Metadata,
			Similarity: res.Similarity, MatchScore: res.MatchScore, CombinedScore: res.CombinedScore,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Results []queryResponse `json:"results"`
	}{out})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
	}{"ok"})
}

// Run serves Handler() on addr until ctx is canceled, then shuts the
// server down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

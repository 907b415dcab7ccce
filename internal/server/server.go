// Package server exposes the generation core over a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/TobiSchelling/contentforge/internal/cascade"
	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/generate"
	"github.com/TobiSchelling/contentforge/internal/history"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/markup"
)

const (
	maxRequestBytes = 1 << 20
	defaultLimit    = 20
	maxLimit        = 500
)

// Generator produces one artifact per request.
type Generator interface {
	Generate(ctx context.Context, req content.Request) (*content.Artifact, error)
}

// Server is the HTTP server for the generation API.
type Server struct {
	gen     Generator
	store   *history.Store
	invoker *cascade.Invoker
	db      *database.DB
	mux     *http.ServeMux
}

// New creates a new Server. db may be nil, in which case /api/runs is not
// served.
func New(gen Generator, store *history.Store, invoker *cascade.Invoker, db *database.DB) *Server {
	s := &Server{gen: gen, store: store, invoker: invoker, db: db, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Serve listens on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/history/document", s.handleHistoryDocument)
	s.mux.HandleFunc("GET /api/history/stats", s.handleHistoryStats)
	s.mux.HandleFunc("GET /api/providers", s.handleProviders)
	if s.db != nil {
		s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "history": s.store.Len()})
}

type artifactResponse struct {
	*content.Artifact
	BodyHTML string `json:"bodyHtml,omitempty"`
	Provider string `json:"provider"`
	Attempts int    `json:"attempts"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req content.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, generate.Failure{Kind: generate.KindInvalidRequest, Message: "decoding request: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, generate.FailureOf(err))
		return
	}

	art, err := s.gen.Generate(r.Context(), req)
	if err != nil {
		f := generate.FailureOf(err)
		log.Printf("Generate for %q failed: %v", req.Topic, err)
		writeJSON(w, statusFor(f.Kind), f)
		return
	}

	resp := artifactResponse{Artifact: art, Provider: art.Provider, Attempts: art.Attempts}
	if r.URL.Query().Get("format") == "html" {
		html, err := markup.Render(art.Body)
		if err != nil {
			log.Printf("Rendering %q failed: %v", art.Title, err)
		}
		resp.BodyHTML = html
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(k generate.Kind) int {
	switch k {
	case generate.KindInvalidRequest:
		return http.StatusBadRequest
	case generate.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case generate.KindProviderTransportError:
		return http.StatusGatewayTimeout
	case generate.KindProviderResponseInvalid:
		return http.StatusBadGateway
	case generate.KindAllAttemptsExhausted, generate.KindContentQualityFailure, generate.KindDuplicateContentDetected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records := s.store.Recent(limit)
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Document())
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

type providerStatus struct {
	ID         string          `json:"id"`
	Kind       llm.Kind        `json:"kind"`
	Model      string          `json:"model"`
	Priority   int             `json:"priority"`
	Configured bool            `json:"configured"`
	Sticky     bool            `json:"sticky"`
	Health     *cascade.Health `json:"health,omitempty"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	health := map[string]cascade.Health{}
	for _, h := range s.invoker.Health() {
		health[h.Provider] = h
	}
	sticky := s.invoker.Sticky()

	out := []providerStatus{}
	for _, d := range s.invoker.Order() {
		ps := providerStatus{
			ID:         d.ID,
			Kind:       d.Kind,
			Model:      d.Model,
			Priority:   d.Priority,
			Configured: llm.IsConfigured(d),
			Sticky:     d.ID == sticky,
		}
		if h, ok := health[d.ID]; ok {
			ps.Health = &h
		}
		out = append(out, ps)
	}
	writeJSON(w, http.StatusOK, out)
}

type runReport struct {
	RunID      string  `json:"runId"`
	Unit       string  `json:"unit"`
	Topic      string  `json:"topic"`
	Status     string  `json:"status"`
	Provider   *string `json:"provider,omitempty"`
	Title      *string `json:"title,omitempty"`
	ErrorKind  *string `json:"errorKind,omitempty"`
	Error      *string `json:"error,omitempty"`
	Attempts   int     `json:"attempts"`
	DurationMS int64   `json:"durationMs"`
	CreatedAt  *string `json:"createdAt,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	reports, err := s.db.GetRecentRunReports(limit)
	if err != nil {
		log.Printf("Loading run reports failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]runReport, 0, len(reports))
	for _, rep := range reports {
		out = append(out, runReport{
			RunID:      rep.RunID,
			Unit:       rep.Unit,
			Topic:      rep.Topic,
			Status:     rep.Status,
			Provider:   rep.Provider,
			Title:      rep.Title,
			ErrorKind:  rep.ErrorKind,
			Error:      rep.ErrorMessage,
			Attempts:   rep.Attempts,
			DurationMS: rep.Duration.Milliseconds(),
			CreatedAt:  rep.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxLimit), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

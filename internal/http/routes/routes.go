// Package routes exposes the proxy and reconciliation engine over HTTP for
// the dashboard. Every error path resolves to one of the four taxonomy kinds
// with a stable code; raw stack traces never leave this boundary.
package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/docufort/ragproxy/internal/proxy"
	"github.com/docufort/ragproxy/internal/recon"
)

type Server struct {
	Router *chi.Mux
	Proxy  *proxy.Orchestrator
	Recon  *recon.Engine
	Log    zerolog.Logger

	statusTTL time.Duration
}

type ServerOptions struct {
	Proxy     *proxy.Orchestrator
	Recon     *recon.Engine
	Log       zerolog.Logger
	StatusTTL time.Duration
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:    r,
		Proxy:     opts.Proxy,
		Recon:     opts.Recon,
		Log:       opts.Log,
		statusTTL: opts.StatusTTL,
	}
	if s.statusTTL <= 0 {
		s.statusTTL = 30 * time.Second
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/health", s.handleHealth)

	r.Get("/search", s.handleSearch)
	r.Post("/query", s.handleQuery)
	r.Post("/collections/query", s.handleCollectionsQuery)
	r.Get("/gpu/policy", s.handleGPUPolicy)

	r.Get("/status", s.handleStatus)
	r.Post("/ingest", s.handleIngest)
	r.Post("/clean-orphans", s.handleCleanOrphans)
	r.Post("/create-collection", s.handleCreateCollection)
	r.Post("/delete-collection", s.handleDeleteCollection)

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.Proxy.CheckHealth(r.Context())
	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, h)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxResults := float64(proxy.ParseMaxResults(q.Get("max_results")))
	threshold := proxy.ParseScoreThreshold(q.Get("score_threshold"))

	result, err := s.Proxy.Search(r.Context(), q.Get("query"), proxy.QueryOptions{
		MaxResults:     &maxResults,
		Collection:     q.Get("collection"),
		ScoreThreshold: &threshold,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// queryBody accepts both limit and max_results; limit wins only when
// max_results is absent.
type queryBody struct {
	Query          string   `json:"query"`
	MaxResults     *float64 `json:"max_results"`
	Limit          *float64 `json:"limit"`
	Collection     string   `json:"collection"`
	ScoreThreshold *float64 `json:"score_threshold"`
}

func (b queryBody) options() proxy.QueryOptions {
	maxResults := b.MaxResults
	if maxResults == nil {
		maxResults = b.Limit
	}
	return proxy.QueryOptions{
		MaxResults:     maxResults,
		Collection:     b.Collection,
		ScoreThreshold: b.ScoreThreshold,
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &proxy.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	result, err := s.Proxy.QueryWithAnswer(r.Context(), body.Query, body.options())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCollectionsQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &proxy.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	result, err := s.Proxy.QueryCollections(r.Context(), body.Query, body.options())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGPUPolicy(w http.ResponseWriter, r *http.Request) {
	result, err := s.Proxy.GPUPolicy(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	snap, cached, err := s.Recon.Status(r.Context(), collection)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(s.statusTTL.Seconds())))
	s.writeJSON(w, http.StatusOK, snap)
}

type actionBody struct {
	Collection string `json:"collection"`
	Model      string `json:"model"`
	ChunkSize  int    `json:"chunk_size"`
	SourceDir  string `json:"source_dir"`
	Force      bool   `json:"force"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &proxy.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	ack, err := s.Recon.TriggerIngestion(r.Context(), body.Collection, recon.IngestOptions{
		Model:     body.Model,
		ChunkSize: body.ChunkSize,
		Force:     body.Force,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleCleanOrphans(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &proxy.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	// The cleanup pass never throws past its boundary; failures come back
	// as success:false with partial counts.
	result := s.Recon.CleanOrphans(r.Context(), body.Collection)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &proxy.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if body.Collection == "" {
		s.writeError(w, &proxy.ValidationError{Field: "collection", Reason: "required"})
		return
	}
	if err := s.Recon.CreateCollection(r.Context(), body.Collection, recon.CreateOptions{
		Model:     body.Model,
		SourceDir: body.SourceDir,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"success": true, "collection": body.Collection})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &proxy.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if body.Collection == "" {
		s.writeError(w, &proxy.ValidationError{Field: "collection", Reason: "required"})
		return
	}
	if err := s.Recon.DeleteCollection(r.Context(), body.Collection); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "collection": body.Collection})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Error().Err(err).Msg("write response failed")
	}
}

// errorEnvelope is the stable error shape the dashboard renders from.
type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Service    string `json:"service,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
	Status     int    `json:"upstream_status,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		valErr  *proxy.ValidationError
		extErr  *proxy.ExternalError
		unavail *proxy.UnavailableError
		status  int
		body    errorBody
	)

	switch {
	case errors.As(err, &valErr):
		status = http.StatusBadRequest
		body = errorBody{Code: proxy.CodeValidation, Message: valErr.Error()}
	case errors.As(err, &unavail):
		status = http.StatusServiceUnavailable
		retryAfter := int(unavail.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		body = errorBody{
			Code:       proxy.CodeUnavailable,
			Message:    unavail.Error(),
			Service:    unavail.Service,
			RetryAfter: retryAfter,
		}
	case errors.As(err, &extErr):
		status = http.StatusBadGateway
		body = errorBody{
			Code:    proxy.CodeExternal,
			Message: extErr.Error(),
			Service: extErr.Service,
			Status:  extErr.StatusCode,
		}
	default:
		status = http.StatusInternalServerError
		body = errorBody{Code: proxy.CodeReconciliation, Message: err.Error()}
	}

	s.Log.Warn().Str("code", body.Code).Str("error", body.Message).Msg("request failed")
	s.writeJSON(w, status, errorEnvelope{Error: body})
}

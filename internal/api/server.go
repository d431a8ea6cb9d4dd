package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
	"github.com/knowledge-engine/chunkstore/internal/engine"
	"github.com/knowledge-engine/chunkstore/internal/ingest"
	"github.com/knowledge-engine/chunkstore/internal/search"
)

const snippetLength = 200

type Server struct {
	Engine *engine.Engine
	Logger *logrus.Entry
	Router *http.ServeMux

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

func NewServer(eng *engine.Engine, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		Engine: eng,
		Logger: logger.WithField("component", "api"),
		Router: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.HandleFunc("/api/v1/chunks", s.handleChunks)
	s.Router.HandleFunc("/api/v1/search", s.handleSearch)
	s.Router.HandleFunc("/api/v1/generate", s.handleGenerate)
	s.Router.HandleFunc("/api/v1/status", s.handleStatus)
}

// Start serves until Shutdown is called. It returns nil after a shutdown.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.Logger.Infof("Starting API Server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Responses
type ErrorResponse struct {
	Error string `json:"error"`
}

type SearchResponse struct {
	Query   string             `json:"query"`
	Results []SearchResultView `json:"results"`
}

type SearchResultView struct {
	ID         string           `json:"id"`
	SourceType chunk.SourceType `json:"source_type"`
	SourceID   string           `json:"source_id"`
	Score      float64          `json:"score"`
	Text       string           `json:"snippet"`
	Metadata   map[string]any   `json:"metadata"`
}

type IngestResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type StatusResponse struct {
	Chunks         int                      `json:"chunks"`
	VocabularySize int                      `json:"vocabulary_size"`
	BySourceType   map[chunk.SourceType]int `json:"by_source_type"`
	Provider       string                   `json:"provider"`
	Ingested       int64                    `json:"ingested"`
	Searches       int64                    `json:"searches"`
	Generations    int64                    `json:"generations"`
	Uptime         string                   `json:"uptime"`
}

type GenerateResponse struct {
	Query     string             `json:"query"`
	Answer    string             `json:"answer"`
	Sources   []SearchResultView `json:"sources"`
	Truncated bool               `json:"truncated"`
}

// Handlers

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chunks, err := ingest.ReadChunks(r.Body)
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON: " + err.Error()})
		return
	}

	if err := s.Engine.Ingest(r.Context(), chunks); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, search.ErrInvalidChunk) || errors.Is(err, search.ErrDuplicateID) {
			code = http.StatusBadRequest
		}
		jsonResponse(w, code, ErrorResponse{Error: err.Error()})
		return
	}

	jsonResponse(w, http.StatusAccepted, IngestResponse{Status: "accepted", Count: len(chunks)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	query := params.Get("q")
	if query == "" {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Query 'q' is required"})
		return
	}

	opts := search.SearchOptions{}
	if k := params.Get("k"); k != "" {
		topK, err := strconv.Atoi(k)
		if err != nil {
			jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Parameter 'k' must be an integer"})
			return
		}
		opts.TopK = topK
	}
	for _, st := range params["source_type"] {
		opts.SourceTypes = append(opts.SourceTypes, chunk.SourceType(st))
	}

	// Execute Search
	hits := s.Engine.Retrieve(query, opts)

	jsonResponse(w, http.StatusOK, SearchResponse{
		Query:   query,
		Results: toViews(hits),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.Engine.Status()

	jsonResponse(w, http.StatusOK, StatusResponse{
		Chunks:         status.Store.Chunks,
		VocabularySize: status.Store.VocabularySize,
		BySourceType:   status.Store.BySourceType,
		Provider:       status.Provider,
		Ingested:       status.Ingested,
		Searches:       status.Searches,
		Generations:    status.Generations,
		Uptime:         status.Uptime.Round(time.Second).String(),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Query 'q' is required"})
		return
	}

	answer, err := s.Engine.GenerateAnswer(r.Context(), query)
	if err != nil {
		s.Logger.WithError(err).Error("Answer generation failed")
		jsonResponse(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, GenerateResponse{
		Query:     query,
		Answer:    answer.Text,
		Sources:   toViews(answer.Sources),
		Truncated: answer.Truncated,
	})
}

func toViews(hits []search.SearchResult) []SearchResultView {
	views := make([]SearchResultView, len(hits))
	for i, hit := range hits {
		txt := hit.Chunk.ChunkText
		if len(txt) > snippetLength {
			txt = txt[:snippetLength] + "..."
		}
		views[i] = SearchResultView{
			ID:         hit.Chunk.ID,
			SourceType: hit.Chunk.SourceType,
			SourceID:   hit.Chunk.SourceID,
			Score:      hit.Score,
			Text:       txt,
			Metadata:   hit.Chunk.Metadata,
		}
	}
	return views
}

func jsonResponse(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

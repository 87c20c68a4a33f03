package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
	"github.com/loqalabs/cyruss/internal/journal"
	"github.com/loqalabs/cyruss/internal/protocol"
)

// LanguageModel answers a prompt.
type LanguageModel interface {
	GetResponse(ctx context.Context, prompt string) (string, error)
}

// Server exposes the assistant's language model over HTTP.
type Server struct {
	model    LanguageModel
	sites    []config.Site
	maxBody  int64
	limiter  *RateLimiter
	recorder journal.Recorder
	log      *slog.Logger
	mux      *http.ServeMux
}

type Option func(*Server)

func WithRecorder(r journal.Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.recorder = r
		}
	}
}

func New(cfg config.HTTPConfig, sites []config.Site, model LanguageModel, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		model:    model,
		sites:    sites,
		maxBody:  cfg.MaxRequestSize,
		recorder: journal.Nop{},
		log:      log.With(slog.String("component", "http")),
		mux:      http.NewServeMux(),
	}
	if cfg.RateLimit > 0 {
		trusted, err := cfg.TrustedPrefixes()
		if err != nil {
			s.log.Warn("ignoring trusted proxies", slog.String("error", err.Error()))
			trusted = nil
		}
		s.limiter = NewRateLimiter(cfg.RateLimit, time.Minute, trusted)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /api/respond", s.limiter.Middleware(s.handleRespond))
	s.mux.HandleFunc("GET /api/sites", s.handleSites)
	return s
}

// Handle mounts an extra handler, e.g. health and metrics endpoints.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

type respondRequest struct {
	Text string `json:"text"`
}

type respondResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cyruss AI Server is running"})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)
	if s.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}

	var req respondRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Empty input"})
		return
	}

	ctx := r.Context()
	s.recorder.Record(ctx, protocol.Event{Kind: protocol.KindCommand, Text: req.Text})
	response, err := s.model.GetResponse(ctx, req.Text)
	if err != nil {
		s.log.Error("language model failed", slog.String("error", err.Error()))
		s.recorder.Record(ctx, protocol.Event{Kind: protocol.KindFallback, Error: err.Error()})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.recorder.Record(ctx, protocol.Event{Kind: protocol.KindResponse, Text: response})
	writeJSON(w, http.StatusOK, respondResponse{Response: response})
}

func (s *Server) handleSites(w http.ResponseWriter, _ *http.Request) {
	pairs := make([][2]string, 0, len(s.sites))
	for _, site := range s.sites {
		pairs = append(pairs, [2]string{site.Name, site.URL})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": pairs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

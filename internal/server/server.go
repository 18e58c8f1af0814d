// Package server exposes the question answering pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"regulation-rag/internal/config"
	"regulation-rag/internal/helper"
	"regulation-rag/internal/models"
)

const maxBodyBytes = 1 << 20

// Answerer answers one chat message. *rag.RAG satisfies it.
type Answerer interface {
	Query(ctx context.Context, message string, history []models.Turn) (*models.Response, error)
}

type ChatRequest struct {
	Message string        `json:"message"`
	History []models.Turn `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	answerer Answerer
	cfg      config.ServerConfig
	docs     config.DocumentsConfig
	handler  http.Handler
}

func New(answerer Answerer, cfg *config.Config) *Server {
	s := &Server{answerer: answerer, cfg: cfg.Server, docs: cfg.Documents}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// fileOnlyFS hides directories so the document route never lists them
type fileOnlyFS struct {
	http.FileSystem
}

func (f fileOnlyFS) Open(name string) (http.File, error) {
	file, err := f.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)

	if helper.DirExists(s.docs.Root) {
		prefix := "/" + strings.Trim(s.docs.URLPrefix, "/")
		mux.Handle("GET "+prefix+"/", http.StripPrefix(prefix, http.FileServer(fileOnlyFS{http.Dir(s.docs.Root)})))
		log.Info().Str("root", s.docs.Root).Str("prefix", prefix).Msg("Serving documents")
	} else {
		log.Warn().Str("root", s.docs.Root).Msg("Document root not found, source links will not resolve")
	}

	var h http.Handler = mux
	h = cors(s.cfg.CORSOrigins)(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.NewHandler(log.Logger)(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	hlog.FromRequest(r).Debug().Object("request", &req).Msg("Chat request")

	resp, err := s.answerer.Query(r.Context(), req.Message, req.History)
	if err != nil {
		status := statusFor(err)
		hlog.FromRequest(r).Error().Err(err).Int("status", status).Msg("Query failed")
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps collaborator failures to 502 and everything else to 500
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmbedding), errors.Is(err, models.ErrGeneration), errors.Is(err, models.ErrIndex):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func cors(origins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				switch {
				case wildcard:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				case slices.Contains(origins, origin):
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

var _ zerolog.LogObjectMarshaler = (*ChatRequest)(nil)

// MarshalZerologObject keeps message bodies out of the logs
func (c *ChatRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Int("message_len", len(c.Message)).Int("history", len(c.History))
}

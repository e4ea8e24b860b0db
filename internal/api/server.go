// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"docpipe/internal/logger"
	"docpipe/internal/pipeline"
)

// maxBodyBytes bounds request bodies on every route.
const maxBodyBytes = 1 << 20

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	registrar  *pipeline.Registrar
	retriever  *pipeline.Retriever
	worker     *pipeline.Worker
	dispatcher *pipeline.Dispatcher
	health     Pinger
	log        zerolog.Logger
}

func NewServer(registrar *pipeline.Registrar, retriever *pipeline.Retriever, worker *pipeline.Worker, dispatcher *pipeline.Dispatcher) *Server {
	return &Server{
		registrar:  registrar,
		retriever:  retriever,
		worker:     worker,
		dispatcher: dispatcher,
		log:        logger.WithComponent("api"),
	}
}

// SetHealthCheck makes /healthz fail while p is unreachable.
func (s *Server) SetHealthCheck(p Pinger) {
	s.health = p
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found!")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", s.healthz)

	r.Post("/files", s.registerFile)
	r.Get("/files/{file_id}", s.getFile)

	r.Post("/events/object-finalized", s.objectFinalized)
	r.Post("/events/record-changed", s.recordChanged)

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			logger.WithContext(r.Context()).Warn().Err(err).Msg("Health check failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

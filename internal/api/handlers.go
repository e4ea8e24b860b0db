package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"docpipe/internal/events"
	"docpipe/internal/logger"
	"docpipe/internal/pipeline"
)

type registerRequest struct {
	CallbackURL string `json:"callback_url"`
}

func (s *Server) registerFile(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.MsgInvalidCallbackURL)
		return
	}

	resp, err := s.registrar.Register(r.Context(), req.CallbackURL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	resp, err := s.retriever.Get(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) objectFinalized(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	ev, err := events.DecodeObjectEvent(body)
	if errors.Is(err, events.ErrIgnoredEvent) {
		logger.WithContext(r.Context()).Debug().Err(err).Msg("Object event ignored")
		writeJSON(w, http.StatusOK, map[string]string{"outcome": "ignored"})
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Push hosts redeliver on any non-2xx reply, so only a retryable outcome
	// is reported as a failure.
	out := s.worker.Process(r.Context(), ev)
	status := http.StatusOK
	if out.Retryable() {
		status = out.StatusCode
	}
	writeJSON(w, status, out)
}

func (s *Server) recordChanged(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	ev, err := events.DecodeRecordEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivery := s.dispatcher.Dispatch(r.Context(), ev)
	writeJSON(w, delivery.StatusCode, delivery)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := pipeline.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error().Err(err).Msg("Request failed")
	}
	writeError(w, status, pipeline.Message(err))
}

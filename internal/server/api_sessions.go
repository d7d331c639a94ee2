package server

import (
	"errors"
	"net/http"

	"attendsync/internal/backend"
	"attendsync/internal/models"
	"attendsync/internal/view"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.screens.Dashboard.Create(r.Context(), req)
	if err != nil {
		writeError(w, sessionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.screens.Dashboard.Current(s.now())
	if err != nil {
		writeError(w, sessionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.screens.Dashboard.Close(r.Context())
	if err != nil {
		writeError(w, sessionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func sessionStatus(err error) int {
	switch {
	case errors.Is(err, view.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, view.ErrSessionActive),
		errors.Is(err, view.ErrSessionPending):
		return http.StatusConflict
	}
	return backendStatus(err)
}

// backendStatus maps failures of calls to the recognition backend.
func backendStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrRejected):
		return http.StatusUnprocessableEntity
	case backend.IsTransient(err):
		return http.StatusBadGateway
	}
	var se *backend.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

package server

import (
	"errors"
	"net/http"

	"attendsync/internal/view"
)

func (s *Server) handleMonitorOpen(w http.ResponseWriter, r *http.Request) {
	s.screens.Monitor.Open(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"open":   true,
		"camera": s.cam.CurrentState(),
	})
}

func (s *Server) handleMonitorClose(w http.ResponseWriter, r *http.Request) {
	own, err := s.screens.Monitor.Close(r.Context())
	writeOwnership(w, own, err)
}

func (s *Server) handleMonitorCameraStart(w http.ResponseWriter, r *http.Request) {
	own, err := s.screens.Monitor.StartCamera(r.Context())
	writeOwnership(w, own, err)
}

func (s *Server) handleMonitorCameraStop(w http.ResponseWriter, r *http.Request) {
	own, err := s.screens.Monitor.StopCamera(r.Context())
	writeOwnership(w, own, err)
}

func (s *Server) handleEnrollmentOpen(w http.ResponseWriter, r *http.Request) {
	own, err := s.screens.Enrollment.Open(r.Context())
	writeOwnership(w, own, err)
}

func (s *Server) handleEnrollmentClose(w http.ResponseWriter, r *http.Request) {
	own, err := s.screens.Enrollment.Close(r.Context())
	writeOwnership(w, own, err)
}

func (s *Server) handleEnrollmentCapture(w http.ResponseWriter, r *http.Request) {
	frame, err := s.screens.Enrollment.Capture(r.Context())
	writeFrame(w, frame, err)
}

type enrollRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleEnrollmentEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.screens.Enrollment.Enroll(r.Context(), req.Name)
	if err != nil {
		writeError(w, enrollStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func enrollStatus(err error) int {
	if errors.Is(err, view.ErrNameRequired) {
		return http.StatusBadRequest
	}
	if code := cameraStatus(err); code != http.StatusInternalServerError {
		return code
	}
	return backendStatus(err)
}

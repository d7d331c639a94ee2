package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Long-lived streams sit outside the body limit and JSON content type.
	s.router.Get("/api/attendance/stream", s.handleAttendanceSSE)
	s.router.Get("/api/attendance/ws", s.handleAttendanceWS)
	s.router.Get("/api/sessions/current/stream", s.handleSessionTokenSSE)
	if s.screens.Gallery != nil {
		s.router.Get("/api/students/photo/{name}", s.handleStudentPhoto)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))

		r.Route("/camera", func(cr chi.Router) {
			cr.Use(noStore)
			cr.Get("/", s.handleCameraState)
			cr.Post("/acquire", s.handleCameraAcquire)
			cr.Post("/release", s.handleCameraRelease)
			cr.Post("/ack", s.handleCameraAck)
			cr.Get("/frame", s.handleCameraFrame)
			cr.Get("/transitions", s.handleCameraTransitions)
			if s.remoteCam != nil {
				cr.Get("/backend", s.handleBackendCamera)
			}
		})

		r.Route("/screens", func(sr chi.Router) {
			sr.Post("/monitor/open", s.handleMonitorOpen)
			sr.Post("/monitor/close", s.handleMonitorClose)
			sr.Post("/monitor/camera/start", s.handleMonitorCameraStart)
			sr.Post("/monitor/camera/stop", s.handleMonitorCameraStop)
			sr.Post("/enrollment/open", s.handleEnrollmentOpen)
			sr.Post("/enrollment/close", s.handleEnrollmentClose)
			sr.With(noStore).Post("/enrollment/capture", s.handleEnrollmentCapture)
			sr.Post("/enrollment/enroll", s.handleEnrollmentEnroll)
		})

		if s.screens.Gallery != nil {
			r.Route("/students", func(sr chi.Router) {
				sr.Get("/", s.handleListStudents)
				sr.Delete("/{id}", s.handleDeleteStudent)
			})
		}

		r.Get("/attendance/today", s.handleAttendanceToday)
		r.Get("/events", s.handleListEvents)

		r.Route("/sessions", func(sr chi.Router) {
			sr.Use(noStore)
			sr.Post("/", s.handleCreateSession)
			sr.Get("/current", s.handleCurrentSession)
			sr.Post("/current/close", s.handleCloseSession)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"camera": s.cam.CurrentState().State,
	})
}

package server

import (
	"net/http"

	"attendsync/internal/models"
	"attendsync/internal/store"
)

func (s *Server) handleAttendanceToday(w http.ResponseWriter, r *http.Request) {
	snap := s.screens.Monitor.Snapshot()
	if snap.Items == nil {
		snap.Items = []models.AttendanceLog{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	feed := r.URL.Query().Get("feed")
	limit := queryInt(r, "limit", store.DefaultEventListLimit)
	events, err := s.store.ListChangeEvents(r.Context(), feed, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"attendsync/internal/view"
)

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	list, err := s.screens.Gallery.Students(r.Context())
	if err != nil {
		writeError(w, backendStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.screens.Gallery.Delete(r.Context(), id); err != nil {
		writeError(w, backendStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleStudentPhoto(w http.ResponseWriter, r *http.Request) {
	data, err := s.screens.Gallery.Photo(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		code := backendStatus(err)
		if errors.Is(err, view.ErrInvalidPhotoName) {
			code = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		writeError(w, code, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Package server exposes the screens over a local JSON API with SSE and
// WebSocket feeds.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"attendsync/internal/camera"
	"attendsync/internal/models"
	"attendsync/internal/store"
	"attendsync/internal/view"
)

// Screens groups the view controllers the API drives.
type Screens struct {
	Monitor    *view.Monitor
	Enrollment *view.Enrollment
	Dashboard  *view.Dashboard
	Gallery    *view.Gallery
}

// CameraStatusSource reports whether the recognition backend has its
// camera open.
type CameraStatusSource interface {
	CameraStatus(ctx context.Context) (models.BackendCameraStatus, error)
}

type Server struct {
	router     chi.Router
	store      *store.Store
	cam        *camera.Coordinator
	screens    Screens
	metrics    http.Handler
	remoteCam  CameraStatusSource
	corsOrigin string
	now        func() time.Time
	upgrader   websocket.Upgrader
}

func NewServer(s *store.Store, cam *camera.Coordinator, screens Screens, opts ...Option) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		store:   s,
		cam:     cam,
		screens: screens,
		now:     time.Now,
	}
	for _, o := range opts {
		o(srv)
	}
	srv.upgrader = websocket.Upgrader{CheckOrigin: srv.checkOrigin}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithBackendCamera serves the backend's own camera status at
// /api/camera/backend.
func WithBackendCamera(src CameraStatusSource) Option {
	return func(s *Server) { s.remoteCam = src }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// checkOrigin accepts same-host pages and the configured CORS origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.corsOrigin != "" && origin == s.corsOrigin {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

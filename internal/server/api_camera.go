package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"attendsync/internal/camera"
	"attendsync/internal/device"
	"attendsync/internal/store"
	"attendsync/internal/view"
)

type cameraRequest struct {
	RequesterID string `json:"requester_id"`
}

type cameraResponse struct {
	Ownership camera.Ownership `json:"ownership"`
	Warning   string           `json:"warning,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func (s *Server) handleCameraState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cameraResponse{Ownership: s.cam.CurrentState()})
}

func (s *Server) handleCameraAcquire(w http.ResponseWriter, r *http.Request) {
	s.cameraOp(w, r, s.cam.RequestOwnership)
}

func (s *Server) handleCameraRelease(w http.ResponseWriter, r *http.Request) {
	s.cameraOp(w, r, s.cam.ReleaseOwnership)
}

func (s *Server) handleCameraAck(w http.ResponseWriter, r *http.Request) {
	s.cameraOp(w, r, s.cam.Acknowledge)
}

type ownershipFunc func(ctx context.Context, requesterID string) (camera.Ownership, error)

func (s *Server) cameraOp(w http.ResponseWriter, r *http.Request, op ownershipFunc) {
	var req cameraRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	own, err := op(r.Context(), req.RequesterID)
	writeOwnership(w, own, err)
}

// writeOwnership maps coordinator results onto HTTP. A failed remote release
// is a warning: the camera is already idle.
func writeOwnership(w http.ResponseWriter, own camera.Ownership, err error) {
	resp := cameraResponse{Ownership: own}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, camera.ErrRemoteRelease):
		resp.Warning = err.Error()
		writeJSON(w, http.StatusOK, resp)
	default:
		resp.Error = err.Error()
		writeJSON(w, cameraStatus(err), resp)
	}
}

func cameraStatus(err error) int {
	switch {
	case errors.Is(err, camera.ErrInvalidRequester):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrDeviceBusy),
		errors.Is(err, camera.ErrNotHolder),
		errors.Is(err, device.ErrNotStreaming),
		errors.Is(err, view.ErrScreenClosed):
		return http.StatusConflict
	case errors.Is(err, device.ErrDeviceUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleBackendCamera(w http.ResponseWriter, r *http.Request) {
	st, err := s.remoteCam.CameraStatus(r.Context())
	if err != nil {
		writeError(w, backendStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCameraFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := s.cam.ReadFrame(r.Context(), r.URL.Query().Get("requester_id"))
	writeFrame(w, frame, err)
}

func writeFrame(w http.ResponseWriter, frame []byte, err error) {
	if err != nil {
		writeError(w, cameraStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.WriteHeader(http.StatusOK)
	w.Write(frame)
}

func (s *Server) handleCameraTransitions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", store.DefaultEventListLimit)
	list, err := s.store.ListCameraTransitions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

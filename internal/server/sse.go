package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleAttendanceSSE streams today's snapshot after every successful poll.
func (s *Server) handleAttendanceSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	feed := s.screens.Monitor.Feed()
	ch := feed.Subscribe()
	defer feed.Unsubscribe(ch)

	if data, err := json.Marshal(feed.Snapshot()); err == nil {
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(snapshot)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleSessionTokenSSE pushes each rotated scan token so the QR display
// never shows an expired one.
func (s *Server) handleSessionTokenSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	dash := s.screens.Dashboard

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := dash.SubscribeTokens()
	defer dash.UnsubscribeTokens(ch)

	if v, err := dash.Current(s.now()); err == nil && v.Token != nil {
		if data, err := json.Marshal(v.Token); err == nil {
			fmt.Fprintf(w, "event: token\ndata: %s\n\n", data)
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case tok, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(tok)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: token\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

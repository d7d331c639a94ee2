package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"attendsync/internal/notifier"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = wsPingPeriod + 10*time.Second
)

// verifiedMessage is pushed to the UI once per newly seen attendance entry.
type verifiedMessage struct {
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Time       string    `json:"time"`
	Message    string    `json:"message"`
	ObservedAt time.Time `json:"observed_at"`
}

func (s *Server) handleAttendanceWS(w http.ResponseWriter, r *http.Request) {
	changes := s.screens.Monitor.SubscribeChanges()
	defer s.screens.Monitor.UnsubscribeChanges(changes)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The reader only handles control frames and notices the client leaving.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case batch, ok := <-changes:
			if !ok {
				return
			}
			for _, e := range batch {
				msg := verifiedMessage{
					Type:       "verified",
					Name:       e.Item.Name,
					Status:     e.Item.Status,
					Time:       e.Item.Time,
					Message:    notifier.Verified(e.Item.Name, e.ObservedAt).Message,
					ObservedAt: e.ObservedAt,
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("ws: writing change event: %v", err)
					return
				}
			}
		}
	}
}

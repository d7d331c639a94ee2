// Package view holds one controller per screen. Each controller owns the
// pollers and timers its screen needs and talks to the camera only through
// the coordinator.
package view

import (
	"context"
	"errors"
	"log"
	"time"

	"attendsync/internal/camera"
	"attendsync/internal/models"
)

const (
	MonitorCameraID    = "monitor"
	EnrollmentCameraID = "enrollment"
)

var ErrScreenClosed = errors.New("screen is not open")

// Camera is the coordinator surface a screen uses.
type Camera interface {
	RequestOwnership(ctx context.Context, requesterID string) (camera.Ownership, error)
	ReleaseOwnership(ctx context.Context, requesterID string) (camera.Ownership, error)
	ReadFrame(ctx context.Context, requesterID string) ([]byte, error)
}

// EventLog persists change events.
type EventLog interface {
	InsertChangeEvents(ctx context.Context, events []models.ChangeEventRecord) error
}

type TransitionLog interface {
	InsertCameraTransition(ctx context.Context, tr models.CameraTransition) error
}

const auditTimeout = 2 * time.Second

// CameraAudit records every coordinator transition.
type CameraAudit struct {
	log TransitionLog
	now func() time.Time
}

func NewCameraAudit(l TransitionLog) *CameraAudit {
	return &CameraAudit{log: l, now: time.Now}
}

func (a *CameraAudit) CameraTransition(from, to camera.Ownership) {
	holder := to.HolderID
	if holder == "" {
		holder = from.HolderID
	}
	detail := to.Fault
	if detail == "" {
		detail = to.Warning
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	err := a.log.InsertCameraTransition(ctx, models.CameraTransition{
		FromState:  string(from.State),
		ToState:    string(to.State),
		HolderID:   holder,
		RequestID:  to.RequestID,
		Detail:     detail,
		OccurredAt: a.now(),
	})
	if err != nil {
		log.Printf("view: recording camera transition %s -> %s: %v", from, to, err)
	}
}

func saveEvents(ctx context.Context, l EventLog, records []models.ChangeEventRecord) {
	if l == nil || len(records) == 0 {
		return
	}
	if err := l.InsertChangeEvents(ctx, records); err != nil {
		log.Printf("view: saving %d change events: %v", len(records), err)
	}
}

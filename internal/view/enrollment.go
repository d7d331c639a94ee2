package view

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"attendsync/internal/camera"
	"attendsync/internal/models"
)

// EnrollmentFeed names enrollment records in the change-event log.
const EnrollmentFeed = "enrollment"

var ErrNameRequired = errors.New("student name is required")

// Enroller registers a face with the backend.
type Enroller interface {
	Enroll(ctx context.Context, name string, jpeg []byte) (models.EnrollResult, error)
}

// Enrollment is the face-registration screen. Opening it takes the camera,
// pre-empting the monitor through the coordinator's hand-off.
type Enrollment struct {
	cam      Camera
	students Enroller
	events   EventLog
	now      func() time.Time

	mu   sync.Mutex
	open bool
}

// NewEnrollment builds the screen. events may be nil.
func NewEnrollment(cam Camera, students Enroller, events EventLog) *Enrollment {
	return &Enrollment{cam: cam, students: students, events: events, now: time.Now}
}

// Open marks the screen open even when the camera cannot be acquired, so the
// caller can show the fault and retry.
func (e *Enrollment) Open(ctx context.Context) (camera.Ownership, error) {
	e.mu.Lock()
	e.open = true
	e.mu.Unlock()
	return e.cam.RequestOwnership(ctx, EnrollmentCameraID)
}

// Capture reads one frame for the registration photo.
func (e *Enrollment) Capture(ctx context.Context) ([]byte, error) {
	if !e.IsOpen() {
		return nil, ErrScreenClosed
	}
	return e.cam.ReadFrame(ctx, EnrollmentCameraID)
}

// Enroll captures the current frame and registers it under name.
func (e *Enrollment) Enroll(ctx context.Context, name string) (models.EnrollResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.EnrollResult{}, ErrNameRequired
	}
	frame, err := e.Capture(ctx)
	if err != nil {
		return models.EnrollResult{}, err
	}

	res, err := e.students.Enroll(ctx, name, frame)
	if err != nil {
		return models.EnrollResult{}, fmt.Errorf("enrolling %s: %w", name, err)
	}
	log.Printf("enrollment: registered %s as %s", name, res.StudentID)
	saveEvents(ctx, e.events, []models.ChangeEventRecord{{
		Feed:       EnrollmentFeed,
		ItemKey:    res.StudentID,
		Label:      name,
		ObservedAt: e.now(),
	}})
	return res, nil
}

func (e *Enrollment) Close(ctx context.Context) (camera.Ownership, error) {
	e.mu.Lock()
	e.open = false
	e.mu.Unlock()
	return e.cam.ReleaseOwnership(ctx, EnrollmentCameraID)
}

func (e *Enrollment) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

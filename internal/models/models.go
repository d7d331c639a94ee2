package models

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

// AttendanceLog is one row of the backend's daily attendance feed.
type AttendanceLog struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Key identifies a log entry across polls. The backend updates the time of an
// existing entry when a student is seen again, which yields a new key.
func (l AttendanceLog) Key() string {
	return l.Name + "|" + l.Time
}

// SessionRecord is one student marked present in a live session.
type SessionRecord struct {
	StudentName        string    `json:"student_name"`
	MarkedAt           time.Time `json:"marked_at"`
	LocationScore      string    `json:"location_score,omitempty"`
	VerificationMethod string    `json:"verification_method,omitempty"`
}

func (r SessionRecord) Key() string {
	return r.StudentName + "|" + r.MarkedAt.UTC().Format(time.RFC3339Nano)
}

type CreateSessionRequest struct {
	CourseName        string   `json:"course_name"`
	ProfessorName     string   `json:"professor_name"`
	DurationHours     float64  `json:"duration_hours"`
	ClassroomLocation string   `json:"classroom_location"`
	ClassroomLat      *float64 `json:"classroom_lat"`
	ClassroomLon      *float64 `json:"classroom_lon"`
	GeofenceRadius    int      `json:"geofence_radius"`
	AllowedWifiSSID   string   `json:"allowed_wifi_ssid"`
}

const DefaultGeofenceRadius = 50

func (r *CreateSessionRequest) Validate() error {
	r.CourseName = strings.TrimSpace(r.CourseName)
	r.ProfessorName = strings.TrimSpace(r.ProfessorName)
	if r.CourseName == "" {
		return fmt.Errorf("course_name is required")
	}
	if r.ProfessorName == "" {
		return fmt.Errorf("professor_name is required")
	}
	if r.DurationHours <= 0 {
		return fmt.Errorf("duration_hours must be positive")
	}
	if r.GeofenceRadius == 0 {
		r.GeofenceRadius = DefaultGeofenceRadius
	}
	if r.GeofenceRadius < 0 {
		return fmt.Errorf("geofence_radius must not be negative")
	}
	return nil
}

// Session is a live attendance session as created by the backend.
// OTP is the human-readable code students can type instead of scanning.
type Session struct {
	ID            string     `json:"session_id"`
	CourseName    string     `json:"course_name"`
	ProfessorName string     `json:"professor_name"`
	OTP           string     `json:"otp"`
	QRCodeURL     string     `json:"qr_code_url"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// Active reports whether the session is open and not past its expiry.
func (s *Session) Active(now time.Time) bool {
	return s.ClosedAt == nil && now.Before(s.ExpiresAt)
}

// QRToken is one rotation of a session's scan token.
type QRToken struct {
	Token    string        `json:"token,omitempty"`
	URL      string        `json:"qr_url"`
	IssuedAt time.Time     `json:"issued_at"`
	TTL      time.Duration `json:"-"`
}

// ChangeEventRecord is a persisted copy of a poller change event.
type ChangeEventRecord struct {
	ID         int64     `json:"id"`
	Feed       string    `json:"feed"`
	ItemKey    string    `json:"item_key"`
	Label      string    `json:"label"`
	ObservedAt time.Time `json:"observed_at"`
}

// CameraTransition is one audited coordinator state change.
type CameraTransition struct {
	ID         int64     `json:"id"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	HolderID   string    `json:"holder_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Student is one enrolled face in the backend's gallery.
type Student struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url"`
}

// PhotoName is the object name the photo endpoint expects. The backend
// stores either a bare name or a bucket-prefixed path.
func (s Student) PhotoName() string {
	if s.PhotoURL == "" {
		return ""
	}
	return path.Base(s.PhotoURL)
}

// EnrollResult is the backend's answer to a successful enrollment.
type EnrollResult struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Message   string `json:"message"`
}

// BackendCameraStatus is the backend's own view of its capture device.
type BackendCameraStatus struct {
	Active       bool `json:"active"`
	DeviceExists bool `json:"camera_object_exists"`
}

// Package backend is a typed client for the recognition backend's REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"attendsync/internal/httputil"
	"attendsync/internal/models"
)

// ErrTransient marks failures that the next scheduled attempt may resolve:
// network errors, timeouts, 429 and 5xx responses.
var ErrTransient = errors.New("transient backend failure")

// ErrRejected is returned when the backend answers 2xx with success=false.
var ErrRejected = errors.New("request rejected by backend")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	case models.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsTransient reports whether err is worth retrying on the next tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

// WithRateLimit bounds outbound requests. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL, err := httputil.NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: baseURL,
		http:    httputil.NewClient(),
		stream:  httputil.NewStreamClient(),
		limiter: rate.NewLimiter(10, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	data, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// send performs one request and returns the raw body of a 2xx response.
func (c *Client) send(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w: %w", ErrTransient, err)
	}
	defer httputil.DrainBody(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w: %w", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	return data, nil
}

// errorDetail extracts the "detail" message the backend puts in error bodies.
func errorDetail(body []byte) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && len(e.Detail) > 0 {
		var s string
		if json.Unmarshal(e.Detail, &s) == nil {
			return s
		}
		return httputil.Truncate(e.Detail, 200)
	}
	return httputil.Truncate(body, 200)
}

// ReleaseCamera asks the backend to free the physical camera. Best-effort.
func (c *Client) ReleaseCamera(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/camera/release", nil, nil)
}

// OpenVideoFeed starts the multipart JPEG stream. The caller must close the body.
func (c *Client) OpenVideoFeed(ctx context.Context) (io.ReadCloser, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limit: %w", err)
	}
	u := fmt.Sprintf("%s/camera/video_feed?t=%d", c.baseURL, time.Now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("connection failed: %w: %w", ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		httputil.DrainBody(resp)
		return nil, "", &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// CameraStatus reports whether the backend's capture loop is running.
func (c *Client) CameraStatus(ctx context.Context) (models.BackendCameraStatus, error) {
	var st models.BackendCameraStatus
	if err := c.do(ctx, http.MethodGet, "/camera/status", nil, &st); err != nil {
		return models.BackendCameraStatus{}, err
	}
	return st, nil
}

// TodayAttendance returns today's attendance log, newest first.
func (c *Client) TodayAttendance(ctx context.Context) ([]models.AttendanceLog, error) {
	var logs []models.AttendanceLog
	if err := c.do(ctx, http.MethodGet, "/attendance/today", nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

type qrTokenResponse struct {
	Token       string   `json:"token"`
	QRURL       string   `json:"qr_url"`
	IssuedAt    FlexTime `json:"issued_at"`
	GeneratedAt FlexTime `json:"generated_at"`
	TTL         *int     `json:"ttl"`
	ExpiresIn   *int     `json:"expires_in"`
}

// QRToken fetches the session's current rotating token.
func (c *Client) QRToken(ctx context.Context, sessionID string) (models.QRToken, error) {
	var r qrTokenResponse
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/qr-token", nil, &r); err != nil {
		return models.QRToken{}, err
	}
	if r.QRURL == "" {
		return models.QRToken{}, fmt.Errorf("decoding response: missing qr_url")
	}

	tok := models.QRToken{Token: r.Token, URL: r.QRURL, IssuedAt: r.IssuedAt.Time}
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = r.GeneratedAt.Time
	}
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = time.Now()
	}
	switch {
	case r.TTL != nil:
		tok.TTL = time.Duration(*r.TTL) * time.Second
	case r.ExpiresIn != nil:
		tok.TTL = time.Duration(*r.ExpiresIn) * time.Second
	}
	return tok, nil
}

type sessionRecordWire struct {
	StudentName        string          `json:"student_name"`
	MarkedAt           FlexTime        `json:"marked_at"`
	LocationScore      json.RawMessage `json:"location_score"`
	VerificationMethod *string         `json:"verification_method"`
}

type sessionDetailsResponse struct {
	AttendanceRecords []sessionRecordWire `json:"attendance_records"`
}

// SessionDetails returns the students marked in a session, newest first.
func (c *Client) SessionDetails(ctx context.Context, sessionID string) ([]models.SessionRecord, error) {
	var r sessionDetailsResponse
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/details", nil, &r); err != nil {
		return nil, err
	}
	records := make([]models.SessionRecord, 0, len(r.AttendanceRecords))
	for _, w := range r.AttendanceRecords {
		rec := models.SessionRecord{
			StudentName:   w.StudentName,
			MarkedAt:      w.MarkedAt.Time,
			LocationScore: rawScalar(w.LocationScore),
		}
		if w.VerificationMethod != nil {
			rec.VerificationMethod = *w.VerificationMethod
		}
		records = append(records, rec)
	}
	return records, nil
}

// rawScalar renders a JSON string or number as text; null becomes "".
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

type sessionResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	SessionID string   `json:"session_id"`
	OTP       string   `json:"otp"`
	QRCodeURL string   `json:"qr_code_url"`
	ExpiresAt FlexTime `json:"expires_at"`
}

// CreateSession opens a new attendance session.
func (c *Client) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	var r sessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/create", req, &r); err != nil {
		return nil, err
	}
	if !r.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, r.Message)
	}
	if r.SessionID == "" || r.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("decoding response: missing session fields")
	}
	return &models.Session{
		ID:            r.SessionID,
		CourseName:    req.CourseName,
		ProfessorName: req.ProfessorName,
		OTP:           r.OTP,
		QRCodeURL:     r.QRCodeURL,
		ExpiresAt:     r.ExpiresAt.Time,
		CreatedAt:     time.Now(),
	}, nil
}

// CloseSession ends a session before its expiry.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	var r sessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/close", nil, &r); err != nil {
		return err
	}
	if !r.Success {
		return fmt.Errorf("%w: %s", ErrRejected, r.Message)
	}
	return nil
}

// Students lists the enrolled gallery, ordered by name.
func (c *Client) Students(ctx context.Context) ([]models.Student, error) {
	students := []models.Student{}
	if err := c.do(ctx, http.MethodGet, "/students", nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

type enrollRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type enrollResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	StudentID string `json:"student_id"`
}

// Enroll registers a face. The backend expects the JPEG as a data URL and
// answers success=false when it cannot find a face in it.
func (c *Client) Enroll(ctx context.Context, name string, jpeg []byte) (models.EnrollResult, error) {
	req := enrollRequest{
		Name:  name,
		Image: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
	}
	var r enrollResponse
	if err := c.do(ctx, http.MethodPost, "/students/enroll", req, &r); err != nil {
		return models.EnrollResult{}, err
	}
	if !r.Success {
		return models.EnrollResult{}, fmt.Errorf("%w: %s", ErrRejected, r.Message)
	}
	return models.EnrollResult{StudentID: r.StudentID, Name: name, Message: r.Message}, nil
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DeleteStudent removes a student and their photo.
func (c *Client) DeleteStudent(ctx context.Context, studentID string) error {
	var r deleteResponse
	if err := c.do(ctx, http.MethodDelete, "/students/"+url.PathEscape(studentID), nil, &r); err != nil {
		return err
	}
	if r.Success {
		return nil
	}
	if strings.Contains(strings.ToLower(r.Message), "not found") {
		return fmt.Errorf("student %s: %w", studentID, models.ErrNotFound)
	}
	return fmt.Errorf("%w: %s", ErrRejected, r.Message)
}

// StudentPhoto fetches the stored JPEG for a gallery entry.
func (c *Client) StudentPhoto(ctx context.Context, photoName string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, "/students/photo/"+url.PathEscape(photoName), nil)
}

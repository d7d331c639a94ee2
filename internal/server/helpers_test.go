package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"attendsync/internal/backend"
	"attendsync/internal/camera"
	"attendsync/internal/device"
	"attendsync/internal/models"
	"attendsync/internal/store"
	"attendsync/internal/view"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeDevice struct {
	mu         sync.Mutex
	acquireErr error
}

func (d *fakeDevice) setAcquireErr(err error) {
	d.mu.Lock()
	d.acquireErr = err
	d.mu.Unlock()
}

func (d *fakeDevice) Acquire(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquireErr
}

func (d *fakeDevice) Release(context.Context) error { return nil }

func (d *fakeDevice) ReadFrame(context.Context) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

type fakeReleaser struct {
	mu  sync.Mutex
	err error
}

func (r *fakeReleaser) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *fakeReleaser) ReleaseCamera(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

type fakeToday struct {
	mu    sync.Mutex
	items []models.AttendanceLog
}

func (f *fakeToday) set(items ...models.AttendanceLog) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}

func (f *fakeToday) TodayAttendance(context.Context) ([]models.AttendanceLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AttendanceLog(nil), f.items...), nil
}

type fakeSessions struct{}

func (fakeSessions) CreateSession(_ context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	return &models.Session{
		ID: "s1", CourseName: req.CourseName, ProfessorName: req.ProfessorName, OTP: "482913",
		ExpiresAt: testNow.Add(90 * time.Minute), CreatedAt: testNow,
	}, nil
}

func (fakeSessions) CloseSession(context.Context, string) error { return nil }

func (fakeSessions) QRToken(_ context.Context, id string) (models.QRToken, error) {
	return models.QRToken{Token: "tok", URL: "https://attend.example/" + id, IssuedAt: testNow, TTL: time.Minute}, nil
}

func (fakeSessions) SessionDetails(context.Context, string) ([]models.SessionRecord, error) {
	return nil, nil
}

type testEnv struct {
	srv      *Server
	store    *store.Store
	cam      *camera.Coordinator
	dev      *fakeDevice
	releaser *fakeReleaser
	today    *fakeToday
	students *fakeStudents
}

func newTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	_, f, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(f), "..", "..", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations dir: %v", err)
	}
	if err := s.Migrate(dir); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	env := &testEnv{
		store: s, dev: &fakeDevice{}, releaser: &fakeReleaser{}, today: &fakeToday{},
		students: &fakeStudents{list: []models.Student{{ID: "u1", Name: "Ada", PhotoURL: "student-photos/u1.jpg"}}},
	}
	env.cam = camera.New(env.dev, env.releaser, camera.WithSettleDelay(0), camera.WithObserver(view.NewCameraAudit(s)))

	mon := view.NewMonitor(env.today, env.cam, view.MonitorOptions{Interval: 10 * time.Millisecond, Events: s})
	dash := view.NewDashboard(fakeSessions{}, s, view.DashboardOptions{
		TokenRefresh: time.Hour, DetailsInterval: time.Hour, Now: func() time.Time { return testNow },
	})
	t.Cleanup(func() {
		mon.Close(context.Background())
		dash.Shutdown()
	})

	env.srv = NewServer(s, env.cam, Screens{
		Monitor:    mon,
		Enrollment: view.NewEnrollment(env.cam, env.students, s),
		Dashboard:  dash,
		Gallery:    view.NewGallery(env.students),
	}, opts...)
	env.srv.now = func() time.Time { return testNow }
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

var errRemoteDown = errors.New("connection refused")

type fakeStudents struct {
	mu        sync.Mutex
	list      []models.Student
	enrollErr error
}

func (f *fakeStudents) Enroll(_ context.Context, name string, _ []byte) (models.EnrollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enrollErr != nil {
		return models.EnrollResult{}, f.enrollErr
	}
	id := "u" + strconv.Itoa(len(f.list)+1)
	f.list = append(f.list, models.Student{ID: id, Name: name, PhotoURL: "student-photos/" + id + ".jpg"})
	return models.EnrollResult{StudentID: id, Name: name, Message: "Registered " + name + "!"}, nil
}

func (f *fakeStudents) Students(context.Context) ([]models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Student(nil), f.list...), nil
}

func (f *fakeStudents) DeleteStudent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, st := range f.list {
		if st.ID == id {
			f.list = append(f.list[:i], f.list[i+1:]...)
			return nil
		}
	}
	return &backend.StatusError{StatusCode: http.StatusNotFound, Detail: "Student not found"}
}

func (f *fakeStudents) StudentPhoto(_ context.Context, name string) ([]byte, error) {
	if name != "u1.jpg" {
		return nil, &backend.StatusError{StatusCode: http.StatusNotFound}
	}
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

type fakeBackendCamera struct {
	status models.BackendCameraStatus
	err    error
}

func (f fakeBackendCamera) CameraStatus(context.Context) (models.BackendCameraStatus, error) {
	return f.status, f.err
}

var _ device.Device = (*fakeDevice)(nil)

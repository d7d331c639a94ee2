package view

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"attendsync/internal/camera"
	"attendsync/internal/models"
	"attendsync/internal/notifier"
	"attendsync/internal/store"
)

func migrationsDir() string {
	_, f, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(f), "..", "..", "migrations")
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	dir := migrationsDir()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations dir not found: %v", err)
	}
	if err := s.Migrate(dir); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return s
}

type fakeDevice struct {
	mu   sync.Mutex
	open bool
}

func (d *fakeDevice) Acquire(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *fakeDevice) Release(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

func (d *fakeDevice) ReadFrame(context.Context) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

type fakeReleaser struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeReleaser) ReleaseCamera(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *fakeReleaser) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestCoordinator(t *testing.T, opts ...camera.Option) (*camera.Coordinator, *fakeReleaser) {
	t.Helper()
	rel := &fakeReleaser{}
	opts = append([]camera.Option{camera.WithSettleDelay(0)}, opts...)
	return camera.New(&fakeDevice{}, rel, opts...), rel
}

type todayFeed struct {
	mu    sync.Mutex
	items []models.AttendanceLog
	calls int
}

func (f *todayFeed) set(items ...models.AttendanceLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

func (f *todayFeed) TodayAttendance(context.Context) ([]models.AttendanceLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]models.AttendanceLog(nil), f.items...), nil
}

func (f *todayFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type announcements struct {
	mu   sync.Mutex
	msgs []string
}

func (a *announcements) Notify(_ context.Context, ann notifier.Announcement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, ann.Message)
	return nil
}

func (a *announcements) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.msgs...)
}

type fakeStudents struct {
	mu        sync.Mutex
	enrolled  map[string][]byte
	enrollErr error
	list      []models.Student
	deleted   []string
}

func (f *fakeStudents) Enroll(_ context.Context, name string, jpeg []byte) (models.EnrollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enrollErr != nil {
		return models.EnrollResult{}, f.enrollErr
	}
	if f.enrolled == nil {
		f.enrolled = make(map[string][]byte)
	}
	f.enrolled[name] = jpeg
	return models.EnrollResult{StudentID: "u-" + name, Name: name, Message: "Registered " + name + "!"}, nil
}

func (f *fakeStudents) Students(context.Context) ([]models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list, nil
}

func (f *fakeStudents) DeleteStudent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.list {
		if s.ID == id {
			f.list = append(f.list[:i], f.list[i+1:]...)
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeStudents) StudentPhoto(_ context.Context, name string) ([]byte, error) {
	return []byte("photo:" + name), nil
}

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendsync/internal/camera"
)

func TestObservePoll(t *testing.T) {
	m := New()

	m.ObservePoll("today", 0, nil)
	m.ObservePoll("today", 2, nil)
	m.ObservePoll("today", 0, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.polls.WithLabelValues("today", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("today", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pollNewItems.WithLabelValues("today")))
}

func TestObserveRefresh(t *testing.T) {
	m := New()
	m.ObserveRefresh("s1", nil)
	m.ObserveRefresh("s1", errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("error")))
}

func TestCameraTransition(t *testing.T) {
	m := New()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cameraState.WithLabelValues("idle")))

	m.CameraTransition(camera.Ownership{State: camera.StateIdle}, camera.Ownership{State: camera.StateAcquiring, HolderID: "monitor"})
	m.CameraTransition(camera.Ownership{State: camera.StateAcquiring}, camera.Ownership{State: camera.StateStreaming, HolderID: "monitor"})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.cameraState.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cameraState.WithLabelValues("streaming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("idle", "acquiring")))

	m.CameraTransition(camera.Ownership{State: camera.StateReleasing}, camera.Ownership{State: camera.StateIdle, Warning: "remote release failed"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releaseWarns))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveAnnouncement(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `attendsync_announcements_total{result="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveAnnouncement(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.announcements.WithLabelValues("ok")))
}

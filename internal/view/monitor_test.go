package view

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendsync/internal/camera"
	"attendsync/internal/models"
)

const testInterval = 10 * time.Millisecond

func TestMonitorAnnouncesNewEntriesOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	feed := &todayFeed{}
	feed.set(models.AttendanceLog{Name: "Ada", Status: "Present", Time: "09:00:00"})
	ann := &announcements{}
	cam, _ := newTestCoordinator(t)

	m := NewMonitor(feed, cam, MonitorOptions{Interval: testInterval, Announcer: ann, Events: st})
	changes := m.SubscribeChanges()
	m.Open(ctx)
	t.Cleanup(func() { m.Close(ctx) })

	require.Eventually(t, func() bool { return m.Snapshot().Count == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, ann.list(), "baseline must not announce")

	feed.set(
		models.AttendanceLog{Name: "Linus", Status: "Present", Time: "09:05:00"},
		models.AttendanceLog{Name: "Ada", Status: "Present", Time: "09:00:00"},
	)

	select {
	case batch := <-changes:
		require.Len(t, batch, 1)
		assert.Equal(t, "Linus", batch[0].Item.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no change batch delivered")
	}

	require.Eventually(t, func() bool { return len(ann.list()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Verified: Linus"}, ann.list())

	calls := feed.callCount()
	require.Eventually(t, func() bool { return feed.callCount() >= calls+3 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, ann.list(), 1, "unchanged feed must not re-announce")

	events, err := st.ListChangeEvents(ctx, TodayFeed, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Linus|09:05:00", events[0].ItemKey)
}

func TestMonitorReopenStartsFreshBaseline(t *testing.T) {
	ctx := context.Background()
	feed := &todayFeed{}
	feed.set(models.AttendanceLog{Name: "Ada", Time: "09:00:00"})
	ann := &announcements{}
	cam, _ := newTestCoordinator(t)

	m := NewMonitor(feed, cam, MonitorOptions{Interval: testInterval, Announcer: ann})
	m.Open(ctx)
	require.Eventually(t, func() bool { return m.Snapshot().Count == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err := m.Close(ctx)
	require.NoError(t, err)
	<-m.Feed().Done()

	feed.set(
		models.AttendanceLog{Name: "Linus", Time: "09:05:00"},
		models.AttendanceLog{Name: "Ada", Time: "09:00:00"},
	)
	m.Open(ctx)
	t.Cleanup(func() { m.Close(ctx) })
	require.Eventually(t, func() bool { return m.Snapshot().Count == 2 }, 2*time.Second, 5*time.Millisecond)

	calls := feed.callCount()
	require.Eventually(t, func() bool { return feed.callCount() >= calls+2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, ann.list())
}

func TestMonitorCameraRequiresOpenScreen(t *testing.T) {
	ctx := context.Background()
	cam, _ := newTestCoordinator(t)
	m := NewMonitor(&todayFeed{}, cam, MonitorOptions{Interval: time.Hour})

	_, err := m.StartCamera(ctx)
	assert.ErrorIs(t, err, ErrScreenClosed)
	_, err = m.Frame(ctx)
	assert.ErrorIs(t, err, ErrScreenClosed)
}

func TestMonitorCloseReleasesCamera(t *testing.T) {
	ctx := context.Background()
	cam, rel := newTestCoordinator(t)
	m := NewMonitor(&todayFeed{}, cam, MonitorOptions{Interval: time.Hour})
	m.Open(ctx)

	own, err := m.StartCamera(ctx)
	require.NoError(t, err)
	assert.Equal(t, camera.StateStreaming, own.State)

	frame, err := m.Frame(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, frame)

	own, err = m.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, camera.StateIdle, own.State)
	assert.Equal(t, 1, rel.count())
}

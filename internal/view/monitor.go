package view

import (
	"context"
	"log"
	"sync"
	"time"

	"attendsync/internal/camera"
	"attendsync/internal/models"
	"attendsync/internal/notifier"
	"attendsync/internal/poller"
)

const (
	DefaultMonitorInterval = 5 * time.Second
	TodayFeed              = "today"

	announceTimeout = 10 * time.Second
)

type TodayFetcher interface {
	TodayAttendance(ctx context.Context) ([]models.AttendanceLog, error)
}

type Announcer interface {
	Notify(ctx context.Context, a notifier.Announcement) error
}

type AnnouncementObserver interface {
	ObserveAnnouncement(err error)
}

type MonitorOptions struct {
	Interval         time.Duration
	Announcer        Announcer
	Events           EventLog
	PollObserver     poller.Observer
	AnnounceObserver AnnouncementObserver
}

// Monitor is the live attendance screen: today's feed plus the camera
// preview while the screen is open.
type Monitor struct {
	cam       Camera
	feed      *poller.Poller[models.AttendanceLog]
	announcer Announcer
	events    EventLog
	annObs    AnnouncementObserver

	mu   sync.Mutex
	open bool
	ctx  context.Context

	subMu       sync.Mutex
	subscribers map[chan []poller.ChangeEvent[models.AttendanceLog]]struct{}
}

func NewMonitor(src TodayFetcher, cam Camera, opts MonitorOptions) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMonitorInterval
	}
	m := &Monitor{
		cam:         cam,
		announcer:   opts.Announcer,
		events:      opts.Events,
		annObs:      opts.AnnounceObserver,
		ctx:         context.Background(),
		subscribers: make(map[chan []poller.ChangeEvent[models.AttendanceLog]]struct{}),
	}
	pollOpts := []poller.Option[models.AttendanceLog]{
		poller.WithNewestFirst[models.AttendanceLog](),
		poller.WithKey(models.AttendanceLog.Key),
		poller.WithOnNewItems(m.onNewItems),
	}
	if opts.PollObserver != nil {
		pollOpts = append(pollOpts, poller.WithObserver[models.AttendanceLog](opts.PollObserver))
	}
	m.feed = poller.New(TodayFeed, src.TodayAttendance, opts.Interval, pollOpts...)
	return m
}

// Open starts polling. Reopening starts from a fresh baseline so entries
// seen on a previous visit are not announced again as new.
func (m *Monitor) Open(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return
	}
	m.open = true
	m.ctx = context.WithoutCancel(ctx)
	m.feed.Reset()
	m.feed.Start(m.ctx)
}

// Close stops polling and gives the camera back if the monitor holds it.
func (m *Monitor) Close(ctx context.Context) (camera.Ownership, error) {
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()

	m.feed.Stop()
	return m.cam.ReleaseOwnership(ctx, MonitorCameraID)
}

func (m *Monitor) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Monitor) StartCamera(ctx context.Context) (camera.Ownership, error) {
	if !m.IsOpen() {
		return camera.Ownership{}, ErrScreenClosed
	}
	return m.cam.RequestOwnership(ctx, MonitorCameraID)
}

func (m *Monitor) StopCamera(ctx context.Context) (camera.Ownership, error) {
	return m.cam.ReleaseOwnership(ctx, MonitorCameraID)
}

func (m *Monitor) Frame(ctx context.Context) ([]byte, error) {
	if !m.IsOpen() {
		return nil, ErrScreenClosed
	}
	return m.cam.ReadFrame(ctx, MonitorCameraID)
}

func (m *Monitor) Snapshot() poller.Snapshot[models.AttendanceLog] {
	return m.feed.Snapshot()
}

// Feed exposes the underlying poller for snapshot subscriptions.
func (m *Monitor) Feed() *poller.Poller[models.AttendanceLog] {
	return m.feed
}

// SubscribeChanges delivers each batch of new entries. Slow subscribers miss
// batches rather than stall the poller.
func (m *Monitor) SubscribeChanges() chan []poller.ChangeEvent[models.AttendanceLog] {
	ch := make(chan []poller.ChangeEvent[models.AttendanceLog], 8)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

func (m *Monitor) UnsubscribeChanges(ch chan []poller.ChangeEvent[models.AttendanceLog]) {
	m.subMu.Lock()
	_, ok := m.subscribers[ch]
	delete(m.subscribers, ch)
	m.subMu.Unlock()
	if ok {
		close(ch)
	}
}

func (m *Monitor) onNewItems(events []poller.ChangeEvent[models.AttendanceLog]) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	records := make([]models.ChangeEventRecord, 0, len(events))
	for _, e := range events {
		records = append(records, models.ChangeEventRecord{
			Feed:       TodayFeed,
			ItemKey:    e.Item.Key(),
			Label:      e.Item.Name,
			ObservedAt: e.ObservedAt,
		})
	}
	saveEvents(ctx, m.events, records)

	m.subMu.Lock()
	for ch := range m.subscribers {
		select {
		case ch <- events:
		default:
		}
	}
	m.subMu.Unlock()

	if m.announcer == nil {
		return
	}
	for _, e := range events {
		actx, cancel := context.WithTimeout(ctx, announceTimeout)
		err := m.announcer.Notify(actx, notifier.Verified(e.Item.Name, e.ObservedAt))
		cancel()
		if err != nil {
			log.Printf("monitor: announcing %s: %v", e.Item.Name, err)
		}
		if m.annObs != nil {
			m.annObs.ObserveAnnouncement(err)
		}
	}
}

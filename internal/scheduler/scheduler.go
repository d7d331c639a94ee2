// Package scheduler runs the nightly retention pass over the local database.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	DefaultRetention  = 30 * 24 * time.Hour
	DefaultRunHour    = 3
	DefaultRunTimeout = 2 * time.Minute
)

// Pruner is the subset of the store the retention pass needs.
type Pruner interface {
	CloseExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	DeleteChangeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteCameraTransitionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result summarizes one retention pass.
type Result struct {
	SessionsClosed     int64
	EventsDeleted      int64
	TransitionsDeleted int64
}

type Scheduler struct {
	store      Pruner
	retention  time.Duration
	runHour    int
	runTimeout time.Duration
	now        func() time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Scheduler)

func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) { s.retention = d }
}

// WithRunHour sets the local hour (0-23) of the daily run.
func WithRunHour(h int) Option {
	return func(s *Scheduler) {
		if h >= 0 && h < 24 {
			s.runHour = h
		}
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.runTimeout = d }
}

func New(p Pruner, opts ...Option) *Scheduler {
	sch := &Scheduler{
		store:      p,
		retention:  DefaultRetention,
		runHour:    DefaultRunHour,
		runTimeout: DefaultRunTimeout,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// Start runs a pass immediately, then daily at the configured local hour.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.startOnce.Do(func() {
		ctx, sch.cancel = context.WithCancel(ctx)
		go sch.run(ctx)
	})
}

func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
		<-sch.done
	}
}

func (sch *Scheduler) run(ctx context.Context) {
	defer close(sch.done)

	if _, err := sch.RunOnce(ctx); err != nil {
		log.Printf("scheduler: initial retention pass failed: %v", err)
	}

	timer := time.NewTimer(durationUntilHour(sch.now(), sch.runHour))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := sch.RunOnce(ctx); err != nil {
				log.Printf("scheduler: daily retention pass failed: %v", err)
			}
			// Recalculate to handle DST transitions
			timer.Reset(durationUntilHour(sch.now(), sch.runHour))
		}
	}
}

// RunOnce closes expired sessions and prunes rows older than the retention
// window. It stops at the first error.
func (sch *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, sch.runTimeout)
	defer cancel()

	now := sch.now()
	cutoff := now.Add(-sch.retention)
	var res Result
	var err error

	if res.SessionsClosed, err = sch.store.CloseExpiredSessions(ctx, now); err != nil {
		return res, err
	}
	if res.EventsDeleted, err = sch.store.DeleteChangeEventsBefore(ctx, cutoff); err != nil {
		return res, err
	}
	if res.TransitionsDeleted, err = sch.store.DeleteCameraTransitionsBefore(ctx, cutoff); err != nil {
		return res, err
	}

	if res != (Result{}) {
		log.Printf("scheduler: closed %d expired sessions, pruned %d events and %d camera transitions",
			res.SessionsClosed, res.EventsDeleted, res.TransitionsDeleted)
	}
	return res, nil
}

// durationUntilHour uses now's location so the job runs at the given hour in
// the host's timezone.
func durationUntilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

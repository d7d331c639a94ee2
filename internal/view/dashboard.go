package view

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"attendsync/internal/models"
	"attendsync/internal/poller"
	"attendsync/internal/rotator"
)

const DefaultDetailsInterval = 5 * time.Second

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionActive   = errors.New("a session is already active")
	// ErrSessionPending is returned while another create or close is
	// waiting on the backend.
	ErrSessionPending = errors.New("a session change is already in progress")
)

type SessionBackend interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	CloseSession(ctx context.Context, sessionID string) error
	QRToken(ctx context.Context, sessionID string) (models.QRToken, error)
	SessionDetails(ctx context.Context, sessionID string) ([]models.SessionRecord, error)
}

type SessionStore interface {
	SaveSession(ctx context.Context, s *models.Session) error
	ActiveSession(ctx context.Context, now time.Time) (*models.Session, error)
	CloseSession(ctx context.Context, id string, at time.Time) error
}

type DashboardOptions struct {
	TokenRefresh    time.Duration
	DetailsInterval time.Duration
	Events          EventLog
	PollObserver    poller.Observer
	RotatorObserver rotator.Observer
	Now             func() time.Time
}

// SessionView is everything the session dashboard renders.
type SessionView struct {
	Session          *models.Session        `json:"session"`
	Token            *rotator.SessionToken  `json:"token,omitempty"`
	Remaining        rotator.Remaining      `json:"remaining"`
	RemainingDisplay string                 `json:"remaining_display"`
	Records          []models.SessionRecord `json:"records"`
	RecordsFetchedAt time.Time              `json:"records_fetched_at"`
}

// Dashboard is the professor's live-session screen. At most one session is
// active at a time.
type Dashboard struct {
	backend SessionBackend
	store   SessionStore
	opts    DashboardOptions
	rot     *rotator.Rotator

	mu       sync.Mutex
	active   *liveSession
	pending  bool
	shutdown bool

	subMu       sync.Mutex
	subscribers map[chan rotator.SessionToken]struct{}
}

type liveSession struct {
	session *models.Session
	clock   *rotator.SessionClock
	details *poller.Poller[models.SessionRecord]
	cancel  context.CancelFunc
}

func NewDashboard(backend SessionBackend, store SessionStore, opts DashboardOptions) *Dashboard {
	if opts.TokenRefresh <= 0 {
		opts.TokenRefresh = rotator.DefaultRefreshInterval
	}
	if opts.DetailsInterval <= 0 {
		opts.DetailsInterval = DefaultDetailsInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Dashboard{
		backend:     backend,
		store:       store,
		opts:        opts,
		subscribers: make(map[chan rotator.SessionToken]struct{}),
	}
	rotOpts := []rotator.Option{rotator.WithNow(opts.Now), rotator.WithOnRefresh(d.publishToken)}
	if opts.RotatorObserver != nil {
		rotOpts = append(rotOpts, rotator.WithObserver(opts.RotatorObserver))
	}
	d.rot = rotator.New(rotOpts...)
	return d
}

// Create opens a session on the backend, persists it and starts the token
// rotation and attendance polling for it. The backend call runs without the
// dashboard lock so Current keeps answering meanwhile.
func (d *Dashboard) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := d.beginChange(func() error {
		if d.active != nil {
			return ErrSessionActive
		}
		return nil
	}); err != nil {
		return nil, err
	}

	sess, err := d.backend.CreateSession(ctx, req)
	if err != nil {
		d.endChange()
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = d.opts.Now()
	}
	if err := d.store.SaveSession(ctx, sess); err != nil {
		log.Printf("dashboard: persisting session %s: %v", sess.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = false
	if d.shutdown {
		// Saved above, so the next run resumes it.
		return sess, nil
	}
	if err := d.startLocked(ctx, sess); err != nil {
		return nil, err
	}
	log.Printf("dashboard: session %s started for %q, expires %s", sess.ID, sess.CourseName, sess.ExpiresAt.Format(time.RFC3339))
	return sess, nil
}

// Resume picks up an unexpired, unclosed session left by a previous run.
// It reports whether a session was resumed.
func (d *Dashboard) Resume(ctx context.Context) (bool, error) {
	sess, err := d.store.ActiveSession(ctx, d.opts.Now())
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading active session: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil || d.pending {
		return false, ErrSessionActive
	}
	if err := d.startLocked(ctx, sess); err != nil {
		return false, err
	}
	log.Printf("dashboard: resumed session %s", sess.ID)
	return true, nil
}

func (d *Dashboard) startLocked(ctx context.Context, sess *models.Session) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	refresh := func(ctx context.Context, sessionID string) (rotator.SessionToken, error) {
		tok, err := d.backend.QRToken(ctx, sessionID)
		if err != nil {
			return rotator.SessionToken{}, err
		}
		return rotator.SessionToken{
			Value:    tok.Token,
			Code:     sess.OTP,
			URL:      tok.URL,
			IssuedAt: tok.IssuedAt,
			TTL:      tok.TTL,
		}, nil
	}
	if err := d.rot.Start(loopCtx, sess.ID, refresh, d.opts.TokenRefresh); err != nil {
		cancel()
		return err
	}

	feed := "session:" + sess.ID
	pollOpts := []poller.Option[models.SessionRecord]{
		poller.WithNewestFirst[models.SessionRecord](),
		poller.WithKey(models.SessionRecord.Key),
		poller.WithOnNewItems(func(events []poller.ChangeEvent[models.SessionRecord]) {
			records := make([]models.ChangeEventRecord, 0, len(events))
			for _, e := range events {
				records = append(records, models.ChangeEventRecord{
					Feed: feed, ItemKey: e.Item.Key(), Label: e.Item.StudentName, ObservedAt: e.ObservedAt,
				})
			}
			saveEvents(loopCtx, d.opts.Events, records)
		}),
	}
	if d.opts.PollObserver != nil {
		pollOpts = append(pollOpts, poller.WithObserver[models.SessionRecord](d.opts.PollObserver))
	}
	details := poller.New(feed, func(ctx context.Context) ([]models.SessionRecord, error) {
		return d.backend.SessionDetails(ctx, sess.ID)
	}, d.opts.DetailsInterval, pollOpts...)
	details.Start(loopCtx)

	d.active = &liveSession{
		session: sess,
		clock:   rotator.NewSessionClock(sess.ExpiresAt),
		details: details,
		cancel:  cancel,
	}
	return nil
}

// Close ends the active session on the backend and locally. A session the
// backend already considers closed is closed locally too.
func (d *Dashboard) Close(ctx context.Context) (*models.Session, error) {
	var live *liveSession
	if err := d.beginChange(func() error {
		live = d.active
		if live == nil {
			return ErrNoActiveSession
		}
		return nil
	}); err != nil {
		return nil, err
	}

	id := live.session.ID
	if err := d.backend.CloseSession(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		d.endChange()
		return nil, fmt.Errorf("closing session %s: %w", id, err)
	}
	d.mu.Lock()
	d.pending = false
	if d.active == live {
		d.stopLocked()
	}
	d.mu.Unlock()

	at := d.opts.Now()
	if err := d.store.CloseSession(ctx, id, at); err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Printf("dashboard: marking session %s closed: %v", id, err)
	}
	closed := *live.session
	closed.ClosedAt = &at
	log.Printf("dashboard: session %s closed", id)
	return &closed, nil
}

// beginChange claims the single in-flight slot for a backend create or
// close after check passes under the lock.
func (d *Dashboard) beginChange(check func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		return ErrSessionPending
	}
	if err := check(); err != nil {
		return err
	}
	d.pending = true
	return nil
}

func (d *Dashboard) endChange() {
	d.mu.Lock()
	d.pending = false
	d.mu.Unlock()
}

// Shutdown stops background work but leaves the session open so the next
// run can resume it.
func (d *Dashboard) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdown = true
	if d.active != nil {
		d.stopLocked()
	}
}

func (d *Dashboard) stopLocked() {
	live := d.active
	d.rot.Stop()
	live.details.Stop()
	live.clock.Close()
	live.cancel()
	d.active = nil
}

// Current renders the active session at now.
func (d *Dashboard) Current(now time.Time) (SessionView, error) {
	d.mu.Lock()
	live := d.active
	d.mu.Unlock()
	if live == nil {
		return SessionView{}, ErrNoActiveSession
	}

	snap := live.details.Snapshot()
	remaining := live.clock.Remaining(now)
	v := SessionView{
		Session:          live.session,
		Remaining:        remaining,
		RemainingDisplay: remaining.String(),
		Records:          snap.Items,
		RecordsFetchedAt: snap.FetchedAt,
	}
	if v.Records == nil {
		v.Records = []models.SessionRecord{}
	}
	if tok, ok := d.rot.Current(); ok {
		v.Token = &tok
	}
	return v, nil
}

// SubscribeTokens delivers every freshly rotated token. Slow subscribers
// miss tokens rather than stall the rotator.
func (d *Dashboard) SubscribeTokens() chan rotator.SessionToken {
	ch := make(chan rotator.SessionToken, 4)
	d.subMu.Lock()
	d.subscribers[ch] = struct{}{}
	d.subMu.Unlock()
	return ch
}

func (d *Dashboard) UnsubscribeTokens(ch chan rotator.SessionToken) {
	d.subMu.Lock()
	_, ok := d.subscribers[ch]
	delete(d.subscribers, ch)
	d.subMu.Unlock()
	if ok {
		close(ch)
	}
}

func (d *Dashboard) publishToken(tok rotator.SessionToken) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subscribers {
		select {
		case ch <- tok:
		default:
		}
	}
}

func (d *Dashboard) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil
}

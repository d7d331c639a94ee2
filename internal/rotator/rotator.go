// Package rotator keeps a session's short-lived scan token fresh and exposes
// the countdown helpers the dashboard renders.
package rotator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

const DefaultRefreshInterval = 30 * time.Second

var ErrInvalidConfig = errors.New("invalid rotator configuration")

// SessionToken is one issued proof-of-session value. Code is the
// human-readable form students can type instead of scanning URL.
type SessionToken struct {
	SessionID string        `json:"session_id"`
	Value     string        `json:"value"`
	Code      string        `json:"code"`
	URL       string        `json:"url"`
	IssuedAt  time.Time     `json:"issued_at"`
	TTL       time.Duration `json:"ttl"`
}

// ValidAt reports whether the token may still be shown at now. A token
// without a TTL stays valid until replaced.
func (t SessionToken) ValidAt(now time.Time) bool {
	if t.TTL <= 0 {
		return true
	}
	return now.Before(t.IssuedAt.Add(t.TTL))
}

// RefreshFunc fetches the current token for a session.
type RefreshFunc func(ctx context.Context, sessionID string) (SessionToken, error)

type Observer interface {
	ObserveRefresh(sessionID string, err error)
}

type Rotator struct {
	observer  Observer
	onRefresh func(SessionToken)
	now       func() time.Time

	mu        sync.Mutex
	sessionID string
	token     *SessionToken
	cancel    context.CancelFunc
	done      chan struct{}

	triggerRefresh chan struct{}
	refreshNotify  chan struct{}
}

type Option func(*Rotator)

func WithObserver(o Observer) Option {
	return func(r *Rotator) { r.observer = o }
}

// WithOnRefresh is called after every successful refresh.
func WithOnRefresh(fn func(SessionToken)) Option {
	return func(r *Rotator) { r.onRefresh = fn }
}

func WithNow(fn func() time.Time) Option {
	return func(r *Rotator) { r.now = fn }
}

func New(opts ...Option) *Rotator {
	r := &Rotator{now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start fetches a token immediately and then every interval, regardless of
// the TTL the server chose. Starting again replaces the previous session.
func (r *Rotator) Start(ctx context.Context, sessionID string, refresh RefreshFunc, interval time.Duration) error {
	if sessionID == "" || refresh == nil || interval <= 0 {
		return ErrInvalidConfig
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	r.sessionID = sessionID
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(runCtx, r.done, sessionID, refresh, interval)
	return nil
}

// Stop cancels scheduled refreshes and discards the token. Idempotent.
func (r *Rotator) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Rotator) stopLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.sessionID = ""
	r.token = nil
}

// Done is closed when the most recently started loop has exited.
func (r *Rotator) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Current returns the latest token while it is still within its TTL.
func (r *Rotator) Current() (SessionToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token == nil || !r.token.ValidAt(r.now()) {
		return SessionToken{}, false
	}
	return *r.token, true
}

func (r *Rotator) run(ctx context.Context, done chan struct{}, sessionID string, refresh RefreshFunc, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.refresh(ctx, sessionID, refresh, interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx, sessionID, refresh, interval)
		case <-r.triggerRefresh:
			r.refresh(ctx, sessionID, refresh, interval)
		}
	}
}

func (r *Rotator) refresh(ctx context.Context, sessionID string, refresh RefreshFunc, interval time.Duration) {
	defer r.notifyRefreshed()

	tok, err := refresh(ctx, sessionID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("rotator[%s]: refresh failed, keeping last token: %v", sessionID, err)
		r.observe(sessionID, err)
		return
	}
	tok.SessionID = sessionID
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = r.now()
	}
	if tok.TTL > 0 && interval >= tok.TTL {
		log.Printf("rotator[%s]: refresh interval %v is not shorter than token ttl %v", sessionID, interval, tok.TTL)
	}

	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.token = &tok
	r.mu.Unlock()

	r.observe(sessionID, nil)
	if r.onRefresh != nil {
		r.onRefresh(tok)
	}
}

func (r *Rotator) observe(sessionID string, err error) {
	if r.observer != nil {
		r.observer.ObserveRefresh(sessionID, err)
	}
}

func (r *Rotator) notifyRefreshed() {
	if r.refreshNotify != nil {
		select {
		case r.refreshNotify <- struct{}{}:
		default:
		}
	}
}

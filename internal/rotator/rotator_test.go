package rotator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeRemaining(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      Remaining
		display   string
	}{
		{"ninety minutes", now.Add(90 * time.Minute), Remaining{Hours: 1, Minutes: 30}, "1h 30m"},
		{"partial minute floors", now.Add(59*time.Second + 2*time.Hour), Remaining{Hours: 2}, "2h 0m"},
		{"exactly now", now, Expired, "Expired"},
		{"past", now.Add(-time.Minute), Expired, "Expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeRemaining(tt.expiresAt, now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.display, got.String())
		})
	}
}

func TestTimeRemainingIsPure(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	exp := now.Add(45 * time.Minute)
	assert.Equal(t, TimeRemaining(exp, now), TimeRemaining(exp, now))
}

func TestSessionClock(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewSessionClock(now.Add(2 * time.Hour))

	assert.Equal(t, Remaining{Hours: 2}, c.Remaining(now))
	assert.Equal(t, Expired, c.Remaining(now.Add(3*time.Hour)))

	c.Close()
	assert.Equal(t, Expired, c.Remaining(now))
}

type scriptedRefresh struct {
	mu    sync.Mutex
	calls int
	errs  map[int]error
}

func (s *scriptedRefresh) fn(_ context.Context, sessionID string) (SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[s.calls]; err != nil {
		return SessionToken{}, err
	}
	return SessionToken{Value: sessionID + "-" + string(rune('a'+s.calls-1)), TTL: time.Hour}, nil
}

func (s *scriptedRefresh) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type refreshObserver struct {
	mu   sync.Mutex
	errs []error
}

func (o *refreshObserver) ObserveRefresh(_ string, err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func newTestRotator(t *testing.T, opts ...Option) *Rotator {
	t.Helper()
	r := New(opts...)
	r.triggerRefresh = make(chan struct{})
	r.refreshNotify = make(chan struct{}, 1)
	t.Cleanup(r.Stop)
	return r
}

func waitRefresh(t *testing.T, r *Rotator) {
	t.Helper()
	select {
	case <-r.refreshNotify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for refresh")
	}
}

func triggerAndWait(t *testing.T, r *Rotator) {
	t.Helper()
	r.triggerRefresh <- struct{}{}
	waitRefresh(t, r)
}

func TestStartFetchesImmediately(t *testing.T) {
	src := &scriptedRefresh{}
	var refreshed []SessionToken
	r := newTestRotator(t, WithOnRefresh(func(tok SessionToken) { refreshed = append(refreshed, tok) }))

	require.NoError(t, r.Start(context.Background(), "s1", src.fn, time.Hour))
	waitRefresh(t, r)

	tok, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "s1-a", tok.Value)
	assert.Equal(t, "s1", tok.SessionID)
	assert.False(t, tok.IssuedAt.IsZero())
	require.Len(t, refreshed, 1)
}

func TestFailedRefreshKeepsLastToken(t *testing.T) {
	src := &scriptedRefresh{errs: map[int]error{2: errors.New("backend down")}}
	obs := &refreshObserver{}
	r := newTestRotator(t, WithObserver(obs))

	require.NoError(t, r.Start(context.Background(), "s1", src.fn, time.Hour))
	waitRefresh(t, r)
	triggerAndWait(t, r)

	tok, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "s1-a", tok.Value)

	triggerAndWait(t, r)
	tok, ok = r.Current()
	require.True(t, ok)
	assert.Equal(t, "s1-c", tok.Value)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.errs, 3)
	assert.NoError(t, obs.errs[0])
	assert.Error(t, obs.errs[1])
	assert.NoError(t, obs.errs[2])
}

func TestRefreshesOnFixedInterval(t *testing.T) {
	src := &scriptedRefresh{}
	r := New()
	t.Cleanup(r.Stop)

	require.NoError(t, r.Start(context.Background(), "s1", src.fn, 10*time.Millisecond))
	assert.Eventually(t, func() bool { return src.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestCurrentExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r := newTestRotator(t, WithNow(clock))

	refresh := func(context.Context, string) (SessionToken, error) {
		return SessionToken{Value: "tok", IssuedAt: clock(), TTL: 30 * time.Second}, nil
	}
	require.NoError(t, r.Start(context.Background(), "s1", refresh, time.Hour))
	waitRefresh(t, r)

	_, ok := r.Current()
	require.True(t, ok)

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()
	_, ok = r.Current()
	assert.False(t, ok)
}

func TestStopIsIdempotentAndDiscardsToken(t *testing.T) {
	src := &scriptedRefresh{}
	r := newTestRotator(t)

	require.NoError(t, r.Start(context.Background(), "s1", src.fn, time.Hour))
	waitRefresh(t, r)

	r.Stop()
	r.Stop()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	_, ok := r.Current()
	assert.False(t, ok)
}

func TestStartReplacesSession(t *testing.T) {
	src := &scriptedRefresh{}
	r := newTestRotator(t)

	require.NoError(t, r.Start(context.Background(), "s1", src.fn, time.Hour))
	waitRefresh(t, r)
	require.NoError(t, r.Start(context.Background(), "s2", src.fn, time.Hour))
	waitRefresh(t, r)

	tok, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "s2", tok.SessionID)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	r := New()
	noop := func(context.Context, string) (SessionToken, error) { return SessionToken{}, nil }

	assert.ErrorIs(t, r.Start(context.Background(), "", noop, time.Second), ErrInvalidConfig)
	assert.ErrorIs(t, r.Start(context.Background(), "s1", nil, time.Second), ErrInvalidConfig)
	assert.ErrorIs(t, r.Start(context.Background(), "s1", noop, 0), ErrInvalidConfig)
}

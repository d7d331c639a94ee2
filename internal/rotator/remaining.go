package rotator

import (
	"fmt"
	"sync"
	"time"
)

// Remaining is a countdown rendered to whole hours and minutes.
type Remaining struct {
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Expired bool `json:"expired"`
}

// Expired is the value TimeRemaining returns once the deadline has passed.
var Expired = Remaining{Expired: true}

// TimeRemaining returns the time left until expiresAt, or Expired when
// expiresAt is not after now.
func TimeRemaining(expiresAt, now time.Time) Remaining {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return Expired
	}
	return Remaining{
		Hours:   int(d / time.Hour),
		Minutes: int(d % time.Hour / time.Minute),
	}
}

func (r Remaining) String() string {
	if r.Expired {
		return "Expired"
	}
	return fmt.Sprintf("%dh %dm", r.Hours, r.Minutes)
}

// SessionClock holds a session's absolute expiry. It is independent of the
// much shorter token TTL.
type SessionClock struct {
	expiresAt time.Time

	mu     sync.RWMutex
	closed bool
}

func NewSessionClock(expiresAt time.Time) *SessionClock {
	return &SessionClock{expiresAt: expiresAt}
}

// Remaining reports Expired after Close.
func (c *SessionClock) Remaining(now time.Time) Remaining {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Expired
	}
	return TimeRemaining(c.expiresAt, now)
}

func (c *SessionClock) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

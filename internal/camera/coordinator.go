package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"attendsync/internal/device"
)

const (
	// DefaultSettleDelay covers OS-level device teardown after the remote release.
	DefaultSettleDelay    = 800 * time.Millisecond
	DefaultReleaseTimeout = 5 * time.Second
)

var (
	ErrInvalidRequester  = errors.New("requester id is required")
	ErrNotHolder         = errors.New("requester does not hold the camera")
	ErrRemoteRelease     = errors.New("remote camera release failed")
	ErrInvalidTransition = errors.New("invalid camera state transition")
)

// Observer is told about every committed state transition.
type Observer interface {
	CameraTransition(from, to Ownership)
}

// Observers fans a transition out to several observers in order.
type Observers []Observer

func (obs Observers) CameraTransition(from, to Ownership) {
	for _, o := range obs {
		o.CameraTransition(from, to)
	}
}

// Coordinator serializes camera ownership across screens that know nothing
// about each other. Requests are handled one at a time in arrival order; only
// the request holding the turn may change state.
type Coordinator struct {
	dev            device.Device
	remote         device.Releaser
	settle         time.Duration
	releaseTimeout time.Duration
	observer       Observer
	sleep          func(time.Duration)
	now            func() time.Time

	mu    sync.Mutex
	own   Ownership
	busy  bool
	queue []*ResourceRequest

	subMu       sync.Mutex
	subscribers map[chan Ownership]struct{}
}

type Option func(*Coordinator)

func WithSettleDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.settle = d }
}

func WithReleaseTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.releaseTimeout = d }
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

func New(dev device.Device, remote device.Releaser, opts ...Option) *Coordinator {
	c := &Coordinator{
		dev:            dev,
		remote:         remote,
		settle:         DefaultSettleDelay,
		releaseTimeout: DefaultReleaseTimeout,
		sleep:          time.Sleep,
		now:            time.Now,
		own:            Ownership{State: StateIdle},
		subscribers:    make(map[chan Ownership]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CurrentState returns a snapshot without waiting for in-flight transitions.
func (c *Coordinator) CurrentState() Ownership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.own
}

// RequestOwnership makes requesterID the holder, releasing any other holder
// first. It blocks until the request has been resolved or ctx is done while
// still queued.
func (c *Coordinator) RequestOwnership(ctx context.Context, requesterID string) (Ownership, error) {
	if requesterID == "" {
		return c.CurrentState(), ErrInvalidRequester
	}

	c.mu.Lock()
	if !c.busy && c.own.State == StateStreaming && c.own.HolderID == requesterID {
		own := c.own
		c.mu.Unlock()
		return own, nil
	}
	c.mu.Unlock()

	req := c.newRequest(requesterID, StateStreaming)
	if err := c.waitTurn(ctx, req); err != nil {
		return c.CurrentState(), err
	}
	defer c.passTurn()

	own := c.CurrentState()
	switch own.State {
	case StateStreaming:
		if own.HolderID == requesterID {
			return own, nil
		}
		log.Printf("camera: request %s: %s requested by %s, releasing current holder", req.ID, own, requesterID)
		if err := c.release(ctx, req, own.HolderID); err != nil && !errors.Is(err, ErrRemoteRelease) {
			return c.CurrentState(), err
		}
	case StateFaulted:
		if err := c.transition(req, StateIdle, "", "fault acknowledged by new request"); err != nil {
			return c.CurrentState(), err
		}
	}

	if err := c.transition(req, StateAcquiring, requesterID, ""); err != nil {
		return c.CurrentState(), err
	}
	if err := c.dev.Acquire(ctx); err != nil {
		log.Printf("camera: request %s: acquire for %s failed: %v", req.ID, requesterID, err)
		if terr := c.transition(req, StateFaulted, requesterID, err.Error()); terr != nil {
			return c.CurrentState(), terr
		}
		return c.CurrentState(), fmt.Errorf("acquiring camera for %s: %w", requesterID, err)
	}
	if err := c.transition(req, StateStreaming, requesterID, ""); err != nil {
		return c.CurrentState(), err
	}
	return c.CurrentState(), nil
}

// ReleaseOwnership gives up the camera. Calls from anyone but the holder are
// no-ops. A failed remote release still ends in Idle; the returned error then
// wraps ErrRemoteRelease and should be shown as a warning.
func (c *Coordinator) ReleaseOwnership(ctx context.Context, requesterID string) (Ownership, error) {
	if requesterID == "" {
		return c.CurrentState(), ErrInvalidRequester
	}
	if own := c.CurrentState(); own.HolderID != requesterID {
		return own, nil
	}

	req := c.newRequest(requesterID, StateIdle)
	if err := c.waitTurn(ctx, req); err != nil {
		return c.CurrentState(), err
	}
	defer c.passTurn()

	own := c.CurrentState()
	if own.HolderID != requesterID {
		return own, nil
	}
	switch own.State {
	case StateStreaming:
		err := c.release(ctx, req, requesterID)
		return c.CurrentState(), err
	case StateFaulted:
		err := c.transition(req, StateIdle, "", "fault acknowledged by release")
		return c.CurrentState(), err
	}
	return own, nil
}

// Acknowledge clears a fault raised for requesterID.
func (c *Coordinator) Acknowledge(ctx context.Context, requesterID string) (Ownership, error) {
	if requesterID == "" {
		return c.CurrentState(), ErrInvalidRequester
	}
	req := c.newRequest(requesterID, StateIdle)
	if err := c.waitTurn(ctx, req); err != nil {
		return c.CurrentState(), err
	}
	defer c.passTurn()

	own := c.CurrentState()
	if own.State != StateFaulted || own.HolderID != requesterID {
		return own, nil
	}
	err := c.transition(req, StateIdle, "", "fault acknowledged")
	return c.CurrentState(), err
}

// ReadFrame returns the next frame if requesterID is the streaming holder.
func (c *Coordinator) ReadFrame(ctx context.Context, requesterID string) ([]byte, error) {
	c.mu.Lock()
	own := c.own
	c.mu.Unlock()
	if own.State != StateStreaming || own.HolderID != requesterID {
		return nil, ErrNotHolder
	}
	return c.dev.ReadFrame(ctx)
}

// Shutdown releases whatever holder remains; used at process exit.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	req := c.newRequest("shutdown", StateIdle)
	if err := c.waitTurn(ctx, req); err != nil {
		return err
	}
	defer c.passTurn()

	own := c.CurrentState()
	switch own.State {
	case StateStreaming:
		return c.release(ctx, req, own.HolderID)
	case StateFaulted:
		return c.transition(req, StateIdle, "", "shutdown")
	}
	return nil
}

func (c *Coordinator) Subscribe() chan Ownership {
	ch := make(chan Ownership, 8)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

func (c *Coordinator) Unsubscribe(ch chan Ownership) {
	c.subMu.Lock()
	_, exists := c.subscribers[ch]
	delete(c.subscribers, ch)
	c.subMu.Unlock()
	if exists {
		close(ch)
	}
}

// release runs Streaming → Releasing → Idle for holder. The caller holds the turn.
func (c *Coordinator) release(ctx context.Context, req *ResourceRequest, holder string) error {
	if err := c.transition(req, StateReleasing, holder, ""); err != nil {
		return err
	}
	if err := c.dev.Release(ctx); err != nil {
		log.Printf("camera: request %s: stopping local stream for %s: %v", req.ID, holder, err)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
	remoteErr := c.remote.ReleaseCamera(rctx)
	cancel()
	if remoteErr != nil {
		log.Printf("camera: request %s: remote release for %s failed: %v", req.ID, holder, remoteErr)
	}

	c.sleep(c.settle)

	warning := ""
	if remoteErr != nil {
		warning = remoteErr.Error()
	}
	if err := c.transition(req, StateIdle, "", warning); err != nil {
		return err
	}
	if remoteErr != nil {
		return fmt.Errorf("%w: %w", ErrRemoteRelease, remoteErr)
	}
	return nil
}

// transition commits one edge of the state table on behalf of req. detail is
// the fault reason for Faulted and the release warning for Idle.
func (c *Coordinator) transition(req *ResourceRequest, to State, holder, detail string) error {
	c.mu.Lock()
	from := c.own
	if !from.State.CanTransition(to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from.State, to)
	}

	next := Ownership{State: to, HolderID: holder, RequestedAt: from.RequestedAt, RequestID: req.ID}
	switch to {
	case StateAcquiring:
		next.RequestedAt = req.IssuedAt
	case StateFaulted:
		next.Fault = detail
	case StateIdle:
		next.RequestedAt = time.Time{}
		next.Warning = detail
	}
	c.own = next
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.CameraTransition(from, next)
	}
	c.publish(next)
	return nil
}

func (c *Coordinator) publish(own Ownership) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- own:
		default:
		}
	}
}

func (c *Coordinator) newRequest(requesterID string, desired State) *ResourceRequest {
	return &ResourceRequest{
		ID:           uuid.NewString(),
		RequesterID:  requesterID,
		DesiredState: desired,
		IssuedAt:     c.now(),
		granted:      make(chan struct{}),
	}
}

// waitTurn blocks until req may run its transitions. A request abandoned
// while queued is removed; one abandoned just as it was granted passes the
// turn on.
func (c *Coordinator) waitTurn(ctx context.Context, req *ResourceRequest) error {
	c.mu.Lock()
	if !c.busy {
		c.busy = true
		c.mu.Unlock()
		return nil
	}
	c.queue = append(c.queue, req)
	depth := len(c.queue)
	c.mu.Unlock()
	log.Printf("camera: request %s from %s for %s queued at position %d", req.ID, req.RequesterID, req.DesiredState, depth)

	select {
	case <-req.granted:
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	for i, q := range c.queue {
		if q == req {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.mu.Unlock()
			return ctx.Err()
		}
	}
	c.mu.Unlock()
	c.passTurn()
	return ctx.Err()
}

func (c *Coordinator) passTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		c.busy = false
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	close(next.granted)
}

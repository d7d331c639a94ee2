// Package poller turns a one-shot fetch into a recurring change feed.
//
// A Poller fetches the full ordered list on a fixed cadence, keeps the latest
// result as its snapshot, and reports items that appeared since the previous
// snapshot exactly once. Feeds are assumed append-only: growth is reported as
// the items beyond the previous count, and a shrink re-baselines the count
// instead of producing events. Keyed feeds keep their seen keys across a
// shrink, so items that come back are not reported twice; only Reset forgets
// them.
package poller

import (
	"context"
	"log"
	"sync"
	"time"
)

// FetchFunc returns the current full ordered sequence of a feed.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// Snapshot is the last successfully fetched view of a feed.
type Snapshot[T any] struct {
	Items     []T       `json:"items"`
	Count     int       `json:"count"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ChangeEvent is one item newly observed since the previous snapshot.
type ChangeEvent[T any] struct {
	Item       T         `json:"item"`
	ObservedAt time.Time `json:"observed_at"`
}

// Observer receives the outcome of every fetch.
type Observer interface {
	ObservePoll(feed string, newItems int, err error)
}

type Poller[T any] struct {
	name        string
	fetch       FetchFunc[T]
	interval    time.Duration
	key         func(T) string
	newestFirst bool
	onNewItems  func([]ChangeEvent[T])
	observer    Observer
	now         func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot[T]
	baseline bool
	seen     map[string]struct{}
	cancel   context.CancelFunc
	done     chan struct{}

	subMu       sync.Mutex
	subscribers map[chan Snapshot[T]]struct{}

	triggerPoll chan struct{}
	pollNotify  chan struct{}
}

type Option[T any] func(*Poller[T])

// WithKey enables identity-based de-duplication: an item whose key was
// already seen since the last reset is never reported again.
func WithKey[T any](fn func(T) string) Option[T] {
	return func(p *Poller[T]) { p.key = fn }
}

// WithNewestFirst declares that the feed lists its most recent item first,
// so growth appears at the front.
func WithNewestFirst[T any]() Option[T] {
	return func(p *Poller[T]) { p.newestFirst = true }
}

func WithOnNewItems[T any](fn func([]ChangeEvent[T])) Option[T] {
	return func(p *Poller[T]) { p.onNewItems = fn }
}

func WithObserver[T any](o Observer) Option[T] {
	return func(p *Poller[T]) { p.observer = o }
}

func New[T any](name string, fetch FetchFunc[T], interval time.Duration, opts ...Option[T]) *Poller[T] {
	p := &Poller[T]{
		name:        name,
		fetch:       fetch,
		interval:    interval,
		now:         time.Now,
		subscribers: make(map[chan Snapshot[T]]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller[T]) Name() string {
	return p.name
}

// Start launches the loop with an immediate fetch. Calling Start on a running
// poller is a no-op; a stopped poller may be started again.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	prev := p.done
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, p.done, prev)
}

// Stop cancels the scheduled tick and returns without waiting. A fetch that
// is still in flight finishes in the background and its result is dropped.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Done is closed when the most recently started loop has exited.
func (p *Poller[T]) Done() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.done
}

// Reset forgets the baseline; the next successful fetch starts a new one.
func (p *Poller[T]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseline = false
	p.seen = nil
	p.snapshot = Snapshot[T]{}
}

// Snapshot returns a copy of the latest snapshot.
func (p *Poller[T]) Snapshot() Snapshot[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.snapshot
	s.Items = append([]T(nil), p.snapshot.Items...)
	return s
}

func (p *Poller[T]) Subscribe() chan Snapshot[T] {
	ch := make(chan Snapshot[T], 1)
	p.subMu.Lock()
	p.subscribers[ch] = struct{}{}
	p.subMu.Unlock()
	return ch
}

func (p *Poller[T]) Unsubscribe(ch chan Snapshot[T]) {
	p.subMu.Lock()
	_, exists := p.subscribers[ch]
	delete(p.subscribers, ch)
	p.subMu.Unlock()
	if exists {
		close(ch)
	}
}

func (p *Poller[T]) run(ctx context.Context, done chan struct{}, prev <-chan struct{}) {
	defer close(done)

	// A restarted poller waits for the previous loop's in-flight fetch.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	p.poll(ctx)
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.poll(ctx)
			timer.Reset(p.interval)
		case <-p.triggerPoll:
			p.poll(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.interval)
		}
	}
}

// poll runs one fetch and applies it. The next tick is only scheduled after
// poll returns, so fetches for one poller never overlap.
func (p *Poller[T]) poll(ctx context.Context) {
	items, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("poller[%s]: fetch failed: %v", p.name, err)
			p.observe(0, err)
		}
		p.notifyPolled()
		return
	}

	events, snapshot, ok := p.apply(ctx, items)
	if !ok {
		return
	}

	p.observe(len(events), nil)
	if len(events) > 0 && p.onNewItems != nil {
		p.onNewItems(events)
	}
	p.publish(snapshot)
	p.notifyPolled()
}

// apply replaces the snapshot and computes change events. It reports false
// when the poller was stopped while the fetch was in flight.
func (p *Poller[T]) apply(ctx context.Context, items []T) ([]ChangeEvent[T], Snapshot[T], bool) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return nil, Snapshot[T]{}, false
	}

	prevCount := p.snapshot.Count
	hadBaseline := p.baseline
	p.snapshot = Snapshot[T]{Items: items, Count: len(items), FetchedAt: now}
	p.baseline = true

	var events []ChangeEvent[T]
	switch {
	case !hadBaseline:
		p.resetSeen(items)
	case len(items) < prevCount:
		log.Printf("poller[%s]: feed shrank from %d to %d items, resetting", p.name, prevCount, len(items))
		p.markSeen(items)
	case len(items) > prevCount:
		for _, item := range p.grown(items, len(items)-prevCount) {
			if p.key != nil {
				k := p.key(item)
				if _, dup := p.seen[k]; dup {
					continue
				}
				p.seen[k] = struct{}{}
			}
			events = append(events, ChangeEvent[T]{Item: item, ObservedAt: now})
		}
	}

	snapshot := p.snapshot
	snapshot.Items = append([]T(nil), items...)
	return events, snapshot, true
}

// grown returns the n items added since the previous snapshot, most recent
// first for newest-first feeds and in feed order otherwise.
func (p *Poller[T]) grown(items []T, n int) []T {
	if p.newestFirst {
		return items[:n]
	}
	return items[len(items)-n:]
}

func (p *Poller[T]) resetSeen(items []T) {
	if p.key == nil {
		return
	}
	p.seen = make(map[string]struct{}, len(items))
	p.markSeen(items)
}

// markSeen records keys without forgetting earlier ones; only Reset does that.
func (p *Poller[T]) markSeen(items []T) {
	if p.key == nil {
		return
	}
	for _, item := range items {
		p.seen[p.key(item)] = struct{}{}
	}
}

func (p *Poller[T]) observe(newItems int, err error) {
	if p.observer != nil {
		p.observer.ObservePoll(p.name, newItems, err)
	}
}

func (p *Poller[T]) publish(snapshot Snapshot[T]) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (p *Poller[T]) notifyPolled() {
	if p.pollNotify != nil {
		select {
		case p.pollNotify <- struct{}{}:
		default:
		}
	}
}

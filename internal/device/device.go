// Package device wraps the camera capabilities the coordinator sequences:
// starting and stopping the local frame stream, and asking the remote
// service that physically owns the camera to let go of it.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"

	"attendsync/internal/backend"
)

var (
	// ErrDeviceBusy means the remote owner has not released the camera yet.
	ErrDeviceBusy = errors.New("camera busy")
	// ErrDeviceUnavailable means there is no usable camera (hardware, permission, or service down).
	ErrDeviceUnavailable = errors.New("camera unavailable")
	// ErrNotStreaming is returned by ReadFrame when no stream is open.
	ErrNotStreaming = errors.New("camera not streaming")

	errFeedEnded = errors.New("video feed ended")
)

// Device is the local camera capability. Implementations do not retry.
type Device interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Releaser frees the camera on the remote side.
type Releaser interface {
	ReleaseCamera(ctx context.Context) error
}

// FeedSource opens the backend's multipart JPEG stream.
type FeedSource interface {
	OpenVideoFeed(ctx context.Context) (io.ReadCloser, string, error)
}

const maxFrameSize = 8 << 20

// FeedDevice reads frames from a multipart/x-mixed-replace video feed. A
// reader goroutine drains the feed while it is open and keeps only the newest
// frame, so ReadFrame never hands out a frame that queued up behind others.
type FeedDevice struct {
	src FeedSource

	mu     sync.Mutex
	stream *feedStream
}

// feedStream is one open feed and its reader.
type feedStream struct {
	body  io.ReadCloser
	ready chan struct{} // closed once the first frame is stored
	done  chan struct{} // closed when the reader exits

	mu     sync.RWMutex
	latest []byte
	err    error
}

func NewFeedDevice(src FeedSource) *FeedDevice {
	return &FeedDevice{src: src}
}

// Acquire opens the stream and starts reading it. The stream outlives ctx;
// only Release closes it.
func (d *FeedDevice) Acquire(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		if !d.stream.ended() {
			return nil
		}
		return d.reopenLocked(ctx)
	}
	return d.openLocked(ctx)
}

// reopenLocked replaces a feed the backend closed on its own, as it does
// while enrolling a student. On failure the ended stream stays in place so
// the next call retries.
func (d *FeedDevice) reopenLocked(ctx context.Context) error {
	old := d.stream
	old.mu.RLock()
	cause := old.err
	old.mu.RUnlock()
	log.Printf("device: video feed ended (%v), reopening", cause)
	old.body.Close()
	return d.openLocked(ctx)
}

func (d *FeedDevice) openLocked(ctx context.Context) error {
	body, contentType, err := d.src.OpenVideoFeed(context.WithoutCancel(ctx))
	if err != nil {
		return classify(err)
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["boundary"] == "" {
		body.Close()
		return fmt.Errorf("%w: unexpected content type %q", ErrDeviceUnavailable, contentType)
	}

	s := &feedStream{
		body:  body,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.run(multipart.NewReader(body, params["boundary"]))
	d.stream = s
	return nil
}

// Release closes the stream and waits for its reader to stop. Idempotent.
func (d *FeedDevice) Release(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stream
	if s == nil {
		return nil
	}
	d.stream = nil
	err := s.body.Close()
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}

// ReadFrame returns the newest frame, waiting for the first one after
// Acquire. A feed that has ended is reopened once per call.
func (d *FeedDevice) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	s := d.stream
	if s != nil && s.ended() {
		if err := d.reopenLocked(ctx); err != nil {
			d.mu.Unlock()
			return nil, err
		}
		s = d.stream
	}
	d.mu.Unlock()
	if s == nil {
		return nil, ErrNotStreaming
	}

	select {
	case <-s.ready:
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, fmt.Errorf("reading frame: %w: %w", ErrDeviceUnavailable, s.err)
	}
	frame := make([]byte, len(s.latest))
	copy(frame, s.latest)
	return frame, nil
}

func (s *feedStream) run(r *multipart.Reader) {
	defer close(s.done)
	first := true
	for {
		frame, err := nextFrame(r)
		s.mu.Lock()
		if err != nil {
			s.err = err
			s.mu.Unlock()
			return
		}
		s.latest = frame
		s.mu.Unlock()
		if first {
			close(s.ready)
			first = false
		}
	}
}

func (s *feedStream) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func nextFrame(r *multipart.Reader) ([]byte, error) {
	part, err := r.NextPart()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errFeedEnded
		}
		return nil, err
	}
	defer part.Close()
	return io.ReadAll(io.LimitReader(part, maxFrameSize))
}

// classify maps backend failures onto the device error taxonomy.
func classify(err error) error {
	var se *backend.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusConflict, http.StatusLocked, http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %w", ErrDeviceBusy, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

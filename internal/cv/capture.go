package cv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"jordanella.com/screen-locator/internal/events"
	"jordanella.com/screen-locator/internal/logging"
	"jordanella.com/screen-locator/internal/metrics"
)

// Capturer reads pixels from a capture target (a window client area or a display)
type Capturer interface {
	CaptureFrame() (*Frame, error)
	Dimensions() (width, height int)
}

// CapturerFunc adapts a function to Capturer. Dimensions reports 0x0.
type CapturerFunc func() (*Frame, error)

// CaptureFrame implements Capturer
func (f CapturerFunc) CaptureFrame() (*Frame, error) { return f() }

// Dimensions implements Capturer
func (f CapturerFunc) Dimensions() (width, height int) { return 0, 0 }

// DebugSink receives annotated frames. It is called off the match path.
type DebugSink interface {
	ShowDebug(title string, img image.Image)
}

// Clicker delivers a click at a frame coordinate, typically MatchResult.Point()
type Clicker interface {
	Click(p image.Point) error
}

// DefaultCaptureTimeout bounds a single capture when no timeout is configured
const DefaultCaptureTimeout = 5 * time.Second

// CaptureCache owns the current frame for one session.
//
// Unlocked, every Frame call captures. Locked, the first Frame call captures and later
// calls return the same frame until Unlock. Lock itself never captures.
type CaptureCache struct {
	capturer Capturer
	timeout  time.Duration
	bus      events.EventBus
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mu       sync.Mutex // Guards state and serialises captures
	locked   bool
	frame    *Frame
	inflight chan struct{} // Closed when the last capturer call returns

	stats CaptureStats
}

// CaptureStats counts cache activity
type CaptureStats struct {
	Captures int64 // Successful captures
	Failures int64 // Failed or timed-out captures
	Reuses   int64 // Frame calls answered from the locked frame
}

// NewCaptureCache creates an unlocked cache. A timeout <= 0 selects DefaultCaptureTimeout.
func NewCaptureCache(capturer Capturer, timeout time.Duration) *CaptureCache {
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	return &CaptureCache{
		capturer: capturer,
		timeout:  timeout,
		logger:   logging.NewLogger("cv.capture"),
	}
}

// WithEventBus publishes capture events on bus
func (c *CaptureCache) WithEventBus(bus events.EventBus) *CaptureCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = bus
	return c
}

// WithMetrics records capture counters on m
func (c *CaptureCache) WithMetrics(m *metrics.Metrics) *CaptureCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
	return c
}

// Lock makes subsequent Frame calls reuse one frame
func (c *CaptureCache) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = true
}

// Unlock resumes per-call captures and discards the cached frame
func (c *CaptureCache) Unlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = false
	c.frame = nil
}

// Locked reports the current state
func (c *CaptureCache) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// Cached returns the last frame held by the cache, or nil
func (c *CaptureCache) Cached() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Stats returns a snapshot of the counters
func (c *CaptureCache) Stats() CaptureStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Frame returns the frame to match against. A capture failure leaves the cache state as
// it was and is returned as *CaptureError.
func (c *CaptureCache) Frame(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locked && c.frame != nil {
		c.stats.Reuses++
		c.metrics.FrameReused()
		return c.frame, nil
	}

	frame, err := c.capture(ctx)
	if err != nil {
		c.stats.Failures++
		c.metrics.CaptureFailed()
		c.logger.Error("capture failed", err)
		c.publish(events.NewCaptureFailedEvent(err))
		return nil, err
	}

	c.stats.Captures++
	c.metrics.CaptureSucceeded()
	c.frame = frame
	c.publish(events.NewFrameCapturedEvent(frame.Width(), frame.Height(), frame.Channels, c.locked))
	return frame, nil
}

// capture runs one capture bounded by ctx and the cache timeout. Must hold c.mu.
func (c *CaptureCache) capture(ctx context.Context) (*Frame, error) {
	if c.capturer == nil {
		return nil, &CaptureError{Err: errors.New("no capturer configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// An abandoned capture may still be driving the target
	if c.inflight != nil {
		select {
		case <-c.inflight:
		case <-ctx.Done():
			return nil, &CaptureError{Err: fmt.Errorf("previous capture still running: %w", ctx.Err())}
		}
	}

	type result struct {
		frame *Frame
		err   error
	}
	done := make(chan result, 1)
	finished := make(chan struct{})
	c.inflight = finished
	go func() {
		defer close(finished)
		frame, err := c.capturer.CaptureFrame()
		done <- result{frame, err}
	}()

	select {
	case <-ctx.Done():
		// The capturer goroutine finishes on its own; its result is dropped
		return nil, &CaptureError{Err: fmt.Errorf("capture abandoned: %w", ctx.Err())}
	case r := <-done:
		if r.err != nil {
			return nil, &CaptureError{Err: r.err}
		}
		if r.frame == nil || r.frame.Image == nil || r.frame.Bounds().Empty() {
			return nil, &CaptureError{Err: errors.New("capturer returned an empty frame")}
		}
		if r.frame.CapturedAt.IsZero() {
			r.frame.CapturedAt = time.Now()
		}
		return r.frame, nil
	}
}

func (c *CaptureCache) publish(event events.Event) {
	if c.bus != nil {
		c.bus.Publish(event)
	}
}

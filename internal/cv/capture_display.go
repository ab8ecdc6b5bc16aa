package cv

import (
	"fmt"
	"time"

	"github.com/kbinani/screenshot"
)

// DisplayCapture captures a whole display. Frames are RGBA.
type DisplayCapture struct {
	display int
}

// NewDisplayCapture creates a capturer for display index n (0 is the primary display)
func NewDisplayCapture(n int) (*DisplayCapture, error) {
	if count := screenshot.NumActiveDisplays(); n < 0 || n >= count {
		return nil, fmt.Errorf("display %d out of range (%d active)", n, count)
	}
	return &DisplayCapture{display: n}, nil
}

// CaptureFrame implements Capturer
func (dc *DisplayCapture) CaptureFrame() (*Frame, error) {
	bounds := screenshot.GetDisplayBounds(dc.display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture display %d: %w", dc.display, err)
	}
	return &Frame{Image: toRGBA(img), Channels: 4, CapturedAt: time.Now()}, nil
}

// Dimensions implements Capturer
func (dc *DisplayCapture) Dimensions() (width, height int) {
	bounds := screenshot.GetDisplayBounds(dc.display)
	return bounds.Dx(), bounds.Dy()
}

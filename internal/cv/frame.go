package cv

import (
	"image"
	"time"

	"github.com/disintegration/gift"
)

// Frame is a captured pixel buffer: a full display or one window's client area
type Frame struct {
	Image      *image.RGBA
	Channels   int // 3 for window captures, 4 for display captures
	CapturedAt time.Time
}

// NewFrame wraps an arbitrary image as a frame. Images that are not already a
// zero-origin *image.RGBA are copied.
func NewFrame(img image.Image) *Frame {
	if img == nil {
		return nil
	}

	channels := 3
	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		channels = 4
	}

	return &Frame{
		Image:      toRGBA(img),
		Channels:   channels,
		CapturedAt: time.Now(),
	}
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// Bounds returns the frame bounds
func (f *Frame) Bounds() image.Rectangle {
	return f.Image.Bounds()
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	dup := image.NewRGBA(f.Image.Bounds())
	copy(dup.Pix, f.Image.Pix)
	return &Frame{Image: dup, Channels: f.Channels, CapturedAt: f.CapturedAt}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	// An empty filter list is a straight copy
	gift.New().Draw(dst, img)
	return dst
}

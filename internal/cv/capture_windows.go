//go:build windows

package cv

import (
	"fmt"
	"image"
	"syscall"
	"time"
	"unsafe"

	"github.com/lxn/win"
)

// WindowCapture captures the client area of a single window through GDI
type WindowCapture struct {
	hwnd   win.HWND
	width  int
	height int
}

// NewWindowCapture creates a capturer for the window handle hwnd
func NewWindowCapture(hwnd uintptr) (*WindowCapture, error) {
	if hwnd == 0 {
		return nil, fmt.Errorf("invalid window handle")
	}

	wc := &WindowCapture{hwnd: win.HWND(hwnd)}
	if err := wc.UpdateDimensions(); err != nil {
		return nil, err
	}
	return wc, nil
}

// FindWindowCapture looks up a top-level window by its exact title
func FindWindowCapture(title string) (*WindowCapture, error) {
	name, err := syscall.UTF16PtrFromString(title)
	if err != nil {
		return nil, fmt.Errorf("invalid window title %q: %w", title, err)
	}
	hwnd := win.FindWindow(nil, name)
	if hwnd == 0 {
		return nil, fmt.Errorf("window %q not found", title)
	}
	return NewWindowCapture(uintptr(hwnd))
}

// CaptureFrame captures the window client area. The frame is RGB (alpha forced opaque).
func (wc *WindowCapture) CaptureFrame() (*Frame, error) {
	// Pick up resizes between captures
	if err := wc.UpdateDimensions(); err != nil {
		return nil, err
	}

	hdcWindow := win.GetDC(wc.hwnd)
	if hdcWindow == 0 {
		return nil, fmt.Errorf("failed to get window DC")
	}
	defer win.ReleaseDC(wc.hwnd, hdcWindow)

	hdcMem := win.CreateCompatibleDC(hdcWindow)
	if hdcMem == 0 {
		return nil, fmt.Errorf("failed to create compatible DC")
	}
	defer win.DeleteDC(hdcMem)

	hBitmap := win.CreateCompatibleBitmap(hdcWindow, int32(wc.width), int32(wc.height))
	if hBitmap == 0 {
		return nil, fmt.Errorf("failed to create compatible bitmap")
	}
	defer win.DeleteObject(win.HGDIOBJ(hBitmap))

	old := win.SelectObject(hdcMem, win.HGDIOBJ(hBitmap))
	defer win.SelectObject(hdcMem, old)

	if !win.BitBlt(hdcMem, 0, 0, int32(wc.width), int32(wc.height), hdcWindow, 0, 0, win.SRCCOPY) {
		return nil, fmt.Errorf("BitBlt failed")
	}

	var bi win.BITMAPINFO
	bi.BmiHeader.BiSize = uint32(unsafe.Sizeof(bi.BmiHeader))
	bi.BmiHeader.BiWidth = int32(wc.width)
	bi.BmiHeader.BiHeight = -int32(wc.height) // Negative for top-down bitmap
	bi.BmiHeader.BiPlanes = 1
	bi.BmiHeader.BiBitCount = 32
	bi.BmiHeader.BiCompression = win.BI_RGB

	img := image.NewRGBA(image.Rect(0, 0, wc.width, wc.height))
	lines := win.GetDIBits(hdcMem, hBitmap, 0, uint32(wc.height), &img.Pix[0], &bi, win.DIB_RGB_COLORS)
	if lines == 0 {
		return nil, fmt.Errorf("GetDIBits failed")
	}

	// BGRX -> RGBA
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		img.Pix[i+3] = 255
	}

	return &Frame{Image: img, Channels: 3, CapturedAt: time.Now()}, nil
}

// Dimensions returns the client area size at the last capture
func (wc *WindowCapture) Dimensions() (width, height int) {
	return wc.width, wc.height
}

// UpdateDimensions refreshes the client area size
func (wc *WindowCapture) UpdateDimensions() error {
	var rect win.RECT
	if !win.GetClientRect(wc.hwnd, &rect) {
		return fmt.Errorf("failed to get client rect")
	}

	width := int(rect.Right - rect.Left)
	height := int(rect.Bottom - rect.Top)
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid window dimensions: %dx%d", width, height)
	}

	wc.width, wc.height = width, height
	return nil
}

// ClientToScreen converts a client-area coordinate (as reported by a match) to a screen
// coordinate
func (wc *WindowCapture) ClientToScreen(p image.Point) image.Point {
	pt := win.POINT{X: int32(p.X), Y: int32(p.Y)}
	win.ClientToScreen(wc.hwnd, &pt)
	return image.Point{X: int(pt.X), Y: int(pt.Y)}
}

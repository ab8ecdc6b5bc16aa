// Package debugview shows annotated match frames in fyne windows.
package debugview

import (
	"image"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"jordanella.com/screen-locator/internal/events"
)

// MaxWindowSize bounds the initial size of a debug window
var MaxWindowSize = fyne.NewSize(1280, 800)

// Viewer implements cv.DebugSink. Each distinct title gets one window; later frames
// with the same title replace its content.
type Viewer struct {
	app fyne.App

	mu          sync.Mutex
	windows     map[string]fyne.Window
	shown       int
	onAllClosed func()
}

// NewViewer creates a viewer bound to a running fyne app
func NewViewer(app fyne.App) *Viewer {
	return &Viewer{
		app:     app,
		windows: make(map[string]fyne.Window),
	}
}

// SetOnAllClosed registers fn to run when the last open window is closed
func (v *Viewer) SetOnAllClosed(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onAllClosed = fn
}

// ShowDebug displays img. Safe to call from any goroutine.
func (v *Viewer) ShowDebug(title string, img image.Image) {
	if img == nil {
		return
	}

	v.mu.Lock()
	v.shown++
	v.mu.Unlock()

	fyne.Do(func() {
		v.show(title, img)
	})
}

// show runs on the fyne goroutine
func (v *Viewer) show(title string, img image.Image) {
	v.mu.Lock()
	w, ok := v.windows[title]
	if !ok {
		w = v.app.NewWindow(title)
		v.windows[title] = w
		w.SetOnClosed(func() {
			v.mu.Lock()
			delete(v.windows, title)
			empty, cb := len(v.windows) == 0, v.onAllClosed
			v.mu.Unlock()
			if empty && cb != nil {
				cb()
			}
		})
	}
	v.mu.Unlock()

	picture := canvas.NewImageFromImage(img)
	picture.FillMode = canvas.ImageFillContain
	picture.ScaleMode = canvas.ImageScalePixels

	b := img.Bounds()
	size := fyne.NewSize(float32(b.Dx()), float32(b.Dy()))
	picture.SetMinSize(fyne.NewSize(
		min(size.Width, MaxWindowSize.Width),
		min(size.Height, MaxWindowSize.Height),
	))

	caption := widget.NewLabel(title)
	w.SetContent(container.NewBorder(nil, caption, nil, nil, picture))
	if !ok {
		w.Resize(picture.MinSize())
	}
	w.Show()
}

// Subscribe feeds match.debug events from the bus into the viewer
func (v *Viewer) Subscribe(bus events.EventBus) events.SubscriptionID {
	return bus.Subscribe(events.EventTypeMatchDebug, func(e events.Event) {
		img, ok := e.Data["image"].(image.Image)
		if !ok {
			return
		}
		title, _ := e.Data["title"].(string)
		v.ShowDebug(title, img)
	})
}

// Shown returns how many frames were handed to the viewer
func (v *Viewer) Shown() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shown
}

// Titles returns the titles of the open windows
func (v *Viewer) Titles() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	titles := make([]string, 0, len(v.windows))
	for t := range v.windows {
		titles = append(titles, t)
	}
	return titles
}

// CloseAll closes every debug window
func (v *Viewer) CloseAll() {
	v.mu.Lock()
	windows := make([]fyne.Window, 0, len(v.windows))
	for _, w := range v.windows {
		windows = append(windows, w)
	}
	v.mu.Unlock()

	fyne.Do(func() {
		for _, w := range windows {
			w.Close()
		}
	})
}

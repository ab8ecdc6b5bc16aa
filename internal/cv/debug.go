package cv

import (
	"image"

	"jordanella.com/screen-locator/internal/events"
)

// BusDebugSink publishes annotated frames as match.debug events
type BusDebugSink struct {
	bus events.EventBus
}

// NewBusDebugSink creates a sink that forwards to bus
func NewBusDebugSink(bus events.EventBus) *BusDebugSink {
	return &BusDebugSink{bus: bus}
}

// ShowDebug implements DebugSink
func (s *BusDebugSink) ShowDebug(title string, img image.Image) {
	s.bus.Publish(events.NewMatchDebugEvent(title, img))
}

// DebugSinkFunc adapts a function to DebugSink
type DebugSinkFunc func(title string, img image.Image)

// ShowDebug implements DebugSink
func (f DebugSinkFunc) ShowDebug(title string, img image.Image) { f(title, img) }

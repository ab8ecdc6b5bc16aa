package events

import (
	"image"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	// Capture events
	EventTypeFrameCaptured EventType = "frame.captured"
	EventTypeCaptureFailed EventType = "capture.failed"

	// Matching events
	EventTypeMatchCompleted EventType = "match.completed"
	EventTypeMatchDebug     EventType = "match.debug"

	// Template events
	EventTypeTemplateLoaded EventType = "template.loaded"

	// Error events
	EventTypeError EventType = "error"

	// EventTypeAll subscribes to every event type
	EventTypeAll EventType = "*"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "capture", "locator")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish sends an event to all subscribers (blocking)
	Publish(event Event)

	// PublishAsync sends an event asynchronously (non-blocking)
	PublishAsync(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// MatchCompleted describes one finished Find or FindAll call
type MatchCompleted struct {
	SessionID  string
	TemplateID string
	Operation  string // "find" or "find_all"
	Method     string
	Threshold  float64
	Matched    bool
	Score      float64 // Best score (find only)
	X, Y       int
	Count      int // Number of locations (find_all only)
	Duration   time.Duration
}

// Helper functions to create common events

// NewFrameCapturedEvent creates a frame captured event
func NewFrameCapturedEvent(width, height, channels int, locked bool) Event {
	return Event{
		Type:      EventTypeFrameCaptured,
		Source:    "capture",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"width":    width,
			"height":   height,
			"channels": channels,
			"locked":   locked,
		},
	}
}

// NewCaptureFailedEvent creates a capture failed event
func NewCaptureFailedEvent(err error) Event {
	return Event{
		Type:      EventTypeCaptureFailed,
		Source:    "capture",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	}
}

// NewMatchCompletedEvent creates a match completed event. The full record is stored
// under "match"; flat keys are kept for log formatting.
func NewMatchCompletedEvent(m MatchCompleted) Event {
	return Event{
		Type:      EventTypeMatchCompleted,
		Source:    "locator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"match":       m,
			"session_id":  m.SessionID,
			"template_id": m.TemplateID,
			"operation":   m.Operation,
			"matched":     m.Matched,
			"score":       m.Score,
			"count":       m.Count,
		},
	}
}

// NewMatchDebugEvent carries an annotated frame for display
func NewMatchDebugEvent(title string, img image.Image) Event {
	return Event{
		Type:      EventTypeMatchDebug,
		Source:    "engine",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"title": title,
			"image": img,
		},
	}
}

// NewTemplateLoadedEvent creates a template loaded event
func NewTemplateLoadedEvent(templateID string, width, height int, hasAlpha bool) Event {
	return Event{
		Type:      EventTypeTemplateLoaded,
		Source:    "templates",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"template_id": templateID,
			"width":       width,
			"height":      height,
			"has_alpha":   hasAlpha,
		},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source, component string, err error, metadata map[string]interface{}) Event {
	data := map[string]interface{}{
		"component": component,
		"error":     err.Error(),
	}

	for k, v := range metadata {
		data[k] = v
	}

	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

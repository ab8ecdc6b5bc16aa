package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jordanella.com/screen-locator/internal/events"
)

// EventLogger subscribes to the event bus and writes every event to a log file
type EventLogger struct {
	logger         *Logger
	eventBus       events.EventBus
	subscriptionID events.SubscriptionID
	logFile        *os.File
	path           string
}

// NewEventLogger creates a new event logger writing to a timestamped file in logDir
func NewEventLogger(eventBus events.EventBus, logDir string) (*EventLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, fmt.Sprintf("events_%s.log", timestamp))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := NewLogger("EventLogger").SetOutput(logFile).SetMinLevel(LogLevelDebug)

	el := &EventLogger{
		logger:   logger,
		eventBus: eventBus,
		logFile:  logFile,
		path:     logPath,
	}
	el.subscriptionID = eventBus.Subscribe(events.EventTypeAll, el.handleEvent)

	return el, nil
}

// Path returns the file the events are written to
func (el *EventLogger) Path() string {
	return el.path
}

// handleEvent handles incoming events and logs them
func (el *EventLogger) handleEvent(event events.Event) {
	context := map[string]interface{}{
		"event_type": string(event.Type),
		"source":     event.Source,
	}

	for k, v := range event.Data {
		switch k {
		case "image", "match":
			// Frames and the nested record duplicate the flat keys
			continue
		}
		context[k] = v
	}

	switch event.Type {
	case events.EventTypeCaptureFailed, events.EventTypeError:
		el.logger.WarnWithContext(fmt.Sprintf("Event: %s", event.Type), context)
	default:
		el.logger.InfoWithContext(fmt.Sprintf("Event: %s", event.Type), context)
	}
}

// Close unsubscribes and closes the log file
func (el *EventLogger) Close() error {
	el.eventBus.Unsubscribe(el.subscriptionID)
	if el.logFile != nil {
		return el.logFile.Close()
	}
	return nil
}

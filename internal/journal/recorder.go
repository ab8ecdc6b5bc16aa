package journal

import (
	"sync/atomic"

	"jordanella.com/screen-locator/internal/events"
	"jordanella.com/screen-locator/internal/logging"
)

// Recorder writes every match.completed event to the journal
type Recorder struct {
	db             *DB
	eventBus       events.EventBus
	subscriptionID events.SubscriptionID
	logger         *logging.Logger

	recorded atomic.Int64
	failed   atomic.Int64
}

// NewRecorder subscribes a recorder to the bus
func NewRecorder(db *DB, eventBus events.EventBus) *Recorder {
	r := &Recorder{
		db:       db,
		eventBus: eventBus,
		logger:   logging.NewLogger("journal.recorder"),
	}
	r.subscriptionID = eventBus.Subscribe(events.EventTypeMatchCompleted, r.handleEvent)
	return r
}

func (r *Recorder) handleEvent(event events.Event) {
	m, ok := event.Data["match"].(events.MatchCompleted)
	if !ok {
		r.logger.Warn("match.completed event without a match record")
		return
	}

	rec := &MatchRecord{
		SessionID:  m.SessionID,
		TemplateID: m.TemplateID,
		Operation:  m.Operation,
		Method:     m.Method,
		Threshold:  m.Threshold,
		Matched:    m.Matched,
		X:          m.X,
		Y:          m.Y,
		Count:      m.Count,
		Duration:   m.Duration,
		RecordedAt: event.Timestamp,
	}
	if m.Operation == "find" {
		score := m.Score
		rec.Score = &score
	}

	if _, err := r.db.InsertMatch(rec); err != nil {
		r.failed.Add(1)
		r.logger.ErrorWithContext("failed to record match", err, map[string]interface{}{
			"template": m.TemplateID,
		})
		return
	}
	r.recorded.Add(1)
}

// Recorded returns how many events were stored and how many failed
func (r *Recorder) Recorded() (stored, failed int64) {
	return r.recorded.Load(), r.failed.Load()
}

// Close stops recording. The database stays open.
func (r *Recorder) Close() {
	r.eventBus.Unsubscribe(r.subscriptionID)
}

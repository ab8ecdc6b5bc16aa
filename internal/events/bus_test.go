package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesTypedAndWildcardSubscribers(t *testing.T) {
	bus := NewEventBus(8)

	var typed, all atomic.Int32
	bus.Subscribe(EventTypeFrameCaptured, func(Event) { typed.Add(1) })
	bus.Subscribe(EventTypeAll, func(Event) { all.Add(1) })

	bus.Publish(NewFrameCapturedEvent(10, 10, 3, false))
	bus.Publish(NewCaptureFailedEvent(errors.New("gone")))
	bus.Stop()

	assert.Equal(t, int32(1), typed.Load())
	assert.Equal(t, int32(2), all.Load())
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(8)

	var calls atomic.Int32
	id := bus.Subscribe(EventTypeError, func(Event) { calls.Add(1) })
	assert.Equal(t, 1, bus.SubscriberCount(EventTypeError))

	bus.Unsubscribe(id)
	assert.Equal(t, 0, bus.SubscriberCount(EventTypeError))

	bus.Publish(NewErrorEvent("test", "bus", errors.New("x"), nil))
	bus.Stop()
	assert.Equal(t, int32(0), calls.Load())
}

func TestHandlerPanicDoesNotStopBus(t *testing.T) {
	bus := NewEventBus(8)

	var mu sync.Mutex
	var seen []EventType
	bus.Subscribe(EventTypeMatchCompleted, func(Event) { panic("handler bug") })
	bus.Subscribe(EventTypeAll, func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	bus.Publish(NewMatchCompletedEvent(MatchCompleted{TemplateID: "a"}))
	bus.Publish(NewTemplateLoadedEvent("a", 1, 1, false))
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []EventType{EventTypeMatchCompleted, EventTypeTemplateLoaded}, seen)
}

func TestStopIsIdempotentAndDropsLatePublishes(t *testing.T) {
	bus := NewEventBus(1)

	var calls atomic.Int32
	bus.Subscribe(EventTypeAll, func(Event) { calls.Add(1) })

	bus.Stop()
	bus.Stop()

	done := make(chan struct{})
	go func() {
		bus.Publish(NewFrameCapturedEvent(1, 1, 3, false))
		bus.Publish(NewFrameCapturedEvent(1, 1, 3, false))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stopped bus")
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestMatchCompletedEventCarriesRecord(t *testing.T) {
	m := MatchCompleted{SessionID: "s", TemplateID: "ok", Operation: "find", Matched: true, Score: 0.97, X: 4, Y: 5}
	e := NewMatchCompletedEvent(m)

	require.Equal(t, EventTypeMatchCompleted, e.Type)
	assert.Equal(t, m, e.Data["match"])
	assert.Equal(t, "ok", e.Data["template_id"])
	assert.Equal(t, true, e.Data["matched"])
}

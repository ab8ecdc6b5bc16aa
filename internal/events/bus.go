package events

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// subscription represents a single event subscription
type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// DefaultEventBus is the default implementation of EventBus. Handlers run on their own
// goroutines, so publishers never wait on subscribers.
type DefaultEventBus struct {
	// Subscriber management
	subscribers map[EventType][]subscription
	mu          sync.RWMutex

	// Event queue
	eventQueue chan Event
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	handlers   sync.WaitGroup

	// Subscription ID generator
	nextSubID SubscriptionID
	subMu     sync.Mutex
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *DefaultEventBus {
	bus := &DefaultEventBus{
		subscribers: make(map[EventType][]subscription),
		eventQueue:  make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
		nextSubID:   1,
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type. EventTypeAll receives every
// event.
func (eb *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subMu.Lock()
	subID := eb.nextSubID
	eb.nextSubID++
	eb.subMu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{
		id:      subID,
		handler: handler,
	})

	return subID
}

// Unsubscribe removes a subscription by ID
func (eb *DefaultEventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for eventType, subs := range eb.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				eb.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish queues an event, blocking while the queue is full
func (eb *DefaultEventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-eb.stopCh:
		fmt.Fprintf(os.Stderr, "[EventBus] Dropped event (bus stopped): %v\n", event.Type)
		return
	default:
	}

	select {
	case eb.eventQueue <- event:
	case <-eb.stopCh:
		fmt.Fprintf(os.Stderr, "[EventBus] Dropped event (bus stopped): %v\n", event.Type)
	}
}

// PublishAsync sends an event asynchronously (non-blocking)
func (eb *DefaultEventBus) PublishAsync(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	go eb.Publish(event)
}

// Stop stops the event bus, drains queued events and waits for running handlers
func (eb *DefaultEventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.stopCh)
	})
	eb.wg.Wait()
	eb.handlers.Wait()
}

// processEvents runs in a goroutine and dispatches events to handlers
func (eb *DefaultEventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.eventQueue:
			eb.dispatch(event)

		case <-eb.stopCh:
			// Drain remaining events before stopping
			for {
				select {
				case event := <-eb.eventQueue:
					eb.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

// dispatch sends an event to all registered handlers
func (eb *DefaultEventBus) dispatch(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.Type]
	all := eb.subscribers[EventTypeAll]
	if len(subs)+len(all) == 0 {
		eb.mu.RUnlock()
		return
	}

	// Copy handlers to avoid holding the lock during dispatch
	handlers := make([]EventHandler, 0, len(subs)+len(all))
	for _, sub := range subs {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range all {
		handlers = append(handlers, sub.handler)
	}
	eb.mu.RUnlock()

	for _, handler := range handlers {
		eb.handlers.Add(1)
		go eb.safeHandlerCall(handler, event)
	}
}

// safeHandlerCall calls a handler with panic recovery
func (eb *DefaultEventBus) safeHandlerCall(handler EventHandler, event Event) {
	defer eb.handlers.Done()
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "[EventBus] Handler panic for event %v: %v\n", event.Type, r)
		}
	}()

	handler(event)
}

// SubscriberCount returns the number of subscribers for an event type
func (eb *DefaultEventBus) SubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return len(eb.subscribers[eventType])
}

// QueueSize returns the current number of events in the queue
func (eb *DefaultEventBus) QueueSize() int {
	return len(eb.eventQueue)
}

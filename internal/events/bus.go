package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the gateway
type EventType string

const (
	EventBreakerTripped   EventType = "BREAKER_TRIPPED"
	EventBreakerRecovered EventType = "BREAKER_RECOVERED"
	EventPushSucceeded    EventType = "PUSH_SUCCEEDED"
	EventPushFailed       EventType = "PUSH_FAILED"
	EventPushReplayed     EventType = "PUSH_REPLAYED"
)

// Event represents a gateway event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishBreakerTripped publishes a breaker trip with its reason
func (eb *EventBus) PublishBreakerTripped(reason string) {
	eb.Publish(Event{
		Type: EventBreakerTripped,
		Data: map[string]interface{}{
			"state":  "open",
			"reason": reason,
		},
	})
}

// PublishBreakerRecovered publishes a breaker close
func (eb *EventBus) PublishBreakerRecovered() {
	eb.Publish(Event{
		Type: EventBreakerRecovered,
		Data: map[string]interface{}{
			"state": "closed",
		},
	})
}

// PublishPushOutcome publishes a terminal push outcome
func (eb *EventBus) PublishPushOutcome(eventType EventType, channel, messageID, errMsg string) {
	data := map[string]interface{}{
		"channel": channel,
	}
	if messageID != "" {
		data["message_id"] = messageID
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	eb.Publish(Event{Type: eventType, Data: data})
}

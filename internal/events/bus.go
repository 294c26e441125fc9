package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTurnAppended      EventType = "TURN_APPENDED"
	EventPhaseChanged      EventType = "PHASE_CHANGED"
	EventImageAccepted     EventType = "IMAGE_ACCEPTED"
	EventSessionReset      EventType = "SESSION_RESET"
	EventAnalysisCompleted EventType = "ANALYSIS_COMPLETED"
	EventOrderPlaced       EventType = "ORDER_PLACED"
	EventUsageRecorded     EventType = "USAGE_RECORDED"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
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
	streams     map[int]*stream
	nextID      int
}

// stream delivers events for one session in publish order
type stream struct {
	sessionID string
	ch        chan Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
		streams:     make(map[int]*stream),
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

// SubscribeSession returns an ordered channel of the session's events and a
// cancel func. Events are dropped for a stream whose buffer is full.
func (eb *EventBus) SubscribeSession(sessionID string, buffer int) (<-chan Event, func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	s := &stream{sessionID: sessionID, ch: make(chan Event, buffer)}
	eb.streams[id] = s

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.streams, id)
			eb.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
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

	for _, s := range eb.streams {
		if s.sessionID != event.SessionID {
			continue
		}
		select {
		case s.ch <- event:
		default:
		}
	}
}

// PublishTurn publishes an appended conversation turn
func (eb *EventBus) PublishTurn(sessionID, role, text string, imageIndex *int) {
	data := map[string]interface{}{
		"role": role,
		"text": text,
	}
	if imageIndex != nil {
		data["image_index"] = *imageIndex
	}
	eb.Publish(Event{Type: EventTurnAppended, SessionID: sessionID, Data: data})
}

// PublishPhase publishes a phase transition
func (eb *EventBus) PublishPhase(sessionID, from, to string) {
	eb.Publish(Event{
		Type:      EventPhaseChanged,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishUsage publishes a recorded model usage
func (eb *EventBus) PublishUsage(sessionID, kind string, tokens int) {
	eb.Publish(Event{
		Type:      EventUsageRecorded,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"kind":   kind,
			"tokens": tokens,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(sessionID, source, message string) {
	eb.Publish(Event{
		Type:      EventError,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}

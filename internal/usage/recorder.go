package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/logging"
	"trade-setup-assistant/internal/metrics"
)

// Kind distinguishes guided turns from the final analysis call
type Kind string

const (
	KindGuided   Kind = "guided"
	KindAnalysis Kind = "analysis"
)

// Event is one successful model round trip
type Event struct {
	SessionID string    `json:"sessionId"`
	Kind      Kind      `json:"kind"`
	Model     string    `json:"model"`
	Tokens    int       `json:"tokens"`
	At        time.Time `json:"at"`
}

// Recorder receives usage after every successful model call. Failed
// calls report nothing.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// LogRecorder writes usage to the structured log and metrics
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, e Event) error {
	metrics.ObserveModelCall(string(e.Kind), e.Tokens, nil)
	logging.FromContext(ctx).WithComponent("usage").Info("Model usage",
		"session_id", e.SessionID, "kind", e.Kind, "model", e.Model, "tokens", e.Tokens)
	return nil
}

// BusRecorder republishes usage on the event bus
type BusRecorder struct {
	Bus *events.EventBus
}

func (b BusRecorder) Record(ctx context.Context, e Event) error {
	if b.Bus != nil {
		b.Bus.PublishUsage(e.SessionID, string(e.Kind), e.Tokens)
	}
	return nil
}

// MemoryRecorder keeps events in memory
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryRecorder) Record(ctx context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything recorded
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Total sums tokens, optionally for one session ("" for all)
func (m *MemoryRecorder) Total(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, e := range m.events {
		if sessionID == "" || e.SessionID == sessionID {
			total += e.Tokens
		}
	}
	return total
}

// Multi fans out to several recorders and joins their errors
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Report stamps and records an event. Recorder errors are logged, never
// returned, so metering can't fail a model turn.
func Report(ctx context.Context, r Recorder, e Event) {
	if r == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := r.Record(ctx, e); err != nil {
		logging.FromContext(ctx).WithComponent("usage").Warn("Failed to record usage", "error", err)
	}
}

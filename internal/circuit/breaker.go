package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker blocks order placement
var ErrOpen = errors.New("circuit breaker open")

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Placement halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled                bool `json:"enabled"`
	MaxConsecutiveFailures int  `json:"max_consecutive_failures"` // Venue rejections in a row
	CooldownSeconds        int  `json:"cooldown_seconds"`         // Cooldown after trip
	MaxOrdersPerMinute     int  `json:"max_orders_per_minute"`    // Rate limit
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		MaxConsecutiveFailures: 3,
		CooldownSeconds:        300,
		MaxOrdersPerMinute:     10,
	}
}

// Breaker halts order placement after repeated venue rejections or a burst
// of orders. After the cooldown one attempt is let through (half-open); its
// outcome closes or re-opens the breaker.
type Breaker struct {
	config              Config
	state               BreakerState
	consecutiveFailures int
	ordersLastMinute    int
	minuteResetTime     time.Time
	lastTripTime        time.Time
	tripReason          string
	probing             bool
	onTrip              func(reason string)
	now                 func() time.Time
	mu                  sync.Mutex
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config) *Breaker {
	b := &Breaker{config: cfg, state: StateClosed, now: time.Now}
	b.minuteResetTime = b.now().Add(time.Minute)
	return b
}

// OnTrip sets callback for when breaker trips
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// Allow reports whether an order may be placed now and, if so, counts it
// against the per-minute limit.
func (b *Breaker) Allow() error {
	if !b.config.Enabled {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.After(b.minuteResetTime) {
		b.ordersLastMinute = 0
		b.minuteResetTime = now.Add(time.Minute)
	}

	switch b.state {
	case StateOpen:
		cooldown := time.Duration(b.config.CooldownSeconds) * time.Second
		if elapsed := now.Sub(b.lastTripTime); elapsed < cooldown {
			return fmt.Errorf("%w, cooldown remaining %v (reason: %s)",
				ErrOpen, (cooldown - elapsed).Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
		b.probing = false
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%w, recovery attempt in flight", ErrOpen)
		}
	}

	if b.config.MaxOrdersPerMinute > 0 && b.ordersLastMinute >= b.config.MaxOrdersPerMinute {
		return fmt.Errorf("%w, rate limit reached: %d orders/minute", ErrOpen, b.ordersLastMinute)
	}

	b.ordersLastMinute++
	if b.state == StateHalfOpen {
		b.probing = true
	}
	return nil
}

// RecordSuccess closes the breaker and clears the failure streak
func (b *Breaker) RecordSuccess() {
	if !b.config.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = StateClosed
	b.probing = false
	b.tripReason = ""
}

// RecordFailure counts a venue rejection and trips the breaker when the
// streak reaches the limit. A failed half-open attempt re-opens it at once.
func (b *Breaker) RecordFailure(cause error) {
	if !b.config.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	switch {
	case b.state == StateHalfOpen:
		b.trip(fmt.Sprintf("recovery attempt failed: %v", cause))
	case b.config.MaxConsecutiveFailures > 0 && b.consecutiveFailures >= b.config.MaxConsecutiveFailures:
		b.trip(fmt.Sprintf("%d consecutive rejections, last: %v", b.consecutiveFailures, cause))
	}
}

func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.probing = false
	b.lastTripTime = b.now()
	b.tripReason = reason
	if b.onTrip != nil {
		go b.onTrip(reason)
	}
}

// Reset manually closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.probing = false
	b.tripReason = ""
}

// State returns current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns current statistics
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"enabled":              b.config.Enabled,
		"state":                string(b.state),
		"consecutive_failures": b.consecutiveFailures,
		"orders_last_minute":   b.ordersLastMinute,
		"trip_reason":          b.tripReason,
		"last_trip_time":       b.lastTripTime,
	}
}

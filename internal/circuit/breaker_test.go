package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *clock) {
	clk := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(cfg)
	b.now = clk.now
	b.minuteResetTime = clk.t.Add(time.Minute)
	return b, clk
}

var rejected = errors.New("insufficient balance")

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{Enabled: true, MaxConsecutiveFailures: 2, CooldownSeconds: 60})

	require.NoError(t, b.Allow())
	b.RecordFailure(rejected)
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.RecordFailure(rejected)
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestSuccessClearsStreak(t *testing.T) {
	b, _ := newTestBreaker(Config{Enabled: true, MaxConsecutiveFailures: 2, CooldownSeconds: 60})

	b.RecordFailure(rejected)
	b.RecordSuccess()
	b.RecordFailure(rejected)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(Config{Enabled: true, MaxConsecutiveFailures: 1, CooldownSeconds: 60})

	b.RecordFailure(rejected)
	require.ErrorIs(t, b.Allow(), ErrOpen)

	clk.advance(61 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen, "second attempt while probing")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestFailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(Config{Enabled: true, MaxConsecutiveFailures: 3, CooldownSeconds: 60})

	for i := 0; i < 3; i++ {
		b.RecordFailure(rejected)
	}
	clk.advance(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordFailure(rejected)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestRateLimit(t *testing.T) {
	b, clk := newTestBreaker(Config{Enabled: true, MaxOrdersPerMinute: 2})

	require.NoError(t, b.Allow())
	require.NoError(t, b.Allow())
	err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, StateClosed, b.State(), "rate limiting does not trip")

	clk.advance(61 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestDisabledNeverBlocks(t *testing.T) {
	b, _ := newTestBreaker(Config{Enabled: false, MaxConsecutiveFailures: 1, MaxOrdersPerMinute: 1})
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure(rejected)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestResetAndTripCallback(t *testing.T) {
	b, _ := newTestBreaker(Config{Enabled: true, MaxConsecutiveFailures: 1, CooldownSeconds: 600})
	tripped := make(chan string, 1)
	b.OnTrip(func(reason string) { tripped <- reason })

	b.RecordFailure(rejected)
	select {
	case reason := <-tripped:
		assert.Contains(t, reason, "1 consecutive rejections")
	case <-time.After(time.Second):
		t.Fatal("trip callback not called")
	}

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
	assert.Equal(t, 0, b.Stats()["consecutive_failures"])
}

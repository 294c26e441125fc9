package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenStore fails every call like a degraded Redis
type brokenStore struct{}

func (brokenStore) Put(ctx context.Context, s Series) error           { return ErrUnavailable }
func (brokenStore) Get(ctx context.Context, n string) (*Series, error) { return nil, ErrUnavailable }
func (brokenStore) List(ctx context.Context) ([]Series, error)         { return nil, ErrUnavailable }
func (brokenStore) Delete(ctx context.Context, n string) error         { return ErrUnavailable }

func sampleSeries(name string, closes ...float64) Series {
	s := Series{Name: name, Symbol: "BTCUSDT", Interval: "1h"}
	for i, c := range closes {
		s.Candles = append(s.Candles, Candle{Time: int64(i+1) * 3600000, Open: c, High: c, Low: c, Close: c})
	}
	return s
}

func TestSeriesLastIsChronological(t *testing.T) {
	s := Series{Name: "x", Candles: []Candle{
		{Time: 3000, Close: 3},
		{Time: 1000, Close: 1},
		{Time: 2000, Close: 2},
	}}
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 3.0, last.Close)

	_, ok = (&Series{Name: "empty"}).Last()
	assert.False(t, ok)
}

func TestSeriesValidate(t *testing.T) {
	assert.Error(t, (&Series{}).Validate())
	assert.Error(t, (&Series{Name: "x", Candles: []Candle{{Time: 0, Close: 1}}}).Validate())
	assert.NoError(t, (&Series{Name: "x"}).Validate())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Put(ctx, sampleSeries("b", 1, 2)))
	require.NoError(t, m.Put(ctx, sampleSeries("a", 5)))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSeriesNotFound)

	require.NoError(t, m.Delete(ctx, "a"))
	assert.ErrorIs(t, m.Delete(ctx, "a"), ErrSeriesNotFound)
}

func TestFallbackStoreDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	f := NewFallbackStore(brokenStore{})

	require.NoError(t, f.Put(ctx, sampleSeries("btc-1h", 100, 101)))

	got, err := f.Get(ctx, "btc-1h")
	require.NoError(t, err)
	assert.Len(t, got.Candles, 2)

	list, err := f.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.Delete(ctx, "btc-1h"))
	assert.True(t, errors.Is(f.Delete(ctx, "btc-1h"), ErrSeriesNotFound))
}

func TestSelectKeepsOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put(ctx, sampleSeries("a", 1))
	m.Put(ctx, sampleSeries("b", 2))

	got, err := Select(ctx, m, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, "b", got[0].Name)

	_, err = Select(ctx, m, []string{"a", "zzz"})
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trade-setup-assistant/internal/logging"
)

// ErrSeriesNotFound is returned for an unknown series name
var ErrSeriesNotFound = errors.New("series not found")

// Candle is one OHLCV bar. Time is the open time in milliseconds.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Series is a named cached candle set
type Series struct {
	Name     string   `json:"name"`
	Symbol   string   `json:"symbol"`
	Interval string   `json:"interval"`
	Candles  []Candle `json:"candles"`
}

// Validate checks the series has a name and well-formed candles
func (s *Series) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("series name is required")
	}
	for i, c := range s.Candles {
		if c.Time <= 0 {
			return fmt.Errorf("candle %d: time must be positive", i)
		}
		if c.Close <= 0 {
			return fmt.Errorf("candle %d: close must be positive", i)
		}
	}
	return nil
}

// Last returns the chronologically latest candle, regardless of slice order
func (s *Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	last := s.Candles[0]
	for _, c := range s.Candles[1:] {
		if c.Time > last.Time {
			last = c
		}
	}
	return last, true
}

// SeriesStore persists candle series by name
type SeriesStore interface {
	Put(ctx context.Context, s Series) error
	Get(ctx context.Context, name string) (*Series, error)
	List(ctx context.Context) ([]Series, error)
	Delete(ctx context.Context, name string) error
}

// MemoryStore keeps series in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string]Series
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[string]Series)}
}

func (m *MemoryStore) Put(ctx context.Context, s Series) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[s.Name] = s
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, name string) (*Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[name]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	return &s, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Series, 0, len(m.series))
	for _, s := range m.series {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[name]; !ok {
		return ErrSeriesNotFound
	}
	delete(m.series, name)
	return nil
}

// Key layout
const (
	PrefixSeries   = "series:%s"
	SeriesIndexKey = "series:index"
)

// SeriesKey generates a cache key for a series
func SeriesKey(name string) string {
	return fmt.Sprintf(PrefixSeries, name)
}

// RedisStore keeps series as JSON values plus a name index set
type RedisStore struct {
	cs  *CacheService
	ttl time.Duration
}

func NewRedisStore(cs *CacheService, ttl time.Duration) *RedisStore {
	return &RedisStore{cs: cs, ttl: ttl}
}

func (r *RedisStore) Put(ctx context.Context, s Series) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal series: %w", err)
	}
	if err := r.cs.Set(ctx, SeriesKey(s.Name), data, r.ttl); err != nil {
		return err
	}
	return r.cs.AddToSet(ctx, SeriesIndexKey, s.Name)
}

func (r *RedisStore) Get(ctx context.Context, name string) (*Series, error) {
	data, err := r.cs.Get(ctx, SeriesKey(name))
	if errors.Is(err, redis.Nil) {
		return nil, ErrSeriesNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Series
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached series: %w", err)
	}
	return &s, nil
}

// List returns every indexed series, dropping index entries whose value expired
func (r *RedisStore) List(ctx context.Context) ([]Series, error) {
	names, err := r.cs.Members(ctx, SeriesIndexKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Series, 0, len(names))
	for _, name := range names {
		s, err := r.Get(ctx, name)
		if errors.Is(err, ErrSeriesNotFound) {
			r.cs.RemoveFromSet(ctx, SeriesIndexKey, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *RedisStore) Delete(ctx context.Context, name string) error {
	if _, err := r.Get(ctx, name); err != nil {
		return err
	}
	if err := r.cs.Delete(ctx, SeriesKey(name)); err != nil {
		return err
	}
	return r.cs.RemoveFromSet(ctx, SeriesIndexKey, name)
}

// FallbackStore writes through to both stores and reads from the primary,
// falling back to memory whenever the primary errors
type FallbackStore struct {
	primary SeriesStore
	memory  *MemoryStore
}

func NewFallbackStore(primary SeriesStore) *FallbackStore {
	return &FallbackStore{primary: primary, memory: NewMemoryStore()}
}

func (f *FallbackStore) Put(ctx context.Context, s Series) error {
	if err := f.memory.Put(ctx, s); err != nil {
		return err
	}
	if err := f.primary.Put(ctx, s); err != nil {
		logging.WithComponent("cache").Warn("Series write fell back to memory", "series", s.Name, "error", err)
	}
	return nil
}

func (f *FallbackStore) Get(ctx context.Context, name string) (*Series, error) {
	s, err := f.primary.Get(ctx, name)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSeriesNotFound) {
		logging.WithComponent("cache").Warn("Series read fell back to memory", "series", name, "error", err)
	}
	return f.memory.Get(ctx, name)
}

func (f *FallbackStore) List(ctx context.Context) ([]Series, error) {
	list, err := f.primary.List(ctx)
	if err != nil {
		logging.WithComponent("cache").Warn("Series list fell back to memory", "error", err)
		return f.memory.List(ctx)
	}
	return list, nil
}

func (f *FallbackStore) Delete(ctx context.Context, name string) error {
	memErr := f.memory.Delete(ctx, name)
	primErr := f.primary.Delete(ctx, name)
	if memErr != nil && primErr != nil {
		return ErrSeriesNotFound
	}
	return nil
}

// Select resolves names to series, in the order given
func Select(ctx context.Context, store SeriesStore, names []string) ([]Series, error) {
	out := make([]Series, 0, len(names))
	for _, n := range names {
		s, err := store.Get(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", n, err)
		}
		out = append(out, *s)
	}
	return out, nil
}

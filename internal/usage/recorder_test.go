package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, e Event) error {
	return errors.New("db down")
}

func TestMultiRecordsEverywhereAndJoinsErrors(t *testing.T) {
	mem := &MemoryRecorder{}
	m := Multi{mem, failingRecorder{}, nil, LogRecorder{}}

	err := m.Record(context.Background(), Event{SessionID: "s1", Kind: KindGuided, Tokens: 10})
	assert.ErrorContains(t, err, "db down")
	assert.Len(t, mem.Events(), 1)
}

func TestReportStampsTimeAndSwallowsErrors(t *testing.T) {
	mem := &MemoryRecorder{}
	Report(context.Background(), Multi{mem, failingRecorder{}}, Event{SessionID: "s1", Kind: KindAnalysis, Tokens: 7})
	Report(context.Background(), nil, Event{})

	got := mem.Events()
	assert.Len(t, got, 1)
	assert.False(t, got[0].At.IsZero())
}

func TestMemoryTotal(t *testing.T) {
	mem := &MemoryRecorder{}
	ctx := context.Background()
	mem.Record(ctx, Event{SessionID: "a", Tokens: 5})
	mem.Record(ctx, Event{SessionID: "b", Tokens: 7})
	mem.Record(ctx, Event{SessionID: "a", Tokens: 1})

	assert.Equal(t, 6, mem.Total("a"))
	assert.Equal(t, 13, mem.Total(""))
}

package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-setup-assistant/internal/ai/llm"
	"trade-setup-assistant/internal/cache"
	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/media"
	"trade-setup-assistant/internal/risk"
	"trade-setup-assistant/internal/strategy"
	"trade-setup-assistant/internal/usage"
)

// countingModel records every Generate call
type countingModel struct {
	mu     sync.Mutex
	calls  int
	system string
	parts  []llm.Part
	reply  *llm.Reply
	err    error
}

func (c *countingModel) Name() string { return "counting" }

func (c *countingModel) StartChat(ctx context.Context, system string) (llm.ChatSession, error) {
	return nil, errors.New("not used")
}

func (c *countingModel) Generate(ctx context.Context, system string, parts []llm.Part) (*llm.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.system = system
	c.parts = parts
	if c.err != nil {
		return nil, c.err
	}
	return c.reply, nil
}

func pngImage(t *testing.T) *media.Image {
	t.Helper()
	img, err := media.FromBytes(append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 16)...))
	require.NoError(t, err)
	return img
}

func baseRequest() Request {
	return Request{
		SessionID:  "sess-1",
		Strategies: []strategy.Strategy{{Name: "Breakout", Logic: "Trade retests."}},
		Risk:       risk.Parameters{RiskPercentagePerTrade: 1, MinRiskRewardRatio: 2},
	}
}

func TestDispatchNoContextFailsFast(t *testing.T) {
	model := &countingModel{reply: &llm.Reply{Text: validResult}}
	rec := &usage.MemoryRecorder{}
	d := NewDispatcher(model, rec, nil, time.Second)

	_, err := d.Dispatch(context.Background(), baseRequest())
	assert.ErrorIs(t, err, ErrNoContext)
	assert.Equal(t, 0, model.calls)
	assert.Empty(t, rec.Events())
}

func TestDispatchWithImages(t *testing.T) {
	model := &countingModel{reply: &llm.Reply{Text: "```json\n" + validResult + "\n```", TokenUsage: 420}}
	rec := &usage.MemoryRecorder{}
	bus := events.NewEventBus()
	feed, cancel := bus.SubscribeSession("sess-1", 4)
	defer cancel()

	req := baseRequest()
	first, second := pngImage(t), pngImage(t)
	req.Images = []*media.Image{first, second}

	res, err := NewDispatcher(model, rec, bus, time.Second).Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 420, res.TokenUsage)
	assert.Len(t, res.TopLongs, 1)

	require.Equal(t, 1, model.calls)
	require.Len(t, model.parts, 2)
	assert.Same(t, first, model.parts[0].Image)
	assert.Same(t, second, model.parts[1].Image)
	assert.Contains(t, model.system, "Read the current price from the latest candle")
	assert.Contains(t, model.system, "Breakout")

	require.Len(t, rec.Events(), 1)
	assert.Equal(t, usage.KindAnalysis, rec.Events()[0].Kind)
	assert.Equal(t, 420, rec.Total("sess-1"))

	select {
	case ev := <-feed:
		assert.Equal(t, events.EventAnalysisCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no ANALYSIS_COMPLETED event")
	}
}

func TestDispatchSeriesOnlySendsPlaceholder(t *testing.T) {
	model := &countingModel{reply: &llm.Reply{Text: validResult}}
	req := baseRequest()
	req.Series = []cache.Series{{
		Name:    "btc-1h",
		Symbol:  "BTCUSDT",
		Candles: []cache.Candle{{Time: 1000, Close: 64000.5}},
	}}

	_, err := NewDispatcher(model, nil, nil, 0).Dispatch(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, model.parts, 1)
	assert.Equal(t, llm.PartText, model.parts[0].Kind)
	assert.Equal(t, llm.NoImagePlaceholder, model.parts[0].Text)
	assert.Contains(t, model.system, "64000.5")
	assert.Contains(t, model.system, "btc-1h")
}

func TestDispatchFailureReportsNoUsage(t *testing.T) {
	model := &countingModel{err: errors.New("upstream 503")}
	rec := &usage.MemoryRecorder{}
	req := baseRequest()
	req.Images = []*media.Image{pngImage(t)}

	_, err := NewDispatcher(model, rec, nil, time.Second).Dispatch(context.Background(), req)
	require.Error(t, err)
	assert.Empty(t, rec.Events())
}

func TestDispatchEmptyReplyIsCallFailure(t *testing.T) {
	model := &countingModel{}
	rec := &usage.MemoryRecorder{}
	req := baseRequest()
	req.Images = []*media.Image{pngImage(t)}

	_, err := NewDispatcher(model, rec, nil, time.Second).Dispatch(context.Background(), req)
	assert.ErrorIs(t, err, errEmptyReply)
	assert.Empty(t, rec.Events())
}

func TestDispatchRejectsBrokenContract(t *testing.T) {
	model := &countingModel{reply: &llm.Reply{Text: `{"Top Longs": []}`, TokenUsage: 10}}
	rec := &usage.MemoryRecorder{}
	req := baseRequest()
	req.Images = []*media.Image{pngImage(t)}

	_, err := NewDispatcher(model, rec, nil, time.Second).Dispatch(context.Background(), req)
	var resErr *ResultError
	require.True(t, errors.As(err, &resErr))

	// the call itself succeeded, so its tokens still count
	assert.Equal(t, 10, rec.Total("sess-1"))
}

func TestResolvePriceAnchor(t *testing.T) {
	const t1, t2, t3 = int64(1000), int64(2000), int64(3000)

	series := []cache.Series{
		{Name: "a", Candles: []cache.Candle{{Time: t1, Close: 10}}},
		{Name: "b", Candles: []cache.Candle{{Time: t3, Close: 30}, {Time: t1, Close: 11}}},
		{Name: "c", Candles: []cache.Candle{{Time: t2, Close: 20}}},
		{Name: "empty"},
	}

	anchor := ResolvePriceAnchor(series)
	require.NotNil(t, anchor)
	assert.Equal(t, 30.0, anchor.Price)
	assert.Equal(t, "b", anchor.Series)
	assert.Equal(t, t3, anchor.Time)

	assert.Nil(t, ResolvePriceAnchor(nil))
	assert.Nil(t, ResolvePriceAnchor([]cache.Series{{Name: "empty"}}))
}

package acquisition

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-setup-assistant/internal/ai/llm"
	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/strategy"
	"trade-setup-assistant/internal/usage"
)

var pngURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(
	append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 16)...))

// scriptedModel answers turns from a fixed script
type scriptedModel struct {
	mu      sync.Mutex
	replies []scripted
	calls   int
	gate    chan struct{} // when set, every turn waits on it
	systems []string
}

type scripted struct {
	text   string
	tokens int
	err    error
	empty  bool // reply and error both nil
}

func (s *scriptedModel) Name() string { return "scripted" }

func (s *scriptedModel) StartChat(ctx context.Context, system string) (llm.ChatSession, error) {
	s.mu.Lock()
	s.systems = append(s.systems, system)
	s.mu.Unlock()
	return s, nil
}

func (s *scriptedModel) Generate(ctx context.Context, system string, parts []llm.Part) (*llm.Reply, error) {
	return s.SendTurn(ctx, parts)
}

func (s *scriptedModel) SendTurn(ctx context.Context, parts []llm.Part) (*llm.Reply, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.replies) {
		return nil, errors.New("script exhausted")
	}
	r := s.replies[s.calls]
	s.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.empty {
		return nil, nil
	}
	return &llm.Reply{Text: r.text, TokenUsage: r.tokens}, nil
}

func (s *scriptedModel) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testCatalog() *strategy.Catalog {
	return strategy.NewCatalog(strategy.Strategy{Name: "Breakout", Logic: "Need 4h and 1h charts."})
}

func newTestMachine(model llm.Model, retain bool, rec usage.Recorder) *Machine {
	return NewMachine("sess-1", model, testCatalog(), Options{
		RetainRejectedImages: retain,
		TurnTimeout:          time.Second,
		Usage:                rec,
	})
}

func TestAcquisitionCompletion(t *testing.T) {
	model := &scriptedModel{replies: []scripted{
		{text: "Please upload the 4h chart.", tokens: 10},
		{text: "Good. Now the 1h chart.", tokens: 20},
		{text: "Now the 15m chart.", tokens: 20},
		{text: "  [ANALYSIS_READY]\n", tokens: 5},
	}}
	rec := &usage.MemoryRecorder{}
	m := newTestMachine(model, true, rec)

	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))
	assert.Equal(t, PhaseGathering, m.Phase())
	assert.Contains(t, model.systems[0], "Need 4h and 1h charts.")

	for i := 0; i < 2; i++ {
		outcome, err := m.Submit(context.Background(), pngURL)
		require.NoError(t, err)
		assert.Equal(t, OutcomeContinue, outcome)
	}
	outcome, err := m.Submit(context.Background(), pngURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	snap := m.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, 3, snap.Images)

	var indexes []int
	for _, turn := range snap.Turns {
		if turn.Role == RoleUser {
			require.NotNil(t, turn.ImageIndex)
			indexes = append(indexes, *turn.ImageIndex)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, indexes)
	assert.Equal(t, RoleInfo, snap.Turns[len(snap.Turns)-1].Role)

	assert.Len(t, rec.Events(), 4)
	assert.Equal(t, 55, rec.Total("sess-1"))
}

func TestRejectionStillKeepsImage(t *testing.T) {
	model := &scriptedModel{replies: []scripted{
		{text: "Upload the 4h chart."},
		{text: "That is a 1h chart, not 4h. Please upload the 4h chart."},
	}}
	m := newTestMachine(model, true, nil)
	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))

	outcome, err := m.Submit(context.Background(), pngURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, outcome)
	assert.Equal(t, PhaseGathering, m.Phase())
	assert.Len(t, m.Images(), 1, "rejected image stays in the collection")

	snap := m.Snapshot()
	last := snap.Turns[len(snap.Turns)-1]
	assert.Equal(t, RoleAI, last.Role)
	assert.Contains(t, last.Text, "not 4h")
}

func TestRejectionDroppedWhenRetentionDisabled(t *testing.T) {
	model := &scriptedModel{replies: []scripted{
		{text: "Upload the 4h chart."},
		{text: "Wrong timeframe."},
		{text: "[ANALYSIS_READY]"},
	}}
	m := newTestMachine(model, false, nil)
	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))

	m.Submit(context.Background(), pngURL)
	assert.Empty(t, m.Images())

	outcome, _ := m.Submit(context.Background(), pngURL)
	assert.Equal(t, OutcomeReady, outcome)
	require.Len(t, m.Images(), 1)

	snap := m.Snapshot()
	var idx []*int
	for _, turn := range snap.Turns {
		if turn.Role == RoleUser {
			idx = append(idx, turn.ImageIndex)
		}
	}
	require.Len(t, idx, 2)
	assert.Nil(t, idx[0])
	assert.Equal(t, 0, *idx[1], "index is the collection length at acceptance")
}

func TestSingleFlight(t *testing.T) {
	model := &scriptedModel{replies: []scripted{
		{text: "Upload the 4h chart."},
		{text: "Next chart please."},
	}}
	m := newTestMachine(model, true, nil)
	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))

	model.gate = make(chan struct{})
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := m.Submit(context.Background(), pngURL)
		done <- outcome
	}()

	require.Eventually(t, func() bool { return m.Phase() == PhaseValidating }, time.Second, time.Millisecond)

	outcome, err := m.Submit(context.Background(), pngURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, 0, len(m.Images()))

	close(model.gate)
	assert.Equal(t, OutcomeContinue, <-done)
	assert.Len(t, m.Images(), 1)
	assert.Equal(t, 2, model.callCount(), "the ignored submission made no model call")
}

func TestTransportErrorReturnsToGathering(t *testing.T) {
	model := &scriptedModel{replies: []scripted{
		{text: "Upload the 4h chart."},
		{err: errors.New("503 service unavailable")},
		{text: "Thanks, next one."},
	}}
	rec := &usage.MemoryRecorder{}
	m := newTestMachine(model, true, rec)
	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))

	outcome, err := m.Submit(context.Background(), pngURL)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorContains(t, err, "503")
	assert.Equal(t, PhaseGathering, m.Phase())
	assert.Empty(t, m.Images())

	snap := m.Snapshot()
	assert.Equal(t, RoleError, snap.Turns[len(snap.Turns)-1].Role)
	assert.Len(t, rec.Events(), 1, "failed calls report no usage")

	outcome, err = m.Submit(context.Background(), pngURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, outcome)
	assert.Len(t, m.Images(), 1)
}

func TestStartWithoutStrategyStaysIdle(t *testing.T) {
	model := &scriptedModel{}
	m := newTestMachine(model, true, nil)

	err := m.Start(context.Background(), []string{"Unknown"})
	assert.ErrorIs(t, err, strategy.ErrNoStrategy)
	assert.Equal(t, PhaseIdle, m.Phase())
	assert.Equal(t, 0, model.callCount())
}

func TestStartFailureReturnsToIdle(t *testing.T) {
	model := &scriptedModel{replies: []scripted{{err: errors.New("invalid api key")}}}
	m := newTestMachine(model, true, nil)

	err := m.Start(context.Background(), []string{"Breakout"})
	assert.Error(t, err)
	snap := m.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, RoleError, snap.Turns[0].Role)
}

func TestStartWithoutModel(t *testing.T) {
	m := NewMachine("s", nil, testCatalog(), Options{})
	assert.ErrorIs(t, m.Start(context.Background(), []string{"Breakout"}), ErrModelUnavailable)
}

func TestSubmitOutsideGathering(t *testing.T) {
	m := newTestMachine(&scriptedModel{}, true, nil)
	outcome, err := m.Submit(context.Background(), pngURL)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, ErrNotGathering)
}

func TestSubmitInvalidImageMakesNoCall(t *testing.T) {
	model := &scriptedModel{replies: []scripted{{text: "Upload the 4h chart."}}}
	m := newTestMachine(model, true, nil)
	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))

	outcome, err := m.Submit(context.Background(), "data:image/gif;base64,R0lGODlh")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Error(t, err)
	assert.Equal(t, PhaseGathering, m.Phase())
	assert.Equal(t, 1, model.callCount())
}

func TestPreloadAndReset(t *testing.T) {
	bus := events.NewEventBus()
	ch, cancel := bus.SubscribeSession("sess-1", 32)
	defer cancel()

	m := NewMachine("sess-1", &scriptedModel{}, testCatalog(), Options{Bus: bus})
	require.NoError(t, m.Preload([]string{pngURL, pngURL}))
	assert.Equal(t, PhaseReady, m.Phase())
	assert.Len(t, m.Images(), 2)

	assert.ErrorIs(t, m.Preload(nil), ErrNoImages)
	assert.Error(t, m.Preload([]string{"not a data url"}))
	assert.Len(t, m.Images(), 2, "failed preload leaves state untouched")

	require.NoError(t, m.Reset())
	assert.Equal(t, PhaseIdle, m.Phase())
	assert.Empty(t, m.Images())
	assert.Empty(t, m.Snapshot().Turns)

	var sawReady, sawReset bool
	for len(ch) > 0 {
		e := <-ch
		if e.Type == events.EventPhaseChanged && e.Data["to"] == "ready" {
			sawReady = true
		}
		if e.Type == events.EventSessionReset {
			sawReset = true
		}
	}
	assert.True(t, sawReady)
	assert.True(t, sawReset)
}

func TestRestartFromReady(t *testing.T) {
	model := &scriptedModel{replies: []scripted{
		{text: "Upload."},
		{text: "[ANALYSIS_READY]"},
		{text: "Upload again."},
	}}
	m := newTestMachine(model, true, nil)
	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))
	m.Submit(context.Background(), pngURL)
	require.Equal(t, PhaseReady, m.Phase())

	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))
	assert.Equal(t, PhaseGathering, m.Phase())
	assert.Empty(t, m.Images())
	assert.Len(t, model.systems, 2)
}

func TestEmptyReplyIsTurnFailure(t *testing.T) {
	model := &scriptedModel{replies: []scripted{
		{text: "Upload the 4h chart.", tokens: 5},
		{empty: true},
	}}
	rec := &usage.MemoryRecorder{}
	m := newTestMachine(model, true, rec)
	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))

	outcome, err := m.Submit(context.Background(), pngURL)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Equal(t, PhaseGathering, m.Phase())
	assert.Empty(t, m.Images())

	snap := m.Snapshot()
	assert.Equal(t, RoleError, snap.Turns[len(snap.Turns)-1].Role)
	assert.Len(t, rec.Events(), 1, "an empty reply reports no usage")
}

func TestEmptyStartReplyStaysIdle(t *testing.T) {
	m := newTestMachine(&scriptedModel{replies: []scripted{{empty: true}}}, true, nil)

	err := m.Start(context.Background(), []string{"Breakout"})
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestAnalysisLeaseBlocksSession(t *testing.T) {
	model := &scriptedModel{}
	m := newTestMachine(model, true, nil)
	require.NoError(t, m.Preload([]string{pngURL}))

	lease, err := m.BeginAnalysis()
	require.NoError(t, err)
	assert.Equal(t, PhaseAnalyzing, m.Phase())
	assert.Len(t, lease.Images, 1)
	assert.False(t, lease.Guided)

	_, err = m.BeginAnalysis()
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, m.Start(context.Background(), []string{"Breakout"}), ErrBusy)
	assert.ErrorIs(t, m.Preload([]string{pngURL}), ErrBusy)
	assert.ErrorIs(t, m.Reset(), ErrBusy)
	outcome, err := m.Submit(context.Background(), pngURL)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, ErrBusy)

	assert.Equal(t, 0, model.callCount())
	assert.Len(t, m.Images(), 1)

	lease.Release()
	lease.Release()
	assert.Equal(t, PhaseReady, m.Phase())

	again, err := m.BeginAnalysis()
	require.NoError(t, err)
	again.Release()
	require.NoError(t, m.Reset())
}

func TestBeginAnalysisRequiresFinishedAcquisition(t *testing.T) {
	model := &scriptedModel{replies: []scripted{{text: "Upload."}, {text: "Next."}}}
	m := newTestMachine(model, true, nil)

	idle, err := m.BeginAnalysis()
	require.NoError(t, err, "an idle session may analyze series alone")
	idle.Release()
	assert.Equal(t, PhaseIdle, m.Phase())

	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))
	_, err = m.BeginAnalysis()
	assert.ErrorIs(t, err, ErrNotReady)

	model.gate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.Submit(context.Background(), pngURL)
		close(done)
	}()
	require.Eventually(t, func() bool { return m.Phase() == PhaseValidating }, time.Second, time.Millisecond)
	_, err = m.BeginAnalysis()
	assert.ErrorIs(t, err, ErrBusy)

	close(model.gate)
	<-done
	assert.Equal(t, PhaseGathering, m.Phase())
}

func TestLeaseOverrideKeepsGuidedStrategies(t *testing.T) {
	model := &scriptedModel{replies: []scripted{{text: "Upload."}, {text: "[ANALYSIS_READY]"}}}
	m := newTestMachine(model, true, nil)
	require.NoError(t, m.Start(context.Background(), []string{"Breakout"}))
	outcome, err := m.Submit(context.Background(), pngURL)
	require.NoError(t, err)
	require.Equal(t, OutcomeReady, outcome)

	lease, err := m.BeginAnalysis()
	require.NoError(t, err)
	defer lease.Release()
	assert.True(t, lease.Guided)

	other := []strategy.Strategy{{Name: "Reversal", Logic: "Fade the extremes."}}
	assert.ErrorIs(t, lease.Override(other), ErrStrategyChanged)
	assert.Equal(t, "Breakout", lease.Strategies[0].Name)

	same, err := testCatalog().Resolve([]string{"Breakout"})
	require.NoError(t, err)
	assert.NoError(t, lease.Override(same))
}

func TestLeaseOverrideOnPreloadedImages(t *testing.T) {
	m := newTestMachine(&scriptedModel{}, true, nil)
	require.NoError(t, m.Preload([]string{pngURL}))

	lease, err := m.BeginAnalysis()
	require.NoError(t, err)
	defer lease.Release()

	assert.Empty(t, lease.Strategies)
	other := []strategy.Strategy{{Name: "Reversal", Logic: "Fade the extremes."}}
	require.NoError(t, lease.Override(other))
	assert.Equal(t, other, lease.Strategies)
}

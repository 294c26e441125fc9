package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"trade-setup-assistant/internal/ai/llm"
	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/logging"
	"trade-setup-assistant/internal/media"
	"trade-setup-assistant/internal/metrics"
	"trade-setup-assistant/internal/strategy"
	"trade-setup-assistant/internal/usage"
)

var (
	ErrNotGathering     = errors.New("session is not waiting for an image")
	ErrBusy             = errors.New("a model call is already in flight")
	ErrNotReady         = errors.New("acquisition is not complete")
	ErrSessionReset     = errors.New("session was reset while the turn was in flight")
	ErrNoImages         = errors.New("no images supplied")
	ErrModelUnavailable = errors.New("no model configured")
	ErrEmptyReply       = errors.New("model returned no reply")
	ErrStrategyChanged  = errors.New("images were gathered for other strategies; reset the session to change them")
)

// Phase is the acquisition state
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseGathering  Phase = "gathering"
	PhaseReady      Phase = "ready"
	PhaseAnalyzing  Phase = "analyzing"
)

// Role is who produced a turn
type Role string

const (
	RoleUser  Role = "user"
	RoleAI    Role = "ai"
	RoleInfo  Role = "info"
	RoleError Role = "error"
)

// Turn is one entry of the visible conversation
type Turn struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text,omitempty"`
	ImageIndex *int      `json:"imageIndex,omitempty"`
	At         time.Time `json:"at"`
}

// Outcome is the result of one Submit call
type Outcome string

const (
	// OutcomeContinue: image kept, model asked for more
	OutcomeContinue Outcome = "continue"
	// OutcomeReady: model signalled completion
	OutcomeReady Outcome = "ready"
	// OutcomeIgnored: a turn was already in flight, nothing changed
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed: image invalid or the model call failed
	OutcomeFailed Outcome = "failed"
)

const readyMessage = "All required charts received. Ready for analysis."

// Options configure a Machine
type Options struct {
	// RetainRejectedImages keeps an image even when the model's reply is
	// not the ready signal
	RetainRejectedImages bool
	TurnTimeout          time.Duration
	Usage                usage.Recorder
	Bus                  *events.EventBus
}

// Snapshot is a read-only view of a machine
type Snapshot struct {
	ID         string   `json:"id"`
	Phase      Phase    `json:"phase"`
	Strategies []string `json:"strategies"`
	Turns      []Turn   `json:"turns"`
	Images     int      `json:"images"`
}

// Machine drives one guided acquisition conversation. The mutex only
// protects memory; the validating and analyzing phases are what keep a
// single model call in flight, and the lock is never held across one.
type Machine struct {
	id      string
	model   llm.Model
	catalog *strategy.Catalog
	opts    Options

	mu         sync.Mutex
	phase      Phase
	epoch      uint64
	session    llm.ChatSession
	strategies []strategy.Strategy
	turns      []Turn
	images     []*media.Image
}

func NewMachine(id string, model llm.Model, catalog *strategy.Catalog, opts Options) *Machine {
	return &Machine{
		id:      id,
		model:   model,
		catalog: catalog,
		opts:    opts,
		phase:   PhaseIdle,
	}
}

func (m *Machine) ID() string {
	return m.id
}

// Phase returns the current phase
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Start resets the machine and opens a guided session for the selected
// strategies. Without a resolvable strategy it stays idle.
func (m *Machine) Start(ctx context.Context, strategyNames []string) error {
	m.mu.Lock()
	if m.busyLocked() {
		m.mu.Unlock()
		return ErrBusy
	}
	m.resetLocked()

	if m.model == nil {
		m.mu.Unlock()
		return ErrModelUnavailable
	}
	selected, err := m.catalog.Resolve(strategyNames)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.strategies = selected
	m.setPhaseLocked(PhaseValidating)
	epoch := m.epoch
	m.mu.Unlock()

	log := m.logger()
	session, reply, err := m.open(ctx, selected)
	if err != nil {
		log.Error("Failed to start guided session", "error", err)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.epoch == epoch {
			m.appendLocked(Turn{Role: RoleError, Text: err.Error()})
			m.setPhaseLocked(PhaseIdle)
		}
		return err
	}
	m.report(ctx, reply)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return ErrSessionReset
	}
	m.session = session
	m.appendLocked(Turn{Role: RoleAI, Text: reply.Text})
	m.setPhaseLocked(PhaseGathering)
	log.Info("Guided session started", "strategies", len(selected))
	return nil
}

func (m *Machine) open(ctx context.Context, selected []strategy.Strategy) (llm.ChatSession, *llm.Reply, error) {
	ctx, cancel := m.turnContext(ctx)
	defer cancel()

	session, err := m.model.StartChat(ctx, llm.GuidedSystemInstruction(selected))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open chat: %w", err)
	}
	reply, err := session.SendTurn(ctx, []llm.Part{llm.TextPart(llm.StartMessage)})
	if err == nil && reply == nil {
		err = ErrEmptyReply
	}
	if err != nil {
		return nil, nil, fmt.Errorf("start turn failed: %w", err)
	}
	return session, reply, nil
}

// Submit forwards one image to the open session. While a turn is in
// flight the call is ignored and changes nothing.
func (m *Machine) Submit(ctx context.Context, dataURL string) (Outcome, error) {
	m.mu.Lock()
	switch m.phase {
	case PhaseValidating:
		m.mu.Unlock()
		return OutcomeIgnored, nil
	case PhaseAnalyzing:
		m.mu.Unlock()
		return OutcomeFailed, ErrBusy
	case PhaseGathering:
	default:
		phase := m.phase
		m.mu.Unlock()
		return OutcomeFailed, fmt.Errorf("%w (phase %s)", ErrNotGathering, phase)
	}

	img, err := media.ParseDataURL(dataURL)
	if err != nil {
		m.mu.Unlock()
		return OutcomeFailed, err
	}

	userTurn := m.appendLocked(Turn{Role: RoleUser})
	m.setPhaseLocked(PhaseValidating)
	session, epoch := m.session, m.epoch
	m.mu.Unlock()

	turnCtx, cancel := m.turnContext(ctx)
	reply, err := session.SendTurn(turnCtx, []llm.Part{llm.ImagePart(img)})
	cancel()
	if err == nil && reply == nil {
		err = ErrEmptyReply
	}

	if err == nil {
		m.report(ctx, reply)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return OutcomeFailed, ErrSessionReset
	}

	if err != nil {
		m.appendLocked(Turn{Role: RoleError, Text: err.Error()})
		m.setPhaseLocked(PhaseGathering)
		logging.SessionContext(m.id, string(m.phase)).Warn("Image turn failed", "error", err)
		return OutcomeFailed, fmt.Errorf("image turn failed: %w", err)
	}

	if strings.TrimSpace(reply.Text) == llm.ReadySignal {
		m.acceptLocked(userTurn, img)
		m.appendLocked(Turn{Role: RoleInfo, Text: readyMessage})
		m.setPhaseLocked(PhaseReady)
		return OutcomeReady, nil
	}

	if m.opts.RetainRejectedImages {
		m.acceptLocked(userTurn, img)
	}
	m.appendLocked(Turn{Role: RoleAI, Text: reply.Text})
	m.setPhaseLocked(PhaseGathering)
	return OutcomeContinue, nil
}

// Preload installs externally supplied images and moves straight to ready
func (m *Machine) Preload(dataURLs []string) error {
	if len(dataURLs) == 0 {
		return ErrNoImages
	}
	imgs := make([]*media.Image, 0, len(dataURLs))
	for i, u := range dataURLs {
		img, err := media.ParseDataURL(u)
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		imgs = append(imgs, img)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyLocked() {
		return ErrBusy
	}
	m.resetLocked()
	for _, img := range imgs {
		idx := len(m.images)
		m.images = append(m.images, img)
		m.appendLocked(Turn{Role: RoleUser, ImageIndex: &idx})
	}
	m.appendLocked(Turn{Role: RoleInfo, Text: readyMessage})
	m.setPhaseLocked(PhaseReady)
	return nil
}

// AnalysisLease holds a machine in the analyzing phase for one final
// analysis call. Images and Strategies are the frozen inputs.
type AnalysisLease struct {
	Images     []*media.Image
	Strategies []strategy.Strategy
	// Guided is set when the images were gathered in a guided conversation
	// for Strategies, as opposed to preloaded
	Guided bool

	m     *Machine
	epoch uint64
	prev  Phase
	once  sync.Once
}

// BeginAnalysis moves an idle or ready machine to analyzing. Until the
// lease is released Start, Preload, Submit and another BeginAnalysis fail
// with ErrBusy.
func (m *Machine) BeginAnalysis() (*AnalysisLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.phase {
	case PhaseIdle, PhaseReady:
	case PhaseValidating, PhaseAnalyzing:
		return nil, ErrBusy
	default:
		return nil, fmt.Errorf("%w (phase %s)", ErrNotReady, m.phase)
	}

	lease := &AnalysisLease{
		Images:     append([]*media.Image(nil), m.images...),
		Strategies: append([]strategy.Strategy(nil), m.strategies...),
		Guided:     m.session != nil,
		m:          m,
		epoch:      m.epoch,
		prev:       m.phase,
	}
	m.setPhaseLocked(PhaseAnalyzing)
	return lease, nil
}

// Release returns the machine to the phase it had before the analysis,
// unless it was reset meanwhile. Safe to call more than once.
func (l *AnalysisLease) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		defer l.m.mu.Unlock()
		if l.m.epoch == l.epoch && l.m.phase == PhaseAnalyzing {
			l.m.setPhaseLocked(l.prev)
		}
	})
}

// Override replaces the lease's strategies for this analysis. Images from
// a guided conversation were asked for by the original strategies, so a
// different set is refused with ErrStrategyChanged.
func (l *AnalysisLease) Override(strategies []strategy.Strategy) error {
	if l.Guided && len(l.Images) > 0 && !sameStrategies(l.Strategies, strategies) {
		return ErrStrategyChanged
	}
	l.Strategies = strategies
	return nil
}

func sameStrategies(a, b []strategy.Strategy) bool {
	if len(a) != len(b) {
		return false
	}
	names := make(map[string]int, len(a))
	for _, s := range a {
		names[s.Name]++
	}
	for _, s := range b {
		if names[s.Name] == 0 {
			return false
		}
		names[s.Name]--
	}
	return true
}

// Reset returns to idle and drops the session, turns and images. A reset
// during a guided turn is allowed and the turn's reply is discarded; a
// reset during analysis fails with ErrBusy, since the analysis call is
// bounded by its own timeout and a fresh Start must not overlap it.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseAnalyzing {
		return ErrBusy
	}
	m.resetLocked()
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(events.Event{Type: events.EventSessionReset, SessionID: m.id})
	}
	return nil
}

// Images returns the collected images in index order
func (m *Machine) Images() []*media.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*media.Image(nil), m.images...)
}

// Strategies returns the strategies selected at Start
func (m *Machine) Strategies() []strategy.Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]strategy.Strategy(nil), m.strategies...)
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.strategies))
	for _, s := range m.strategies {
		names = append(names, s.Name)
	}
	return Snapshot{
		ID:         m.id,
		Phase:      m.phase,
		Strategies: names,
		Turns:      append([]Turn(nil), m.turns...),
		Images:     len(m.images),
	}
}

func (m *Machine) busyLocked() bool {
	return m.phase == PhaseValidating || m.phase == PhaseAnalyzing
}

func (m *Machine) resetLocked() {
	m.epoch++
	m.session = nil
	m.strategies = nil
	m.turns = nil
	m.images = nil
	m.setPhaseLocked(PhaseIdle)
}

// acceptLocked assigns the next index and tags the user turn with it
func (m *Machine) acceptLocked(turnIdx int, img *media.Image) {
	idx := len(m.images)
	m.images = append(m.images, img)
	m.turns[turnIdx].ImageIndex = &idx
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(events.Event{
			Type:      events.EventImageAccepted,
			SessionID: m.id,
			Data:      map[string]interface{}{"image_index": idx},
		})
	}
}

func (m *Machine) appendLocked(t Turn) int {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	m.turns = append(m.turns, t)
	if m.opts.Bus != nil {
		m.opts.Bus.PublishTurn(m.id, string(t.Role), t.Text, t.ImageIndex)
	}
	return len(m.turns) - 1
}

func (m *Machine) setPhaseLocked(to Phase) {
	from := m.phase
	m.phase = to
	if from == to {
		return
	}
	metrics.ObserveTransition(string(from), string(to))
	if m.opts.Bus != nil {
		m.opts.Bus.PublishPhase(m.id, string(from), string(to))
	}
	logging.SessionContext(m.id, string(to)).Debug("Phase changed", "from", from)
}

func (m *Machine) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.TurnTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.TurnTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Machine) report(ctx context.Context, reply *llm.Reply) {
	usage.Report(ctx, m.opts.Usage, usage.Event{
		SessionID: m.id,
		Kind:      usage.KindGuided,
		Model:     m.model.Name(),
		Tokens:    reply.TokenUsage,
	})
}

func (m *Machine) logger() *logging.Logger {
	return logging.SessionContext(m.id, string(m.Phase()))
}

package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-setup-assistant/internal/ai/llm"
	"trade-setup-assistant/internal/cache"
	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/logging"
	"trade-setup-assistant/internal/media"
	"trade-setup-assistant/internal/risk"
	"trade-setup-assistant/internal/strategy"
	"trade-setup-assistant/internal/usage"
)

// ErrNoContext is returned when there are neither images nor series
var ErrNoContext = errors.New("no images or cached series to analyze")

var errEmptyReply = errors.New("model returned no reply")

// Request is built once and sent once
type Request struct {
	SessionID  string
	Strategies []strategy.Strategy
	Risk       risk.Parameters
	Images     []*media.Image
	Series     []cache.Series
}

// Dispatcher runs the single final analysis call
type Dispatcher struct {
	model   llm.Model
	usage   usage.Recorder
	bus     *events.EventBus
	timeout time.Duration
}

func NewDispatcher(model llm.Model, recorder usage.Recorder, bus *events.EventBus, timeout time.Duration) *Dispatcher {
	return &Dispatcher{model: model, usage: recorder, bus: bus, timeout: timeout}
}

// Dispatch sends every image in index order with the assembled system
// instruction and parses the reply. A parse failure aborts the attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if len(req.Images) == 0 && len(req.Series) == 0 {
		return nil, ErrNoContext
	}
	if d.model == nil {
		return nil, errors.New("no model configured")
	}

	log := logging.AnalysisContext(req.SessionID, len(req.Images), len(req.Series))
	anchor := ResolvePriceAnchor(req.Series)

	prompt := llm.AnalysisPrompt{
		Strategies: req.Strategies,
		Risk:       req.Risk,
		Datasets:   summarize(req.Series),
		Images:     len(req.Images),
	}
	if anchor != nil {
		prompt.Anchor = &anchor.Price
		prompt.AnchorFrom = anchor.Series
	}

	parts := make([]llm.Part, 0, len(req.Images))
	for _, img := range req.Images {
		parts = append(parts, llm.ImagePart(img))
	}
	if len(parts) == 0 {
		parts = append(parts, llm.TextPart(llm.NoImagePlaceholder))
	}

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := d.model.Generate(callCtx, llm.AnalysisSystemInstruction(prompt), parts)
	if err == nil && reply == nil {
		err = errEmptyReply
	}
	if err != nil {
		log.Error("Analysis call failed", "error", err)
		return nil, fmt.Errorf("analysis call failed: %w", err)
	}
	usage.Report(ctx, d.usage, usage.Event{
		SessionID: req.SessionID,
		Kind:      usage.KindAnalysis,
		Model:     d.model.Name(),
		Tokens:    reply.TokenUsage,
	})

	result, err := ParseResult(reply.Text)
	if err != nil {
		log.Warn("Analysis reply rejected", "error", err)
		return nil, err
	}
	result.TokenUsage = reply.TokenUsage

	log.WithDuration(time.Since(start)).Info("Analysis completed",
		"longs", len(result.TopLongs), "shorts", len(result.TopShorts), "aborted", result.Aborted())
	if d.bus != nil {
		d.bus.Publish(events.Event{
			Type:      events.EventAnalysisCompleted,
			SessionID: req.SessionID,
			Data: map[string]interface{}{
				"longs":   len(result.TopLongs),
				"shorts":  len(result.TopShorts),
				"aborted": result.Aborted(),
			},
		})
	}
	return result, nil
}

func summarize(series []cache.Series) []llm.DatasetSummary {
	out := make([]llm.DatasetSummary, 0, len(series))
	for _, s := range series {
		out = append(out, llm.DatasetSummary{
			Name:     s.Name,
			Symbol:   s.Symbol,
			Interval: s.Interval,
			Candles:  len(s.Candles),
		})
	}
	return out
}

package llm

import (
	"fmt"
	"strings"

	"trade-setup-assistant/internal/risk"
	"trade-setup-assistant/internal/strategy"
)

const (
	// ReadySignal is the exact reply that ends guided acquisition
	ReadySignal = "[ANALYSIS_READY]"

	// StartMessage is the synthetic first user turn of a guided session
	StartMessage = "Start."

	// NoImagePlaceholder stands in for screenshots when only cached data is sent
	NoImagePlaceholder = "No chart screenshots were provided. Base the analysis on the cached datasets described in the instructions."
)

// GuidedSystemInstruction seeds the guided acquisition conversation
func GuidedSystemInstruction(strategies []strategy.Strategy) string {
	var b strings.Builder
	b.WriteString(`You are a trading assistant collecting chart screenshots before an analysis.
Ask the user for one chart at a time, naming the timeframe and indicators the strategy below requires.
When an image is missing something the strategy needs, say exactly what is wrong and ask again.
When every required chart has been received, reply with exactly ` + ReadySignal + ` and nothing else.

`)
	writeStrategies(&b, strategies)
	return b.String()
}

// DatasetSummary describes a cached series without its candles
type DatasetSummary struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol,omitempty"`
	Interval string `json:"interval,omitempty"`
	Candles  int    `json:"candles"`
}

// AnalysisPrompt is everything encoded into the final system instruction
type AnalysisPrompt struct {
	Strategies []strategy.Strategy
	Risk       risk.Parameters
	Datasets   []DatasetSummary
	Anchor     *float64
	AnchorFrom string
	Images     int
}

// AnalysisSystemInstruction builds the final single-shot instruction
func AnalysisSystemInstruction(p AnalysisPrompt) string {
	var b strings.Builder
	b.WriteString("You are an expert trading analyst. Apply the strategy rules below to the provided charts and data.\n\n")
	writeStrategies(&b, p.Strategies)

	b.WriteString("\nRISK SETTINGS\n")
	fmt.Fprintf(&b, "- Risk per trade: %.2f%% of balance\n", p.Risk.RiskPercentagePerTrade)
	fmt.Fprintf(&b, "- Max position size: %.2f%% of balance\n", p.Risk.MaxPositionSize)
	fmt.Fprintf(&b, "- Minimum risk:reward: %.2f\n", p.Risk.MinRiskRewardRatio)
	fmt.Fprintf(&b, "- Use stop loss: %t, use take profit: %t\n", p.Risk.UseStopLoss, p.Risk.UseTakeProfit)

	b.WriteString("\nDATASETS\n")
	if len(p.Datasets) == 0 {
		b.WriteString("- none\n")
	}
	for _, d := range p.Datasets {
		fmt.Fprintf(&b, "- %s: %d candles", d.Name, d.Candles)
		if d.Symbol != "" {
			fmt.Fprintf(&b, " (%s %s)", d.Symbol, d.Interval)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- Chart screenshots attached: %d\n", p.Images)

	b.WriteString("\nCURRENT PRICE\n")
	if p.Anchor != nil {
		fmt.Fprintf(&b, "- %s (last close of %s). Use it as the reference for entries.\n", formatPrice(*p.Anchor), p.AnchorFrom)
	} else {
		b.WriteString("- Not provided. Read the current price from the latest candle in the screenshots.\n")
	}

	b.WriteString(`
RESPONSE FORMAT
Reply with a single JSON object:
{
  "Top Longs": [ { "symbol": "", "direction": "Long", "entryType": "Limit Order" | "Market Order", "entry": number, "stopLoss": number, "takeProfit": number, "heat": 1-10, "explanation": "cite the strategy rule" } ],
  "Top Shorts": [ same shape, "direction": "Short" ],
  "strategySuggestion": { "reasoning": "", "suggestedStrategies": [] }
}
If the strategy's required indicators are missing, return empty trade lists and explain why in strategySuggestion.reasoning.`)
	return b.String()
}

func writeStrategies(b *strings.Builder, strategies []strategy.Strategy) {
	for _, s := range strategies {
		fmt.Fprintf(b, "STRATEGY: %s\n%s\n\n", s.Name, strings.TrimSpace(s.Logic))
	}
}

func formatPrice(p float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", p), "0"), ".")
}

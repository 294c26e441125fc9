package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-setup-assistant/internal/exchange"
)

const validResult = `{
  "Top Longs": [
    {"symbol": "BTCUSDT", "direction": "long", "entryType": "Limit Order", "entry": 100.5, "stopLoss": "98", "takeProfit": 106, "heat": 7, "explanation": "Retest of breakout level"}
  ],
  "Top Shorts": [],
  "strategySuggestion": {"reasoning": "Trend is up on 4h."}
}`

func TestParseResultFenceRoundTrip(t *testing.T) {
	plain, err := ParseResult(validResult)
	require.NoError(t, err)

	fenced, err := ParseResult("```json\n" + validResult + "\n```")
	require.NoError(t, err)
	assert.Equal(t, plain, fenced)

	bare, err := ParseResult("```\n" + validResult + "\n```")
	require.NoError(t, err)
	assert.Equal(t, plain, bare)

	require.Len(t, plain.TopLongs, 1)
	trade := plain.TopLongs[0]
	assert.Equal(t, "Long", trade.Direction)
	assert.Equal(t, "98", trade.StopLoss.String())
	assert.Equal(t, 7, trade.Heat)
	assert.False(t, plain.Aborted())
}

func TestParseResultMissingKeys(t *testing.T) {
	_, err := ParseResult(`{"Top Longs": [], "strategySuggestion": {}}`)
	require.Error(t, err)

	var resErr *ResultError
	require.True(t, errors.As(err, &resErr))
	assert.ElementsMatch(t, []string{"Top Shorts", "strategySuggestion.reasoning"}, resErr.Missing)
}

func TestParseResultSyntaxError(t *testing.T) {
	_, err := ParseResult("not json at all")
	require.Error(t, err)

	var resErr *ResultError
	assert.False(t, errors.As(err, &resErr))
}

func TestParseResultViolations(t *testing.T) {
	tests := []struct {
		name  string
		trade string
	}{
		{"heat above range", `{"direction": "Long", "entry": 1, "heat": 11, "explanation": "x"}`},
		{"heat zero", `{"direction": "Long", "entry": 1, "heat": 0, "explanation": "x"}`},
		{"missing explanation", `{"direction": "Long", "entry": 1, "heat": 5}`},
		{"bad direction", `{"direction": "Sideways", "entry": 1, "heat": 5, "explanation": "x"}`},
		{"negative price", `{"direction": "Short", "entry": -3, "heat": 5, "explanation": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"Top Longs": [` + tt.trade + `], "Top Shorts": [], "strategySuggestion": {"reasoning": "r"}}`
			_, err := ParseResult(body)

			var resErr *ResultError
			require.True(t, errors.As(err, &resErr), "got %v", err)
			assert.Len(t, resErr.Violations, 1)
			assert.Contains(t, resErr.Violations[0], "Top Longs[0]")
		})
	}
}

func TestParseResultAborted(t *testing.T) {
	res, err := ParseResult(`{"Top Longs": [], "Top Shorts": [], "strategySuggestion": {"reasoning": "Charts do not show the 4h timeframe required by Breakout."}}`)
	require.NoError(t, err)
	assert.True(t, res.Aborted())
}

func TestTradeIntent(t *testing.T) {
	res, err := ParseResult(validResult)
	require.NoError(t, err)

	intent := res.TopLongs[0].Intent()
	assert.Equal(t, exchange.Direction("Long"), intent.Direction)
	assert.Equal(t, exchange.EntryLimit, intent.EntryType)
	assert.Equal(t, 100.5, intent.EntryPrice)
	assert.Equal(t, 98.0, intent.StopLoss)
	assert.Equal(t, 106.0, intent.TakeProfit)

	assert.Equal(t, exchange.EntryLimit, Trade{Direction: "Short"}.Intent().EntryType)
}

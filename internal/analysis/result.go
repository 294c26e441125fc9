package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"trade-setup-assistant/internal/ai/llm"
	"trade-setup-assistant/internal/exchange"
)

const (
	keyTopLongs   = "Top Longs"
	keyTopShorts  = "Top Shorts"
	keySuggestion = "strategySuggestion"
	keyReasoning  = "reasoning"
)

var resultValidate *validator.Validate

func init() {
	resultValidate = validator.New()
	_ = resultValidate.RegisterValidation("posdecimal", validatePositiveDecimal)
}

// validatePositiveDecimal accepts a zero value (field omitted) or a positive price
func validatePositiveDecimal(fl validator.FieldLevel) bool {
	d, ok := fl.Field().Interface().(decimal.Decimal)
	if !ok {
		return false
	}
	return !d.IsNegative()
}

// Trade is one setup proposed by the model
type Trade struct {
	Symbol      string          `json:"symbol,omitempty"`
	Direction   string          `json:"direction" validate:"required,oneof=Long Short"`
	EntryType   string          `json:"entryType,omitempty"`
	Entry       decimal.Decimal `json:"entry" validate:"posdecimal"`
	StopLoss    decimal.Decimal `json:"stopLoss" validate:"posdecimal"`
	TakeProfit  decimal.Decimal `json:"takeProfit" validate:"posdecimal"`
	Heat        int             `json:"heat" validate:"min=1,max=10"`
	Explanation string          `json:"explanation" validate:"required"`
}

// Intent converts the setup to an order intent
func (t Trade) Intent() exchange.TradeIntent {
	entryType := exchange.EntryType(t.EntryType)
	if entryType == "" {
		entryType = exchange.EntryLimit
	}
	entry, _ := t.Entry.Float64()
	stop, _ := t.StopLoss.Float64()
	target, _ := t.TakeProfit.Float64()
	return exchange.TradeIntent{
		Direction:  exchange.Direction(normalizeDirection(t.Direction)),
		EntryType:  entryType,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
	}
}

// StrategySuggestion carries the model's reasoning
type StrategySuggestion struct {
	Reasoning           string   `json:"reasoning"`
	SuggestedStrategies []string `json:"suggestedStrategies,omitempty"`
}

// Result is the parsed final analysis
type Result struct {
	TopLongs           []Trade            `json:"Top Longs"`
	TopShorts          []Trade            `json:"Top Shorts"`
	StrategySuggestion StrategySuggestion `json:"strategySuggestion"`
	TokenUsage         int                `json:"tokenUsage"`
}

// Aborted reports a gatekeeping abort: no trades, but an explanation
func (r *Result) Aborted() bool {
	return len(r.TopLongs) == 0 && len(r.TopShorts) == 0 &&
		strings.TrimSpace(r.StrategySuggestion.Reasoning) != ""
}

// ResultError is a well-formed JSON reply that breaks the result contract
type ResultError struct {
	Missing    []string
	Violations []string
}

func (e *ResultError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing keys: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Violations) > 0 {
		parts = append(parts, "invalid trades: "+strings.Join(e.Violations, "; "))
	}
	return "analysis result rejected: " + strings.Join(parts, "; ")
}

// ParseResult strips an optional code fence, decodes the JSON and checks
// the mandatory keys and every trade
func ParseResult(text string) (*Result, error) {
	body := llm.StripCodeFence(text)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}

	resErr := &ResultError{}
	for _, k := range []string{keyTopLongs, keyTopShorts} {
		if _, ok := raw[k]; !ok {
			resErr.Missing = append(resErr.Missing, k)
		}
	}
	if !hasReasoning(raw[keySuggestion]) {
		resErr.Missing = append(resErr.Missing, keySuggestion+"."+keyReasoning)
	}
	if len(resErr.Missing) > 0 {
		return nil, resErr
	}

	var result Result
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis result: %w", err)
	}

	check := func(list string, trades []Trade) {
		for i := range trades {
			trades[i].Direction = normalizeDirection(trades[i].Direction)
			if err := resultValidate.Struct(trades[i]); err != nil {
				resErr.Violations = append(resErr.Violations, describe(list, i, err))
			}
		}
	}
	check(keyTopLongs, result.TopLongs)
	check(keyTopShorts, result.TopShorts)
	if len(resErr.Violations) > 0 {
		return nil, resErr
	}
	return &result, nil
}

func hasReasoning(suggestion json.RawMessage) bool {
	if len(suggestion) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(suggestion, &fields); err != nil {
		return false
	}
	var reasoning string
	if err := json.Unmarshal(fields[keyReasoning], &reasoning); err != nil {
		return false
	}
	return true
}

func normalizeDirection(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "long":
		return "Long"
	case "short":
		return "Short"
	}
	return d
}

func describe(list string, idx int, err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Sprintf("%s[%d]: %v", list, idx, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Sprintf("%s[%d]: %s", list, idx, strings.Join(msgs, ", "))
}

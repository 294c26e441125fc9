package risk

import (
	"errors"
	"math"
)

// ErrZeroPriceDistance is returned when entry and stop coincide.
// The trade cannot be sized and should be rejected.
var ErrZeroPriceDistance = errors.New("entry and stop-loss prices are equal")

// Parameters are the user's risk settings. Nothing derived from them is cached.
type Parameters struct {
	RiskPercentagePerTrade float64 `json:"riskPercentagePerTrade"`
	MaxPositionSize        float64 `json:"maxPositionSize"` // Percent of balance as notional
	MinRiskRewardRatio     float64 `json:"minRiskRewardRatio"`
	MaxDailyTrades         int     `json:"maxDailyTrades"`
	MaxOpenPositions       int     `json:"maxOpenPositions"`
	UseStopLoss            bool    `json:"useStopLoss"`
	UseTakeProfit          bool    `json:"useTakeProfit"`
}

// PositionSize returns the quantity whose loss at the stop equals
// riskPct percent of balance: (balance*riskPct/100) / |entry-stop|
func PositionSize(balance, riskPct, entry, stop float64) (float64, error) {
	distance := math.Abs(entry - stop)
	if distance == 0 {
		return 0, ErrZeroPriceDistance
	}
	riskAmount := balance * (riskPct / 100)
	return riskAmount / distance, nil
}

// RiskReward returns |target-entry| / |entry-stop|
func RiskReward(entry, stop, target float64) (float64, error) {
	distance := math.Abs(entry - stop)
	if distance == 0 {
		return 0, ErrZeroPriceDistance
	}
	return math.Abs(target-entry) / distance, nil
}

package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"trade-setup-assistant/internal/logging"
)

// Assessment is the outcome of evaluating one trade against the risk settings.
// Rejections are reported through Reasons, not errors.
type Assessment struct {
	Allowed      bool     `json:"allowed"`
	Quantity     float64  `json:"quantity"`
	Notional     float64  `json:"notional"`
	RiskAmount   float64  `json:"riskAmount"`
	RiskReward   float64  `json:"riskReward"`
	CappedByMax  bool     `json:"cappedByMax"`
	Reasons      []string `json:"reasons,omitempty"`
	TradesToday  int      `json:"tradesToday"`
	OpenPosition int      `json:"openPositions"`
}

// Trade is the price plan being evaluated
type Trade struct {
	Symbol string  `json:"symbol"`
	Entry  float64 `json:"entry"`
	Stop   float64 `json:"stopLoss"`
	Target float64 `json:"takeProfit"`
}

// Evaluate sizes a trade and checks it against params. A zero entry-stop
// distance yields a rejected assessment with zero quantity.
func Evaluate(params Parameters, balance float64, trade Trade, tradesToday, openPositions int) Assessment {
	a := Assessment{Allowed: true, TradesToday: tradesToday, OpenPosition: openPositions}
	reject := func(format string, args ...interface{}) {
		a.Allowed = false
		a.Reasons = append(a.Reasons, fmt.Sprintf(format, args...))
	}

	if balance <= 0 {
		reject("balance must be positive")
	}

	qty, err := PositionSize(balance, params.RiskPercentagePerTrade, trade.Entry, trade.Stop)
	if errors.Is(err, ErrZeroPriceDistance) {
		reject("entry and stop-loss are equal")
		return a
	}
	a.Quantity = qty
	a.RiskAmount = balance * params.RiskPercentagePerTrade / 100
	a.Notional = qty * trade.Entry

	if params.MaxPositionSize > 0 && trade.Entry > 0 {
		maxNotional := balance * params.MaxPositionSize / 100
		if a.Notional > maxNotional {
			a.Quantity = maxNotional / trade.Entry
			a.Notional = maxNotional
			a.CappedByMax = true
		}
	}

	if trade.Target > 0 {
		rr, _ := RiskReward(trade.Entry, trade.Stop, trade.Target)
		a.RiskReward = rr
		if params.MinRiskRewardRatio > 0 && rr < params.MinRiskRewardRatio {
			reject("risk:reward %.2f is below minimum %.2f", rr, params.MinRiskRewardRatio)
		}
	}
	if params.MaxDailyTrades > 0 && tradesToday >= params.MaxDailyTrades {
		reject("daily trade limit reached (%d/%d)", tradesToday, params.MaxDailyTrades)
	}
	if params.MaxOpenPositions > 0 && openPositions >= params.MaxOpenPositions {
		reject("max positions reached (%d/%d)", openPositions, params.MaxOpenPositions)
	}
	return a
}

// Manager tracks the daily trade count and open positions used by Evaluate
type Manager struct {
	params        Parameters
	tradesToday   int
	openPositions int
	dayStart      time.Time
	now           func() time.Time
	mu            sync.RWMutex
}

func NewManager(params Parameters) *Manager {
	m := &Manager{params: params, now: time.Now}
	m.dayStart = m.now().Truncate(24 * time.Hour)
	return m
}

// Parameters returns the current settings
func (m *Manager) Parameters() Parameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

// SetParameters replaces the settings
func (m *Manager) SetParameters(p Parameters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
}

// Assess evaluates a trade against the current settings and counters
func (m *Manager) Assess(balance float64, trade Trade) Assessment {
	m.mu.Lock()
	m.checkDailyReset()
	params, trades, open := m.params, m.tradesToday, m.openPositions
	m.mu.Unlock()

	a := Evaluate(params, balance, trade, trades, open)
	logging.RiskContext(trade.Symbol, params.RiskPercentagePerTrade, a.Quantity).
		Debug("Trade assessed", "allowed", a.Allowed, "balance", balance, "rr", a.RiskReward)
	return a
}

// RegisterPositionOpen counts a placed entry order
func (m *Manager) RegisterPositionOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDailyReset()
	m.tradesToday++
	m.openPositions++
}

// RegisterPositionClose releases an open position slot
func (m *Manager) RegisterPositionClose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions--
	if m.openPositions < 0 {
		m.openPositions = 0
	}
}

// Counters returns trades today and open positions
func (m *Manager) Counters() (tradesToday, openPositions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDailyReset()
	return m.tradesToday, m.openPositions
}

// checkDailyReset resets the trade count if it's a new day
func (m *Manager) checkDailyReset() {
	today := m.now().Truncate(24 * time.Hour)
	if today.After(m.dayStart) {
		m.tradesToday = 0
		m.dayStart = today
	}
}

package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trade-setup-assistant/internal/circuit"
	"trade-setup-assistant/internal/exchange"
	"trade-setup-assistant/internal/logging"
	"trade-setup-assistant/internal/risk"
)

// Role identifies what an order does within one trade
type Role string

const (
	RoleEntry      Role = "ENTRY"
	RoleStopLoss   Role = "STOP_LOSS"
	RoleTakeProfit Role = "TAKE_PROFIT"
)

// ExecutionState summarizes how far a trade placement got
type ExecutionState string

const (
	StateComplete          ExecutionState = "complete"
	StatePartialProtection ExecutionState = "partial_protection"
	StateEntryFailed       ExecutionState = "entry_failed"
)

// ManagedOrder represents one venue order placed for a trade
type ManagedOrder struct {
	OrderID   string    `json:"orderId,omitempty"`
	Role      Role      `json:"role"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`
	Price     float64   `json:"price,omitempty"`
	Quantity  float64   `json:"quantity"`
	Status    string    `json:"status"` // PLACED, FAILED or UNSUPPORTED
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExecutionReport is returned for every placement attempt
type ExecutionReport struct {
	State      ExecutionState  `json:"state"`
	Entry      *ManagedOrder   `json:"entry"`
	Protective []*ManagedOrder `json:"protective,omitempty"`
}

// Unsupported returns the legs that were not sent because the venue has
// no order type for them
func (r *ExecutionReport) Unsupported() []*ManagedOrder {
	var out []*ManagedOrder
	for _, o := range r.Protective {
		if o.Status == "UNSUPPORTED" {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the orders the venue rejected
func (r *ExecutionReport) Failed() []*ManagedOrder {
	var out []*ManagedOrder
	if r.Entry != nil && r.Entry.Status == "FAILED" {
		out = append(out, r.Entry)
	}
	for _, o := range r.Protective {
		if o.Status == "FAILED" {
			out = append(out, o)
		}
	}
	return out
}

// Manager places an entry order followed by the protective legs enabled
// in the risk settings. Protective legs are separate venue orders, so a
// rejected leg leaves the entry in place and is reported as partial. Legs
// the venue has no order type for are reported UNSUPPORTED and never sent.
type Manager struct {
	client  exchange.ExchangeClient
	risk    *risk.Manager
	breaker *circuit.Breaker
	history []*ManagedOrder
	mu      sync.RWMutex
}

func NewManager(client exchange.ExchangeClient, riskManager *risk.Manager) *Manager {
	return &Manager{
		client:  client,
		risk:    riskManager,
		history: make([]*ManagedOrder, 0),
	}
}

// SetBreaker guards entry placement with a circuit breaker. Only venue
// rejections of the entry count as failures.
func (m *Manager) SetBreaker(b *circuit.Breaker) {
	m.breaker = b
}

// Breaker returns the configured breaker, or nil
func (m *Manager) Breaker() *circuit.Breaker {
	return m.breaker
}

// Execute places the entry order, then the stop-loss and take-profit legs.
// The returned error is non-nil only when the entry itself failed or the
// breaker blocked it; in the latter case the report is nil.
func (m *Manager) Execute(ctx context.Context, creds exchange.Credentials, trade exchange.TradeIntent, symbol string, quantity float64, params risk.Parameters) (*ExecutionReport, error) {
	report := &ExecutionReport{}

	entryReq, err := exchange.NewOrderRequest(trade, symbol, quantity)
	if err != nil {
		report.State = StateEntryFailed
		report.Entry = &ManagedOrder{Role: RoleEntry, Symbol: symbol, Quantity: quantity, Status: "FAILED", Error: err.Error(), CreatedAt: time.Now()}
		return report, fmt.Errorf("invalid entry order: %w", err)
	}

	if m.breaker != nil {
		if err := m.breaker.Allow(); err != nil {
			logging.OrderContext(symbol, string(entryReq.Side), string(entryReq.Type), quantity).Warn("Order blocked", "error", err)
			return nil, err
		}
	}

	entry := m.newOrder(RoleEntry, entryReq)
	report.Entry = entry
	resp, err := m.client.PlaceOrder(ctx, creds, trade, symbol, quantity)
	if err != nil {
		if m.breaker != nil {
			m.breaker.RecordFailure(err)
		}
		entry.Status = "FAILED"
		entry.Error = err.Error()
		report.State = StateEntryFailed
		m.record(entry)
		logging.OrderContext(entry.Symbol, entry.Side, entry.Type, quantity).Error("Entry order failed", "error", err)
		return report, fmt.Errorf("entry order failed: %w", err)
	}
	if m.breaker != nil {
		m.breaker.RecordSuccess()
	}
	entry.OrderID = resp.OrderID
	m.record(entry)
	if m.risk != nil {
		m.risk.RegisterPositionOpen()
	}

	report.State = StateComplete
	for _, leg := range m.protectiveLegs(trade, entryReq, params) {
		placed := m.placeLeg(ctx, creds, leg)
		report.Protective = append(report.Protective, placed)
		if placed.Status == "FAILED" {
			report.State = StatePartialProtection
		}
	}

	logging.OrderContext(entry.Symbol, entry.Side, entry.Type, quantity).
		Info("Trade executed", "state", report.State, "legs", len(report.Protective))
	return report, nil
}

func (m *Manager) protectiveLegs(trade exchange.TradeIntent, entry *exchange.OrderRequest, params risk.Parameters) []exchange.ProtectiveOrder {
	var legs []exchange.ProtectiveOrder
	if params.UseStopLoss && trade.StopLoss > 0 {
		legs = append(legs, exchange.ProtectiveOrder{
			Kind: exchange.ProtectiveStopLoss, Symbol: entry.Symbol, EntrySide: entry.Side,
			Quantity: entry.Quantity, Price: trade.StopLoss,
		})
	}
	if params.UseTakeProfit && trade.TakeProfit > 0 {
		legs = append(legs, exchange.ProtectiveOrder{
			Kind: exchange.ProtectiveTakeProfit, Symbol: entry.Symbol, EntrySide: entry.Side,
			Quantity: entry.Quantity, Price: trade.TakeProfit,
		})
	}
	return legs
}

func (m *Manager) placeLeg(ctx context.Context, creds exchange.Credentials, leg exchange.ProtectiveOrder) *ManagedOrder {
	role := RoleStopLoss
	if leg.Kind == exchange.ProtectiveTakeProfit {
		role = RoleTakeProfit
	}

	o := &ManagedOrder{
		Role:      role,
		Symbol:    leg.Symbol,
		Side:      string(leg.EntrySide.Opposite()),
		Price:     leg.Price,
		Quantity:  leg.Quantity,
		CreatedAt: time.Now(),
	}
	req, err := leg.OrderRequest()
	switch {
	case errors.Is(err, exchange.ErrUnsupportedOrderType):
		o.Status = "UNSUPPORTED"
		o.Error = err.Error()
		logging.OrderContext(o.Symbol, o.Side, o.Type, o.Quantity).Info("Protective leg not placed", "role", role, "reason", err)
		m.record(o)
		return o
	case err == nil:
		o.Type = string(req.Type)
	}

	resp, err := m.client.PlaceProtectiveOrder(ctx, creds, leg)
	if err != nil {
		o.Status = "FAILED"
		o.Error = err.Error()
		logging.OrderContext(o.Symbol, o.Side, o.Type, o.Quantity).Warn("Protective order failed", "role", role, "error", err)
	} else {
		o.Status = "PLACED"
		o.OrderID = resp.OrderID
	}
	m.record(o)
	return o
}

func (m *Manager) newOrder(role Role, req *exchange.OrderRequest) *ManagedOrder {
	o := &ManagedOrder{
		Role:      role,
		Symbol:    req.Symbol,
		Side:      string(req.Side),
		Type:      string(req.Type),
		Quantity:  req.Quantity,
		Status:    "PLACED",
		CreatedAt: time.Now(),
	}
	if req.Price != nil {
		o.Price = *req.Price
	}
	return o
}

func (m *Manager) record(o *ManagedOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, o)
}

// History returns all orders attempted so far, oldest first
func (m *Manager) History() []*ManagedOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*ManagedOrder(nil), m.history...)
}

package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-setup-assistant/internal/circuit"
	"trade-setup-assistant/internal/exchange"
	"trade-setup-assistant/internal/risk"
)

var creds = exchange.Credentials{APIKey: "mx0vglTestKey123", SecretKey: "0123456789abcdef0123456789abcdef"}

// rejectingClient rejects entries or take-profit legs on demand
type rejectingClient struct {
	*exchange.MockClient
	rejectEntry      bool
	rejectTakeProfit bool
	protectiveCalls  int
}

func (r *rejectingClient) PlaceOrder(ctx context.Context, c exchange.Credentials, trade exchange.TradeIntent, symbol string, qty float64) (*exchange.OrderResponse, error) {
	if r.rejectEntry {
		return nil, &exchange.APIError{Op: "place order", StatusCode: 400, Body: `{"code":30004,"msg":"Insufficient position"}`}
	}
	return r.MockClient.PlaceOrder(ctx, c, trade, symbol, qty)
}

func (r *rejectingClient) PlaceProtectiveOrder(ctx context.Context, c exchange.Credentials, leg exchange.ProtectiveOrder) (*exchange.OrderResponse, error) {
	r.protectiveCalls++
	if r.rejectTakeProfit && leg.Kind == exchange.ProtectiveTakeProfit {
		return nil, &exchange.APIError{Op: "place order", StatusCode: 400, Body: `{"code":30005,"msg":"Oversold"}`}
	}
	return r.MockClient.PlaceProtectiveOrder(ctx, c, leg)
}

var longTrade = exchange.TradeIntent{
	Direction:  exchange.DirectionLong,
	EntryType:  exchange.EntryLimit,
	EntryPrice: 100,
	StopLoss:   90,
	TakeProfit: 120,
}

func TestExecuteComplete(t *testing.T) {
	mock := exchange.NewMockClient()
	rm := risk.NewManager(risk.Parameters{})
	m := NewManager(mock, rm)

	report, err := m.Execute(context.Background(), creds, longTrade, "BTCUSDT", 2,
		risk.Parameters{UseStopLoss: true, UseTakeProfit: true})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, report.State)
	assert.NotEmpty(t, report.Entry.OrderID)
	require.Len(t, report.Protective, 2)
	assert.Empty(t, report.Failed())

	orders := mock.Orders()
	require.Len(t, orders, 2, "the stop-loss leg is not sent")
	assert.Equal(t, exchange.OrderTypeLimit, orders[0].Type)
	assert.Equal(t, exchange.SideBuy, orders[0].Side)
	assert.Equal(t, exchange.OrderTypeLimit, orders[1].Type)
	assert.Equal(t, exchange.SideSell, orders[1].Side)
	assert.Equal(t, 120.0, *orders[1].Price)

	trades, open := rm.Counters()
	assert.Equal(t, 1, trades)
	assert.Equal(t, 1, open)
	assert.Len(t, m.History(), 3)
}

func TestExecuteSkipsDisabledLegs(t *testing.T) {
	mock := exchange.NewMockClient()
	m := NewManager(mock, nil)

	report, err := m.Execute(context.Background(), creds, longTrade, "BTCUSDT", 2,
		risk.Parameters{UseStopLoss: true})
	require.NoError(t, err)
	require.Len(t, report.Protective, 1)
	assert.Equal(t, RoleStopLoss, report.Protective[0].Role)
	assert.Len(t, mock.Orders(), 1)
}

func TestExecuteStopLossNotSupported(t *testing.T) {
	client := &rejectingClient{MockClient: exchange.NewMockClient()}
	m := NewManager(client, nil)

	report, err := m.Execute(context.Background(), creds, longTrade, "BTCUSDT", 2,
		risk.Parameters{UseStopLoss: true, UseTakeProfit: true})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, report.State, "an unsupported leg is not a venue failure")
	assert.Empty(t, report.Failed())
	assert.Equal(t, 1, client.protectiveCalls, "only the take-profit leg reaches the venue")

	unsupported := report.Unsupported()
	require.Len(t, unsupported, 1)
	stop := unsupported[0]
	assert.Equal(t, RoleStopLoss, stop.Role)
	assert.Equal(t, "UNSUPPORTED", stop.Status)
	assert.Equal(t, "SELL", stop.Side)
	assert.Equal(t, 90.0, stop.Price)
	assert.Empty(t, stop.OrderID)
	assert.Contains(t, stop.Error, "not supported")
}

func TestExecutePartialProtection(t *testing.T) {
	client := &rejectingClient{MockClient: exchange.NewMockClient(), rejectTakeProfit: true}
	m := NewManager(client, nil)

	report, err := m.Execute(context.Background(), creds, longTrade, "BTCUSDT", 2,
		risk.Parameters{UseStopLoss: true, UseTakeProfit: true})
	require.NoError(t, err, "a rejected leg does not fail the trade")
	assert.Equal(t, StatePartialProtection, report.State)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, RoleTakeProfit, failed[0].Role)
	assert.Contains(t, failed[0].Error, "Oversold")
}

func TestExecuteEntryFailed(t *testing.T) {
	client := &rejectingClient{MockClient: exchange.NewMockClient(), rejectEntry: true}
	rm := risk.NewManager(risk.Parameters{})
	m := NewManager(client, rm)

	report, err := m.Execute(context.Background(), creds, longTrade, "BTCUSDT", 2,
		risk.Parameters{UseStopLoss: true, UseTakeProfit: true})
	require.Error(t, err)
	assert.Equal(t, StateEntryFailed, report.State)
	assert.Empty(t, report.Protective, "no legs after a failed entry")
	assert.Empty(t, client.Orders())

	_, open := rm.Counters()
	assert.Equal(t, 0, open)
}

func TestExecuteInvalidTrade(t *testing.T) {
	m := NewManager(exchange.NewMockClient(), nil)
	bad := longTrade
	bad.Direction = "Sideways"

	report, err := m.Execute(context.Background(), creds, bad, "BTCUSDT", 1, risk.Parameters{})
	require.Error(t, err)
	assert.Equal(t, StateEntryFailed, report.State)
}

func TestExecuteBreakerTripsOnRejections(t *testing.T) {
	client := &rejectingClient{MockClient: exchange.NewMockClient(), rejectEntry: true}
	m := NewManager(client, nil)
	m.SetBreaker(circuit.NewBreaker(circuit.Config{Enabled: true, MaxConsecutiveFailures: 2, CooldownSeconds: 60}))

	for i := 0; i < 2; i++ {
		_, err := m.Execute(context.Background(), creds, longTrade, "BTCUSDT", 1, risk.Parameters{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuit.ErrOpen)
	}

	client.rejectEntry = false
	report, err := m.Execute(context.Background(), creds, longTrade, "BTCUSDT", 1, risk.Parameters{})
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Nil(t, report)
	assert.Empty(t, client.Orders(), "blocked order never reaches the venue")
	assert.Len(t, m.History(), 2)
}

func TestExecuteInvalidTradeDoesNotCountAgainstBreaker(t *testing.T) {
	m := NewManager(exchange.NewMockClient(), nil)
	b := circuit.NewBreaker(circuit.Config{Enabled: true, MaxConsecutiveFailures: 1, CooldownSeconds: 60})
	m.SetBreaker(b)

	bad := longTrade
	bad.Direction = "Sideways"
	_, err := m.Execute(context.Background(), creds, bad, "BTCUSDT", 1, risk.Parameters{})
	require.Error(t, err)
	assert.Equal(t, circuit.StateClosed, b.State())
}

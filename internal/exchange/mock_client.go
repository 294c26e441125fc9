package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient provides simulated venue responses for development and demos
type MockClient struct {
	prices     map[string]float64
	balances   []AssetBalance
	authorized []string
	orders     []OrderRequest
	lastUpdate time.Time
	mu         sync.RWMutex
}

// NewMockClient creates a new mock client with a small simulated market
func NewMockClient() *MockClient {
	return &MockClient{
		prices: map[string]float64{
			"BTCUSDT":  104500.00,
			"ETHUSDT":  3900.00,
			"SOLUSDT":  220.00,
			"XRPUSDT":  2.35,
			"DOGEUSDT": 0.40,
			"MXUSDT":   3.10,
		},
		balances: []AssetBalance{
			{Asset: "USDT", Free: "10000", Locked: "0"},
			{Asset: "BTC", Free: "0.05", Locked: "0.01"},
			{Asset: "ETH", Free: "0", Locked: "0"},
		},
		authorized: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		lastUpdate: time.Now(),
	}
}

// updatePrices adds small random variations to simulate market movement
func (mc *MockClient) updatePrices() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if time.Since(mc.lastUpdate) < time.Second {
		return
	}
	for symbol, price := range mc.prices {
		// Random walk: -0.5% to +0.5% change
		change := (rand.Float64() - 0.5) * 0.01
		mc.prices[symbol] = price * (1 + change)
	}
	mc.lastUpdate = time.Now()
}

func (mc *MockClient) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (mc *MockClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	mc.updatePrices()

	mc.mu.RLock()
	defer mc.mu.RUnlock()
	price, ok := mc.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, &APIError{Op: "get price", StatusCode: 400, Body: `{"code":-1121,"msg":"Invalid symbol."}`}
	}
	return price, nil
}

func (mc *MockClient) ListSymbols(ctx context.Context) ([]string, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	symbols := make([]string, 0, len(mc.prices))
	for s := range mc.prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (mc *MockClient) GetAccountInfo(ctx context.Context, creds Credentials) (*AccountInfo, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("get account info: %w", err)
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	balances := make([]AssetBalance, len(mc.balances))
	copy(balances, mc.balances)
	return &AccountInfo{
		CanTrade:    true,
		CanDeposit:  true,
		CanWithdraw: true,
		AccountType: "SPOT",
		Balances:    balances,
		Permissions: []string{"SPOT"},
	}, nil
}

func (mc *MockClient) GetAuthorizedSymbols(ctx context.Context, creds Credentials) ([]string, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("get authorized symbols: %w", err)
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return append([]string(nil), mc.authorized...), nil
}

func (mc *MockClient) PlaceOrder(ctx context.Context, creds Credentials, trade TradeIntent, symbol string, quantity float64) (*OrderResponse, error) {
	req, err := NewOrderRequest(trade, symbol, quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid order: %w", err)
	}
	return mc.record(creds, req)
}

func (mc *MockClient) PlaceProtectiveOrder(ctx context.Context, creds Credentials, leg ProtectiveOrder) (*OrderResponse, error) {
	req, err := leg.OrderRequest()
	if err != nil {
		return nil, err
	}
	return mc.record(creds, req)
}

// Orders returns every order accepted by the mock so far
func (mc *MockClient) Orders() []OrderRequest {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return append([]OrderRequest(nil), mc.orders...)
}

func (mc *MockClient) record(creds Credentials, req *OrderRequest) (*OrderResponse, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	req.Timestamp = time.Now().UnixMilli()

	mc.mu.Lock()
	mc.orders = append(mc.orders, *req)
	mc.mu.Unlock()

	resp := &OrderResponse{
		Symbol:       req.Symbol,
		OrderID:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		OrderListID:  -1,
		OrigQty:      formatDecimal(req.Quantity),
		Type:         string(req.Type),
		Side:         string(req.Side),
		TransactTime: req.Timestamp,
	}
	if req.Price != nil {
		resp.Price = formatDecimal(*req.Price)
	}
	return resp, nil
}

package exchange

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissingCredentials is returned when a signed call is made without keys
var ErrMissingCredentials = errors.New("exchange credentials are not configured")

// ErrUnsupportedOrderType is returned for legs the spot venue has no order type for
var ErrUnsupportedOrderType = errors.New("order type not supported by the exchange")

// Credentials identify and authorize a venue account.
// SecretKey is only ever used as the HMAC key; it is never sent or logged.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Validate checks that both keys are present
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return ErrMissingCredentials
	}
	return nil
}

// AccountInfo represents spot account information
type AccountInfo struct {
	CanTrade    bool           `json:"canTrade"`
	CanWithdraw bool           `json:"canWithdraw"`
	CanDeposit  bool           `json:"canDeposit"`
	UpdateTime  *int64         `json:"updateTime"`
	AccountType string         `json:"accountType"`
	Balances    []AssetBalance `json:"balances"`
	Permissions []string       `json:"permissions"`
}

// AssetBalance represents a single asset balance as returned by the venue
type AssetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Balance is a parsed AssetBalance for display and aggregation
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// Parse converts the venue's decimal strings. Empty strings count as zero.
func (ab AssetBalance) Parse() (Balance, error) {
	free, err := parseAmount(ab.Free)
	if err != nil {
		return Balance{}, fmt.Errorf("invalid free amount for %s: %w", ab.Asset, err)
	}
	locked, err := parseAmount(ab.Locked)
	if err != nil {
		return Balance{}, fmt.Errorf("invalid locked amount for %s: %w", ab.Asset, err)
	}
	return Balance{Asset: ab.Asset, Free: free, Locked: locked}, nil
}

func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", s)
	}
	f, _ := d.Float64()
	return f, nil
}

// NonZeroBalances returns the parsed balances with a positive total.
// The raw AccountInfo is left untouched.
func (a *AccountInfo) NonZeroBalances() ([]Balance, error) {
	out := make([]Balance, 0, len(a.Balances))
	for _, ab := range a.Balances {
		b, err := ab.Parse()
		if err != nil {
			return nil, err
		}
		if b.Total() > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

// FreeBalance returns the free amount of asset, or zero when absent
func (a *AccountInfo) FreeBalance(asset string) float64 {
	for _, ab := range a.Balances {
		if strings.EqualFold(ab.Asset, asset) {
			b, err := ab.Parse()
			if err != nil {
				return 0
			}
			return b.Free
		}
	}
	return 0
}

// Side is the order side on the venue
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the venue order type
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// requiresPrice reports whether the type carries a limit price
func (t OrderType) requiresPrice() bool {
	return t == OrderTypeLimit
}

// Direction is the trade direction as produced by analysis
type Direction string

const (
	DirectionLong  Direction = "Long"
	DirectionShort Direction = "Short"
)

// Side maps Long to BUY and Short to SELL
func (d Direction) Side() (Side, error) {
	switch strings.ToLower(string(d)) {
	case "long":
		return SideBuy, nil
	case "short":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown trade direction %q", d)
	}
}

// EntryType is the entry order style
type EntryType string

const (
	EntryLimit  EntryType = "Limit Order"
	EntryMarket EntryType = "Market Order"
)

// OrderType maps the entry style to a venue order type
func (e EntryType) OrderType() (OrderType, error) {
	s := strings.ToLower(strings.TrimSpace(string(e)))
	switch {
	case strings.HasPrefix(s, "limit"):
		return OrderTypeLimit, nil
	case strings.HasPrefix(s, "market"):
		return OrderTypeMarket, nil
	default:
		return "", fmt.Errorf("unknown entry type %q", e)
	}
}

// TradeIntent is the subset of a trade setup needed to place its entry order
type TradeIntent struct {
	Direction  Direction `json:"direction"`
	EntryType  EntryType `json:"entryType"`
	EntryPrice float64   `json:"entry"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
}

// OrderRequest is a fully resolved order ready for signing
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         *float64
	ClientOrderID string
	Timestamp     int64
}

// NewOrderRequest builds the entry OrderRequest for a trade.
// Price is set if and only if the resulting type is LIMIT.
func NewOrderRequest(trade TradeIntent, symbol string, quantity float64) (*OrderRequest, error) {
	side, err := trade.Direction.Side()
	if err != nil {
		return nil, err
	}
	orderType, err := trade.EntryType.OrderType()
	if err != nil {
		return nil, err
	}

	req := &OrderRequest{
		Symbol:   strings.ToUpper(symbol),
		Side:     side,
		Type:     orderType,
		Quantity: quantity,
	}
	if orderType == OrderTypeLimit {
		price := trade.EntryPrice
		req.Price = &price
	}
	return req, req.Validate()
}

// Validate enforces the request invariants
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("order symbol is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid order side %q", r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %v", r.Quantity)
	}
	if r.Type.requiresPrice() != (r.Price != nil) {
		return fmt.Errorf("price must be set if and only if type is a limit type (type=%s)", r.Type)
	}
	if r.Price != nil && *r.Price <= 0 {
		return fmt.Errorf("order price must be positive, got %v", *r.Price)
	}
	return nil
}

// params renders the request as wire parameters (timestamp included)
func (r *OrderRequest) params() map[string]string {
	p := map[string]string{
		"symbol":    r.Symbol,
		"side":      string(r.Side),
		"type":      string(r.Type),
		"quantity":  formatDecimal(r.Quantity),
		"timestamp": fmt.Sprintf("%d", r.Timestamp),
	}
	if r.Price != nil {
		p["price"] = formatDecimal(*r.Price)
	}
	if r.ClientOrderID != "" {
		p["newClientOrderId"] = r.ClientOrderID
	}
	return p
}

// formatDecimal renders a float without exponent notation
func formatDecimal(f float64) string {
	return decimal.NewFromFloat(f).String()
}

// ProtectiveKind distinguishes protective legs
type ProtectiveKind string

const (
	ProtectiveStopLoss   ProtectiveKind = "STOP_LOSS"
	ProtectiveTakeProfit ProtectiveKind = "TAKE_PROFIT"
)

// ProtectiveOrder is a stop-loss or take-profit leg placed after the entry
type ProtectiveOrder struct {
	Kind      ProtectiveKind
	Symbol    string
	EntrySide Side
	Quantity  float64
	Price     float64
}

// OrderRequest converts the leg to a closing-side order request. Spot v3
// has no stop order types, so a stop-loss leg yields ErrUnsupportedOrderType.
func (p ProtectiveOrder) OrderRequest() (*OrderRequest, error) {
	switch p.Kind {
	case ProtectiveStopLoss:
		return nil, fmt.Errorf("%w: stop-loss at %s", ErrUnsupportedOrderType, formatDecimal(p.Price))
	case ProtectiveTakeProfit:
	default:
		return nil, fmt.Errorf("unknown protective order kind %q", p.Kind)
	}
	price := p.Price
	req := &OrderRequest{
		Symbol:   strings.ToUpper(p.Symbol),
		Side:     p.EntrySide.Opposite(),
		Type:     OrderTypeLimit,
		Quantity: p.Quantity,
		Price:    &price,
	}
	return req, req.Validate()
}

// OrderResponse represents a response from placing an order
type OrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
	OrderListID   int64  `json:"orderListId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	TransactTime  int64  `json:"transactTime"`
}

// SymbolInfo represents basic symbol information
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// Enabled reports whether the venue lists the symbol as tradable.
// MEXC reports either "ENABLED" or "1".
func (s SymbolInfo) Enabled() bool {
	return s.Status == "ENABLED" || s.Status == "1"
}

// ExchangeInfo represents exchange information response
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// APIError carries the HTTP status and raw venue body of a failed call
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error (status %d): %s", e.Op, e.StatusCode, e.Body)
}

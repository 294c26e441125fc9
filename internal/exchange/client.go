package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trade-setup-assistant/internal/logging"
	"trade-setup-assistant/internal/metrics"
)

const apiKeyHeader = "X-MEXC-APIKEY"

// Config holds client settings
type Config struct {
	BaseURL    string
	QuoteAsset string
	RecvWindow int64 // Milliseconds, 0 = not sent
	Timeout    time.Duration
}

// Client is a MEXC spot v3 REST client. It holds no credentials; every signed
// call receives them explicitly. The client never retries.
type Client struct {
	baseURL    string
	quoteAsset string
	recvWindow int64
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mexc.com"
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		quoteAsset: cfg.QuoteAsset,
		recvWindow: cfg.RecvWindow,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// Ping checks public connectivity
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", http.MethodGet, "/api/v3/ping", "", "")
	return err
}

// GetPrice fetches the current price for a symbol
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{"symbol": {strings.ToUpper(symbol)}}.Encode()
	body, err := c.do(ctx, "get price", http.MethodGet, "/api/v3/ticker/price", query, "")
	if err != nil {
		return 0, err
	}

	var priceResp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, fmt.Errorf("error parsing price: %w", err)
	}

	price, err := strconv.ParseFloat(priceResp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing price %q: %w", priceResp.Price, err)
	}
	return price, nil
}

// GetExchangeInfo fetches exchange information including all trading symbols
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	body, err := c.do(ctx, "get exchange info", http.MethodGet, "/api/v3/exchangeInfo", "", "")
	if err != nil {
		return nil, err
	}

	var exchangeInfo ExchangeInfo
	if err := json.Unmarshal(body, &exchangeInfo); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}
	return &exchangeInfo, nil
}

// ListSymbols returns enabled symbols quoted in the reference stablecoin
func (c *Client) ListSymbols(ctx context.Context) ([]string, error) {
	info, err := c.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Enabled() && s.QuoteAsset == c.quoteAsset {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

// GetAccountInfo fetches balances and permissions for the credential
func (c *Client) GetAccountInfo(ctx context.Context, creds Credentials) (*AccountInfo, error) {
	body, err := c.signedCall(ctx, "get account info", http.MethodGet, "/api/v3/account", creds, map[string]string{})
	if err != nil {
		return nil, err
	}

	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("error parsing account info: %w", err)
	}
	return &info, nil
}

// GetAuthorizedSymbols returns the symbols the API key may trade.
// A response without a data list means no authorized symbols.
func (c *Client) GetAuthorizedSymbols(ctx context.Context, creds Credentials) ([]string, error) {
	body, err := c.signedCall(ctx, "get authorized symbols", http.MethodGet, "/api/v3/selfSymbols", creds, map[string]string{})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []string `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing authorized symbols: %w", err)
	}
	if resp.Data == nil {
		return []string{}, nil
	}
	return resp.Data, nil
}

// PlaceOrder places the entry order for a trade. Protective legs are not
// included; see PlaceProtectiveOrder.
func (c *Client) PlaceOrder(ctx context.Context, creds Credentials, trade TradeIntent, symbol string, quantity float64) (*OrderResponse, error) {
	req, err := NewOrderRequest(trade, symbol, quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid order: %w", err)
	}
	return c.SubmitOrder(ctx, creds, req)
}

// PlaceProtectiveOrder places a stop-loss or take-profit leg as its own order
func (c *Client) PlaceProtectiveOrder(ctx context.Context, creds Credentials, leg ProtectiveOrder) (*OrderResponse, error) {
	req, err := leg.OrderRequest()
	if err != nil {
		return nil, fmt.Errorf("invalid %s order: %w", strings.ToLower(string(leg.Kind)), err)
	}
	return c.SubmitOrder(ctx, creds, req)
}

// SubmitOrder signs and posts a prepared order request
func (c *Client) SubmitOrder(ctx context.Context, creds Credentials, req *OrderRequest) (*OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order: %w", err)
	}

	params := req.params()
	// signedCall stamps the timestamp; drop the zero placeholder
	delete(params, "timestamp")

	body, err := c.signedCall(ctx, "place order", http.MethodPost, "/api/v3/order", creds, params)
	if err != nil {
		return nil, err
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	logging.OrderContext(req.Symbol, string(req.Side), string(req.Type), req.Quantity).
		Info("Order placed", "order_id", orderResp.OrderID)
	return &orderResp, nil
}

// signedCall stamps timestamp (and recvWindow), signs the sorted query and sends
// it with the API key header. The timestamp is taken immediately before sending.
func (c *Client) signedCall(ctx context.Context, op, method, path string, creds Credentials, params map[string]string) ([]byte, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if c.recvWindow > 0 {
		params["recvWindow"] = strconv.FormatInt(c.recvWindow, 10)
	}
	params["timestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)

	query, err := signedQuery(creds.SecretKey, params)
	if err != nil {
		return nil, fmt.Errorf("%s: signing failed: %w", op, err)
	}

	logging.ExchangeContext(path, params).Debug("Signed request prepared")
	return c.do(ctx, op, method, path, query, creds.APIKey)
}

// do sends one request. rawQuery is used verbatim so a signed query is sent
// byte for byte as it was signed.
func (c *Client) do(ctx context.Context, op, method, path, rawQuery, apiKey string) ([]byte, error) {
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.URL.RawQuery = rawQuery
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveExchangeRequest(path, 0, time.Since(start))
		return nil, fmt.Errorf("error during %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.ObserveExchangeRequest(path, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: error reading response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

package exchange

import "context"

// ExchangeClient defines the venue operations used by the service
type ExchangeClient interface {
	Ping(ctx context.Context) error
	GetPrice(ctx context.Context, symbol string) (float64, error)
	ListSymbols(ctx context.Context) ([]string, error)
	GetAccountInfo(ctx context.Context, creds Credentials) (*AccountInfo, error)
	GetAuthorizedSymbols(ctx context.Context, creds Credentials) ([]string, error)
	PlaceOrder(ctx context.Context, creds Credentials, trade TradeIntent, symbol string, quantity float64) (*OrderResponse, error)
	PlaceProtectiveOrder(ctx context.Context, creds Credentials, leg ProtectiveOrder) (*OrderResponse, error)
}

// Ensure both Client and MockClient implement ExchangeClient
var _ ExchangeClient = (*Client)(nil)
var _ ExchangeClient = (*MockClient)(nil)

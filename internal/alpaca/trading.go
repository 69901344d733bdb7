package alpaca

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is the wire payload for order submission.
type OrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// ReplaceRequest carries the mutable fields of a working order.
type ReplaceRequest struct {
	Qty        string `json:"qty,omitempty"`
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
}

// Order is the venue's order model.
type Order struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	AssetClass    string           `json:"asset_class"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	Status        string           `json:"status"`
	Qty           decimal.Decimal  `json:"qty"`
	FilledQty     decimal.Decimal  `json:"filled_qty"`
	LimitPrice    *decimal.Decimal `json:"limit_price"`
	StopPrice     *decimal.Decimal `json:"stop_price"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Position is a single entry of the venue's position book.
type Position struct {
	Symbol       string          `json:"symbol"`
	AssetClass   string          `json:"asset_class"`
	Qty          decimal.Decimal `json:"qty"`
	Side         string          `json:"side"`
	AvgEntry     decimal.Decimal `json:"avg_entry_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}

// Account is the subset of the venue account model the bridge consumes.
type Account struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Currency     string          `json:"currency"`
	Cash         decimal.Decimal `json:"cash"`
	BuyingPower  decimal.Decimal `json:"buying_power"`
	Equity       decimal.Decimal `json:"equity"`
	PatternDayTr bool            `json:"pattern_day_trader"`
}

// OptionContract describes one listed contract from the contract directory.
type OptionContract struct {
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	Underlying     string          `json:"underlying_symbol"`
	ExpirationDate string          `json:"expiration_date"`
	Type           string          `json:"type"`
	StrikePrice    decimal.Decimal `json:"strike_price"`
	Tradable       bool            `json:"tradable"`
}

type optionContractPage struct {
	Contracts []OptionContract `json:"option_contracts"`
	NextToken *string          `json:"next_page_token"`
}

// CreateOrder submits a new order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPost, c.tradingBase, "/v2/orders", nil, req, &out); err != nil {
		return Order{}, err
	}
	return out, nil
}

// ReplaceOrder amends the working quantity or prices of an open order.
func (c *Client) ReplaceOrder(ctx context.Context, orderID string, req ReplaceRequest) (Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPatch, c.tradingBase, "/v2/orders/"+orderID, nil, req, &out); err != nil {
		return Order{}, err
	}
	return out, nil
}

// CancelOrder requests cancellation of an open order. The venue confirms
// asynchronously over the trade-update stream.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, c.tradingBase, "/v2/orders/"+orderID, nil, nil, nil)
}

// GetOrder fetches a single order by venue id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, c.tradingBase, "/v2/orders/"+orderID, nil, nil, &out); err != nil {
		return Order{}, err
	}
	return out, nil
}

// ListOpenOrders returns every order the venue still considers working.
func (c *Client) ListOpenOrders(ctx context.Context) ([]Order, error) {
	query := url.Values{}
	query.Set("status", "open")
	query.Set("limit", "500")
	var out []Order
	if err := c.do(ctx, http.MethodGet, c.tradingBase, "/v2/orders", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPositions returns the current position book.
func (c *Client) ListPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	if err := c.do(ctx, http.MethodGet, c.tradingBase, "/v2/positions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccount fetches the account snapshot.
func (c *Client) GetAccount(ctx context.Context) (Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, c.tradingBase, "/v2/account", nil, nil, &out); err != nil {
		return Account{}, err
	}
	return out, nil
}

// ListOptionContracts pages through the option contract directory for one
// underlying. An empty returned token means the directory is exhausted.
func (c *Client) ListOptionContracts(ctx context.Context, underlying, pageToken string) ([]OptionContract, string, error) {
	query := url.Values{}
	query.Set("underlying_symbols", underlying)
	query.Set("limit", "1000")
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	var page optionContractPage
	if err := c.do(ctx, http.MethodGet, c.tradingBase, "/v2/options/contracts", query, nil, &page); err != nil {
		return nil, "", err
	}
	next := ""
	if page.NextToken != nil {
		next = *page.NextToken
	}
	return page.Contracts, next, nil
}

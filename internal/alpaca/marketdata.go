package alpaca

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// TradePoint is one historical trade print.
type TradePoint struct {
	Time  time.Time       `json:"t"`
	Price decimal.Decimal `json:"p"`
	Size  decimal.Decimal `json:"s"`
}

// QuotePoint is one historical NBBO sample.
type QuotePoint struct {
	Time     time.Time       `json:"t"`
	BidPrice decimal.Decimal `json:"bp"`
	BidSize  decimal.Decimal `json:"bs"`
	AskPrice decimal.Decimal `json:"ap"`
	AskSize  decimal.Decimal `json:"as"`
}

// BarPoint is one venue-aggregated bar.
type BarPoint struct {
	Time   time.Time       `json:"t"`
	Open   decimal.Decimal `json:"o"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
	Close  decimal.Decimal `json:"c"`
	Volume decimal.Decimal `json:"v"`
}

// AuctionPoint is one opening or closing auction print.
type AuctionPoint struct {
	Time  time.Time       `json:"t"`
	Price decimal.Decimal `json:"p"`
	Size  decimal.Decimal `json:"s"`
}

type stockBarPage struct {
	Bars      []BarPoint `json:"bars"`
	NextToken *string    `json:"next_page_token"`
}

type stockQuotePage struct {
	Quotes    []QuotePoint `json:"quotes"`
	NextToken *string      `json:"next_page_token"`
}

type stockAuctionPage struct {
	Auctions  []AuctionPoint `json:"auctions"`
	NextToken *string        `json:"next_page_token"`
}

// Multi-symbol data surfaces key their payloads by symbol even for
// single-symbol queries.
type keyedTradePage struct {
	Trades    map[string][]TradePoint `json:"trades"`
	NextToken *string                 `json:"next_page_token"`
}

type keyedQuotePage struct {
	Quotes    map[string][]QuotePoint `json:"quotes"`
	NextToken *string                 `json:"next_page_token"`
}

type keyedBarPage struct {
	Bars      map[string][]BarPoint `json:"bars"`
	NextToken *string               `json:"next_page_token"`
}

func (c *Client) historyQuery(start, end time.Time, pageToken string) url.Values {
	query := url.Values{}
	query.Set("start", start.UTC().Format(time.RFC3339Nano))
	query.Set("end", end.UTC().Format(time.RFC3339Nano))
	query.Set("limit", strconv.Itoa(c.pageLimit))
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	return query
}

func tokenOf(next *string) string {
	if next == nil {
		return ""
	}
	return *next
}

// StockBars fetches one page of venue-aggregated equity bars.
func (c *Client) StockBars(ctx context.Context, symbol, timeframe string, start, end time.Time, pageToken string) ([]BarPoint, string, error) {
	query := c.historyQuery(start, end, pageToken)
	query.Set("timeframe", timeframe)
	query.Set("adjustment", "raw")
	var page stockBarPage
	if err := c.do(ctx, http.MethodGet, c.dataBase, "/v2/stocks/"+url.PathEscape(symbol)+"/bars", query, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Bars, tokenOf(page.NextToken), nil
}

// StockQuotes fetches one page of historical equity quotes.
func (c *Client) StockQuotes(ctx context.Context, symbol string, start, end time.Time, pageToken string) ([]QuotePoint, string, error) {
	query := c.historyQuery(start, end, pageToken)
	var page stockQuotePage
	if err := c.do(ctx, http.MethodGet, c.dataBase, "/v2/stocks/"+url.PathEscape(symbol)+"/quotes", query, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Quotes, tokenOf(page.NextToken), nil
}

// StockAuctions fetches one page of opening/closing auction prints.
func (c *Client) StockAuctions(ctx context.Context, symbol string, start, end time.Time, pageToken string) ([]AuctionPoint, string, error) {
	query := c.historyQuery(start, end, pageToken)
	var page stockAuctionPage
	if err := c.do(ctx, http.MethodGet, c.dataBase, "/v2/stocks/"+url.PathEscape(symbol)+"/auctions", query, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Auctions, tokenOf(page.NextToken), nil
}

// OptionTrades fetches one page of historical option trade prints.
func (c *Client) OptionTrades(ctx context.Context, symbol string, start, end time.Time, pageToken string) ([]TradePoint, string, error) {
	query := c.historyQuery(start, end, pageToken)
	query.Set("symbols", symbol)
	var page keyedTradePage
	if err := c.do(ctx, http.MethodGet, c.dataBase, "/v1beta1/options/trades", query, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Trades[symbol], tokenOf(page.NextToken), nil
}

// OptionBars fetches one page of venue-aggregated option bars.
func (c *Client) OptionBars(ctx context.Context, symbol, timeframe string, start, end time.Time, pageToken string) ([]BarPoint, string, error) {
	query := c.historyQuery(start, end, pageToken)
	query.Set("symbols", symbol)
	query.Set("timeframe", timeframe)
	var page keyedBarPage
	if err := c.do(ctx, http.MethodGet, c.dataBase, "/v1beta1/options/bars", query, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Bars[symbol], tokenOf(page.NextToken), nil
}

// CryptoTrades fetches one page of historical crypto trade prints.
func (c *Client) CryptoTrades(ctx context.Context, pair string, start, end time.Time, pageToken string) ([]TradePoint, string, error) {
	query := c.historyQuery(start, end, pageToken)
	query.Set("symbols", pair)
	var page keyedTradePage
	if err := c.do(ctx, http.MethodGet, c.dataBase, "/v1beta3/crypto/us/trades", query, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Trades[pair], tokenOf(page.NextToken), nil
}

// CryptoQuotes fetches one page of historical crypto quotes.
func (c *Client) CryptoQuotes(ctx context.Context, pair string, start, end time.Time, pageToken string) ([]QuotePoint, string, error) {
	query := c.historyQuery(start, end, pageToken)
	query.Set("symbols", pair)
	var page keyedQuotePage
	if err := c.do(ctx, http.MethodGet, c.dataBase, "/v1beta3/crypto/us/quotes", query, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Quotes[pair], tokenOf(page.NextToken), nil
}

// CryptoBars fetches one page of venue-aggregated crypto bars.
func (c *Client) CryptoBars(ctx context.Context, pair, timeframe string, start, end time.Time, pageToken string) ([]BarPoint, string, error) {
	query := c.historyQuery(start, end, pageToken)
	query.Set("symbols", pair)
	query.Set("timeframe", timeframe)
	var page keyedBarPage
	if err := c.do(ctx, http.MethodGet, c.dataBase, "/v1beta3/crypto/us/bars", query, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Bars[pair], tokenOf(page.NextToken), nil
}

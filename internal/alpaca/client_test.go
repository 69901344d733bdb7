package alpaca

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/alpacabridge/config"
	"github.com/tradewire/alpacabridge/errs"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.TradingBaseURL = srv.URL
	cfg.DataBaseURL = srv.URL
	cfg.Credentials = config.Credentials{APIKey: "key-id", APISecret: "key-secret"}
	return NewClient(cfg)
}

func TestCreateOrderSendsAuthHeaders(t *testing.T) {
	var gotKey, gotSecret, gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("APCA-API-KEY-ID")
		gotSecret = r.Header.Get("APCA-API-SECRET-KEY")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc-123","symbol":"AAPL","status":"new","qty":"100","filled_qty":"0","created_at":"2024-06-14T13:30:00Z"}`))
	}))

	order, err := client.CreateOrder(context.Background(), OrderRequest{
		Symbol:      "AAPL",
		Qty:         "100",
		Side:        "buy",
		Type:        "limit",
		TimeInForce: "day",
		LimitPrice:  "150.00",
	})
	require.NoError(t, err)
	require.Equal(t, "abc-123", order.ID)
	require.True(t, order.Qty.Equal(decimal.NewFromInt(100)))
	require.Equal(t, "key-id", gotKey)
	require.Equal(t, "key-secret", gotSecret)
	require.Equal(t, "/v2/orders", gotPath)
}

func TestBearerTokenPreferredOverKeyPair(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"acct","cash":"0"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.TradingBaseURL = srv.URL
	cfg.Credentials = config.Credentials{AccessToken: "tok-1"}
	client := NewClient(cfg)

	_, err := client.GetAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", gotAuth)
}

func TestVenueRejectionMapsErrorEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
	}))

	_, err := client.CreateOrder(context.Background(), OrderRequest{Symbol: "AAPL", Qty: "1", Side: "buy", Type: "market", TimeInForce: "day"})
	require.Error(t, err)
	require.Equal(t, errs.CodeVenueRejection, errs.CodeOf(err))

	var venueErr *errs.E
	require.ErrorAs(t, err, &venueErr)
	require.Equal(t, http.StatusUnprocessableEntity, venueErr.HTTP)
	require.Equal(t, "40310000", venueErr.RawCode)
	require.Equal(t, "insufficient buying power", venueErr.RawMsg)
}

func TestUnauthorizedMapsToAuthCode(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"forbidden"}`))
	}))

	_, err := client.GetAccount(context.Background())
	require.Equal(t, errs.CodeAuth, errs.CodeOf(err))
}

func TestStockBarsPaginates(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/v2/stocks/AAPL/bars", r.URL.Path)
		require.Equal(t, "1Min", r.URL.Query().Get("timeframe"))
		switch r.URL.Query().Get("page_token") {
		case "":
			_, _ = w.Write([]byte(`{"bars":[{"t":"2024-06-14T13:30:00Z","o":"150","h":"151","l":"149","c":"150.5","v":"1000"}],"next_page_token":"tok-2"}`))
		case "tok-2":
			_, _ = w.Write([]byte(`{"bars":[],"next_page_token":null}`))
		default:
			t.Fatalf("unexpected page token %q", r.URL.Query().Get("page_token"))
		}
	}))

	start := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	bars, next, err := client.StockBars(context.Background(), "AAPL", "1Min", start, end, "")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	require.Equal(t, "tok-2", next)

	bars, next, err = client.StockBars(context.Background(), "AAPL", "1Min", start, end, next)
	require.NoError(t, err)
	require.Empty(t, bars)
	require.Empty(t, next)
	require.Equal(t, 2, calls)
}

func TestKeyedPagesUnwrapBySymbol(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta3/crypto/us/trades", r.URL.Path)
		require.Equal(t, "BTC/USD", r.URL.Query().Get("symbols"))
		_, _ = w.Write([]byte(`{"trades":{"BTC/USD":[{"t":"2024-06-14T13:30:00Z","p":"65000.5","s":"0.25"}]},"next_page_token":null}`))
	}))

	start := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	trades, next, err := client.CryptoTrades(context.Background(), "BTC/USD", start, start.Add(time.Hour), "")
	require.NoError(t, err)
	require.Empty(t, next)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Price.Equal(decimal.RequireFromString("65000.5")))
}

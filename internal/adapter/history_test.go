package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/alpacabridge/internal/alpaca"
	"github.com/tradewire/alpacabridge/internal/schema"
)

type pageOf[T any] struct {
	items []T
	next  string
}

// fakeData scripts the paginated history endpoints. Each endpoint serves its
// pages in order regardless of token, recording the tokens it was asked for.
type fakeData struct {
	mu      sync.Mutex
	cursors map[string]int
	tokens  map[string][]string

	stockBars     []pageOf[alpaca.BarPoint]
	stockQuotes   []pageOf[alpaca.QuotePoint]
	stockAuctions []pageOf[alpaca.AuctionPoint]
	optionTrades  []pageOf[alpaca.TradePoint]
	optionBars    []pageOf[alpaca.BarPoint]
	cryptoTrades  []pageOf[alpaca.TradePoint]
	cryptoQuotes  []pageOf[alpaca.QuotePoint]
	cryptoBars    []pageOf[alpaca.BarPoint]
}

func servePage[T any](f *fakeData, endpoint, token string, pages []pageOf[T]) ([]T, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursors == nil {
		f.cursors = make(map[string]int)
		f.tokens = make(map[string][]string)
	}
	f.tokens[endpoint] = append(f.tokens[endpoint], token)
	idx := f.cursors[endpoint]
	f.cursors[endpoint]++
	if idx >= len(pages) {
		return nil, "", nil
	}
	return pages[idx].items, pages[idx].next, nil
}

func (f *fakeData) calls(endpoint string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[endpoint]
}

func (f *fakeData) StockBars(_ context.Context, _, _ string, _, _ time.Time, token string) ([]alpaca.BarPoint, string, error) {
	return servePage(f, "stock_bars", token, f.stockBars)
}

func (f *fakeData) StockQuotes(_ context.Context, _ string, _, _ time.Time, token string) ([]alpaca.QuotePoint, string, error) {
	return servePage(f, "stock_quotes", token, f.stockQuotes)
}

func (f *fakeData) StockAuctions(_ context.Context, _ string, _, _ time.Time, token string) ([]alpaca.AuctionPoint, string, error) {
	return servePage(f, "stock_auctions", token, f.stockAuctions)
}

func (f *fakeData) OptionTrades(_ context.Context, _ string, _, _ time.Time, token string) ([]alpaca.TradePoint, string, error) {
	return servePage(f, "option_trades", token, f.optionTrades)
}

func (f *fakeData) OptionBars(_ context.Context, _, _ string, _, _ time.Time, token string) ([]alpaca.BarPoint, string, error) {
	return servePage(f, "option_bars", token, f.optionBars)
}

func (f *fakeData) CryptoTrades(_ context.Context, _ string, _, _ time.Time, token string) ([]alpaca.TradePoint, string, error) {
	return servePage(f, "crypto_trades", token, f.cryptoTrades)
}

func (f *fakeData) CryptoQuotes(_ context.Context, _ string, _, _ time.Time, token string) ([]alpaca.QuotePoint, string, error) {
	return servePage(f, "crypto_quotes", token, f.cryptoQuotes)
}

func (f *fakeData) CryptoBars(_ context.Context, _, _ string, _, _ time.Time, token string) ([]alpaca.BarPoint, string, error) {
	return servePage(f, "crypto_bars", token, f.cryptoBars)
}

func newHistoryAdapter(t *testing.T, data *fakeData) (*Adapter, *eventRecorder) {
	t.Helper()
	a, err := New(testSettings(),
		WithTradingAPI(&fakeTrading{}),
		WithMarketDataAPI(data),
		WithStreams(newFakeStreams()))
	require.NoError(t, err)
	rec := &eventRecorder{}
	rec.attach(a)
	return a, rec
}

func historyReq(inst schema.Instrument, tickType schema.TickType, res schema.Resolution) schema.HistoryRequest {
	return schema.HistoryRequest{
		Instrument: inst,
		Type:       tickType,
		Resolution: res,
		Start:      time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		End:        time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
	}
}

func populatedData() *fakeData {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	bar := alpaca.BarPoint{
		Time: at, Open: decimal.NewFromInt(10), High: decimal.NewFromInt(11),
		Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(10), Volume: decimal.NewFromInt(1000),
	}
	trade := alpaca.TradePoint{Time: at, Price: decimal.NewFromInt(10), Size: decimal.NewFromInt(5)}
	quote := alpaca.QuotePoint{
		Time: at, BidPrice: decimal.NewFromInt(9), BidSize: decimal.NewFromInt(1),
		AskPrice: decimal.NewFromInt(11), AskSize: decimal.NewFromInt(2),
	}
	auction := alpaca.AuctionPoint{Time: at, Price: decimal.NewFromInt(10), Size: decimal.NewFromInt(500)}
	return &fakeData{
		stockBars:     []pageOf[alpaca.BarPoint]{{items: []alpaca.BarPoint{bar}}},
		stockQuotes:   []pageOf[alpaca.QuotePoint]{{items: []alpaca.QuotePoint{quote}}},
		stockAuctions: []pageOf[alpaca.AuctionPoint]{{items: []alpaca.AuctionPoint{auction}}},
		optionTrades:  []pageOf[alpaca.TradePoint]{{items: []alpaca.TradePoint{trade}}},
		optionBars:    []pageOf[alpaca.BarPoint]{{items: []alpaca.BarPoint{bar}}},
		cryptoTrades:  []pageOf[alpaca.TradePoint]{{items: []alpaca.TradePoint{trade}}},
		cryptoQuotes:  []pageOf[alpaca.QuotePoint]{{items: []alpaca.QuotePoint{quote}}},
		cryptoBars:    []pageOf[alpaca.BarPoint]{{items: []alpaca.BarPoint{bar}}},
	}
}

func TestGetHistorySupportMatrix(t *testing.T) {
	cases := []struct {
		name      string
		inst      schema.Instrument
		tickType  schema.TickType
		res       schema.Resolution
		supported bool
	}{
		{"equity trade tick", equityInst("AAPL"), schema.TickTrade, schema.ResolutionTick, false},
		{"equity trade second", equityInst("AAPL"), schema.TickTrade, schema.ResolutionSecond, false},
		{"equity trade minute", equityInst("AAPL"), schema.TickTrade, schema.ResolutionMinute, true},
		{"equity trade daily", equityInst("AAPL"), schema.TickTrade, schema.ResolutionDaily, true},
		{"equity quote tick", equityInst("AAPL"), schema.TickQuote, schema.ResolutionTick, true},
		{"equity quote hour", equityInst("AAPL"), schema.TickQuote, schema.ResolutionHour, true},
		{"equity open interest tick", equityInst("AAPL"), schema.TickOpenInterest, schema.ResolutionTick, true},
		{"equity open interest daily", equityInst("AAPL"), schema.TickOpenInterest, schema.ResolutionDaily, false},
		{"option trade tick", optionInst(), schema.TickTrade, schema.ResolutionTick, true},
		{"option trade second", optionInst(), schema.TickTrade, schema.ResolutionSecond, true},
		{"option trade hour", optionInst(), schema.TickTrade, schema.ResolutionHour, true},
		{"option quote tick", optionInst(), schema.TickQuote, schema.ResolutionTick, false},
		{"option open interest tick", optionInst(), schema.TickOpenInterest, schema.ResolutionTick, false},
		{"crypto trade tick", cryptoInst("BTC/USD"), schema.TickTrade, schema.ResolutionTick, true},
		{"crypto trade minute", cryptoInst("BTC/USD"), schema.TickTrade, schema.ResolutionMinute, true},
		{"crypto quote tick", cryptoInst("BTC/USD"), schema.TickQuote, schema.ResolutionTick, true},
		{"crypto quote minute", cryptoInst("BTC/USD"), schema.TickQuote, schema.ResolutionMinute, true},
		{"crypto open interest tick", cryptoInst("BTC/USD"), schema.TickOpenInterest, schema.ResolutionTick, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newHistoryAdapter(t, populatedData())
			points, err := a.GetHistory(context.Background(), historyReq(tc.inst, tc.tickType, tc.res))
			require.NoError(t, err)
			if tc.supported {
				require.NotNil(t, points)
				assert.NotEmpty(t, points)
			} else {
				assert.Nil(t, points)
			}
		})
	}
}

func TestGetHistorySupportedButEmptyIsNonNil(t *testing.T) {
	a, _ := newHistoryAdapter(t, &fakeData{})
	points, err := a.GetHistory(context.Background(),
		historyReq(equityInst("AAPL"), schema.TickTrade, schema.ResolutionMinute))
	require.NoError(t, err)
	require.NotNil(t, points)
	assert.Empty(t, points)
}

func TestGetHistoryUnsupportedWarnsOncePerCategory(t *testing.T) {
	a, rec := newHistoryAdapter(t, &fakeData{})
	req := historyReq(equityInst("AAPL"), schema.TickTrade, schema.ResolutionTick)

	for i := 0; i < 3; i++ {
		points, err := a.GetHistory(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, points)
	}
	assert.Equal(t, 1, rec.messageCount())

	// A different unsupported category warns independently.
	points, err := a.GetHistory(context.Background(),
		historyReq(optionInst(), schema.TickQuote, schema.ResolutionTick))
	require.NoError(t, err)
	assert.Nil(t, points)
	assert.Equal(t, 2, rec.messageCount())
}

func TestGetHistoryPaginationSkipsEmptyPages(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	mkBar := func(offset int) alpaca.BarPoint {
		return alpaca.BarPoint{
			Time:  at.Add(time.Duration(offset) * time.Minute),
			Open:  decimal.NewFromInt(10),
			High:  decimal.NewFromInt(10),
			Low:   decimal.NewFromInt(10),
			Close: decimal.NewFromInt(10),
		}
	}
	data := &fakeData{stockBars: []pageOf[alpaca.BarPoint]{
		{items: []alpaca.BarPoint{mkBar(0), mkBar(1)}, next: "tok-2"},
		{items: nil, next: "tok-3"},
		{items: []alpaca.BarPoint{mkBar(2)}, next: ""},
	}}
	a, _ := newHistoryAdapter(t, data)

	points, err := a.GetHistory(context.Background(),
		historyReq(equityInst("AAPL"), schema.TickTrade, schema.ResolutionMinute))
	require.NoError(t, err)
	assert.Len(t, points, 3)
	assert.Equal(t, []string{"", "tok-2", "tok-3"}, data.calls("stock_bars"))
}

func TestGetHistoryAggregatesOptionTradesToSecondBars(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	trades := []alpaca.TradePoint{
		{Time: base.Add(200 * time.Millisecond), Price: decimal.NewFromInt(5), Size: decimal.NewFromInt(2)},
		{Time: base.Add(700 * time.Millisecond), Price: decimal.NewFromInt(7), Size: decimal.NewFromInt(1)},
		{Time: base.Add(1100 * time.Millisecond), Price: decimal.NewFromInt(6), Size: decimal.NewFromInt(3)},
	}
	data := &fakeData{optionTrades: []pageOf[alpaca.TradePoint]{{items: trades}}}
	a, _ := newHistoryAdapter(t, data)

	points, err := a.GetHistory(context.Background(),
		historyReq(optionInst(), schema.TickTrade, schema.ResolutionSecond))
	require.NoError(t, err)
	require.Len(t, points, 2)

	first, ok := points[0].(schema.Bar)
	require.True(t, ok)
	assert.True(t, first.Open.Equal(decimal.NewFromInt(5)))
	assert.True(t, first.High.Equal(decimal.NewFromInt(7)))
	assert.True(t, first.Close.Equal(decimal.NewFromInt(7)))
	assert.True(t, first.Volume.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, time.Second, first.Period)

	second, ok := points[1].(schema.Bar)
	require.True(t, ok)
	assert.True(t, second.Open.Equal(decimal.NewFromInt(6)))
	assert.True(t, second.Volume.Equal(decimal.NewFromInt(3)))
}

func TestGetHistoryQuoteBarsUseMidpoint(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	quotes := []alpaca.QuotePoint{
		{Time: base, BidPrice: decimal.NewFromInt(9), AskPrice: decimal.NewFromInt(11),
			BidSize: decimal.NewFromInt(1), AskSize: decimal.NewFromInt(1)},
		{Time: base.Add(10 * time.Second), BidPrice: decimal.NewFromInt(10), AskPrice: decimal.NewFromInt(14),
			BidSize: decimal.NewFromInt(2), AskSize: decimal.NewFromInt(2)},
	}
	data := &fakeData{stockQuotes: []pageOf[alpaca.QuotePoint]{{items: quotes}}}
	a, _ := newHistoryAdapter(t, data)

	points, err := a.GetHistory(context.Background(),
		historyReq(equityInst("AAPL"), schema.TickQuote, schema.ResolutionMinute))
	require.NoError(t, err)
	require.Len(t, points, 1)

	bar, ok := points[0].(schema.Bar)
	require.True(t, ok)
	assert.True(t, bar.Open.Equal(decimal.NewFromInt(10)))
	assert.True(t, bar.Close.Equal(decimal.NewFromInt(12)))
	assert.True(t, bar.High.Equal(decimal.NewFromInt(12)))
	assert.True(t, bar.Low.Equal(decimal.NewFromInt(10)))
}

func TestGetHistoryTimestampsInExchangeZone(t *testing.T) {
	a, _ := newHistoryAdapter(t, populatedData())

	points, err := a.GetHistory(context.Background(),
		historyReq(equityInst("AAPL"), schema.TickTrade, schema.ResolutionMinute))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "America/New_York", points[0].DataTime().Location().String())

	points, err = a.GetHistory(context.Background(),
		historyReq(cryptoInst("BTC/USD"), schema.TickTrade, schema.ResolutionTick))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, time.UTC, points[0].DataTime().Location())
}

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/alpacabridge/config"
	"github.com/tradewire/alpacabridge/internal/alpaca"
	"github.com/tradewire/alpacabridge/internal/schema"
	"github.com/tradewire/alpacabridge/internal/stream"
)

func testSettings() config.Settings {
	cfg := config.Default()
	cfg.Credentials = config.Credentials{APIKey: "test-key", APISecret: "test-secret"}
	cfg.ConfirmTimeout = 150 * time.Millisecond
	cfg.HTTPTimeout = time.Second
	return cfg
}

type fakeTrading struct {
	mu sync.Mutex

	created       []alpaca.OrderRequest
	createErr     error
	createErrOn   int
	createCalls   int
	nextVenueSeq  int
	getOrder      func(orderID string) (alpaca.Order, error)
	fetched       []string
	replaced      []alpaca.ReplaceRequest
	replacedIDs   []string
	replaceErr    error
	canceled      []string
	cancelErr     error
	positions     []alpaca.Position
	positionsErr  error
	openOrders    []alpaca.Order
	account       alpaca.Account
	contractPages []contractPage
	contractCalls []string
}

type contractPage struct {
	contracts []alpaca.OptionContract
	next      string
}

func (f *fakeTrading) CreateOrder(_ context.Context, req alpaca.OrderRequest) (alpaca.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return alpaca.Order{}, f.createErr
	}
	if f.createErrOn != 0 && f.createCalls == f.createErrOn {
		return alpaca.Order{}, errors.New("rejected by venue")
	}
	f.created = append(f.created, req)
	f.nextVenueSeq++
	return alpaca.Order{ID: fmt.Sprintf("venue-%d", f.nextVenueSeq), Symbol: req.Symbol, Status: "new"}, nil
}

func (f *fakeTrading) ReplaceOrder(_ context.Context, orderID string, req alpaca.ReplaceRequest) (alpaca.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return alpaca.Order{}, f.replaceErr
	}
	f.replaced = append(f.replaced, req)
	f.replacedIDs = append(f.replacedIDs, orderID)
	return alpaca.Order{ID: orderID, Status: "new"}, nil
}

func (f *fakeTrading) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeTrading) GetOrder(_ context.Context, orderID string) (alpaca.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, orderID)
	if f.getOrder != nil {
		return f.getOrder(orderID)
	}
	return alpaca.Order{ID: orderID, Status: "new"}, nil
}

func (f *fakeTrading) ListOpenOrders(context.Context) ([]alpaca.Order, error) {
	return f.openOrders, nil
}

func (f *fakeTrading) ListPositions(context.Context) ([]alpaca.Position, error) {
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return f.positions, nil
}

func (f *fakeTrading) GetAccount(context.Context) (alpaca.Account, error) {
	return f.account, nil
}

func (f *fakeTrading) ListOptionContracts(_ context.Context, _ string, pageToken string) ([]alpaca.OptionContract, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contractCalls = append(f.contractCalls, pageToken)
	idx := len(f.contractCalls) - 1
	if idx >= len(f.contractPages) {
		return nil, "", nil
	}
	page := f.contractPages[idx]
	return page.contracts, page.next, nil
}

func (f *fakeTrading) createdRequests() []alpaca.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]alpaca.OrderRequest, len(f.created))
	copy(out, f.created)
	return out
}

type fakeStreams struct {
	mu sync.Mutex

	connectErr   error
	connected    bool
	disconnected bool
	subscribeErr error
	subscribed   map[schema.AssetClass][]string
	unsubscribed map[schema.AssetClass][]string
	update       stream.UpdateHandler
	trades       map[string]stream.TradeHandler
	quotes       map[string]stream.QuoteHandler
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		subscribed:   make(map[schema.AssetClass][]string),
		unsubscribed: make(map[schema.AssetClass][]string),
		trades:       make(map[string]stream.TradeHandler),
		quotes:       make(map[string]stream.QuoteHandler),
	}
}

func (f *fakeStreams) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStreams) Disconnect() {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeStreams) Subscribe(_ context.Context, class schema.AssetClass, brokerSymbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed[class] = append(f.subscribed[class], brokerSymbols...)
	return nil
}

func (f *fakeStreams) Unsubscribe(_ context.Context, class schema.AssetClass, brokerSymbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed[class] = append(f.unsubscribed[class], brokerSymbols...)
	return nil
}

func (f *fakeStreams) OnTradeUpdate(h stream.UpdateHandler) stream.CancelFunc {
	f.mu.Lock()
	f.update = h
	f.mu.Unlock()
	return func() {}
}

func (f *fakeStreams) OnTrade(class schema.AssetClass, symbol string, h stream.TradeHandler) stream.CancelFunc {
	f.mu.Lock()
	f.trades[string(class)+":"+symbol] = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.trades, string(class)+":"+symbol)
		f.mu.Unlock()
	}
}

func (f *fakeStreams) OnQuote(class schema.AssetClass, symbol string, h stream.QuoteHandler) stream.CancelFunc {
	f.mu.Lock()
	f.quotes[string(class)+":"+symbol] = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.quotes, string(class)+":"+symbol)
		f.mu.Unlock()
	}
}

func (f *fakeStreams) FeedTier(schema.AssetClass) string { return "iex" }

func (f *fakeStreams) push(update stream.OrderUpdate) {
	f.mu.Lock()
	h := f.update
	f.mu.Unlock()
	if h != nil {
		h(update)
	}
}

func (f *fakeStreams) pushTrade(class schema.AssetClass, symbol string, trade stream.Trade) {
	f.mu.Lock()
	h := f.trades[string(class)+":"+symbol]
	f.mu.Unlock()
	if h != nil {
		h(trade)
	}
}

type eventRecorder struct {
	mu       sync.Mutex
	events   []schema.OrderEvent
	messages []schema.Message
}

func (r *eventRecorder) attach(a *Adapter) {
	a.OnOrderEvent(func(ev schema.OrderEvent) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	a.OnMessage(func(msg schema.Message) {
		r.mu.Lock()
		r.messages = append(r.messages, msg)
		r.mu.Unlock()
	})
}

func (r *eventRecorder) snapshot() []schema.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.OrderEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type fakeAggregator struct {
	mu    sync.Mutex
	ticks []schema.Tick
}

func (f *fakeAggregator) Add(tick schema.Tick) {
	f.mu.Lock()
	f.ticks = append(f.ticks, tick)
	f.mu.Unlock()
}

func (f *fakeAggregator) all() []schema.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schema.Tick, len(f.ticks))
	copy(out, f.ticks)
	return out
}

func equityInst(symbol string) schema.Instrument {
	return schema.Instrument{Symbol: symbol, Class: schema.AssetEquity}
}

func cryptoInst(symbol string) schema.Instrument {
	return schema.Instrument{Symbol: symbol, Class: schema.AssetCrypto}
}

func optionInst() schema.Instrument {
	return schema.Instrument{
		Symbol:     "AAPL260116C00250000",
		Class:      schema.AssetOption,
		Underlying: "AAPL",
		Expiry:     time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		Right:      schema.RightCall,
		Strike:     decimal.NewFromInt(250),
	}
}

func newConnectedAdapter(t *testing.T, trading *fakeTrading, streams *fakeStreams, opts ...Option) (*Adapter, *eventRecorder) {
	t.Helper()
	opts = append(opts,
		WithTradingAPI(trading),
		WithMarketDataAPI(&fakeData{}),
		WithStreams(streams))
	a, err := New(testSettings(), opts...)
	require.NoError(t, err)
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(a.Disconnect)

	rec := &eventRecorder{}
	rec.attach(a)
	return a, rec
}

func fillUpdate(venueID, side string, qty, price decimal.Decimal) stream.OrderUpdate {
	return stream.OrderUpdate{
		Event:     "fill",
		Price:     price,
		Qty:       qty,
		Timestamp: time.Now(),
		Order:     stream.OrderState{ID: venueID, Side: side, Status: "filled"},
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	cfg := testSettings()
	cfg.Credentials = config.Credentials{}
	_, err := New(cfg)
	require.Error(t, err)
}

func TestConnectTearsDownStreamsWhenPositionLoadFails(t *testing.T) {
	trading := &fakeTrading{positionsErr: errors.New("service unavailable")}
	streams := newFakeStreams()
	a, err := New(testSettings(),
		WithTradingAPI(trading), WithMarketDataAPI(&fakeData{}), WithStreams(streams))
	require.NoError(t, err)

	require.Error(t, a.Connect(context.Background()))
	assert.True(t, streams.disconnected)
	assert.False(t, a.CanPerformSelection())
}

func TestPlaceOrderFillEmitsSignedQuantity(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          7,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(100),
		Type:        schema.OrderTypeLimit,
		LimitPrice:  decimal.RequireFromString("187.50"),
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	created := trading.createdRequests()
	require.Len(t, created, 1)
	assert.Equal(t, "AAPL", created[0].Symbol)
	assert.Equal(t, "buy", created[0].Side)
	assert.Equal(t, "100", created[0].Qty)
	assert.Equal(t, "187.5", created[0].LimitPrice)

	streams.push(stream.OrderUpdate{
		Event:     "new",
		Timestamp: time.Now(),
		Order:     stream.OrderState{ID: "venue-1", Side: "buy", Status: "new"},
	})
	streams.push(fillUpdate("venue-1", "buy", decimal.NewFromInt(100), decimal.RequireFromString("187.50")))

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, schema.StatusSubmitted, events[0].Status)
	assert.Equal(t, schema.StatusFilled, events[1].Status)
	assert.True(t, events[1].FillQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, events[1].FillPrice.Equal(decimal.RequireFromString("187.50")))
}

func TestSellFillQuantityIsNegative(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          8,
		Instrument:  equityInst("MSFT"),
		Quantity:    decimal.NewFromInt(-50),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	created := trading.createdRequests()
	require.Len(t, created, 1)
	assert.Equal(t, "sell", created[0].Side)
	assert.Equal(t, "50", created[0].Qty)

	streams.push(fillUpdate("venue-1", "sell", decimal.NewFromInt(50), decimal.RequireFromString("410.10")))

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.True(t, events[0].FillQuantity.Equal(decimal.NewFromInt(-50)))
}

func TestPlaceOrderRejectsDuplicateWorkingOrder(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          9,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(10),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	dup := *order
	assert.False(t, a.PlaceOrder(context.Background(), &dup))
	assert.Len(t, trading.createdRequests(), 1)
	assert.Equal(t, 1, rec.messageCount())
}

func TestPlaceOrderDowngradesDerivativeTimeInForce(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          10,
		Instrument:  optionInst(),
		Quantity:    decimal.NewFromInt(1),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TIFGTC,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	created := trading.createdRequests()
	require.Len(t, created, 1)
	assert.Equal(t, "day", created[0].TimeInForce)
	assert.Equal(t, schema.TIFDay, order.TimeInForce)
	assert.Equal(t, 1, rec.messageCount())
}

func TestPlaceOrderVenueRejectionEmitsInvalid(t *testing.T) {
	trading := &fakeTrading{createErr: errors.New("insufficient buying power")}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          11,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(100000),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	assert.False(t, a.PlaceOrder(context.Background(), order))
	assert.Equal(t, schema.StatusInvalid, order.Status)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, schema.StatusInvalid, events[0].Status)
	assert.Contains(t, events[0].Message, "buying power")
}

func TestCancelOrderWaitsForConfirmation(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          12,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(10),
		Type:        schema.OrderTypeLimit,
		LimitPrice:  decimal.NewFromInt(180),
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	go func() {
		time.Sleep(20 * time.Millisecond)
		streams.push(stream.OrderUpdate{
			Event:     "canceled",
			Timestamp: time.Now(),
			Order:     stream.OrderState{ID: "venue-1", Side: "buy", Status: "canceled"},
		})
	}()
	require.True(t, a.CancelOrder(context.Background(), order.ID))

	canceledEvents := 0
	for _, ev := range rec.snapshot() {
		if ev.Status == schema.StatusCanceled {
			canceledEvents++
		}
	}
	assert.Equal(t, 1, canceledEvents)
	assert.Equal(t, []string{"venue-1"}, trading.canceled)
}

func TestCancelOrderTimesOutWithoutConfirmation(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          13,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(10),
		Type:        schema.OrderTypeLimit,
		LimitPrice:  decimal.NewFromInt(180),
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	start := time.Now()
	assert.False(t, a.CancelOrder(context.Background(), order.ID))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 1, rec.messageCount())
	assert.Equal(t, []string{"venue-1"}, trading.fetched)

	for _, ev := range rec.snapshot() {
		assert.NotEqual(t, schema.StatusCanceled, ev.Status)
	}
}

func TestCancelOrderTimeoutReconciledAgainstVenue(t *testing.T) {
	trading := &fakeTrading{getOrder: func(orderID string) (alpaca.Order, error) {
		return alpaca.Order{ID: orderID, Status: "canceled"}, nil
	}}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          20,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(10),
		Type:        schema.OrderTypeLimit,
		LimitPrice:  decimal.NewFromInt(180),
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	// No streamed confirmation arrives, but the venue's order record shows
	// the cancel landed.
	require.True(t, a.CancelOrder(context.Background(), order.ID))
	assert.Equal(t, []string{"venue-1"}, trading.fetched)
	assert.Equal(t, 0, rec.messageCount())

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, schema.StatusCanceled, events[0].Status)
	assert.Equal(t, schema.StatusCanceled, order.Status)
}

func TestCancelOrderRejectsTerminalStates(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, _ := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          14,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(10),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))
	streams.push(fillUpdate("venue-1", "buy", decimal.NewFromInt(10), decimal.NewFromInt(180)))

	assert.False(t, a.CancelOrder(context.Background(), order.ID))
	assert.Empty(t, trading.canceled)
}

func TestCrossZeroOrderSplitsIntoTwoLegs(t *testing.T) {
	trading := &fakeTrading{positions: []alpaca.Position{{
		Symbol: "AAPL", AssetClass: "us_equity", Qty: decimal.NewFromInt(100), Side: "long",
	}}}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          15,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(-150),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	created := trading.createdRequests()
	require.Len(t, created, 1)
	assert.Equal(t, "sell", created[0].Side)
	assert.Equal(t, "100", created[0].Qty)

	// Closing leg fills; the opening leg goes out asynchronously and the
	// host sees nothing yet.
	streams.push(fillUpdate("venue-1", "sell", decimal.NewFromInt(100), decimal.NewFromInt(185)))
	require.Eventually(t, func() bool {
		return len(trading.createdRequests()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	created = trading.createdRequests()
	assert.Equal(t, "sell", created[1].Side)
	assert.Equal(t, "50", created[1].Qty)
	assert.Empty(t, rec.snapshot())

	streams.push(fillUpdate("venue-2", "sell", decimal.NewFromInt(50), decimal.NewFromInt(184)))
	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, schema.StatusFilled, events[0].Status)
	assert.True(t, events[0].FillQuantity.Equal(decimal.NewFromInt(-50)))

	a.orderMu.Lock()
	position := a.positions["AAPL"]
	a.orderMu.Unlock()
	assert.True(t, position.Equal(decimal.NewFromInt(-50)))
}

func TestCrossZeroSecondLegFailureEmitsInvalid(t *testing.T) {
	trading := &fakeTrading{
		createErrOn: 2,
		positions: []alpaca.Position{{
			Symbol: "AAPL", AssetClass: "us_equity", Qty: decimal.NewFromInt(100), Side: "long",
		}},
	}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          21,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(-150),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	streams.push(fillUpdate("venue-1", "sell", decimal.NewFromInt(100), decimal.NewFromInt(185)))
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	events := rec.snapshot()
	assert.Equal(t, schema.StatusInvalid, events[0].Status)
	assert.Contains(t, events[0].Message, "second leg")

	a.orderMu.Lock()
	status := order.Status
	a.orderMu.Unlock()
	assert.Equal(t, schema.StatusInvalid, status)
}

func TestCrossZeroUpdateRejectsPriceChange(t *testing.T) {
	trading := &fakeTrading{positions: []alpaca.Position{{
		Symbol: "AAPL", AssetClass: "us_equity", Qty: decimal.NewFromInt(100), Side: "long",
	}}}
	streams := newFakeStreams()
	a, rec := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          16,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(-150),
		Type:        schema.OrderTypeLimit,
		LimitPrice:  decimal.NewFromInt(185),
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	amended := *order
	amended.LimitPrice = decimal.NewFromInt(184)
	assert.False(t, a.UpdateOrder(context.Background(), amended))
	assert.Equal(t, 1, rec.messageCount())

	amended = *order
	amended.Quantity = decimal.NewFromInt(-175)
	assert.True(t, a.UpdateOrder(context.Background(), amended))
}

func TestUpdateOrderReplacesQuantityAndPrice(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, _ := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          17,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(10),
		Type:        schema.OrderTypeLimit,
		LimitPrice:  decimal.NewFromInt(180),
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	amended := *order
	amended.Quantity = decimal.NewFromInt(20)
	amended.LimitPrice = decimal.NewFromInt(182)
	require.True(t, a.UpdateOrder(context.Background(), amended))

	require.Len(t, trading.replaced, 1)
	assert.Equal(t, "20", trading.replaced[0].Qty)
	assert.Equal(t, "182", trading.replaced[0].LimitPrice)
	assert.Equal(t, []string{"venue-1"}, trading.replacedIDs)
}

func TestUpdateOrderRejectsDirectionFlip(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, _ := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          18,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(10),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	amended := *order
	amended.Quantity = decimal.NewFromInt(-10)
	assert.False(t, a.UpdateOrder(context.Background(), amended))
	assert.Empty(t, trading.replaced)
}

func TestUnknownVenueOrderUpdateIsDropped(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	_, rec := newConnectedAdapter(t, trading, streams)

	streams.push(fillUpdate("never-seen", "buy", decimal.NewFromInt(1), decimal.NewFromInt(1)))
	assert.Empty(t, rec.snapshot())
}

func TestConcurrentFillsAndUpdatesKeepStateConsistent(t *testing.T) {
	trading := &fakeTrading{}
	streams := newFakeStreams()
	a, _ := newConnectedAdapter(t, trading, streams)

	order := &schema.Order{
		ID:          19,
		Instrument:  equityInst("AAPL"),
		Quantity:    decimal.NewFromInt(200),
		Type:        schema.OrderTypeLimit,
		LimitPrice:  decimal.NewFromInt(180),
		TimeInForce: schema.TIFDay,
		Status:      schema.StatusNew,
	}
	require.True(t, a.PlaceOrder(context.Background(), order))

	const fills = 25
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < fills; i++ {
			streams.push(stream.OrderUpdate{
				Event:     "partial_fill",
				Price:     decimal.NewFromInt(180),
				Qty:       decimal.NewFromInt(1),
				Timestamp: time.Now(),
				Order:     stream.OrderState{ID: "venue-1", Side: "buy", Status: "partially_filled"},
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < fills; i++ {
			amended := *order
			amended.Quantity = decimal.NewFromInt(int64(100 + i))
			a.UpdateOrder(context.Background(), amended)
		}
	}()
	wg.Wait()

	a.orderMu.Lock()
	position := a.positions["AAPL"]
	tracked := a.orders[order.ID]
	a.orderMu.Unlock()
	assert.True(t, position.Equal(decimal.NewFromInt(fills)))
	require.NotNil(t, tracked)
	assert.Equal(t, schema.StatusPartiallyFilled, tracked.order.Status)
}

func TestGetOpenOrdersMapsVenueOrders(t *testing.T) {
	limit := decimal.RequireFromString("187.50")
	trading := &fakeTrading{openOrders: []alpaca.Order{
		{ID: "v1", Symbol: "AAPL", AssetClass: "us_equity", Side: "sell", Type: "limit",
			TimeInForce: "day", Qty: decimal.NewFromInt(5), LimitPrice: &limit},
		{ID: "v2", Symbol: "???", AssetClass: "martian_futures", Side: "buy", Type: "market",
			Qty: decimal.NewFromInt(1)},
	}}
	streams := newFakeStreams()
	a, _ := newConnectedAdapter(t, trading, streams)

	orders, err := a.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "AAPL", orders[0].Instrument.Symbol)
	assert.True(t, orders[0].Quantity.Equal(decimal.NewFromInt(-5)))
	assert.True(t, orders[0].LimitPrice.Equal(limit))
	assert.Equal(t, []string{"v1"}, orders[0].BrokerIDs)
}

func TestGetAccountHoldingsSignsShortPositions(t *testing.T) {
	trading := &fakeTrading{positions: []alpaca.Position{
		{Symbol: "AAPL", AssetClass: "us_equity", Qty: decimal.NewFromInt(30), Side: "short",
			AvgEntry: decimal.NewFromInt(190), MarketValue: decimal.NewFromInt(-5700)},
	}}
	streams := newFakeStreams()
	a, _ := newConnectedAdapter(t, trading, streams)

	holdings, err := a.GetAccountHoldings(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].Quantity.Equal(decimal.NewFromInt(-30)))
}

func TestGetCashBalanceDefaultsCurrency(t *testing.T) {
	trading := &fakeTrading{account: alpaca.Account{Cash: decimal.NewFromInt(25000)}}
	streams := newFakeStreams()
	a, _ := newConnectedAdapter(t, trading, streams)

	balances, err := a.GetCashBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "USD", balances[0].Currency)
	assert.True(t, balances[0].Amount.Equal(decimal.NewFromInt(25000)))
}

func TestLookupSymbolsPagesThroughContractDirectory(t *testing.T) {
	trading := &fakeTrading{contractPages: []contractPage{
		{contracts: []alpaca.OptionContract{{Symbol: "AAPL260116C00250000"}}, next: "tok-2"},
		{contracts: []alpaca.OptionContract{{Symbol: "AAPL260116P00250000"}, {Symbol: "not-an-occ-symbol"}}, next: ""},
	}}
	streams := newFakeStreams()
	a, _ := newConnectedAdapter(t, trading, streams)

	instruments, err := a.LookupSymbols(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, instruments, 2)
	assert.Equal(t, []string{"", "tok-2"}, trading.contractCalls)
	assert.Equal(t, schema.RightCall, instruments[0].Right)
	assert.Equal(t, schema.RightPut, instruments[1].Right)
}

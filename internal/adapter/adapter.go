// Package adapter bridges the trading host's order and data model to the
// brokerage's REST and streaming APIs.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewire/alpacabridge/config"
	"github.com/tradewire/alpacabridge/errs"
	"github.com/tradewire/alpacabridge/internal/alpaca"
	"github.com/tradewire/alpacabridge/internal/journal"
	"github.com/tradewire/alpacabridge/internal/observability"
	"github.com/tradewire/alpacabridge/internal/schema"
	"github.com/tradewire/alpacabridge/internal/stream"
	"github.com/tradewire/alpacabridge/internal/symbols"
)

// TradingAPI is the REST surface the lifecycle controller uses.
type TradingAPI interface {
	CreateOrder(ctx context.Context, req alpaca.OrderRequest) (alpaca.Order, error)
	ReplaceOrder(ctx context.Context, orderID string, req alpaca.ReplaceRequest) (alpaca.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (alpaca.Order, error)
	ListOpenOrders(ctx context.Context) ([]alpaca.Order, error)
	ListPositions(ctx context.Context) ([]alpaca.Position, error)
	GetAccount(ctx context.Context) (alpaca.Account, error)
	ListOptionContracts(ctx context.Context, underlying, pageToken string) ([]alpaca.OptionContract, string, error)
}

// MarketDataAPI is the paginated history REST surface.
type MarketDataAPI interface {
	StockBars(ctx context.Context, symbol, timeframe string, start, end time.Time, pageToken string) ([]alpaca.BarPoint, string, error)
	StockQuotes(ctx context.Context, symbol string, start, end time.Time, pageToken string) ([]alpaca.QuotePoint, string, error)
	StockAuctions(ctx context.Context, symbol string, start, end time.Time, pageToken string) ([]alpaca.AuctionPoint, string, error)
	OptionTrades(ctx context.Context, symbol string, start, end time.Time, pageToken string) ([]alpaca.TradePoint, string, error)
	OptionBars(ctx context.Context, symbol, timeframe string, start, end time.Time, pageToken string) ([]alpaca.BarPoint, string, error)
	CryptoTrades(ctx context.Context, pair string, start, end time.Time, pageToken string) ([]alpaca.TradePoint, string, error)
	CryptoQuotes(ctx context.Context, pair string, start, end time.Time, pageToken string) ([]alpaca.QuotePoint, string, error)
	CryptoBars(ctx context.Context, pair, timeframe string, start, end time.Time, pageToken string) ([]alpaca.BarPoint, string, error)
}

// StreamController is the streaming surface the adapter drives.
type StreamController interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(ctx context.Context, class schema.AssetClass, brokerSymbols []string) error
	Unsubscribe(ctx context.Context, class schema.AssetClass, brokerSymbols []string) error
	OnTradeUpdate(h stream.UpdateHandler) stream.CancelFunc
	OnTrade(class schema.AssetClass, symbol string, h stream.TradeHandler) stream.CancelFunc
	OnQuote(class schema.AssetClass, symbol string, h stream.QuoteHandler) stream.CancelFunc
	FeedTier(class schema.AssetClass) string
}

// Aggregator is the host's shared market-data sink. It is not safe for
// concurrent use; the adapter serializes access.
type Aggregator interface {
	Add(tick schema.Tick)
}

// OrderEventHandler consumes normalized order-status events.
type OrderEventHandler func(schema.OrderEvent)

// MessageHandler consumes host-visible warning and info messages.
type MessageHandler func(schema.Message)

// Holding is one entry of the host-facing position report.
type Holding struct {
	Instrument   schema.Instrument
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	MarketValue  decimal.Decimal
}

// CashBalance is one currency balance of the account.
type CashBalance struct {
	Currency string
	Amount   decimal.Decimal
}

// Adapter is the bridge between the host and the brokerage. One Adapter
// owns one set of venue sessions and one order correlation table.
type Adapter struct {
	cfg     config.Settings
	trading TradingAPI
	data    MarketDataAPI
	streams StreamController
	journal journal.Store
	metrics *bridgeMetrics
	clock   func() time.Time

	connected    atomic.Bool
	updateCancel stream.CancelFunc

	// orderMu serializes order mutation commands adapter-wide and guards the
	// correlation table against the command/event race. A single lock trades
	// cross-order throughput for a simpler invariant; expected command rates
	// are far below where that matters.
	orderMu       sync.Mutex
	orders        map[int64]*trackedOrder
	byVenueID     map[string]*trackedOrder
	cancelWaiters map[string]chan schema.OrderStatus
	positions     map[string]decimal.Decimal

	handlerMu     sync.Mutex
	nextHandlerID int
	orderHandlers map[int]OrderEventHandler
	msgHandlers   map[int]MessageHandler

	subsMu sync.Mutex
	subs   map[string]*subscriptionEntry

	agg   Aggregator
	aggMu sync.Mutex

	warnMu sync.Mutex
	warned map[string]struct{}
}

// Option customises Adapter construction.
type Option func(*Adapter)

// WithTradingAPI substitutes the trading REST client.
func WithTradingAPI(api TradingAPI) Option {
	return func(a *Adapter) { a.trading = api }
}

// WithMarketDataAPI substitutes the history REST client.
func WithMarketDataAPI(api MarketDataAPI) Option {
	return func(a *Adapter) { a.data = api }
}

// WithStreams substitutes the streaming controller.
func WithStreams(s StreamController) Option {
	return func(a *Adapter) { a.streams = s }
}

// WithJournal attaches an order-event journal.
func WithJournal(store journal.Store) Option {
	return func(a *Adapter) { a.journal = store }
}

// WithAggregator attaches the host's market-data aggregator.
func WithAggregator(agg Aggregator) Option {
	return func(a *Adapter) { a.agg = agg }
}

// WithClock substitutes the time source, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) { a.clock = clock }
}

// New validates credentials and assembles an Adapter. Missing credentials
// are a configuration error and fail construction immediately.
func New(cfg config.Settings, opts ...Option) (*Adapter, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}

	a := &Adapter{
		cfg:           cfg,
		journal:       journal.Nop{},
		clock:         time.Now,
		orders:        make(map[int64]*trackedOrder),
		byVenueID:     make(map[string]*trackedOrder),
		cancelWaiters: make(map[string]chan schema.OrderStatus),
		positions:     make(map[string]decimal.Decimal),
		orderHandlers: make(map[int]OrderEventHandler),
		msgHandlers:   make(map[int]MessageHandler),
		subs:          make(map[string]*subscriptionEntry),
		warned:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.trading == nil || a.data == nil {
		client := alpaca.NewClient(cfg)
		if a.trading == nil {
			a.trading = client
		}
		if a.data == nil {
			a.data = client
		}
	}
	if a.streams == nil {
		a.streams = stream.NewManager(cfg)
	}
	a.metrics = newBridgeMetrics()
	return a, nil
}

// Connect authorizes every streaming channel, wires the trade-update
// handler, and seeds the position cache used for cross-zero detection.
// Partial channel success is torn down; Connect is all-or-nothing.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.connected.Load() {
		return nil
	}
	if err := a.streams.Connect(ctx); err != nil {
		return err
	}

	positions, err := a.trading.ListPositions(ctx)
	if err != nil {
		a.streams.Disconnect()
		return fmt.Errorf("load position book: %w", err)
	}

	a.orderMu.Lock()
	a.positions = make(map[string]decimal.Decimal, len(positions))
	for _, pos := range positions {
		a.positions[pos.Symbol] = signedPositionQty(pos)
	}
	a.orderMu.Unlock()

	a.updateCancel = a.streams.OnTradeUpdate(a.handleTradeUpdate)
	a.connected.Store(true)
	observability.Log().Info("adapter connected",
		observability.Field{Key: "environment", Value: string(a.cfg.Environment)},
		observability.Field{Key: "positions", Value: len(positions)})
	return nil
}

// Disconnect detaches the trade-update handler and closes every channel.
func (a *Adapter) Disconnect() {
	if !a.connected.Swap(false) {
		return
	}
	if a.updateCancel != nil {
		a.updateCancel()
		a.updateCancel = nil
	}
	a.streams.Disconnect()
	observability.Log().Info("adapter disconnected")
}

// CanPerformSelection reports whether the adapter is connected and able to
// service instrument selection.
func (a *Adapter) CanPerformSelection() bool {
	return a.connected.Load()
}

// OnOrderEvent registers a handler for normalized order-status events.
func (a *Adapter) OnOrderEvent(h OrderEventHandler) stream.CancelFunc {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.nextHandlerID++
	id := a.nextHandlerID
	a.orderHandlers[id] = h
	return func() {
		a.handlerMu.Lock()
		defer a.handlerMu.Unlock()
		delete(a.orderHandlers, id)
	}
}

// OnMessage registers a handler for warning and info messages.
func (a *Adapter) OnMessage(h MessageHandler) stream.CancelFunc {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.nextHandlerID++
	id := a.nextHandlerID
	a.msgHandlers[id] = h
	return func() {
		a.handlerMu.Lock()
		defer a.handlerMu.Unlock()
		delete(a.msgHandlers, id)
	}
}

// GetOpenOrders lists orders the venue still considers working, mapped back
// to host instruments.
func (a *Adapter) GetOpenOrders(ctx context.Context) ([]schema.Order, error) {
	venueOrders, err := a.trading.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	orders := make([]schema.Order, 0, len(venueOrders))
	for _, vo := range venueOrders {
		order, err := a.mapVenueOrder(vo)
		if err != nil {
			observability.Log().Warn("skipping unmappable open order",
				observability.Field{Key: "venue_order_id", Value: vo.ID},
				observability.Field{Key: "symbol", Value: vo.Symbol},
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// GetAccountHoldings returns the venue's position book as host holdings.
func (a *Adapter) GetAccountHoldings(ctx context.Context) ([]Holding, error) {
	positions, err := a.trading.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	holdings := make([]Holding, 0, len(positions))
	for _, pos := range positions {
		class, ok := classFromVenue(pos.AssetClass)
		if !ok {
			observability.Log().Warn("skipping position with unknown asset class",
				observability.Field{Key: "symbol", Value: pos.Symbol},
				observability.Field{Key: "asset_class", Value: pos.AssetClass})
			continue
		}
		inst, err := symbols.ToInstrument(class, pos.Symbol)
		if err != nil {
			observability.Log().Warn("skipping unmappable position",
				observability.Field{Key: "symbol", Value: pos.Symbol},
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		holdings = append(holdings, Holding{
			Instrument:   inst,
			Quantity:     signedPositionQty(pos),
			AveragePrice: pos.AvgEntry,
			MarketValue:  pos.MarketValue,
		})
	}
	return holdings, nil
}

// GetCashBalance returns the account's settled cash per currency.
func (a *Adapter) GetCashBalance(ctx context.Context) ([]CashBalance, error) {
	account, err := a.trading.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	currency := account.Currency
	if currency == "" {
		currency = "USD"
	}
	return []CashBalance{{Currency: currency, Amount: account.Cash}}, nil
}

// LookupSymbols enumerates the option chain for an underlying, paging
// through the venue's contract directory until the token runs out.
func (a *Adapter) LookupSymbols(ctx context.Context, underlying string) ([]schema.Instrument, error) {
	var out []schema.Instrument
	token := ""
	for {
		contracts, next, err := a.trading.ListOptionContracts(ctx, underlying, token)
		if err != nil {
			return nil, err
		}
		for _, contract := range contracts {
			inst, err := symbols.ToInstrument(schema.AssetOption, contract.Symbol)
			if err != nil {
				observability.Log().Warn("skipping unparseable option contract",
					observability.Field{Key: "symbol", Value: contract.Symbol},
					observability.Field{Key: "error", Value: err.Error()})
				continue
			}
			out = append(out, inst)
		}
		if next == "" {
			return out, nil
		}
		token = next
	}
}

func (a *Adapter) emitOrderEvent(ev schema.OrderEvent) {
	a.handlerMu.Lock()
	handlers := make([]OrderEventHandler, 0, len(a.orderHandlers))
	for _, h := range a.orderHandlers {
		handlers = append(handlers, h)
	}
	a.handlerMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
	a.metrics.recordOrderEvent(context.Background(), ev.Status)
}

func (a *Adapter) emitMessage(category, text string) {
	a.handlerMu.Lock()
	handlers := make([]MessageHandler, 0, len(a.msgHandlers))
	for _, h := range a.msgHandlers {
		handlers = append(handlers, h)
	}
	a.handlerMu.Unlock()
	msg := schema.Message{Category: category, Text: text}
	for _, h := range handlers {
		h(msg)
	}
}

// warnOnce emits a warning at most once per category per adapter instance.
func (a *Adapter) warnOnce(category, text string) {
	a.warnMu.Lock()
	_, seen := a.warned[category]
	if !seen {
		a.warned[category] = struct{}{}
	}
	a.warnMu.Unlock()
	if seen {
		return
	}
	observability.Log().Warn(text, observability.Field{Key: "category", Value: category})
	a.emitMessage(category, text)
	a.metrics.recordWarning(context.Background(), category)
}

func (a *Adapter) mapVenueOrder(vo alpaca.Order) (schema.Order, error) {
	class, ok := classFromVenue(vo.AssetClass)
	if !ok {
		return schema.Order{}, errs.New(alpaca.Venue, errs.CodeUnsupportedInstrument,
			errs.WithMessage(fmt.Sprintf("unknown venue asset class %q", vo.AssetClass)))
	}
	inst, err := symbols.ToInstrument(class, vo.Symbol)
	if err != nil {
		return schema.Order{}, err
	}
	qty := vo.Qty
	if vo.Side == "sell" {
		qty = qty.Neg()
	}
	order := schema.Order{
		Instrument:  inst,
		Quantity:    qty,
		Type:        schema.OrderType(vo.Type),
		TimeInForce: schema.TimeInForce(vo.TimeInForce),
		Status:      schema.StatusSubmitted,
		BrokerIDs:   []string{vo.ID},
	}
	if vo.LimitPrice != nil {
		order.LimitPrice = *vo.LimitPrice
	}
	if vo.StopPrice != nil {
		order.StopPrice = *vo.StopPrice
	}
	return order, nil
}

func classFromVenue(assetClass string) (schema.AssetClass, bool) {
	switch assetClass {
	case "us_equity":
		return schema.AssetEquity, true
	case "us_option":
		return schema.AssetOption, true
	case "crypto":
		return schema.AssetCrypto, true
	default:
		return "", false
	}
}

func signedPositionQty(pos alpaca.Position) decimal.Decimal {
	qty := pos.Qty
	if pos.Side == "short" && qty.Sign() > 0 {
		qty = qty.Neg()
	}
	return qty
}

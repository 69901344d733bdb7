package stream

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/tradewire/alpacabridge/config"
	"github.com/tradewire/alpacabridge/internal/observability"
	"github.com/tradewire/alpacabridge/internal/schema"
)

// UpdateHandler consumes trade-update events from the trading socket.
type UpdateHandler func(OrderUpdate)

// TradeHandler consumes real-time trade prints for one symbol.
type TradeHandler func(Trade)

// QuoteHandler consumes real-time quotes for one symbol.
type QuoteHandler func(Quote)

// CancelFunc detaches a previously registered handler.
type CancelFunc func()

// Manager owns the bridge's websocket sessions: the trading channel plus
// one market-data channel per asset class, each with its own feed-tier
// fallback list.
type Manager struct {
	cfg  config.Settings
	dial Dialer

	trading *Channel
	data    map[schema.AssetClass]*Channel

	mu             sync.Mutex
	nextID         int
	updateHandlers map[int]UpdateHandler
	tradeHandlers  map[schema.AssetClass]map[string]map[int]TradeHandler
	quoteHandlers  map[schema.AssetClass]map[string]map[int]QuoteHandler
}

// Option customises Manager construction.
type Option func(*Manager)

// WithDialer substitutes the transport dialer, used by tests.
func WithDialer(dial Dialer) Option {
	return func(m *Manager) { m.dial = dial }
}

// NewManager wires the four channels from bridge settings.
func NewManager(cfg config.Settings, opts ...Option) *Manager {
	m := &Manager{
		cfg:            cfg,
		dial:           DialWebsocket,
		data:           make(map[schema.AssetClass]*Channel, 3),
		updateHandlers: make(map[int]UpdateHandler),
		tradeHandlers:  make(map[schema.AssetClass]map[string]map[int]TradeHandler),
		quoteHandlers:  make(map[schema.AssetClass]map[string]map[int]QuoteHandler),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.trading = NewChannel("trading",
		[]Tier{{Name: "trading", URL: cfg.TradingWSURL}},
		m.dial, TradingHandshake(cfg.Credentials), cfg.HandshakeTimeout,
		m.handleTradingMessage)

	m.data[schema.AssetEquity] = NewChannel("equity-data",
		dataTiers(cfg.DataWSBaseURL, "/v2/", cfg.EquityFeeds),
		m.dial, DataHandshake(cfg.Credentials), cfg.HandshakeTimeout,
		m.dataDispatcher(schema.AssetEquity))
	m.data[schema.AssetOption] = NewChannel("option-data",
		dataTiers(cfg.DataWSBaseURL, "/v1beta1/", cfg.OptionFeeds),
		m.dial, DataHandshake(cfg.Credentials), cfg.HandshakeTimeout,
		m.dataDispatcher(schema.AssetOption))
	m.data[schema.AssetCrypto] = NewChannel("crypto-data",
		dataTiers(cfg.DataWSBaseURL, "/v1beta3/crypto/", cfg.CryptoFeeds),
		m.dial, DataHandshake(cfg.Credentials), cfg.HandshakeTimeout,
		m.dataDispatcher(schema.AssetCrypto))

	return m
}

func dataTiers(base, prefix string, feeds []string) []Tier {
	tiers := make([]Tier, 0, len(feeds))
	for _, feed := range feeds {
		tiers = append(tiers, Tier{Name: feed, URL: base + prefix + feed})
	}
	return tiers
}

// Connect brings up every channel. Any channel failing its whole tier list
// fails the connect; already-connected channels are torn down again so the
// manager never half-runs.
func (m *Manager) Connect(ctx context.Context) error {
	channels := []*Channel{m.trading, m.data[schema.AssetEquity], m.data[schema.AssetOption], m.data[schema.AssetCrypto]}

	// Channels authorize independently, so handshakes run in parallel.
	var (
		failMu   sync.Mutex
		failures []error
		wg       conc.WaitGroup
	)
	for _, ch := range channels {
		ch := ch
		wg.Go(func() {
			if err := ch.Connect(ctx); err != nil {
				failMu.Lock()
				failures = append(failures, err)
				failMu.Unlock()
			}
		})
	}
	wg.Wait()
	if len(failures) > 0 {
		for _, ch := range channels {
			if ch.State() == StateAuthorized {
				ch.Close()
			}
		}
		return observability.AggregateErrors("connect streaming channels", failures)
	}
	return nil
}

// Disconnect closes every channel.
func (m *Manager) Disconnect() {
	m.trading.Close()
	for _, ch := range m.data {
		ch.Close()
	}
}

// ChannelState reports the lifecycle state of one data channel.
func (m *Manager) ChannelState(class schema.AssetClass) State {
	ch, ok := m.data[class]
	if !ok {
		return StateDisconnected
	}
	return ch.State()
}

// TradingState reports the lifecycle state of the trading channel.
func (m *Manager) TradingState() State {
	return m.trading.State()
}

// FeedTier reports the pinned tier of one data channel.
func (m *Manager) FeedTier(class schema.AssetClass) string {
	ch, ok := m.data[class]
	if !ok {
		return ""
	}
	return ch.Tier()
}

// Subscribe adds trade+quote streaming for the given broker symbols on the
// channel of the given class.
func (m *Manager) Subscribe(ctx context.Context, class schema.AssetClass, symbols []string) error {
	ch, ok := m.data[class]
	if !ok {
		return fmt.Errorf("no streaming channel for asset class %q", class)
	}
	return ch.Subscribe(ctx, symbols, symbols)
}

// Unsubscribe removes trade+quote streaming for the given broker symbols.
func (m *Manager) Unsubscribe(ctx context.Context, class schema.AssetClass, symbols []string) error {
	ch, ok := m.data[class]
	if !ok {
		return fmt.Errorf("no streaming channel for asset class %q", class)
	}
	return ch.Unsubscribe(ctx, symbols, symbols)
}

// OnTradeUpdate registers a trade-update handler. The returned CancelFunc
// detaches exactly the handler it was returned for.
func (m *Manager) OnTradeUpdate(h UpdateHandler) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.updateHandlers[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.updateHandlers, id)
	}
}

// OnTrade registers a per-symbol trade handler on a data channel.
func (m *Manager) OnTrade(class schema.AssetClass, symbol string, h TradeHandler) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol, ok := m.tradeHandlers[class]
	if !ok {
		bySymbol = make(map[string]map[int]TradeHandler)
		m.tradeHandlers[class] = bySymbol
	}
	handlers, ok := bySymbol[symbol]
	if !ok {
		handlers = make(map[int]TradeHandler)
		bySymbol[symbol] = handlers
	}
	m.nextID++
	id := m.nextID
	handlers[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(bySymbol, symbol)
		}
	}
}

// OnQuote registers a per-symbol quote handler on a data channel.
func (m *Manager) OnQuote(class schema.AssetClass, symbol string, h QuoteHandler) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol, ok := m.quoteHandlers[class]
	if !ok {
		bySymbol = make(map[string]map[int]QuoteHandler)
		m.quoteHandlers[class] = bySymbol
	}
	handlers, ok := bySymbol[symbol]
	if !ok {
		handlers = make(map[int]QuoteHandler)
		bySymbol[symbol] = handlers
	}
	m.nextID++
	id := m.nextID
	handlers[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(bySymbol, symbol)
		}
	}
}

func (m *Manager) handleTradingMessage(data []byte) {
	var env tradingEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		observability.Log().Warn("malformed trading frame",
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	if env.Stream != "trade_updates" {
		return
	}
	var update OrderUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		observability.Log().Warn("malformed trade update",
			observability.Field{Key: "error", Value: err.Error()})
		return
	}

	m.mu.Lock()
	handlers := make([]UpdateHandler, 0, len(m.updateHandlers))
	for _, h := range m.updateHandlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(update)
	}
}

func (m *Manager) dataDispatcher(class schema.AssetClass) func([]byte) {
	return func(data []byte) {
		var msgs []marketMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			observability.Log().Warn("malformed data frame",
				observability.Field{Key: "channel", Value: string(class)},
				observability.Field{Key: "error", Value: err.Error()})
			return
		}
		for _, msg := range msgs {
			switch msg.Type {
			case "t":
				m.dispatchTrade(class, Trade{Symbol: msg.Symbol, Price: msg.Price, Size: msg.Size, Time: msg.Time})
			case "q":
				m.dispatchQuote(class, Quote{
					Symbol:   msg.Symbol,
					BidPrice: msg.BidPrice,
					BidSize:  msg.BidSize,
					AskPrice: msg.AskPrice,
					AskSize:  msg.AskSize,
					Time:     msg.Time,
				})
			case "error":
				observability.Log().Warn("data channel error message",
					observability.Field{Key: "channel", Value: string(class)},
					observability.Field{Key: "code", Value: msg.Code},
					observability.Field{Key: "message", Value: msg.Msg})
			}
		}
	}
}

func (m *Manager) dispatchTrade(class schema.AssetClass, trade Trade) {
	m.mu.Lock()
	var handlers []TradeHandler
	if bySymbol, ok := m.tradeHandlers[class]; ok {
		for _, h := range bySymbol[trade.Symbol] {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(trade)
	}
}

func (m *Manager) dispatchQuote(class schema.AssetClass, quote Quote) {
	m.mu.Lock()
	var handlers []QuoteHandler
	if bySymbol, ok := m.quoteHandlers[class]; ok {
		for _, h := range bySymbol[quote.Symbol] {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(quote)
	}
}

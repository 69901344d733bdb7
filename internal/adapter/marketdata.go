package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/tradewire/alpacabridge/internal/observability"
	"github.com/tradewire/alpacabridge/internal/schema"
	"github.com/tradewire/alpacabridge/internal/stream"
	"github.com/tradewire/alpacabridge/internal/symbols"
)

// subscriptionEntry tracks one streamed instrument: its venue symbol, the
// exchange time zone for tick timestamps, and the handler detach handles
// owned by this adapter instance.
type subscriptionEntry struct {
	instrument   schema.Instrument
	brokerSymbol string
	location     *time.Location
	cancels      []stream.CancelFunc
}

var (
	nyLocation     *time.Location
	nyLocationOnce sync.Once
)

// exchangeLocation returns the venue-local zone for tick timestamps:
// US equities and options trade on New York time, crypto runs on UTC.
func exchangeLocation(class schema.AssetClass) *time.Location {
	if class == schema.AssetCrypto {
		return time.UTC
	}
	nyLocationOnce.Do(func() {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			observability.Log().Error("loading exchange time zone failed",
				observability.Field{Key: "error", Value: err.Error()})
			loc = time.UTC
		}
		nyLocation = loc
	})
	return nyLocation
}

// Subscribe starts trade and quote streaming for the given instruments and
// wires their pushes into the host aggregator. Instruments already
// subscribed are untouched, so partially-overlapping sets are safe.
func (a *Adapter) Subscribe(ctx context.Context, instruments []schema.Instrument) bool {
	if !a.connected.Load() {
		a.emitMessage("marketdata", "subscribe rejected: adapter not connected")
		return false
	}

	perClass := make(map[schema.AssetClass][]string)
	var attached []*subscriptionEntry

	a.subsMu.Lock()
	for _, inst := range instruments {
		brokerSymbol, err := symbols.ToBroker(inst)
		if err != nil {
			a.subsMu.Unlock()
			a.emitMessage("marketdata", "subscribe failed: "+err.Error())
			a.rollbackSubscriptions(attached)
			return false
		}
		if _, ok := a.subs[brokerSymbol]; ok {
			continue
		}

		entry := &subscriptionEntry{
			instrument:   inst,
			brokerSymbol: brokerSymbol,
			location:     exchangeLocation(inst.Class),
		}
		entry.cancels = append(entry.cancels,
			a.streams.OnTrade(inst.Class, brokerSymbol, a.tradeTickHandler(entry)),
			a.streams.OnQuote(inst.Class, brokerSymbol, a.quoteTickHandler(entry)))
		a.subs[brokerSymbol] = entry
		attached = append(attached, entry)
		perClass[inst.Class] = append(perClass[inst.Class], brokerSymbol)
	}
	a.subsMu.Unlock()

	for class, syms := range perClass {
		if err := a.streams.Subscribe(ctx, class, syms); err != nil {
			observability.Log().Warn("streaming subscribe failed",
				observability.Field{Key: "asset_class", Value: string(class)},
				observability.Field{Key: "error", Value: err.Error()})
			a.emitMessage("marketdata", "subscribe failed: "+err.Error())
			a.rollbackSubscriptions(attached)
			return false
		}
	}
	a.metrics.adjustSubscriptions(ctx, len(attached))
	return true
}

// Unsubscribe stops streaming for the given instruments. A symbol that is
// not currently subscribed is a silent no-op.
func (a *Adapter) Unsubscribe(ctx context.Context, instruments []schema.Instrument) bool {
	perClass := make(map[schema.AssetClass][]string)
	removed := 0

	a.subsMu.Lock()
	for _, inst := range instruments {
		brokerSymbol, err := symbols.ToBroker(inst)
		if err != nil {
			continue
		}
		entry, ok := a.subs[brokerSymbol]
		if !ok {
			continue
		}
		for _, cancel := range entry.cancels {
			cancel()
		}
		delete(a.subs, brokerSymbol)
		removed++
		perClass[inst.Class] = append(perClass[inst.Class], brokerSymbol)
	}
	a.subsMu.Unlock()

	ok := true
	for class, syms := range perClass {
		if err := a.streams.Unsubscribe(ctx, class, syms); err != nil {
			observability.Log().Warn("streaming unsubscribe failed",
				observability.Field{Key: "asset_class", Value: string(class)},
				observability.Field{Key: "error", Value: err.Error()})
			ok = false
		}
	}
	a.metrics.adjustSubscriptions(ctx, -removed)
	return ok
}

func (a *Adapter) rollbackSubscriptions(attached []*subscriptionEntry) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for _, entry := range attached {
		for _, cancel := range entry.cancels {
			cancel()
		}
		delete(a.subs, entry.brokerSymbol)
	}
}

func (a *Adapter) tradeTickHandler(entry *subscriptionEntry) stream.TradeHandler {
	return func(trade stream.Trade) {
		a.forwardTick(schema.Tick{
			Instrument: entry.instrument,
			Time:       trade.Time.In(entry.location),
			Type:       schema.TickTrade,
			Price:      trade.Price,
			Size:       trade.Size,
		})
	}
}

func (a *Adapter) quoteTickHandler(entry *subscriptionEntry) stream.QuoteHandler {
	return func(quote stream.Quote) {
		a.forwardTick(schema.Tick{
			Instrument: entry.instrument,
			Time:       quote.Time.In(entry.location),
			Type:       schema.TickQuote,
			BidPrice:   quote.BidPrice,
			BidSize:    quote.BidSize,
			AskPrice:   quote.AskPrice,
			AskSize:    quote.AskSize,
		})
	}
}

// forwardTick hands a tick to the shared aggregator. The aggregator is not
// safe against concurrent channel callbacks, so the handoff is locked.
func (a *Adapter) forwardTick(tick schema.Tick) {
	if a.agg == nil {
		return
	}
	a.aggMu.Lock()
	a.agg.Add(tick)
	a.aggMu.Unlock()
	a.metrics.recordTick(context.Background(), tick.Instrument.Class, tick.Type)
}

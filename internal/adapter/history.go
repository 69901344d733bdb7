package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewire/alpacabridge/internal/alpaca"
	"github.com/tradewire/alpacabridge/internal/schema"
	"github.com/tradewire/alpacabridge/internal/symbols"
)

// print is one raw (time, price, size) sample used for client-side bar
// aggregation.
type print struct {
	at    time.Time
	price decimal.Decimal
	size  decimal.Decimal
}

// GetHistory retrieves historical data for one instrument. Combinations the
// venue cannot serve return a nil slice (distinct from an empty one) and
// warn once per category per adapter instance. Supported requests page
// through the venue until the continuation token runs out; zero-item pages
// are skipped.
func (a *Adapter) GetHistory(ctx context.Context, req schema.HistoryRequest) ([]schema.DataPoint, error) {
	if !req.Type.Valid() || !req.Resolution.Valid() {
		a.warnOnce(historyCategory(req, "invalid"),
			fmt.Sprintf("history request with unrecognised tick type %q or resolution %q", req.Type, req.Resolution))
		return nil, nil
	}

	brokerSymbol, err := symbols.ToBroker(req.Instrument)
	if err != nil {
		return nil, err
	}
	loc := exchangeLocation(req.Instrument.Class)

	var points []schema.DataPoint
	supported := true
	switch req.Instrument.Class {
	case schema.AssetEquity:
		points, supported, err = a.equityHistory(ctx, req, brokerSymbol, loc)
	case schema.AssetOption:
		points, supported, err = a.optionHistory(ctx, req, brokerSymbol, loc)
	case schema.AssetCrypto:
		points, supported, err = a.cryptoHistory(ctx, req, brokerSymbol, loc)
	default:
		a.warnOnce(historyCategory(req, "class"),
			fmt.Sprintf("history is not available for instrument class %q", req.Instrument.Class))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.metrics.recordHistory(ctx, req, supported)
	if !supported {
		a.warnOnce(historyCategory(req, "combination"),
			fmt.Sprintf("history for %s %s at %s resolution is not available from the venue",
				req.Instrument.Class, req.Type, req.Resolution))
		return nil, nil
	}
	return points, nil
}

// equityHistory: trades only exist venue-aggregated at minute and coarser;
// quotes stream at any resolution; auction prints stand in for open
// interest at tick only.
func (a *Adapter) equityHistory(ctx context.Context, req schema.HistoryRequest, symbol string, loc *time.Location) ([]schema.DataPoint, bool, error) {
	switch req.Type {
	case schema.TickTrade:
		switch req.Resolution {
		case schema.ResolutionTick, schema.ResolutionSecond:
			return nil, false, nil
		default:
			bars, err := a.fetchStockBars(ctx, symbol, req, loc)
			return bars, true, err
		}
	case schema.TickQuote:
		prints, ticks, err := a.fetchStockQuotes(ctx, symbol, req, loc)
		if err != nil {
			return nil, true, err
		}
		if req.Resolution == schema.ResolutionTick {
			return ticks, true, nil
		}
		return barPoints(aggregatePrints(prints, req.Resolution.Duration(), req.Instrument)), true, nil
	case schema.TickOpenInterest:
		if req.Resolution != schema.ResolutionTick {
			return nil, false, nil
		}
		ticks, err := a.fetchStockAuctions(ctx, symbol, req, loc)
		return ticks, true, err
	default:
		return nil, false, nil
	}
}

// optionHistory: trades at any resolution (raw, client-aggregated seconds,
// or native bars); quotes and open interest are not offered at all.
func (a *Adapter) optionHistory(ctx context.Context, req schema.HistoryRequest, symbol string, loc *time.Location) ([]schema.DataPoint, bool, error) {
	if req.Type != schema.TickTrade {
		return nil, false, nil
	}
	return a.tradeHistory(ctx, req, loc,
		func(token string) ([]alpaca.TradePoint, string, error) {
			return a.data.OptionTrades(ctx, symbol, req.Start, req.End, token)
		},
		func(token string) ([]alpaca.BarPoint, string, error) {
			return a.data.OptionBars(ctx, symbol, timeframe(req.Resolution), req.Start, req.End, token)
		})
}

// cryptoHistory: trades follow the option pattern; quotes work at any
// resolution; there is no open interest for crypto pairs.
func (a *Adapter) cryptoHistory(ctx context.Context, req schema.HistoryRequest, symbol string, loc *time.Location) ([]schema.DataPoint, bool, error) {
	switch req.Type {
	case schema.TickTrade:
		return a.tradeHistory(ctx, req, loc,
			func(token string) ([]alpaca.TradePoint, string, error) {
				return a.data.CryptoTrades(ctx, symbol, req.Start, req.End, token)
			},
			func(token string) ([]alpaca.BarPoint, string, error) {
				return a.data.CryptoBars(ctx, symbol, timeframe(req.Resolution), req.Start, req.End, token)
			})
	case schema.TickQuote:
		quotes, err := collectPages(func(token string) ([]alpaca.QuotePoint, string, error) {
			return a.data.CryptoQuotes(ctx, symbol, req.Start, req.End, token)
		})
		if err != nil {
			return nil, true, err
		}
		prints, ticks := convertQuotes(quotes, req.Instrument, loc)
		if req.Resolution == schema.ResolutionTick {
			return ticks, true, nil
		}
		return barPoints(aggregatePrints(prints, req.Resolution.Duration(), req.Instrument)), true, nil
	default:
		return nil, false, nil
	}
}

// tradeHistory implements the shared trade pattern: raw prints at tick,
// client-side one-second aggregation at second, native venue bars above.
func (a *Adapter) tradeHistory(ctx context.Context, req schema.HistoryRequest, loc *time.Location,
	fetchTrades func(token string) ([]alpaca.TradePoint, string, error),
	fetchBars func(token string) ([]alpaca.BarPoint, string, error)) ([]schema.DataPoint, bool, error) {

	switch req.Resolution {
	case schema.ResolutionTick, schema.ResolutionSecond:
		trades, err := collectPages(fetchTrades)
		if err != nil {
			return nil, true, err
		}
		prints, ticks := convertTrades(trades, req.Instrument, loc)
		if req.Resolution == schema.ResolutionTick {
			return ticks, true, nil
		}
		return barPoints(aggregatePrints(prints, time.Second, req.Instrument)), true, nil
	default:
		bars, err := collectPages(fetchBars)
		if err != nil {
			return nil, true, err
		}
		return convertBars(bars, req.Instrument, req.Resolution, loc), true, nil
	}
}

func (a *Adapter) fetchStockBars(ctx context.Context, symbol string, req schema.HistoryRequest, loc *time.Location) ([]schema.DataPoint, error) {
	bars, err := collectPages(func(token string) ([]alpaca.BarPoint, string, error) {
		return a.data.StockBars(ctx, symbol, timeframe(req.Resolution), req.Start, req.End, token)
	})
	if err != nil {
		return nil, err
	}
	return convertBars(bars, req.Instrument, req.Resolution, loc), nil
}

func (a *Adapter) fetchStockQuotes(ctx context.Context, symbol string, req schema.HistoryRequest, loc *time.Location) ([]print, []schema.DataPoint, error) {
	quotes, err := collectPages(func(token string) ([]alpaca.QuotePoint, string, error) {
		return a.data.StockQuotes(ctx, symbol, req.Start, req.End, token)
	})
	if err != nil {
		return nil, nil, err
	}
	prints, ticks := convertQuotes(quotes, req.Instrument, loc)
	return prints, ticks, nil
}

func (a *Adapter) fetchStockAuctions(ctx context.Context, symbol string, req schema.HistoryRequest, loc *time.Location) ([]schema.DataPoint, error) {
	auctions, err := collectPages(func(token string) ([]alpaca.AuctionPoint, string, error) {
		return a.data.StockAuctions(ctx, symbol, req.Start, req.End, token)
	})
	if err != nil {
		return nil, err
	}
	ticks := make([]schema.DataPoint, 0, len(auctions))
	for _, auction := range auctions {
		ticks = append(ticks, schema.Tick{
			Instrument: req.Instrument,
			Time:       auction.Time.In(loc),
			Type:       schema.TickOpenInterest,
			Price:      auction.Price,
			Size:       auction.Size,
		})
	}
	return ticks, nil
}

// collectPages walks a paginated endpoint until the continuation token is
// empty, concatenating non-empty pages. An empty page with a token is
// skipped rather than treated as end-of-stream.
func collectPages[T any](fetch func(token string) ([]T, string, error)) ([]T, error) {
	out := make([]T, 0)
	token := ""
	for {
		items, next, err := fetch(token)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == "" {
			return out, nil
		}
		token = next
	}
}

func timeframe(res schema.Resolution) string {
	switch res {
	case schema.ResolutionMinute:
		return "1Min"
	case schema.ResolutionHour:
		return "1Hour"
	case schema.ResolutionDaily:
		return "1Day"
	default:
		return ""
	}
}

func historyCategory(req schema.HistoryRequest, kind string) string {
	return fmt.Sprintf("history:%s:%s:%s:%s", kind, req.Instrument.Class, req.Type, req.Resolution)
}

func convertBars(bars []alpaca.BarPoint, inst schema.Instrument, res schema.Resolution, loc *time.Location) []schema.DataPoint {
	out := make([]schema.DataPoint, 0, len(bars))
	for _, bar := range bars {
		out = append(out, schema.Bar{
			Instrument: inst,
			Time:       bar.Time.In(loc),
			Open:       bar.Open,
			High:       bar.High,
			Low:        bar.Low,
			Close:      bar.Close,
			Volume:     bar.Volume,
			Period:     res.Duration(),
		})
	}
	return out
}

func convertTrades(trades []alpaca.TradePoint, inst schema.Instrument, loc *time.Location) ([]print, []schema.DataPoint) {
	prints := make([]print, 0, len(trades))
	ticks := make([]schema.DataPoint, 0, len(trades))
	for _, trade := range trades {
		local := trade.Time.In(loc)
		prints = append(prints, print{at: local, price: trade.Price, size: trade.Size})
		ticks = append(ticks, schema.Tick{
			Instrument: inst,
			Time:       local,
			Type:       schema.TickTrade,
			Price:      trade.Price,
			Size:       trade.Size,
		})
	}
	return prints, ticks
}

// convertQuotes yields both raw quote ticks and midpoint prints for bar
// aggregation above tick resolution.
func convertQuotes(quotes []alpaca.QuotePoint, inst schema.Instrument, loc *time.Location) ([]print, []schema.DataPoint) {
	two := decimal.NewFromInt(2)
	prints := make([]print, 0, len(quotes))
	ticks := make([]schema.DataPoint, 0, len(quotes))
	for _, quote := range quotes {
		local := quote.Time.In(loc)
		mid := quote.BidPrice.Add(quote.AskPrice).Div(two)
		prints = append(prints, print{at: local, price: mid, size: quote.BidSize.Add(quote.AskSize)})
		ticks = append(ticks, schema.Tick{
			Instrument: inst,
			Time:       local,
			Type:       schema.TickQuote,
			BidPrice:   quote.BidPrice,
			BidSize:    quote.BidSize,
			AskPrice:   quote.AskPrice,
			AskSize:    quote.AskSize,
		})
	}
	return prints, ticks
}

// aggregatePrints buckets time-ordered prints into fixed-period OHLCV bars.
func aggregatePrints(prints []print, period time.Duration, inst schema.Instrument) []schema.Bar {
	bars := make([]schema.Bar, 0)
	var current *schema.Bar
	for _, p := range prints {
		bucket := p.at.Truncate(period)
		if current == nil || !current.Time.Equal(bucket) {
			if current != nil {
				bars = append(bars, *current)
			}
			current = &schema.Bar{
				Instrument: inst,
				Time:       bucket,
				Open:       p.price,
				High:       p.price,
				Low:        p.price,
				Close:      p.price,
				Volume:     p.size,
				Period:     period,
			}
			continue
		}
		if p.price.GreaterThan(current.High) {
			current.High = p.price
		}
		if p.price.LessThan(current.Low) {
			current.Low = p.price
		}
		current.Close = p.price
		current.Volume = current.Volume.Add(p.size)
	}
	if current != nil {
		bars = append(bars, *current)
	}
	return bars
}

func barPoints(bars []schema.Bar) []schema.DataPoint {
	out := make([]schema.DataPoint, 0, len(bars))
	for _, bar := range bars {
		out = append(out, bar)
	}
	return out
}

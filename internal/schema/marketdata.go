package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickType classifies a market data point.
type TickType string

const (
	// TickTrade carries last-trade price and size.
	TickTrade TickType = "trade"
	// TickQuote carries top-of-book bid/ask.
	TickQuote TickType = "quote"
	// TickOpenInterest carries auction/open-interest style prints.
	TickOpenInterest TickType = "open_interest"
)

// Valid reports whether the tick type is recognised.
func (t TickType) Valid() bool {
	switch t {
	case TickTrade, TickQuote, TickOpenInterest:
		return true
	default:
		return false
	}
}

// Resolution is the time granularity of historical or streamed data.
type Resolution string

const (
	// ResolutionTick yields raw, unaggregated points.
	ResolutionTick Resolution = "tick"
	// ResolutionSecond yields one-second bars.
	ResolutionSecond Resolution = "second"
	// ResolutionMinute yields one-minute bars.
	ResolutionMinute Resolution = "minute"
	// ResolutionHour yields one-hour bars.
	ResolutionHour Resolution = "hour"
	// ResolutionDaily yields daily bars.
	ResolutionDaily Resolution = "daily"
)

// Duration returns the bar period for the resolution; zero for tick.
func (r Resolution) Duration() time.Duration {
	switch r {
	case ResolutionSecond:
		return time.Second
	case ResolutionMinute:
		return time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether the resolution is recognised.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionTick, ResolutionSecond, ResolutionMinute, ResolutionHour, ResolutionDaily:
		return true
	default:
		return false
	}
}

// Tick is a normalized market data point in the instrument's exchange-local
// time zone.
type Tick struct {
	Instrument Instrument
	Time       time.Time
	Type       TickType
	Price      decimal.Decimal
	Size       decimal.Decimal
	BidPrice   decimal.Decimal
	BidSize    decimal.Decimal
	AskPrice   decimal.Decimal
	AskSize    decimal.Decimal
}

// DataTime returns the point-in-time of the tick.
func (t Tick) DataTime() time.Time { return t.Time }

// Bar is an aggregated trade or quote bar.
type Bar struct {
	Instrument Instrument
	Time       time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	Period     time.Duration
}

// DataTime returns the bar open time.
func (b Bar) DataTime() time.Time { return b.Time }

// DataPoint is either a Tick or a Bar flowing out of history retrieval.
type DataPoint interface {
	DataTime() time.Time
}

// HistoryRequest describes a historical backfill query.
type HistoryRequest struct {
	Instrument Instrument
	Type       TickType
	Resolution Resolution
	Start      time.Time
	End        time.Time
}

// Package schema defines the canonical domain types shared across the bridge.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass identifies the market structure for an instrument.
type AssetClass string

const (
	// AssetEquity represents listed US equities.
	AssetEquity AssetClass = "equity"
	// AssetOption represents exchange-listed equity options.
	AssetOption AssetClass = "option"
	// AssetCrypto represents spot crypto pairs.
	AssetCrypto AssetClass = "crypto"
)

// Valid reports whether the asset class is recognised.
func (c AssetClass) Valid() bool {
	switch c {
	case AssetEquity, AssetOption, AssetCrypto:
		return true
	default:
		return false
	}
}

// OptionRight identifies the exercise right of an option contract.
type OptionRight string

const (
	// RightCall represents call options.
	RightCall OptionRight = "call"
	// RightPut represents put options.
	RightPut OptionRight = "put"
)

// Valid reports whether the option right is recognised.
func (r OptionRight) Valid() bool {
	switch r {
	case RightCall, RightPut:
		return true
	default:
		return false
	}
}

// Instrument describes a tradable instrument on the host side of the bridge.
// Symbol carries the host identifier: the plain ticker for equities, the
// concatenated pair for crypto (e.g. BTCUSD), and the underlying ticker for
// options, whose contract identity lives in Underlying/Expiry/Right/Strike.
type Instrument struct {
	Symbol     string
	Class      AssetClass
	Underlying string
	Expiry     time.Time
	Right      OptionRight
	Strike     decimal.Decimal
}

// IsDerivative reports whether the instrument carries contract terms.
func (i Instrument) IsDerivative() bool {
	return i.Class == AssetOption
}

// Equal compares two instruments field by field. Strikes compare by value,
// not representation, so 100 and 100.000 are the same contract.
func (i Instrument) Equal(other Instrument) bool {
	if i.Symbol != other.Symbol || i.Class != other.Class {
		return false
	}
	if i.Class != AssetOption {
		return true
	}
	return i.Underlying == other.Underlying &&
		i.Expiry.Equal(other.Expiry) &&
		i.Right == other.Right &&
		i.Strike.Equal(other.Strike)
}

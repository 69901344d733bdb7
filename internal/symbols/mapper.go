// Package symbols translates between host instruments and venue tickers.
// All translations are pure functions of their inputs; nothing here caches
// or touches the network.
package symbols

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewire/alpacabridge/errs"
	"github.com/tradewire/alpacabridge/internal/schema"
)

const (
	venueName        = "alpaca"
	expiryLayout     = "060102"
	strikeDigits     = 8
	optionMinLength  = 1 + len(expiryLayout) + 1 + strikeDigits
	cryptoSeparator  = "/"
	strikeScaleShift = -3 // venue strike field is price x 1000
)

// quoteCurrencies are the pair suffixes the venue quotes crypto against,
// longest first so USDT is tried before USD.
var quoteCurrencies = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

// ToBroker renders the venue ticker for the instrument. Equities pass their
// ticker through verbatim; crypto pairs gain the venue separator; options use
// the fixed-width contract encoding {UNDERLYING}{YYMMDD}{C|P}{STRIKE x1000}.
func ToBroker(inst schema.Instrument) (string, error) {
	switch inst.Class {
	case schema.AssetEquity:
		return inst.Symbol, nil
	case schema.AssetCrypto:
		return cryptoToBroker(inst.Symbol)
	case schema.AssetOption:
		return optionToBroker(inst)
	default:
		return "", errs.New(venueName, errs.CodeUnsupportedInstrument,
			errs.WithMessage("unsupported asset class "+string(inst.Class)))
	}
}

// ToInstrument parses a venue ticker back into a host instrument.
func ToInstrument(class schema.AssetClass, brokerSymbol string) (schema.Instrument, error) {
	var empty schema.Instrument
	switch class {
	case schema.AssetEquity:
		return schema.Instrument{Symbol: brokerSymbol, Class: schema.AssetEquity}, nil
	case schema.AssetCrypto:
		return cryptoToInstrument(brokerSymbol)
	case schema.AssetOption:
		return optionToInstrument(brokerSymbol)
	default:
		return empty, errs.New(venueName, errs.CodeUnsupportedInstrument,
			errs.WithMessage("unsupported asset class "+string(class)))
	}
}

func cryptoToBroker(symbol string) (string, error) {
	if strings.Contains(symbol, cryptoSeparator) {
		return symbol, nil
	}
	for _, quote := range quoteCurrencies {
		if len(symbol) > len(quote) && strings.HasSuffix(symbol, quote) {
			base := symbol[:len(symbol)-len(quote)]
			return base + cryptoSeparator + quote, nil
		}
	}
	return "", errs.New(venueName, errs.CodeInvalidSymbol,
		errs.WithMessage("crypto symbol "+symbol+" has no recognised quote currency"))
}

func cryptoToInstrument(brokerSymbol string) (schema.Instrument, error) {
	var empty schema.Instrument
	base, quote, ok := strings.Cut(brokerSymbol, cryptoSeparator)
	if !ok || base == "" || quote == "" {
		return empty, errs.New(venueName, errs.CodeInvalidSymbol,
			errs.WithMessage("crypto ticker "+brokerSymbol+" is not a base/quote pair"))
	}
	return schema.Instrument{Symbol: base + quote, Class: schema.AssetCrypto}, nil
}

func optionToBroker(inst schema.Instrument) (string, error) {
	underlying := strings.TrimSpace(inst.Underlying)
	if underlying == "" {
		underlying = strings.TrimSpace(inst.Symbol)
	}
	if underlying == "" {
		return "", errs.New(venueName, errs.CodeInvalidSymbol,
			errs.WithMessage("option instrument missing underlying ticker"))
	}
	if !inst.Right.Valid() {
		return "", errs.New(venueName, errs.CodeInvalidSymbol,
			errs.WithMessage("option instrument missing right"))
	}
	if inst.Expiry.IsZero() {
		return "", errs.New(venueName, errs.CodeInvalidSymbol,
			errs.WithMessage("option instrument missing expiry"))
	}
	milli := inst.Strike.Shift(-strikeScaleShift)
	if !milli.IsInteger() || milli.Sign() < 0 {
		return "", errs.New(venueName, errs.CodeInvalidSymbol,
			errs.WithMessage("option strike "+inst.Strike.String()+" not representable"))
	}
	strike := milli.StringFixed(0)
	if len(strike) > strikeDigits {
		return "", errs.New(venueName, errs.CodeInvalidSymbol,
			errs.WithMessage("option strike "+inst.Strike.String()+" exceeds field width"))
	}
	strike = strings.Repeat("0", strikeDigits-len(strike)) + strike

	right := "C"
	if inst.Right == schema.RightPut {
		right = "P"
	}
	return underlying + inst.Expiry.Format(expiryLayout) + right + strike, nil
}

func optionToInstrument(ticker string) (schema.Instrument, error) {
	var empty schema.Instrument
	if len(ticker) < optionMinLength {
		return empty, optionParseError(ticker, "too short")
	}

	strikeField := ticker[len(ticker)-strikeDigits:]
	for _, r := range strikeField {
		if r < '0' || r > '9' {
			return empty, optionParseError(ticker, "strike field is not numeric")
		}
	}
	milli, err := decimal.NewFromString(strikeField)
	if err != nil {
		return empty, optionParseError(ticker, "strike field is not numeric")
	}
	strike := milli.Shift(strikeScaleShift)

	rightField := ticker[len(ticker)-strikeDigits-1]
	var right schema.OptionRight
	switch rightField {
	case 'C':
		right = schema.RightCall
	case 'P':
		right = schema.RightPut
	default:
		return empty, optionParseError(ticker, "right must be C or P")
	}

	expiryField := ticker[len(ticker)-strikeDigits-1-len(expiryLayout) : len(ticker)-strikeDigits-1]
	expiry, err := time.Parse(expiryLayout, expiryField)
	if err != nil {
		return empty, optionParseError(ticker, "expiry field is not a YYMMDD date")
	}

	underlying := ticker[:len(ticker)-strikeDigits-1-len(expiryLayout)]
	if !validUnderlying(underlying) {
		return empty, optionParseError(ticker, "underlying must be uppercase alphanumeric")
	}

	return schema.Instrument{
		Symbol:     underlying,
		Class:      schema.AssetOption,
		Underlying: underlying,
		Expiry:     expiry,
		Right:      right,
		Strike:     strike,
	}, nil
}

func validUnderlying(s string) bool {
	if s == "" {
		return false
	}
	if s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func optionParseError(ticker, reason string) *errs.E {
	return errs.New(venueName, errs.CodeInvalidSymbol,
		errs.WithMessage("option ticker "+ticker+": "+reason))
}

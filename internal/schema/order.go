package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide labels the direction of an order.
type OrderSide string

const (
	// SideBuy marks buy orders.
	SideBuy OrderSide = "buy"
	// SideSell marks sell orders.
	SideSell OrderSide = "sell"
)

// OrderType distinguishes execution semantics.
type OrderType string

const (
	// OrderTypeMarket executes at the prevailing price.
	OrderTypeMarket OrderType = "market"
	// OrderTypeLimit executes at the limit price or better.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeStop becomes a market order once the stop price trades.
	OrderTypeStop OrderType = "stop"
	// OrderTypeStopLimit becomes a limit order once the stop price trades.
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce restricts how long an order rests.
type TimeInForce string

const (
	// TIFDay expires the order at market close.
	TIFDay TimeInForce = "day"
	// TIFGTC keeps the order working until cancelled.
	TIFGTC TimeInForce = "gtc"
	// TIFIOC fills immediately, cancelling any remainder.
	TIFIOC TimeInForce = "ioc"
	// TIFFOK fills in full immediately or cancels.
	TIFFOK TimeInForce = "fok"
)

// OrderStatus is the host-facing lifecycle state of an order.
type OrderStatus string

const (
	// StatusNew marks an order not yet submitted to the venue.
	StatusNew OrderStatus = "new"
	// StatusSubmitted marks an order acknowledged by the venue.
	StatusSubmitted OrderStatus = "submitted"
	// StatusPartiallyFilled marks an order with partial executions.
	StatusPartiallyFilled OrderStatus = "partially_filled"
	// StatusFilled marks a completely executed order.
	StatusFilled OrderStatus = "filled"
	// StatusCanceled marks a confirmed cancellation.
	StatusCanceled OrderStatus = "canceled"
	// StatusInvalid marks an order rejected locally or by the venue.
	StatusInvalid OrderStatus = "invalid"
	// StatusUpdateSubmitted marks an acknowledged modification.
	StatusUpdateSubmitted OrderStatus = "update_submitted"
)

// Terminal reports whether no further lifecycle transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusInvalid:
		return true
	default:
		return false
	}
}

// Order is the host order object tracked by the bridge. Quantity is signed:
// positive buys, negative sells. Fractional quantities are exact decimals.
type Order struct {
	ID          int64
	Instrument  Instrument
	Quantity    decimal.Decimal
	Type        OrderType
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce TimeInForce
	Status      OrderStatus
	BrokerIDs   []string
}

// Side derives the order direction from the signed quantity.
func (o *Order) Side() OrderSide {
	if o.Quantity.Sign() < 0 {
		return SideSell
	}
	return SideBuy
}

// AbsQuantity returns the unsigned order quantity.
func (o *Order) AbsQuantity() decimal.Decimal {
	return o.Quantity.Abs()
}

// OrderEvent is the normalized order-status event emitted to the host.
// FillQuantity is signed: negative for sell-side fills.
type OrderEvent struct {
	OrderID      int64
	Status       OrderStatus
	FillPrice    decimal.Decimal
	FillQuantity decimal.Decimal
	At           time.Time
	Message      string
}

// Message is a host-visible warning or informational notice.
type Message struct {
	Category string
	Text     string
}

// TradeUpdateKind classifies venue trade-update push events.
type TradeUpdateKind string

const (
	// TradeUpdatePendingNew acknowledges receipt of a submission.
	TradeUpdatePendingNew TradeUpdateKind = "pending_new"
	// TradeUpdateNew confirms the order is live on the venue.
	TradeUpdateNew TradeUpdateKind = "new"
	// TradeUpdateFill reports a completing execution.
	TradeUpdateFill TradeUpdateKind = "fill"
	// TradeUpdatePartialFill reports a partial execution.
	TradeUpdatePartialFill TradeUpdateKind = "partial_fill"
	// TradeUpdateCanceled confirms a cancellation.
	TradeUpdateCanceled TradeUpdateKind = "canceled"
	// TradeUpdateRejected reports an explicit venue rejection.
	TradeUpdateRejected TradeUpdateKind = "rejected"
	// TradeUpdateReplaced confirms a modification.
	TradeUpdateReplaced TradeUpdateKind = "replaced"
)

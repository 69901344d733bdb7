package stream

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Market-data channels deliver arrays of typed messages. The "T" field
// discriminates: "t" trade, "q" quote, "success"/"error" control,
// "subscription" acknowledgement.
type marketMessage struct {
	Type     string          `json:"T"`
	Symbol   string          `json:"S"`
	Price    decimal.Decimal `json:"p"`
	Size     decimal.Decimal `json:"s"`
	BidPrice decimal.Decimal `json:"bp"`
	BidSize  decimal.Decimal `json:"bs"`
	AskPrice decimal.Decimal `json:"ap"`
	AskSize  decimal.Decimal `json:"as"`
	Time     time.Time       `json:"t"`
	Code     int             `json:"code"`
	Msg      string          `json:"msg"`
}

// Trade is a real-time trade print delivered to subscribers.
type Trade struct {
	Symbol string
	Price  decimal.Decimal
	Size   decimal.Decimal
	Time   time.Time
}

// Quote is a real-time top-of-book update delivered to subscribers.
type Quote struct {
	Symbol   string
	BidPrice decimal.Decimal
	BidSize  decimal.Decimal
	AskPrice decimal.Decimal
	AskSize  decimal.Decimal
	Time     time.Time
}

type subscribeAction struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
}

type authAction struct {
	Action string `json:"action"`
	Key    string `json:"key,omitempty"`
	Secret string `json:"secret,omitempty"`
	Token  string `json:"token,omitempty"`
}

// The trading socket speaks a different envelope from the market-data
// sockets: {"stream": "...", "data": {...}}.
type tradingEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradingAuthResult struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type listenAction struct {
	Action string     `json:"action"`
	Data   listenData `json:"data"`
}

type listenData struct {
	Streams []string `json:"streams"`
}

// OrderUpdate is one trade-update event from the trading socket.
type OrderUpdate struct {
	Event       string          `json:"event"`
	ExecutionID string          `json:"execution_id"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	Timestamp   time.Time       `json:"timestamp"`
	Order       OrderState      `json:"order"`
}

// OrderState is the order snapshot embedded in every trade update.
type OrderState struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	ReplacedBy    string          `json:"replaced_by"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Status        string          `json:"status"`
	Qty           decimal.Decimal `json:"qty"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
}

// Package journal records order lifecycle events for audit and recovery.
package journal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewire/alpacabridge/internal/schema"
)

// Entry is one order lifecycle event.
type Entry struct {
	OrderID      int64
	VenueOrderID string
	Symbol       string
	AssetClass   schema.AssetClass
	Event        string
	Status       schema.OrderStatus
	FillPrice    *decimal.Decimal
	FillQuantity *decimal.Decimal
	Message      string
	OccurredAt   time.Time
}

// Query filters journal listings.
type Query struct {
	OrderID int64
	Limit   int
}

// Store persists order lifecycle events. Implementations must tolerate
// concurrent writers.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, query Query) ([]Entry, error)
	Close()
}

// Nop discards every entry, used when no journal DSN is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) List(context.Context, Query) ([]Entry, error) { return nil, nil }

func (Nop) Close() {}

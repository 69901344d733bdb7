package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradewire/alpacabridge/internal/schema"
)

const (
	insertSQL = `
INSERT INTO order_events (
    order_id,
    venue_order_id,
    symbol,
    asset_class,
    event,
    status,
    fill_price,
    fill_quantity,
    message,
    occurred_at
)
VALUES (
    @order_id,
    @venue_order_id,
    @symbol,
    @asset_class,
    @event,
    @status,
    @fill_price,
    @fill_quantity,
    @message,
    @occurred_at
);
`

	selectSQL = `
SELECT
    order_id,
    venue_order_id,
    symbol,
    asset_class,
    event,
    status,
    fill_price::text,
    fill_quantity::text,
    message,
    occurred_at
FROM order_events
WHERE order_id = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2;
`

	defaultListLimit = 100
	maxListLimit     = 1000
)

// PostgresStore journals order events into the order_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open connects a PostgresStore to the given DSN.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Record inserts one lifecycle event.
func (s *PostgresStore) Record(ctx context.Context, entry Entry) error {
	if s.pool == nil {
		return fmt.Errorf("journal: nil pool")
	}
	occurred := entry.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	args := pgx.NamedArgs{
		"order_id":       entry.OrderID,
		"venue_order_id": entry.VenueOrderID,
		"symbol":         entry.Symbol,
		"asset_class":    string(entry.AssetClass),
		"event":          entry.Event,
		"status":         string(entry.Status),
		"fill_price":     nullableDecimal(entry.FillPrice),
		"fill_quantity":  nullableDecimal(entry.FillQuantity),
		"message":        entry.Message,
		"occurred_at":    occurred,
	}
	if _, err := s.pool.Exec(ctx, insertSQL, args); err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

// List returns the most recent events for one order, newest first.
func (s *PostgresStore) List(ctx context.Context, query Query) ([]Entry, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("journal: nil pool")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.pool.Query(ctx, selectSQL, query.OrderID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			assetClass string
			status     string
			price      pgtype.Text
			quantity   pgtype.Text
		)
		if err := rows.Scan(
			&entry.OrderID,
			&entry.VenueOrderID,
			&entry.Symbol,
			&assetClass,
			&entry.Event,
			&status,
			&price,
			&quantity,
			&entry.Message,
			&entry.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		entry.AssetClass = schema.AssetClass(assetClass)
		entry.Status = schema.OrderStatus(status)
		if entry.FillPrice, err = decodeDecimal(price); err != nil {
			return nil, err
		}
		if entry.FillQuantity, err = decodeDecimal(quantity); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return entries, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func nullableDecimal(value *decimal.Decimal) any {
	if value == nil {
		return nil
	}
	return value.String()
}

func decodeDecimal(value pgtype.Text) (*decimal.Decimal, error) {
	if !value.Valid {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(value.String)
	if err != nil {
		return nil, fmt.Errorf("journal: decode decimal %q: %w", value.String, err)
	}
	return &parsed, nil
}

package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewire/alpacabridge/internal/alpaca"
	"github.com/tradewire/alpacabridge/internal/journal"
	"github.com/tradewire/alpacabridge/internal/observability"
	"github.com/tradewire/alpacabridge/internal/schema"
	"github.com/tradewire/alpacabridge/internal/stream"
	"github.com/tradewire/alpacabridge/internal/symbols"
)

// crossPhase is the tagged sequencing state of a tracked order. An order
// that crosses through zero is split into two sequential venue orders.
type crossPhase int

const (
	phaseSingle crossPhase = iota
	phaseAwaitingFirstLeg
	phaseAwaitingSecondLeg
)

// trackedOrder is one correlation entry: the host order plus the venue-side
// bookkeeping needed to resolve asynchronous trade updates.
type trackedOrder struct {
	order        *schema.Order
	brokerSymbol string
	phase        crossPhase
	// secondLegQty is the signed quantity of the not-yet-submitted second
	// leg while phase is phaseAwaitingFirstLeg.
	secondLegQty decimal.Decimal
	venueID      string
}

// PlaceOrder submits a host order to the venue. It returns false, emitting
// an Invalid order event or warning message, on any local or venue
// rejection; errors never propagate to the caller.
//
// A position-crossing order (long to short or short to long in one action)
// is split: the closing leg is submitted now and the opening leg only after
// the closing leg's confirmed fill.
func (a *Adapter) PlaceOrder(ctx context.Context, order *schema.Order) bool {
	if !a.connected.Load() {
		a.emitMessage("order", "place rejected: adapter not connected")
		return false
	}
	if !order.Instrument.Class.Valid() {
		a.warnOnce("order:unsupported-class:"+string(order.Instrument.Class),
			fmt.Sprintf("instrument class %q is not supported", order.Instrument.Class))
		return false
	}
	if order.Quantity.IsZero() {
		a.emitMessage("order", fmt.Sprintf("place rejected: order %d has zero quantity", order.ID))
		return false
	}

	brokerSymbol, err := symbols.ToBroker(order.Instrument)
	if err != nil {
		a.emitMessage("order", fmt.Sprintf("place rejected: %v", err))
		return false
	}

	// The venue only accepts day orders on derivative instruments.
	if order.Instrument.IsDerivative() && order.TimeInForce != schema.TIFDay {
		observability.Log().Warn("downgrading derivative order to day time-in-force",
			observability.Field{Key: "order_id", Value: order.ID},
			observability.Field{Key: "requested_tif", Value: string(order.TimeInForce)})
		a.emitMessage("order", fmt.Sprintf("order %d: derivative orders are day-only; downgraded from %s", order.ID, order.TimeInForce))
		order.TimeInForce = schema.TIFDay
	}

	a.orderMu.Lock()
	if existing, ok := a.orders[order.ID]; ok && !existing.order.Status.Terminal() {
		a.orderMu.Unlock()
		a.emitMessage("order", fmt.Sprintf("place rejected: order %d is already working", order.ID))
		return false
	}

	position := a.positions[brokerSymbol]
	tracked := &trackedOrder{order: order, brokerSymbol: brokerSymbol, phase: phaseSingle}

	submitQty := order.Quantity
	if crossesZero(position, order.Quantity) {
		tracked.phase = phaseAwaitingFirstLeg
		tracked.secondLegQty = position.Add(order.Quantity)
		submitQty = position.Neg()
		observability.Log().Info("splitting cross-zero order",
			observability.Field{Key: "order_id", Value: order.ID},
			observability.Field{Key: "symbol", Value: brokerSymbol},
			observability.Field{Key: "close_qty", Value: submitQty.String()},
			observability.Field{Key: "open_qty", Value: tracked.secondLegQty.String()})
	}

	venueOrder, err := a.trading.CreateOrder(ctx, a.buildOrderRequest(order, brokerSymbol, submitQty))
	if err != nil {
		order.Status = schema.StatusInvalid
		a.orderMu.Unlock()
		observability.Log().Warn("order submission failed",
			observability.Field{Key: "order_id", Value: order.ID},
			observability.Field{Key: "error", Value: err.Error()})
		a.emitOrderEvent(schema.OrderEvent{
			OrderID: order.ID,
			Status:  schema.StatusInvalid,
			At:      a.clock(),
			Message: err.Error(),
		})
		return false
	}

	tracked.venueID = venueOrder.ID
	order.BrokerIDs = append(order.BrokerIDs, venueOrder.ID)
	a.orders[order.ID] = tracked
	a.byVenueID[venueOrder.ID] = tracked
	a.orderMu.Unlock()

	a.metrics.recordOrderSubmitted(ctx, order)
	a.recordJournal(journal.Entry{
		OrderID:      order.ID,
		VenueOrderID: venueOrder.ID,
		Symbol:       brokerSymbol,
		AssetClass:   order.Instrument.Class,
		Event:        "placed",
		Status:       order.Status,
		OccurredAt:   a.clock(),
	})
	return true
}

// UpdateOrder amends a working order's quantity or prices. For a cross-zero
// pair in flight only the quantity may change, and never in a way that flips
// the original direction.
func (a *Adapter) UpdateOrder(ctx context.Context, updated schema.Order) bool {
	if !a.connected.Load() {
		a.emitMessage("order", "update rejected: adapter not connected")
		return false
	}
	if updated.Quantity.IsZero() {
		a.emitMessage("order", fmt.Sprintf("update rejected: order %d has zero quantity", updated.ID))
		return false
	}

	a.orderMu.Lock()
	tracked, ok := a.orders[updated.ID]
	if !ok {
		a.orderMu.Unlock()
		a.emitMessage("order", fmt.Sprintf("update rejected: order %d is not tracked", updated.ID))
		return false
	}
	if tracked.order.Status.Terminal() {
		a.orderMu.Unlock()
		a.emitMessage("order", fmt.Sprintf("update rejected: order %d is already %s", updated.ID, tracked.order.Status))
		return false
	}
	if updated.Quantity.Sign() != tracked.order.Quantity.Sign() {
		a.orderMu.Unlock()
		a.emitMessage("order", fmt.Sprintf("update rejected: order %d cannot flip direction via update", updated.ID))
		return false
	}

	if tracked.phase != phaseSingle {
		return a.updateCrossZeroLocked(ctx, tracked, updated)
	}

	req := alpaca.ReplaceRequest{Qty: updated.AbsQuantity().String()}
	if tracked.order.Type == schema.OrderTypeLimit || tracked.order.Type == schema.OrderTypeStopLimit {
		req.LimitPrice = updated.LimitPrice.String()
	}
	if tracked.order.Type == schema.OrderTypeStop || tracked.order.Type == schema.OrderTypeStopLimit {
		req.StopPrice = updated.StopPrice.String()
	}

	venueOrder, err := a.trading.ReplaceOrder(ctx, tracked.venueID, req)
	if err != nil {
		a.orderMu.Unlock()
		observability.Log().Warn("order replace failed",
			observability.Field{Key: "order_id", Value: updated.ID},
			observability.Field{Key: "error", Value: err.Error()})
		a.emitMessage("order", fmt.Sprintf("update of order %d failed: %v", updated.ID, err))
		return false
	}

	tracked.order.Quantity = updated.Quantity
	tracked.order.LimitPrice = updated.LimitPrice
	tracked.order.StopPrice = updated.StopPrice
	tracked.venueID = venueOrder.ID
	tracked.order.BrokerIDs = append(tracked.order.BrokerIDs, venueOrder.ID)
	a.byVenueID[venueOrder.ID] = tracked
	a.orderMu.Unlock()

	a.recordJournal(journal.Entry{
		OrderID:      updated.ID,
		VenueOrderID: venueOrder.ID,
		Symbol:       tracked.brokerSymbol,
		AssetClass:   tracked.order.Instrument.Class,
		Event:        "update_submitted",
		Status:       tracked.order.Status,
		OccurredAt:   a.clock(),
	})
	return true
}

// updateCrossZeroLocked validates and applies an update to a cross-zero
// pair. Price changes on the pair are rejected outright: the passive leg's
// prices are fixed at placement.
func (a *Adapter) updateCrossZeroLocked(ctx context.Context, tracked *trackedOrder, updated schema.Order) bool {
	if !updated.LimitPrice.Equal(tracked.order.LimitPrice) || !updated.StopPrice.Equal(tracked.order.StopPrice) {
		a.orderMu.Unlock()
		a.emitMessage("order", fmt.Sprintf("update rejected: order %d is a cross-zero pair; only quantity may change", updated.ID))
		return false
	}

	firstLegQty := tracked.order.Quantity.Sub(tracked.secondLegQty)
	newSecondLeg := updated.Quantity.Sub(firstLegQty)
	if newSecondLeg.Sign() != tracked.secondLegQty.Sign() {
		a.orderMu.Unlock()
		a.emitMessage("order", fmt.Sprintf("update rejected: order %d quantity would invalidate the cross-zero second leg", updated.ID))
		return false
	}

	switch tracked.phase {
	case phaseAwaitingFirstLeg:
		// The second leg has not reached the venue; the new quantity takes
		// effect when it is submitted.
		tracked.order.Quantity = updated.Quantity
		tracked.secondLegQty = newSecondLeg
		a.orderMu.Unlock()
		a.emitOrderEvent(schema.OrderEvent{
			OrderID: updated.ID,
			Status:  schema.StatusUpdateSubmitted,
			At:      a.clock(),
		})
		return true
	case phaseAwaitingSecondLeg:
		if tracked.venueID == "" {
			// The second leg is still in flight to the venue; its submitter
			// reads the quantity under the lock and picks the change up.
			tracked.order.Quantity = updated.Quantity
			tracked.secondLegQty = newSecondLeg
			a.orderMu.Unlock()
			a.emitOrderEvent(schema.OrderEvent{
				OrderID: updated.ID,
				Status:  schema.StatusUpdateSubmitted,
				At:      a.clock(),
			})
			return true
		}
		venueOrder, err := a.trading.ReplaceOrder(ctx, tracked.venueID, alpaca.ReplaceRequest{Qty: newSecondLeg.Abs().String()})
		if err != nil {
			a.orderMu.Unlock()
			a.emitMessage("order", fmt.Sprintf("update of order %d failed: %v", updated.ID, err))
			return false
		}
		tracked.order.Quantity = updated.Quantity
		tracked.secondLegQty = newSecondLeg
		tracked.venueID = venueOrder.ID
		tracked.order.BrokerIDs = append(tracked.order.BrokerIDs, venueOrder.ID)
		a.byVenueID[venueOrder.ID] = tracked
		a.orderMu.Unlock()
		return true
	default:
		a.orderMu.Unlock()
		return false
	}
}

// CancelOrder requests cancellation and waits, bounded by the confirmation
// timeout, for the venue's asynchronous confirmation. Orders already Filled
// or Canceled are rejected locally without a venue call.
func (a *Adapter) CancelOrder(ctx context.Context, orderID int64) bool {
	if !a.connected.Load() {
		a.emitMessage("order", "cancel rejected: adapter not connected")
		return false
	}

	a.orderMu.Lock()
	tracked, ok := a.orders[orderID]
	if !ok {
		a.orderMu.Unlock()
		a.emitMessage("order", fmt.Sprintf("cancel rejected: order %d is not tracked", orderID))
		return false
	}
	if tracked.order.Status == schema.StatusFilled || tracked.order.Status == schema.StatusCanceled {
		a.orderMu.Unlock()
		a.emitMessage("order", fmt.Sprintf("cancel rejected: order %d is already %s", orderID, tracked.order.Status))
		return false
	}

	venueID := tracked.venueID
	waiter := make(chan schema.OrderStatus, 1)
	a.cancelWaiters[venueID] = waiter

	if err := a.trading.CancelOrder(ctx, venueID); err != nil {
		delete(a.cancelWaiters, venueID)
		a.orderMu.Unlock()
		observability.Log().Warn("cancel request failed",
			observability.Field{Key: "order_id", Value: orderID},
			observability.Field{Key: "error", Value: err.Error()})
		a.emitMessage("order", fmt.Sprintf("cancel of order %d failed: %v", orderID, err))
		return false
	}
	a.orderMu.Unlock()

	timer := time.NewTimer(a.cfg.ConfirmTimeout)
	defer timer.Stop()
	select {
	case <-waiter:
		return true
	case <-ctx.Done():
	case <-timer.C:
	}

	a.orderMu.Lock()
	select {
	case <-waiter:
		// Confirmation raced the timer.
		a.orderMu.Unlock()
		return true
	default:
	}
	delete(a.cancelWaiters, venueID)
	a.orderMu.Unlock()

	// The confirmation may have been lost rather than the cancel itself; ask
	// the venue directly before reporting failure. A later streamed
	// confirmation is matched by the dispatch path and logged.
	if a.reconcileCancel(tracked, venueID) {
		return true
	}
	a.emitMessage("order", fmt.Sprintf("cancel of order %d not confirmed within %s", orderID, a.cfg.ConfirmTimeout))
	return false
}

// reconcileCancel queries the venue's order record after a cancel
// confirmation timed out. A venue-side canceled status resolves the cancel
// as a success.
func (a *Adapter) reconcileCancel(tracked *trackedOrder, venueID string) bool {
	timeout := a.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	venueOrder, err := a.trading.GetOrder(ctx, venueID)
	if err != nil || venueOrder.Status != "canceled" {
		return false
	}

	a.orderMu.Lock()
	tracked.order.Status = schema.StatusCanceled
	delete(a.byVenueID, venueID)
	a.orderMu.Unlock()

	observability.Log().Info("cancel reconciled via order query",
		observability.Field{Key: "order_id", Value: tracked.order.ID},
		observability.Field{Key: "venue_order_id", Value: venueID})
	a.emitOrderEvent(schema.OrderEvent{
		OrderID: tracked.order.ID,
		Status:  schema.StatusCanceled,
		At:      a.clock(),
	})
	a.recordJournal(journal.Entry{
		OrderID:      tracked.order.ID,
		VenueOrderID: venueID,
		Symbol:       tracked.brokerSymbol,
		AssetClass:   tracked.order.Instrument.Class,
		Event:        "cancel_reconciled",
		Status:       schema.StatusCanceled,
		OccurredAt:   a.clock(),
	})
	return true
}

// handleTradeUpdate is the dispatch table for streaming order-lifecycle
// events. It never panics or propagates errors into the transport goroutine;
// events referencing unknown orders are logged and dropped.
func (a *Adapter) handleTradeUpdate(update stream.OrderUpdate) {
	kind := schema.TradeUpdateKind(update.Event)
	a.metrics.recordTradeUpdate(context.Background(), kind)

	a.orderMu.Lock()
	tracked, ok := a.byVenueID[update.Order.ID]
	if !ok {
		a.orderMu.Unlock()
		observability.Log().Warn("trade update for unknown order",
			observability.Field{Key: "venue_order_id", Value: update.Order.ID},
			observability.Field{Key: "event", Value: update.Event})
		return
	}

	var (
		events  []schema.OrderEvent
		entries []journal.Entry
	)

	switch kind {
	case schema.TradeUpdatePendingNew:
		// Submission ack; no host-facing event.

	case schema.TradeUpdateNew:
		if tracked.order.Status == schema.StatusNew {
			tracked.order.Status = schema.StatusSubmitted
			events = append(events, schema.OrderEvent{
				OrderID: tracked.order.ID,
				Status:  schema.StatusSubmitted,
				At:      update.Timestamp,
			})
		}

	case schema.TradeUpdateRejected:
		tracked.order.Status = schema.StatusInvalid
		delete(a.byVenueID, update.Order.ID)
		events = append(events, schema.OrderEvent{
			OrderID: tracked.order.ID,
			Status:  schema.StatusInvalid,
			At:      update.Timestamp,
			Message: update.Order.Status,
		})
		entries = append(entries, a.journalEntry(tracked, update.Order.ID, "rejected", nil, nil, update))

	case schema.TradeUpdateCanceled:
		if waiter, waiting := a.cancelWaiters[update.Order.ID]; waiting {
			waiter <- schema.StatusCanceled
			delete(a.cancelWaiters, update.Order.ID)
		} else {
			observability.Log().Info("late cancel confirmation",
				observability.Field{Key: "venue_order_id", Value: update.Order.ID})
		}
		tracked.order.Status = schema.StatusCanceled
		delete(a.byVenueID, update.Order.ID)
		events = append(events, schema.OrderEvent{
			OrderID: tracked.order.ID,
			Status:  schema.StatusCanceled,
			At:      update.Timestamp,
		})
		entries = append(entries, a.journalEntry(tracked, update.Order.ID, "canceled", nil, nil, update))

	case schema.TradeUpdateReplaced:
		tracked.order.Status = schema.StatusUpdateSubmitted
		if update.Order.ReplacedBy != "" {
			tracked.venueID = update.Order.ReplacedBy
			a.byVenueID[update.Order.ReplacedBy] = tracked
		}
		events = append(events, schema.OrderEvent{
			OrderID: tracked.order.ID,
			Status:  schema.StatusUpdateSubmitted,
			At:      update.Timestamp,
		})

	case schema.TradeUpdateFill, schema.TradeUpdatePartialFill:
		fillEvents, fillEntries := a.handleFillLocked(tracked, kind, update)
		events = append(events, fillEvents...)
		entries = append(entries, fillEntries...)

	default:
		observability.Log().Debug("ignoring trade update",
			observability.Field{Key: "event", Value: update.Event},
			observability.Field{Key: "venue_order_id", Value: update.Order.ID})
	}
	a.orderMu.Unlock()

	for _, ev := range events {
		a.emitOrderEvent(ev)
	}
	for _, entry := range entries {
		a.recordJournal(entry)
	}
}

// handleFillLocked applies a fill to the position cache, advances cross-zero
// sequencing, and produces the host-facing fill event. Caller holds orderMu.
func (a *Adapter) handleFillLocked(tracked *trackedOrder, kind schema.TradeUpdateKind, update stream.OrderUpdate) ([]schema.OrderEvent, []journal.Entry) {
	signedQty := update.Qty
	if update.Order.Side == "sell" {
		signedQty = signedQty.Neg()
	}
	a.positions[tracked.brokerSymbol] = a.positions[tracked.brokerSymbol].Add(signedQty)

	if tracked.phase == phaseAwaitingFirstLeg && kind == schema.TradeUpdateFill {
		// Closing leg is done. The opening leg goes out on its own goroutine:
		// a REST round-trip must not stall the stream dispatch path. The host
		// sees that leg's fills, not this one.
		delete(a.byVenueID, update.Order.ID)
		tracked.phase = phaseAwaitingSecondLeg
		tracked.venueID = ""
		go a.submitSecondLeg(tracked, update.Timestamp)
		return nil, nil
	}

	status := schema.StatusPartiallyFilled
	if kind == schema.TradeUpdateFill {
		status = schema.StatusFilled
		delete(a.byVenueID, update.Order.ID)
	}
	tracked.order.Status = status

	price := update.Price
	fillEvent := schema.OrderEvent{
		OrderID:      tracked.order.ID,
		Status:       status,
		FillPrice:    price,
		FillQuantity: signedQty,
		At:           update.Timestamp,
	}
	entry := a.journalEntry(tracked, update.Order.ID, string(kind), &price, &signedQty, update)
	return []schema.OrderEvent{fillEvent}, []journal.Entry{entry}
}

// submitSecondLeg sends the opening leg of a cross-zero pair after the
// closing leg's fill. It runs off the dispatch goroutine; the phase
// transition has already been recorded by the caller.
func (a *Adapter) submitSecondLeg(tracked *trackedOrder, at time.Time) {
	if at.IsZero() {
		at = a.clock()
	}
	timeout := a.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.orderMu.Lock()
	req := a.buildOrderRequest(tracked.order, tracked.brokerSymbol, tracked.secondLegQty)
	venueOrder, err := a.trading.CreateOrder(ctx, req)
	if err != nil {
		tracked.order.Status = schema.StatusInvalid
		a.orderMu.Unlock()
		observability.Log().Warn("cross-zero second leg submission failed",
			observability.Field{Key: "order_id", Value: tracked.order.ID},
			observability.Field{Key: "error", Value: err.Error()})
		a.emitOrderEvent(schema.OrderEvent{
			OrderID: tracked.order.ID,
			Status:  schema.StatusInvalid,
			At:      at,
			Message: fmt.Sprintf("cross-zero second leg failed: %v", err),
		})
		a.recordJournal(journal.Entry{
			OrderID:    tracked.order.ID,
			Symbol:     tracked.brokerSymbol,
			AssetClass: tracked.order.Instrument.Class,
			Event:      "cross_second_leg_failed",
			Status:     schema.StatusInvalid,
			OccurredAt: at,
		})
		return
	}
	tracked.venueID = venueOrder.ID
	tracked.order.BrokerIDs = append(tracked.order.BrokerIDs, venueOrder.ID)
	a.byVenueID[venueOrder.ID] = tracked
	status := tracked.order.Status
	a.orderMu.Unlock()

	a.recordJournal(journal.Entry{
		OrderID:      tracked.order.ID,
		VenueOrderID: venueOrder.ID,
		Symbol:       tracked.brokerSymbol,
		AssetClass:   tracked.order.Instrument.Class,
		Event:        "cross_second_leg",
		Status:       status,
		OccurredAt:   at,
	})
}

func (a *Adapter) journalEntry(tracked *trackedOrder, venueID, event string, price, qty *decimal.Decimal, update stream.OrderUpdate) journal.Entry {
	occurred := update.Timestamp
	if occurred.IsZero() {
		occurred = a.clock()
	}
	return journal.Entry{
		OrderID:      tracked.order.ID,
		VenueOrderID: venueID,
		Symbol:       tracked.brokerSymbol,
		AssetClass:   tracked.order.Instrument.Class,
		Event:        event,
		Status:       tracked.order.Status,
		FillPrice:    price,
		FillQuantity: qty,
		OccurredAt:   occurred,
	}
}

func (a *Adapter) recordJournal(entry journal.Entry) {
	timeout := a.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.journal.Record(ctx, entry); err != nil {
		observability.Log().Warn("journal write failed",
			observability.Field{Key: "order_id", Value: entry.OrderID},
			observability.Field{Key: "event", Value: entry.Event},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

// buildOrderRequest translates a host order into the venue payload. qty is
// the signed quantity of the venue order being built, which for cross-zero
// legs differs from the host order's total.
func (a *Adapter) buildOrderRequest(order *schema.Order, brokerSymbol string, qty decimal.Decimal) alpaca.OrderRequest {
	side := "buy"
	if qty.Sign() < 0 {
		side = "sell"
	}
	req := alpaca.OrderRequest{
		Symbol:      brokerSymbol,
		Qty:         qty.Abs().String(),
		Side:        side,
		Type:        string(order.Type),
		TimeInForce: string(order.TimeInForce),
		// The venue dedupes on client order id, so every venue-side order,
		// including a cross-zero leg, gets a fresh one.
		ClientOrderID: uuid.NewString(),
	}
	switch order.Type {
	case schema.OrderTypeLimit:
		req.LimitPrice = order.LimitPrice.String()
	case schema.OrderTypeStop:
		req.StopPrice = order.StopPrice.String()
	case schema.OrderTypeStopLimit:
		req.LimitPrice = order.LimitPrice.String()
		req.StopPrice = order.StopPrice.String()
	}
	return req
}

// crossesZero reports whether applying the signed order quantity to the
// current signed position passes through zero into the opposite direction.
func crossesZero(position, orderQty decimal.Decimal) bool {
	if position.IsZero() || position.Sign() == orderQty.Sign() {
		return false
	}
	target := position.Add(orderQty)
	return !target.IsZero() && target.Sign() == orderQty.Sign()
}

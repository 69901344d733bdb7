package adapter

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tradewire/alpacabridge/internal/alpaca"
	"github.com/tradewire/alpacabridge/internal/schema"
	"github.com/tradewire/alpacabridge/internal/telemetry"
)

type bridgeMetrics struct {
	environment string

	ordersSubmitted     metric.Int64Counter
	tradeUpdates        metric.Int64Counter
	orderEvents         metric.Int64Counter
	warnings            metric.Int64Counter
	ticksForwarded      metric.Int64Counter
	historyRequests     metric.Int64Counter
	activeSubscriptions metric.Int64UpDownCounter
}

func newBridgeMetrics() *bridgeMetrics {
	meter := otel.Meter("adapter.alpaca")

	bm := &bridgeMetrics{environment: telemetry.Environment()}

	bm.ordersSubmitted, _ = meter.Int64Counter("alpacabridge_orders_submitted",
		metric.WithDescription("Orders submitted to the Alpaca trading API"),
		metric.WithUnit("{order}"))

	bm.tradeUpdates, _ = meter.Int64Counter("alpacabridge_trade_updates",
		metric.WithDescription("Streaming trade-update events received from Alpaca"),
		metric.WithUnit("{event}"))

	bm.orderEvents, _ = meter.Int64Counter("alpacabridge_order_events",
		metric.WithDescription("Order lifecycle events delivered to the host"),
		metric.WithUnit("{event}"))

	bm.warnings, _ = meter.Int64Counter("alpacabridge_warnings",
		metric.WithDescription("Deduplicated adapter warnings, counted per category"),
		metric.WithUnit("{warning}"))

	bm.ticksForwarded, _ = meter.Int64Counter("alpacabridge_ticks_forwarded",
		metric.WithDescription("Streaming market data ticks handed to the aggregator"),
		metric.WithUnit("{tick}"))

	bm.historyRequests, _ = meter.Int64Counter("alpacabridge_history_requests",
		metric.WithDescription("Historical data requests served, labelled by support"),
		metric.WithUnit("{request}"))

	bm.activeSubscriptions, _ = meter.Int64UpDownCounter("alpacabridge_active_subscriptions",
		metric.WithDescription("Instruments with live market data subscriptions"),
		metric.WithUnit("{instrument}"))

	return bm
}

func (bm *bridgeMetrics) baseAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		telemetry.AttrVenue.String(alpaca.Venue),
		telemetry.AttrEnvironment.String(bm.environment),
	}
}

func (bm *bridgeMetrics) recordOrderSubmitted(ctx context.Context, order *schema.Order) {
	if bm == nil || bm.ordersSubmitted == nil || order == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := append(bm.baseAttrs(),
		telemetry.AttrSymbol.String(order.Instrument.Symbol),
		telemetry.AttrAssetClass.String(string(order.Instrument.Class)),
		telemetry.AttrOrderSide.String(string(order.Side())),
		telemetry.AttrOrderType.String(string(order.Type)))
	bm.ordersSubmitted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (bm *bridgeMetrics) recordTradeUpdate(ctx context.Context, kind schema.TradeUpdateKind) {
	if bm == nil || bm.tradeUpdates == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := append(bm.baseAttrs(), telemetry.AttrUpdateKind.String(string(kind)))
	bm.tradeUpdates.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (bm *bridgeMetrics) recordOrderEvent(ctx context.Context, status schema.OrderStatus) {
	if bm == nil || bm.orderEvents == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := append(bm.baseAttrs(), telemetry.AttrOrderState.String(string(status)))
	bm.orderEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (bm *bridgeMetrics) recordWarning(ctx context.Context, category string) {
	if bm == nil || bm.warnings == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := append(bm.baseAttrs(), telemetry.AttrWarnCategory.String(category))
	bm.warnings.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (bm *bridgeMetrics) recordTick(ctx context.Context, class schema.AssetClass, tickType schema.TickType) {
	if bm == nil || bm.ticksForwarded == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := append(bm.baseAttrs(),
		telemetry.AttrAssetClass.String(string(class)),
		telemetry.AttrTickType.String(string(tickType)))
	bm.ticksForwarded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (bm *bridgeMetrics) recordHistory(ctx context.Context, req schema.HistoryRequest, supported bool) {
	if bm == nil || bm.historyRequests == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := append(bm.baseAttrs(),
		telemetry.AttrAssetClass.String(string(req.Instrument.Class)),
		telemetry.AttrTickType.String(string(req.Type)),
		telemetry.AttrResolution.String(string(req.Resolution)),
		attribute.Bool("supported", supported))
	bm.historyRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (bm *bridgeMetrics) adjustSubscriptions(ctx context.Context, delta int) {
	if bm == nil || bm.activeSubscriptions == nil || delta == 0 {
		return
	}
	ctx = ensureContext(ctx)
	bm.activeSubscriptions.Add(ctx, int64(delta), metric.WithAttributes(bm.baseAttrs()...))
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

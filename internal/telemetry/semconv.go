// Package telemetry provides semantic conventions for bridge observability.
package telemetry

import (
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for bridge-specific telemetry.

const (
	// AttrVenue identifies the brokerage venue producing the signal.
	AttrVenue = attribute.Key("venue")
	// AttrSymbol captures the venue ticker (e.g. AAPL, BTC/USD).
	AttrSymbol = attribute.Key("symbol")
	// AttrAssetClass labels metrics by instrument class (equity/option/crypto).
	AttrAssetClass = attribute.Key("asset.class")
	// AttrOrderSide labels order telemetry with buy/sell intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrOrderType distinguishes limit vs market orders in execution metrics.
	AttrOrderType = attribute.Key("order.type")
	// AttrOrderState captures the lifecycle state reported to the host.
	AttrOrderState = attribute.Key("order.state")
	// AttrUpdateKind classifies streaming trade-update events.
	AttrUpdateKind = attribute.Key("update.kind")
	// AttrWarnCategory identifies deduplicated warning categories.
	AttrWarnCategory = attribute.Key("warn.category")
	// AttrChannel names the streaming channel (trading/equity/crypto/option).
	AttrChannel = attribute.Key("channel")
	// AttrFeedTier records which feed tier a channel authorized against.
	AttrFeedTier = attribute.Key("feed.tier")
	// AttrTickType labels history and streaming metrics by data point kind.
	AttrTickType = attribute.Key("tick.type")
	// AttrResolution labels history metrics by requested granularity.
	AttrResolution = attribute.Key("resolution")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// Environment reports the deployment environment used to label metrics.
func Environment() string {
	if env := strings.TrimSpace(os.Getenv("BRIDGE_ENV")); env != "" {
		return strings.ToLower(env)
	}
	return "prod"
}

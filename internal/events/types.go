package events

// Event names a pub/sub channel. Cross-subsystem producers (news, scanners,
// dashboard) and the core share this same bus; the core only defines the
// channels it produces or consumes, and treats the free-form `pumpfun:*`,
// `research:*`, `safekeeping:*` families as opaque pass-through.
type Event string

const (
	// External-producer channels the core only consumes.
	EventNewsClustered     Event = "NEWS_CLUSTERED"
	EventNewsHotClusters   Event = "NEWS_HOT_CLUSTERS"
	EventNewsCategorized   Event = "NEWS_CATEGORIZED"
	EventNewsAnomaly       Event = "NEWS_ANOMALY"
	EventNewsPrediction    Event = "NEWS_PREDICTION"
	EventNewsCrossCategory Event = "NEWS_CROSS_CATEGORY"
	EventEntityTrending    Event = "ENTITY_TRENDING"
	EventUserEngagement    Event = "USER_ENGAGEMENT"
	EventQualityMetric     Event = "QUALITY_METRIC"

	// Core-produced channels.
	EventCycleStart         Event = "CYCLE_START"
	EventCycleComplete      Event = "CYCLE_COMPLETE"
	EventCycleError         Event = "CYCLE_ERROR"
	EventExecutionFilled    Event = "EXECUTION_FILLED"
	EventExecutionFailed    Event = "EXECUTION_FAILED"
	EventPositionOpened     Event = "POSITION_OPENED"
	EventPositionClosed     Event = "POSITION_CLOSED"
	EventCircuitBreakerOpen Event = "CIRCUIT_BREAKER_OPEN"
	EventCircuitBreakerClosed Event = "CIRCUIT_BREAKER_CLOSED"
	Error                   Event = "ERROR"

	// Internal channels for the market feed and order lifecycle, outside
	// the core's named cycle/execution set.
	EventPriceTick            Event = "price_tick"
	EventOrderUpdate          Event = "order_update"
	EventStrategySignal       Event = "strategy_signal"
	EventRiskAlert            Event = "risk_alert"
	EventPositionChange       Event = "position_change"
	EventOrderSubmitted       Event = "order.submitted"
	EventOrderAccepted        Event = "order.accepted"
	EventOrderRejected        Event = "order.rejected"
	EventOrderFilled          Event = "order.filled"
	EventOrderPartiallyFilled Event = "order.partially_filled"
)

// ChannelPriceTick is an alias kept for readability at call sites that
// publish raw market ticks rather than order-lifecycle events.
const ChannelPriceTick = EventPriceTick

// DottedPrefix reports whether e belongs to one of the free-form producer
// families (pumpfun:*, research:*, safekeeping:*) that the core passes
// through without a fixed schema.
func DottedPrefix(e Event) bool {
	for _, p := range []string{"pumpfun:", "research:", "safekeeping:"} {
		if len(e) >= len(p) && string(e)[:len(p)] == p {
			return true
		}
	}
	return false
}

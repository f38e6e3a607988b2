package metrics

import "time"

// Counter names shared by every component.
const (
	ConditionsEvaluated = "conditions_evaluated"
	ConditionsTriggered = "conditions_triggered"
	ConditionsSkipped   = "conditions_skipped"
	DeliveryAttempts    = "delivery_attempts"
	SubscribersDetached = "subscribers_detached"
	FeedReconnects      = "feed_reconnects"
	BusMessagesRelayed  = "bus_messages_relayed"
	HTTPRequests        = "http_requests"
	HTTPErrors          = "http_errors"
)

// Recorder is what components record against.
// It uses the null object pattern to avoid nil checks throughout the codebase.
type Recorder interface {
	// Increment bumps one of the named counters above.
	Increment(name string)

	// RecordDelivery counts a terminal delivery outcome with its end-to-end latency.
	RecordDelivery(delivered bool, latency time.Duration)
}

// NoOp discards all metrics. Use this when metrics collection is not configured.
type NoOp struct{}

// NewNoOp creates a new no-op metrics recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (n *NoOp) Increment(string) {}

func (n *NoOp) RecordDelivery(bool, time.Duration) {}

var (
	_ Recorder = (*NoOp)(nil)
	_ Recorder = (*Collector)(nil)
)

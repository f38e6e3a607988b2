package engine

import (
	"context"
	"time"

	"fxalert/internal/condition"
	"fxalert/internal/delivery"
	"fxalert/internal/feed"
)

// ConditionStore is the persisted set of alert conditions.
type ConditionStore interface {
	ListActive(ctx context.Context) ([]condition.Condition, error)
	RecordTrigger(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
}

// QuoteSource returns the latest quote, or nil when the feed has none for the symbol.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*feed.Quote, error)
}

// Enqueuer accepts a job for asynchronous delivery and returns immediately.
type Enqueuer interface {
	Enqueue(job delivery.Job) error
}

// Package delivery runs notification jobs on a bounded pool of webhook workers. Every job
// ends in exactly one terminal outcome: delivered, or failed once its attempt budget is spent.
package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned by Enqueue when the work queue has no free slot.
	ErrQueueFull = errors.New("delivery queue full")
	// ErrPoolClosed is returned once the pool has been stopped.
	ErrPoolClosed = errors.New("delivery pool closed")
)

// DefaultMaxAttempts is the attempt budget of a job that does not set one.
const DefaultMaxAttempts = 3

// Payload is the wire-stable notification body.
type Payload struct {
	AlertID        string  `json:"alert_id"`
	Symbol         string  `json:"symbol"`
	ConditionType  string  `json:"condition_type"`
	ConditionValue *string `json:"condition_value"`
	Timeframe      string  `json:"timeframe"`
	CurrentPrice   float64 `json:"current_price"`
	Timestamp      string  `json:"timestamp"`
}

// Job is one notification to deliver. It is never mutated after hand-off.
type Job struct {
	ID          string
	URL         string
	Payload     Payload
	MaxAttempts int
	CreatedAt   time.Time
}

// NewJob creates a job with a fresh id and the default attempt budget.
func NewJob(url string, payload Payload, now time.Time) Job {
	return Job{
		ID:          uuid.NewString(),
		URL:         url,
		Payload:     payload,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now.UTC(),
	}
}

// FormatTimestamp renders t as ISO-8601 UTC for Payload.Timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Status is the terminal state of a job.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Outcome reports how a job ended.
type Outcome struct {
	Job      Job
	Status   Status
	Attempts int
	// Err is a *DeliveryError when Status is StatusFailed.
	Err      error
	Duration time.Duration
}

// DeliveryError is the terminal failure of a job.
type DeliveryError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of job %s failed after %d attempts: %v", e.JobID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

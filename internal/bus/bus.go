// Package bus is the shared publish/subscribe channel that lets several instances fan out the
// same price and status stream. Redis backs it in production; Memory serves a single instance and tests.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed bus or subscription.
var ErrClosed = errors.New("bus closed")

// Bus publishes to and subscribes on named channels.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is an inbound stream of payloads for one channel.
type Subscription interface {
	// Receive waits up to timeout for the next payload. A nil payload with a nil error
	// means the wait timed out with nothing to deliver.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

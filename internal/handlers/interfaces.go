package handlers

import (
	"context"

	"fxalert/internal/broadcast"
	"fxalert/internal/feed"
	"fxalert/internal/metrics"
)

// Feed is the supervised price feed as seen by the HTTP layer.
type Feed interface {
	IsConnected() bool
	StatusMessage() []byte
	ListSymbols(ctx context.Context) ([]string, error)
	GetQuote(ctx context.Context, symbol string) (*feed.Quote, error)
	GetHistory(ctx context.Context, symbol string, tf feed.Timeframe, count int) ([]feed.Bar, error)
}

// Hub is the broadcaster that WebSocket clients attach to.
type Hub interface {
	Attach(id string, sink broadcast.Sink)
	Detach(id string)
	SendTo(ctx context.Context, id string, msg []byte)
}

// Pinger reports the health of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Snapshotter exposes this instance's metrics.
type Snapshotter interface {
	Snapshot() *metrics.InstanceMetrics
}

// InstanceReader lists the metrics every instance reported.
type InstanceReader interface {
	All(ctx context.Context) (map[string]*metrics.InstanceMetrics, error)
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Package feed defines the contract for the live price source and the market data types it produces.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotConnected is returned by queries issued while no session is live.
var ErrNotConnected = errors.New("feed not connected")

// ConnectError reports a transport or credential failure while establishing a session.
type ConnectError struct {
	Op  string // "initialize", "login", ...
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("feed connect failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Quote is the latest bid/ask for a symbol.
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Time   time.Time
}

// Bar is one OHLC candle.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Source owns a single logical session to an external price feed.
//
// Connect and Teardown must never run concurrently with any other call; implementations
// enforce this themselves. IsConnected reflects the last known state and never probes.
type Source interface {
	Connect(ctx context.Context) error
	Teardown(ctx context.Context) error
	IsConnected() bool

	// Ping is a cheap non-price liveness probe.
	Ping(ctx context.Context) error

	ListSymbols(ctx context.Context) ([]string, error)

	// GetQuote returns nil and no error when the symbol is unknown to the feed.
	GetQuote(ctx context.Context, symbol string) (*Quote, error)

	// GetHistory returns up to count most recent bars, oldest first.
	GetHistory(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error)
}

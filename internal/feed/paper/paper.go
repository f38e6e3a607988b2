// Package paper provides a simulated feed.Source that random-walks quotes for a fixed symbol set.
// It is used for local development and demos when no terminal bridge is available.
package paper

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fxalert/internal/feed"
)

// DefaultSymbols are served when the caller does not configure any.
var DefaultSymbols = []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD"}

var (
	defaultStart  = decimal.RequireFromString("1.10000")
	defaultSpread = decimal.RequireFromString("0.00010")
	stepSize      = decimal.RequireFromString("0.00010")
)

// Config tunes the simulation.
type Config struct {
	Symbols []string
	Seed    int64
	// Start maps a symbol to its opening bid. Symbols without an entry start at 1.10000.
	Start map[string]decimal.Decimal
	Now   func() time.Time
}

// Source is an in-memory feed.Source. Every GetQuote call advances the symbol's bid by at most one step.
type Source struct {
	mu        sync.Mutex
	rng       *rand.Rand
	now       func() time.Time
	symbols   []string
	bids      map[string]decimal.Decimal
	connected bool

	// ConnectErr, when set, makes Connect fail. PingErr does the same for Ping.
	ConnectErr error
	PingErr    error
}

// New creates a simulated source.
func New(cfg Config) *Source {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = DefaultSymbols
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	bids := make(map[string]decimal.Decimal, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		start, ok := cfg.Start[s]
		if !ok {
			start = defaultStart
		}
		bids[s] = start
	}
	return &Source{
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		now:     cfg.Now,
		symbols: append([]string(nil), cfg.Symbols...),
		bids:    bids,
	}
}

func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConnectErr != nil {
		return &feed.ConnectError{Op: "initialize", Err: s.ConnectErr}
	}
	s.connected = true
	slog.Info("Paper feed connected", "symbols", len(s.symbols))
	return nil
}

func (s *Source) Teardown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Source) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Source) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return feed.ErrNotConnected
	}
	return s.PingErr
}

func (s *Source) ListSymbols(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, feed.ErrNotConnected
	}
	return append([]string(nil), s.symbols...), nil
}

func (s *Source) GetQuote(ctx context.Context, symbol string) (*feed.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, feed.ErrNotConnected
	}
	bid, ok := s.bids[symbol]
	if !ok {
		return nil, nil
	}
	bid = s.step(bid)
	s.bids[symbol] = bid
	return &feed.Quote{
		Symbol: symbol,
		Bid:    bid,
		Ask:    bid.Add(defaultSpread),
		Time:   s.now().UTC(),
	}, nil
}

// GetHistory synthesizes count bars ending at the current bid without moving it.
func (s *Source) GetHistory(ctx context.Context, symbol string, tf feed.Timeframe, count int) ([]feed.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, feed.ErrNotConnected
	}
	last, ok := s.bids[symbol]
	if !ok || count <= 0 {
		return []feed.Bar{}, nil
	}

	width := feed.ParseTimeframe(string(tf)).Duration()
	end := s.now().UTC().Truncate(width)
	bars := make([]feed.Bar, count)
	closePrice := last
	// Walk backwards from the live bid so the newest bar closes on it.
	for i := count - 1; i >= 0; i-- {
		open := s.step(closePrice)
		high := decimal.Max(open, closePrice).Add(stepSize)
		low := decimal.Min(open, closePrice).Sub(stepSize)
		bars[i] = feed.Bar{
			Time:   end.Add(-time.Duration(count-1-i) * width),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: 10 + s.rng.Int63n(90),
		}
		closePrice = open
	}
	return bars, nil
}

// step moves a price by -1, 0 or +1 step, never below one step.
func (s *Source) step(p decimal.Decimal) decimal.Decimal {
	next := p.Add(stepSize.Mul(decimal.NewFromInt(int64(s.rng.Intn(3) - 1))))
	if next.LessThan(stepSize) {
		return stepSize
	}
	return next
}

// Package streamer polls the live feed for a fixed set of symbols and publishes price updates on
// the shared bus, where every instance's relay fans them out to its local subscribers.
//
// Publishers are not coordinated: every instance that streams a symbol publishes its changes,
// and each subscriber receives one copy per streaming instance. Configure stream symbols on a
// single instance of a deployment.
package streamer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fxalert/internal/feed"
)

// PriceEventType tags price messages.
const PriceEventType = "price"

// DefaultInterval is the pause between polls.
const DefaultInterval = time.Second

// PriceMessage is the JSON body published for every changed quote. Time is epoch milliseconds.
type PriceMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"`
}

// Feed is the part of the supervised feed the streamer reads.
type Feed interface {
	IsConnected() bool
	GetQuote(ctx context.Context, symbol string) (*feed.Quote, error)
}

// Publisher writes to the shared bus.
type Publisher interface {
	PublishShared(ctx context.Context, channel string, msg []byte) error
}

// Config lists the symbols to stream and the bus channel.
type Config struct {
	Symbols  []string
	Interval time.Duration
	Channel  string
}

// Streamer publishes quote changes. It is not safe to Run twice concurrently.
type Streamer struct {
	feed      Feed
	publisher Publisher
	cfg       Config

	last map[string]feed.Quote
}

// New creates a streamer.
func New(f Feed, publisher Publisher, cfg Config) *Streamer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Streamer{
		feed:      f,
		publisher: publisher,
		cfg:       cfg,
		last:      make(map[string]feed.Quote),
	}
}

// Run polls until ctx is canceled. With no symbols configured it returns immediately.
func (s *Streamer) Run(ctx context.Context) {
	if len(s.cfg.Symbols) == 0 {
		slog.Info("Price streamer disabled, no symbols configured")
		return
	}
	slog.Info("Price streamer started", "symbols", s.cfg.Symbols, "interval", s.cfg.Interval, "channel", s.cfg.Channel)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.Poll(ctx)
		select {
		case <-ctx.Done():
			slog.Info("Price streamer stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches every symbol once and publishes those whose quote changed. It returns the
// number of messages published.
func (s *Streamer) Poll(ctx context.Context) int {
	if !s.feed.IsConnected() {
		slog.Debug("Feed not connected, skipping price poll")
		return 0
	}

	published := 0
	for _, symbol := range s.cfg.Symbols {
		if ctx.Err() != nil {
			return published
		}
		ok, err := s.publish(ctx, symbol)
		if err != nil {
			if errors.Is(err, feed.ErrNotConnected) {
				return published
			}
			slog.Warn("Failed to stream price", "symbol", symbol, "error", err)
			continue
		}
		if ok {
			published++
		}
	}
	return published
}

func (s *Streamer) publish(ctx context.Context, symbol string) (bool, error) {
	quote, err := s.feed.GetQuote(ctx, symbol)
	if err != nil {
		return false, err
	}
	if quote == nil {
		return false, nil
	}
	if prev, ok := s.last[symbol]; ok && prev.Bid.Equal(quote.Bid) && prev.Ask.Equal(quote.Ask) {
		return false, nil
	}

	msg, err := json.Marshal(PriceMessage{
		Type:   PriceEventType,
		Symbol: quote.Symbol,
		Bid:    quote.Bid.InexactFloat64(),
		Ask:    quote.Ask.InexactFloat64(),
		Time:   quote.Time.UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal price message: %w", err)
	}
	if err := s.publisher.PublishShared(ctx, s.cfg.Channel, msg); err != nil {
		return false, fmt.Errorf("failed to publish price: %w", err)
	}
	s.last[symbol] = *quote
	return true, nil
}

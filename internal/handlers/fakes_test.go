package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fxalert/internal/feed"
	"fxalert/internal/metrics"
)

// FakeFeed serves canned market data.
type FakeFeed struct {
	mu        sync.Mutex
	connected bool
	symbols   []string
	quotes    map[string]*feed.Quote
	bars      []feed.Bar
	err       error

	historyTF    feed.Timeframe
	historyCount int
}

func NewFakeFeed() *FakeFeed {
	q := &feed.Quote{
		Symbol: "EURUSD",
		Bid:    decimal.RequireFromString("1.1005"),
		Ask:    decimal.RequireFromString("1.1007"),
		Time:   time.UnixMilli(1709285400000),
	}
	return &FakeFeed{
		connected: true,
		symbols:   []string{"EURUSD", "GBPUSD"},
		quotes:    map[string]*feed.Quote{"EURUSD": q},
		bars: []feed.Bar{{
			Time:   time.UnixMilli(1709284500000),
			Open:   decimal.RequireFromString("1.1000"),
			High:   decimal.RequireFromString("1.1010"),
			Low:    decimal.RequireFromString("1.0990"),
			Close:  decimal.RequireFromString("1.1005"),
			Volume: 42,
		}},
	}
}

func (f *FakeFeed) setConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = c
}

func (f *FakeFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeFeed) StatusMessage() []byte {
	if f.IsConnected() {
		return []byte(`{"type":"feed_status","status":"connected"}`)
	}
	return []byte(`{"type":"feed_status","status":"disconnected"}`)
}

func (f *FakeFeed) ListSymbols(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.symbols, nil
}

func (f *FakeFeed) GetQuote(ctx context.Context, symbol string) (*feed.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes[symbol], nil
}

func (f *FakeFeed) GetHistory(ctx context.Context, symbol string, tf feed.Timeframe, count int) ([]feed.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyTF, f.historyCount = tf, count
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

type fakeSnapshotter struct{}

func (fakeSnapshotter) Snapshot() *metrics.InstanceMetrics {
	return &metrics.InstanceMetrics{Instance: "test", Status: "healthy", DeliveriesSent: 3}
}

type fakeReader struct {
	err error
}

func (r fakeReader) All(ctx context.Context) (map[string]*metrics.InstanceMetrics, error) {
	if r.err != nil {
		return nil, r.err
	}
	return map[string]*metrics.InstanceMetrics{"a": {Instance: "a"}, "b": {Instance: "b"}}, nil
}

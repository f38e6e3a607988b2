package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fxalert/internal/condition"
	"fxalert/internal/delivery"
	"fxalert/internal/feed"
)

// FakeStore is an in-memory ConditionStore that honors Deactivate.
type FakeStore struct {
	mu          sync.Mutex
	conditions  []condition.Condition
	listErr     error
	triggers    map[string][]time.Time
	deactivated []string
	listCalls   int
}

func NewFakeStore(conds ...condition.Condition) *FakeStore {
	return &FakeStore{conditions: conds, triggers: map[string][]time.Time{}}
}

func (f *FakeStore) ListActive(ctx context.Context) ([]condition.Condition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []condition.Condition
	for _, c := range f.conditions {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeStore) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers[id] = append(f.triggers[id], at)
	for i := range f.conditions {
		if f.conditions[i].ID == id {
			t := at
			f.conditions[i].LastTriggered = &t
		}
	}
	return nil
}

func (f *FakeStore) Deactivate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	for i := range f.conditions {
		if f.conditions[i].ID == id {
			f.conditions[i].Active = false
		}
	}
	return nil
}

func (f *FakeStore) Triggers(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers[id])
}

func (f *FakeStore) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// FakeQuotes serves bids by symbol. Symbols listed in errs fail; unknown symbols return nil.
type FakeQuotes struct {
	mu    sync.Mutex
	bids  map[string]decimal.Decimal
	errs  map[string]error
	calls map[string]int
}

func NewFakeQuotes() *FakeQuotes {
	return &FakeQuotes{bids: map[string]decimal.Decimal{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *FakeQuotes) Set(symbol, bid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids[symbol] = decimal.RequireFromString(bid)
}

func (f *FakeQuotes) Fail(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[symbol] = err
}

func (f *FakeQuotes) GetQuote(ctx context.Context, symbol string) (*feed.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	bid, ok := f.bids[symbol]
	if !ok {
		return nil, nil
	}
	return &feed.Quote{Symbol: symbol, Bid: bid, Ask: bid.Add(decimal.New(1, -4)), Time: time.Now()}, nil
}

// FakeEnqueuer records jobs. When full is set every Enqueue fails with ErrQueueFull.
type FakeEnqueuer struct {
	mu   sync.Mutex
	jobs []delivery.Job
	full bool
}

func (f *FakeEnqueuer) Enqueue(job delivery.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return delivery.ErrQueueFull
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *FakeEnqueuer) Jobs() []delivery.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery.Job(nil), f.jobs...)
}

var errBridgeDown = errors.New("bridge returned status 502")

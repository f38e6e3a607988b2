package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"fxalert/internal/feed"
)

// FakeSource is a scriptable feed.Source.
type FakeSource struct {
	mu sync.Mutex

	// connectErrs is consumed one entry per Connect call; once empty, Connect succeeds.
	connectErrs []error
	pingErr     error
	connected   bool

	connectCalls  int
	teardownCalls int
	pingCalls     int
}

func (f *FakeSource) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return &feed.ConnectError{Op: "login", Err: err}
		}
	}
	f.connected = true
	f.pingErr = nil
	return nil
}

func (f *FakeSource) Teardown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownCalls++
	f.connected = false
	return nil
}

func (f *FakeSource) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeSource) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCalls++
	return f.pingErr
}

func (f *FakeSource) ListSymbols(ctx context.Context) ([]string, error) {
	return []string{"EURUSD"}, nil
}

func (f *FakeSource) GetQuote(ctx context.Context, symbol string) (*feed.Quote, error) {
	return &feed.Quote{Symbol: symbol}, nil
}

func (f *FakeSource) GetHistory(ctx context.Context, symbol string, tf feed.Timeframe, count int) ([]feed.Bar, error) {
	return []feed.Bar{}, nil
}

func (f *FakeSource) failConnects(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = nil
	for i := 0; i < n; i++ {
		f.connectErrs = append(f.connectErrs, errors.New("authorization failed"))
	}
}

func (f *FakeSource) killSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = errors.New("terminal info unavailable")
}

func (f *FakeSource) calls() (connects, teardowns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.teardownCalls
}

// FakePublisher records every status event.
type FakePublisher struct {
	mu       sync.Mutex
	statuses []string
}

func (p *FakePublisher) BroadcastLocal(ctx context.Context, msg []byte) {
	var ev StatusEvent
	if err := json.Unmarshal(msg, &ev); err != nil || ev.Type != StatusEventType {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, ev.Status)
}

func (p *FakePublisher) Statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statuses...)
}

// sleepRecorder replaces Supervisor.sleep. Backoff delays return immediately and are recorded;
// heartbeat waits are released one at a time through beats.
type sleepRecorder struct {
	heartbeat time.Duration
	beats     chan struct{}

	mu     sync.Mutex
	delays []time.Duration
}

func newSleepRecorder(heartbeat time.Duration) *sleepRecorder {
	return &sleepRecorder{heartbeat: heartbeat, beats: make(chan struct{})}
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if d == r.heartbeat {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.beats:
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

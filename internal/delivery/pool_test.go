package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"fxalert/internal/delivery/retry"
	"fxalert/internal/metrics"
)

// FakeSender fails the first failures attempts per URL, then succeeds.
type FakeSender struct {
	mu       sync.Mutex
	failures int
	err      error
	block    chan struct{}
	attempts map[string]int
	bodies   [][]byte
}

func NewFakeSender(failures int) *FakeSender {
	return &FakeSender{failures: failures, err: errors.New("webhook returned status 503"), attempts: map[string]int{}}
}

func (f *FakeSender) Send(ctx context.Context, url string, body []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[url]++
	f.bodies = append(f.bodies, body)
	if f.attempts[url] <= f.failures {
		return f.err
	}
	return nil
}

func (f *FakeSender) Attempts(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestPool(sender Sender, workers, queue int, sl *sleepLog, rec metrics.Recorder) *Pool {
	cfg := Config{Workers: workers, QueueSize: queue, Retry: retry.DefaultConfig()}
	cfg.Retry.Sleep = sl.sleep
	return NewPool(sender, cfg, rec)
}

func testJob(url string) Job {
	v := "1.1"
	return NewJob(url, Payload{
		AlertID:        "a1",
		Symbol:         "EURUSD",
		ConditionType:  "PRICE_ABOVE",
		ConditionValue: &v,
		Timeframe:      "M15",
		CurrentPrice:   1.1005,
		Timestamp:      FormatTimestamp(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)),
	}, time.Now())
}

func submitAndWait(t *testing.T, p *Pool, job Job) Outcome {
	t.Helper()
	ch := make(chan Outcome, 1)
	if err := p.Submit(context.Background(), job, func(o Outcome) { ch <- o }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	select {
	case o := <-ch:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestPool_RetryBudget(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		wantStatus   Status
		wantAttempts int
		wantDelays   []time.Duration
	}{
		{name: "first attempt", failures: 0, wantStatus: StatusDelivered, wantAttempts: 1},
		{name: "succeeds on attempt 2", failures: 1, wantStatus: StatusDelivered, wantAttempts: 2, wantDelays: []time.Duration{time.Second}},
		{name: "exhausted after 3", failures: 5, wantStatus: StatusFailed, wantAttempts: 3, wantDelays: []time.Duration{time.Second, 2 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewFakeSender(tt.failures)
			sl := &sleepLog{}
			collector := metrics.NewCollector("test", nil)
			p := newTestPool(sender, 1, 4, sl, collector)
			p.Start(context.Background())
			defer p.Stop(context.Background())

			o := submitAndWait(t, p, testJob("https://hook/1"))

			if o.Status != tt.wantStatus || o.Attempts != tt.wantAttempts {
				t.Errorf("outcome = %s after %d attempts, want %s after %d", o.Status, o.Attempts, tt.wantStatus, tt.wantAttempts)
			}
			if got := sender.Attempts("https://hook/1"); got != tt.wantAttempts {
				t.Errorf("sender saw %d attempts, want %d", got, tt.wantAttempts)
			}
			if got := sl.Delays(); len(got) != len(tt.wantDelays) || (len(got) > 0 && !reflect.DeepEqual(got, tt.wantDelays)) {
				t.Errorf("delays = %v, want %v", got, tt.wantDelays)
			}
			if got := collector.Snapshot().Counters[metrics.DeliveryAttempts]; got != uint64(tt.wantAttempts) {
				t.Errorf("%s = %d, want %d", metrics.DeliveryAttempts, got, tt.wantAttempts)
			}

			if tt.wantStatus == StatusFailed {
				var de *DeliveryError
				if !errors.As(o.Err, &de) || de.Attempts != 3 || de.JobID != o.Job.ID {
					t.Errorf("outcome error = %v, want *DeliveryError after 3 attempts", o.Err)
				}
				if collector.Snapshot().DeliveriesFailed != 1 {
					t.Error("failed delivery not recorded")
				}
			} else if o.Err != nil {
				t.Errorf("outcome error = %v, want nil", o.Err)
			}
		})
	}
}

func TestPool_PermanentErrorStopsRetry(t *testing.T) {
	sender := NewFakeSender(10)
	sender.err = retry.Permanent(errors.New("invalid webhook URL"))
	p := newTestPool(sender, 1, 1, &sleepLog{}, nil)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	o := submitAndWait(t, p, testJob("https://hook/2"))
	if o.Status != StatusFailed || o.Attempts != 1 {
		t.Errorf("outcome = %s after %d attempts, want failed after 1", o.Status, o.Attempts)
	}
}

func TestPool_PayloadWireShape(t *testing.T) {
	sender := NewFakeSender(0)
	p := newTestPool(sender, 1, 1, &sleepLog{}, nil)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	submitAndWait(t, p, testJob("https://hook/3"))

	sender.mu.Lock()
	body := sender.bodies[0]
	sender.mu.Unlock()

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	want := map[string]any{
		"alert_id":        "a1",
		"symbol":          "EURUSD",
		"condition_type":  "PRICE_ABOVE",
		"condition_value": "1.1",
		"timeframe":       "M15",
		"current_price":   1.1005,
		"timestamp":       "2024-03-01T09:30:00Z",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("payload = %v, want %v", got, want)
	}
}

func TestPool_NullConditionValue(t *testing.T) {
	body, err := json.Marshal(Payload{AlertID: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	json.Unmarshal(body, &got)
	if v, ok := got["condition_value"]; !ok || v != nil {
		t.Errorf("condition_value = %v (present %v), want null", v, ok)
	}
}

func TestPool_EnqueueNeverBlocks(t *testing.T) {
	sender := NewFakeSender(0)
	sender.block = make(chan struct{})
	p := newTestPool(sender, 1, 2, &sleepLog{}, nil)
	p.Start(context.Background())
	defer func() {
		close(sender.block)
		p.Stop(context.Background())
	}()

	// One job occupies the worker, two fill the queue.
	var accepted, full int
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && full == 0 {
		switch err := p.Enqueue(testJob("https://hook/4")); {
		case err == nil:
			accepted++
		case errors.Is(err, ErrQueueFull):
			full++
		default:
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if full == 0 {
		t.Fatal("Enqueue() never reported ErrQueueFull")
	}
	if accepted < 2 || accepted > 3 {
		t.Errorf("accepted %d jobs before the queue filled, want 2 or 3", accepted)
	}
}

func TestPool_StopDrainsAndRejects(t *testing.T) {
	sender := NewFakeSender(0)
	p := newTestPool(sender, 2, 10, &sleepLog{}, nil)
	p.Start(context.Background())

	var mu sync.Mutex
	delivered := 0
	for i := 0; i < 5; i++ {
		err := p.Submit(context.Background(), testJob("https://hook/5"), func(o Outcome) {
			mu.Lock()
			defer mu.Unlock()
			if o.Status == StatusDelivered {
				delivered++
			}
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	mu.Lock()
	if delivered != 5 {
		t.Errorf("delivered = %d, want 5 after drain", delivered)
	}
	mu.Unlock()

	if err := p.Enqueue(testJob("https://hook/5")); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Enqueue() after Stop error = %v, want ErrPoolClosed", err)
	}
	if err := p.Submit(context.Background(), testJob("https://hook/5"), nil); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after Stop error = %v, want ErrPoolClosed", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestPool_StopTimeoutCancelsInFlight(t *testing.T) {
	sender := NewFakeSender(0)
	sender.block = make(chan struct{}) // never released
	p := newTestPool(sender, 1, 1, &sleepLog{}, nil)
	p.Start(context.Background())

	outcomes := make(chan Outcome, 1)
	if err := p.Submit(context.Background(), testJob("https://hook/6"), func(o Outcome) { outcomes <- o }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want DeadlineExceeded", err)
	}

	o := <-outcomes
	if o.Status != StatusFailed || !errors.Is(o.Err, context.Canceled) {
		t.Errorf("outcome = %s (%v), want failed with context.Canceled", o.Status, o.Err)
	}
}

func TestSubmit_ContextCanceled(t *testing.T) {
	p := newTestPool(NewFakeSender(0), 1, 0, &sleepLog{}, nil)
	// Not started: the unbuffered queue has no reader.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, testJob("https://hook/7"), nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() error = %v, want DeadlineExceeded", err)
	}
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("webhook returned status 500")
	err := error(&DeliveryError{JobID: "j1", Attempts: 3, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("DeliveryError does not unwrap to its cause")
	}
	if got := err.Error(); got != "delivery of job j1 failed after 3 attempts: webhook returned status 500" {
		t.Errorf("Error() = %q", got)
	}
}

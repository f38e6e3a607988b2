package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fxalert/internal/bus"
)

// FakeSink records delivered messages. When failing is set every Send fails;
// when blocking is set Send waits for ctx to expire.
type FakeSink struct {
	mu       sync.Mutex
	messages []string
	failing  bool
	blocking bool
	sends    atomic.Int64
}

func (f *FakeSink) Send(ctx context.Context, msg []byte) error {
	f.sends.Add(1)
	f.mu.Lock()
	failing, blocking := f.failing, f.blocking
	f.mu.Unlock()

	if blocking {
		<-ctx.Done()
		return ctx.Err()
	}
	if failing {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, string(msg))
	return nil
}

func (f *FakeSink) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *FakeSink) SetFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

// FlakyBus fails the first subscribeFailures Subscribe calls and the first receiveFailures
// Receive calls, then delegates to an in-process bus.
type FlakyBus struct {
	*bus.Memory

	mu                sync.Mutex
	subscribeFailures int
	receiveFailures   int
	subscribes        int
}

func NewFlakyBus(subscribeFailures, receiveFailures int) *FlakyBus {
	return &FlakyBus{
		Memory:            bus.NewMemory(16),
		subscribeFailures: subscribeFailures,
		receiveFailures:   receiveFailures,
	}
}

func (f *FlakyBus) Subscribe(ctx context.Context, channel string) (bus.Subscription, error) {
	f.mu.Lock()
	f.subscribes++
	if f.subscribeFailures > 0 {
		f.subscribeFailures--
		f.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	f.mu.Unlock()

	sub, err := f.Memory.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	return &flakySubscription{Subscription: sub, bus: f}, nil
}

func (f *FlakyBus) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

type flakySubscription struct {
	bus.Subscription
	bus *FlakyBus
}

func (s *flakySubscription) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	s.bus.mu.Lock()
	if s.bus.receiveFailures > 0 {
		s.bus.receiveFailures--
		s.bus.mu.Unlock()
		return nil, errors.New("i/o timeout reading reply")
	}
	s.bus.mu.Unlock()
	return s.Subscription.Receive(ctx, timeout)
}

package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMemoryBuffer is the per-subscription backlog of the in-process bus.
const DefaultMemoryBuffer = 256

// Memory is an in-process Bus. Publish never blocks: a subscription whose backlog is full drops the payload.
type Memory struct {
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemory creates an in-process bus.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = DefaultMemoryBuffer
	}
	return &Memory{
		buffer: buffer,
		subs:   make(map[string]map[*memorySubscription]struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs[channel] {
		data := append([]byte(nil), payload...)
		select {
		case sub.ch <- data:
		default:
			slog.Warn("In-process bus subscription full, dropping message", "channel", channel)
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		bus:     m,
		channel: channel,
		ch:      make(chan []byte, m.buffer),
		done:    make(chan struct{}),
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySubscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	return sub, nil
}

// Close closes every subscription. Later calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for sub := range subs {
			sub.closeOnce.Do(func() { close(sub.done) })
		}
	}
	m.subs = map[string]map[*memorySubscription]struct{}{}
	return nil
}

func (m *Memory) remove(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[sub.channel], sub)
	if len(m.subs[sub.channel]) == 0 {
		delete(m.subs, sub.channel)
	}
}

type memorySubscription struct {
	bus       *Memory
	channel   string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-s.ch:
		return data, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (s *memorySubscription) Close() error {
	s.bus.remove(s)
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

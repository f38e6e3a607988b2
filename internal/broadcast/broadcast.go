// Package broadcast fans messages out to a changing set of live subscribers and mirrors
// messages arriving on the shared bus to the subscribers attached to this instance.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fxalert/internal/bus"
	"fxalert/internal/metrics"
)

// DefaultSendTimeout bounds a single delivery to one subscriber.
const DefaultSendTimeout = 5 * time.Second

// Sink is the send side of one subscriber's transport. Send must honor ctx.
type Sink interface {
	Send(ctx context.Context, msg []byte) error
}

type subscriber struct {
	id   string
	sink Sink

	// mu serializes sends so that each subscriber sees messages in broadcast order.
	mu       sync.Mutex
	detached bool
}

// send delivers under the subscriber lock. ok is false when the subscriber was detached before the send started.
func (s *subscriber) send(ctx context.Context, msg []byte, timeout time.Duration) (ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return false, nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return true, s.sink.Send(sendCtx, msg)
}

// Broadcaster is a many-producer, many-subscriber hub. All methods are safe for concurrent use.
type Broadcaster struct {
	bus         bus.Bus
	sendTimeout time.Duration
	metrics     metrics.Recorder

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// New creates a broadcaster. sharedBus may be nil on a single-instance deployment.
func New(sharedBus bus.Bus, sendTimeout time.Duration, recorder metrics.Recorder) *Broadcaster {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if recorder == nil {
		recorder = metrics.NewNoOp()
	}
	return &Broadcaster{
		bus:         sharedBus,
		sendTimeout: sendTimeout,
		metrics:     recorder,
		subscribers: make(map[string]*subscriber),
	}
}

// Attach registers sink under id, replacing any sink previously attached under the same id.
func (b *Broadcaster) Attach(id string, sink Sink) {
	sub := &subscriber{id: id, sink: sink}

	b.mu.Lock()
	prev := b.subscribers[id]
	b.subscribers[id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	if prev != nil {
		prev.markDetached()
	}
	slog.Info("Subscriber attached", "client_id", id, "subscribers", count)
}

// Detach removes id. Detaching an unknown id is a no-op. Once Detach returns no send to
// the removed sink is in flight or will start.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	count := len(b.subscribers)
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.markDetached()
	slog.Info("Subscriber detached", "client_id", id, "subscribers", count)
}

func (s *subscriber) markDetached() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// Count returns the number of attached subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// SendTo delivers msg to one subscriber. A failed delivery detaches it; the failure is never returned.
func (b *Broadcaster) SendTo(ctx context.Context, id string, msg []byte) {
	b.mu.RLock()
	sub, ok := b.subscribers[id]
	b.mu.RUnlock()
	if !ok {
		return
	}
	b.deliver(ctx, sub, msg)
}

// BroadcastLocal delivers msg to every subscriber attached at call time, concurrently, and
// returns once every delivery has finished or timed out. Subscribers that fail are detached
// independently of each other.
func (b *Broadcaster) BroadcastLocal(ctx context.Context, msg []byte) {
	b.mu.RLock()
	snapshot := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range snapshot {
		wg.Add(1)
		go func(sub *subscriber) {
			defer wg.Done()
			b.deliver(ctx, sub, msg)
		}(sub)
	}
	wg.Wait()
}

func (b *Broadcaster) deliver(ctx context.Context, sub *subscriber, msg []byte) {
	ok, err := sub.send(ctx, msg, b.sendTimeout)
	if !ok || err == nil {
		return
	}
	slog.Warn("Subscriber delivery failed, detaching", "client_id", sub.id, "error", err)
	b.metrics.Increment(metrics.SubscribersDetached)
	b.detachIfCurrent(sub)
}

// detachIfCurrent removes sub unless its id has since been re-attached with a new sink.
func (b *Broadcaster) detachIfCurrent(sub *subscriber) {
	b.mu.Lock()
	if b.subscribers[sub.id] == sub {
		delete(b.subscribers, sub.id)
	}
	b.mu.Unlock()
	sub.markDetached()
}

// PublishShared pushes msg onto the shared bus so every instance's relay fans it out.
func (b *Broadcaster) PublishShared(ctx context.Context, channel string, msg []byte) error {
	if b.bus == nil {
		return fmt.Errorf("no shared bus configured")
	}
	return b.bus.Publish(ctx, channel, msg)
}

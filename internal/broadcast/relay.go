package broadcast

import (
	"context"
	"log/slog"
	"time"

	"fxalert/internal/bus"
	"fxalert/internal/metrics"
)

// RelayConfig tunes the shared-bus relay.
type RelayConfig struct {
	Channel string
	// PollInterval bounds each wait on the subscription so cancellation is noticed promptly.
	PollInterval  time.Duration
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Relay drains a shared-bus subscription into Broadcaster.BroadcastLocal.
type Relay struct {
	b       *Broadcaster
	bus     bus.Bus
	cfg     RelayConfig
	metrics metrics.Recorder
}

// NewRelay creates a relay for cfg.Channel.
func NewRelay(b *Broadcaster, sharedBus bus.Bus, cfg RelayConfig, recorder metrics.Recorder) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	if recorder == nil {
		recorder = metrics.NewNoOp()
	}
	return &Relay{b: b, bus: sharedBus, cfg: cfg, metrics: recorder}
}

// Run relays until ctx is canceled. Bus errors are logged and retried with backoff; they never end the loop.
func (r *Relay) Run(ctx context.Context) {
	slog.Info("Shared bus relay started", "channel", r.cfg.Channel)
	defer slog.Info("Shared bus relay stopped", "channel", r.cfg.Channel)

	delay := r.cfg.RetryDelay
	for ctx.Err() == nil {
		sub, err := r.bus.Subscribe(ctx, r.cfg.Channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to subscribe to shared bus", "channel", r.cfg.Channel, "retry_in", delay, "error", err)
			if !r.wait(ctx, delay) {
				return
			}
			delay = r.nextDelay(delay)
			continue
		}

		err = r.drain(ctx, sub, func() { delay = r.cfg.RetryDelay })
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		slog.Error("Shared bus subscription failed, resubscribing", "channel", r.cfg.Channel, "retry_in", delay, "error", err)
		if !r.wait(ctx, delay) {
			return
		}
		delay = r.nextDelay(delay)
	}
}

// drain reads until the subscription fails. onMessage is called after every relayed message.
func (r *Relay) drain(ctx context.Context, sub bus.Subscription, onMessage func()) error {
	for {
		msg, err := sub.Receive(ctx, r.cfg.PollInterval)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		r.b.BroadcastLocal(ctx, msg)
		r.metrics.Increment(metrics.BusMessagesRelayed)
		onMessage()
	}
}

func (r *Relay) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > r.cfg.MaxRetryDelay {
		d = r.cfg.MaxRetryDelay
	}
	return d
}

func (r *Relay) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

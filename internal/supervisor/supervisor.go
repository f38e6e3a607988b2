// Package supervisor keeps a feed.Source session alive: it connects with exponential backoff,
// probes the session on a fixed heartbeat and reconnects in the background when the probe fails.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fxalert/internal/feed"
	"fxalert/internal/metrics"
)

// ErrConnectExhausted is returned by Initialize once the startup retry budget is spent.
var ErrConnectExhausted = errors.New("feed connect retries exhausted")

// State is the supervisor's view of the session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusEventType is the "type" field of every status event.
const StatusEventType = "feed_status"

// StatusEvent is pushed to subscribers whenever the session goes up or down.
type StatusEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Publisher receives status events. The broadcaster implements it.
type Publisher interface {
	BroadcastLocal(ctx context.Context, msg []byte)
}

// Config controls retry and heartbeat timing.
type Config struct {
	// MaxRetries bounds the number of connect attempts made by Initialize. Zero means unbounded.
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	HeartbeatInterval time.Duration
	// ProbeTimeout bounds each heartbeat probe. Defaults to HeartbeatInterval.
	ProbeTimeout time.Duration
}

// DefaultConfig returns 10 startup attempts, 1s..60s backoff and a 5s heartbeat.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        10,
		BaseDelay:         time.Second,
		MaxDelay:          60 * time.Second,
		HeartbeatInterval: 5 * time.Second,
	}
}

// Supervisor owns the only session to the feed. Every component that needs quotes goes through it.
type Supervisor struct {
	src       feed.Source
	cfg       Config
	publisher Publisher
	metrics   metrics.Recorder

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	backoff *Backoff

	initMu  sync.Mutex
	mu      sync.RWMutex
	state   State
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a supervisor. publisher and recorder may be nil.
func New(src feed.Source, cfg Config, publisher Publisher, recorder metrics.Recorder) *Supervisor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = cfg.HeartbeatInterval
	}
	if recorder == nil {
		recorder = metrics.NewNoOp()
	}
	return &Supervisor{
		src:       src,
		cfg:       cfg,
		publisher: publisher,
		metrics:   recorder,
		sleep:     sleepContext,
		backoff:   NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
		state:     Disconnected,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Initialize connects using the startup budget and, on success, starts the heartbeat loop.
// Calling it while already running is a no-op.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.connect(ctx, s.cfg.MaxRetries); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(loopCtx, done)
	return nil
}

// connect tries until success, budget exhaustion or cancellation. maxAttempts <= 0 never gives up.
func (s *Supervisor) connect(ctx context.Context, maxAttempts int) error {
	var lastErr error
	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		s.setState(ctx, Connecting)

		err := s.src.Connect(ctx)
		if err == nil {
			s.backoff.Reset()
			s.setState(ctx, Connected)
			slog.Info("Feed connected", "attempt", attempt)
			return nil
		}
		lastErr = err
		s.setState(ctx, Disconnected)

		if maxAttempts > 0 && attempt == maxAttempts {
			break
		}
		delay := s.backoff.Next()
		slog.Warn("Feed connect failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"retry_in", delay,
			"error", err,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}

	slog.Error("Feed connect retries exhausted", "attempts", maxAttempts, "error", lastErr)
	return fmt.Errorf("%w after %d attempts: %v", ErrConnectExhausted, maxAttempts, lastErr)
}

// run alternates heartbeat probes and reconnects. Being a single goroutine, a reconnect always
// suspends the heartbeat until the new session is live.
func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := s.sleep(ctx, s.cfg.HeartbeatInterval); err != nil {
			return
		}

		err := s.probe(ctx)
		if err == nil {
			slog.Debug("Feed heartbeat ok")
			continue
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Feed heartbeat failed, reconnecting", "error", err)

		if err := s.src.Teardown(ctx); err != nil {
			slog.Warn("Failed to tear down dead feed session", "error", err)
		}
		s.setState(ctx, Disconnected)
		s.metrics.Increment(metrics.FeedReconnects)

		if err := s.connect(ctx, 0); err != nil {
			// Only cancellation ends an unbounded reconnect.
			return
		}
	}
}

func (s *Supervisor) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	return s.src.Ping(probeCtx)
}

// Shutdown stops the heartbeat loop, waits for it to exit and releases the session.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for heartbeat loop: %w", ctx.Err())
		}
	}

	err := s.src.Teardown(ctx)
	s.setState(ctx, Disconnected)
	if err != nil {
		return fmt.Errorf("failed to tear down feed session: %w", err)
	}
	slog.Info("Feed supervisor stopped")
	return nil
}

// setState records a transition and publishes a status event when connectivity changes.
// Connecting is internal and maps to "disconnected" for subscribers.
func (s *Supervisor) setState(ctx context.Context, next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if (prev == Connected) == (next == Connected) {
		return
	}
	slog.Info("Feed state changed", "from", prev.String(), "to", next.String())
	if s.publisher != nil {
		s.publisher.BroadcastLocal(ctx, statusMessage(next))
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether the session is live.
func (s *Supervisor) IsConnected() bool {
	return s.State() == Connected
}

// StatusMessage returns the status event for the current state, for sending to a new subscriber.
func (s *Supervisor) StatusMessage() []byte {
	return statusMessage(s.State())
}

func statusMessage(st State) []byte {
	status := "disconnected"
	if st == Connected {
		status = "connected"
	}
	data, _ := json.Marshal(StatusEvent{Type: StatusEventType, Status: status})
	return data
}

// ListSymbols passes through to the source while connected.
func (s *Supervisor) ListSymbols(ctx context.Context) ([]string, error) {
	if !s.IsConnected() {
		return nil, feed.ErrNotConnected
	}
	return s.src.ListSymbols(ctx)
}

// GetQuote passes through to the source while connected.
func (s *Supervisor) GetQuote(ctx context.Context, symbol string) (*feed.Quote, error) {
	if !s.IsConnected() {
		return nil, feed.ErrNotConnected
	}
	return s.src.GetQuote(ctx, symbol)
}

// GetHistory passes through to the source while connected.
func (s *Supervisor) GetHistory(ctx context.Context, symbol string, tf feed.Timeframe, count int) ([]feed.Bar, error) {
	if !s.IsConnected() {
		return nil, feed.ErrNotConnected
	}
	return s.src.GetHistory(ctx, symbol, tf, count)
}

// Package engine runs the alert evaluation loop: every interval it loads the active conditions,
// checks each against a fresh quote and hands a notification job to the delivery queue when one fires.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fxalert/internal/condition"
	"fxalert/internal/delivery"
	"fxalert/internal/feed"
	"fxalert/internal/metrics"
)

// DefaultInterval is the pause between evaluation cycles.
const DefaultInterval = 5 * time.Second

// EvaluationError reports why one condition was skipped in a cycle.
type EvaluationError struct {
	ConditionID string
	Err         error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of condition %s failed: %v", e.ConditionID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Config controls the loop.
type Config struct {
	Interval time.Duration

	// DeactivateOnce clears the active flag of a ONCE condition right after it fires. When false
	// a satisfied ONCE condition fires again every cycle until someone disables it.
	//
	// RECURRING conditions are unaffected: they fire once per crossing and re-arm only after a
	// quote stops satisfying them, so with DeactivateOnce off a ONCE condition that stays
	// satisfied fires more often than a RECURRING one.
	DeactivateOnce bool

	// DeliveryAttempts overrides the attempt budget of each job when > 0.
	DeliveryAttempts int
}

// CycleResult summarizes one evaluation cycle.
type CycleResult struct {
	Evaluated int
	Triggered int
	Skipped   int
}

// Engine is the evaluation loop. Start and Stop may be called from any goroutine.
type Engine struct {
	store    ConditionStore
	quotes   QuoteSource
	enqueuer Enqueuer
	cfg      Config
	metrics  metrics.Recorder
	now      func() time.Time

	// cycleMu serializes cycles and guards fired.
	cycleMu sync.Mutex
	fired   map[string]bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped engine.
func New(store ConditionStore, quotes QuoteSource, enqueuer Enqueuer, cfg Config, recorder metrics.Recorder) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if recorder == nil {
		recorder = metrics.NewNoOp()
	}
	return &Engine{
		store:    store,
		quotes:   quotes,
		enqueuer: enqueuer,
		cfg:      cfg,
		metrics:  recorder,
		now:      time.Now,
		fired:    make(map[string]bool),
	}
}

// Start launches the loop. Calling Start while running is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(loopCtx, e.done)
	slog.Info("Alert engine started", "interval", e.cfg.Interval, "deactivate_once", e.cfg.DeactivateOnce)
}

// Stop cancels the in-flight cycle and waits for the loop to exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		slog.Info("Alert engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for alert engine: %w", ctx.Err())
	}
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Evaluation cycle failed", "error", err)
		}
		timer.Reset(e.cfg.Interval)
	}
}

// RunCycle evaluates every active condition once. Only failing to load the conditions fails the
// cycle; a failure evaluating one condition is logged and the others carry on.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	var res CycleResult

	conditions, err := e.store.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load active conditions: %w", err)
	}

	quotes := newQuoteCache(e.quotes)
	seen := make(map[string]bool, len(conditions))
	for i := range conditions {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		c := &conditions[i]
		seen[c.ID] = true
		res.Evaluated++
		e.metrics.Increment(metrics.ConditionsEvaluated)

		triggered, err := e.evaluate(ctx, c, quotes)
		if err != nil {
			res.Skipped++
			e.metrics.Increment(metrics.ConditionsSkipped)
			logSkip(err)
			continue
		}
		if triggered {
			res.Triggered++
			e.metrics.Increment(metrics.ConditionsTriggered)
		}
	}

	// Forget conditions that were deactivated or deleted.
	for id := range e.fired {
		if !seen[id] {
			delete(e.fired, id)
		}
	}

	slog.Debug("Evaluation cycle complete",
		"evaluated", res.Evaluated,
		"triggered", res.Triggered,
		"skipped", res.Skipped,
	)
	return res, nil
}

func logSkip(err error) {
	var evalErr *EvaluationError
	id := ""
	if errors.As(err, &evalErr) {
		id = evalErr.ConditionID
	}
	if errors.Is(err, feed.ErrNotConnected) {
		slog.Debug("Condition skipped, feed not connected", "condition_id", id)
		return
	}
	slog.Warn("Condition skipped", "condition_id", id, "error", err)
}

// evaluate checks one condition. A nil quote is a silent skip: not an error and not a trigger.
func (e *Engine) evaluate(ctx context.Context, c *condition.Condition, quotes *quoteCache) (bool, error) {
	fail := func(err error) (bool, error) {
		return false, &EvaluationError{ConditionID: c.ID, Err: err}
	}

	if err := c.Validate(); err != nil {
		return fail(err)
	}
	if !c.Kind.IsThreshold() {
		return fail(fmt.Errorf("%w %q", condition.ErrUnsupportedKind, c.Kind))
	}

	quote, err := quotes.get(ctx, c.Symbol)
	if err != nil {
		return fail(err)
	}
	if quote == nil {
		slog.Debug("No quote for symbol, skipping", "condition_id", c.ID, "symbol", c.Symbol)
		return false, nil
	}

	satisfied, err := c.Satisfied(quote.Bid)
	if err != nil {
		return fail(err)
	}

	mode := c.EffectiveMode()
	if !satisfied {
		// A recurring condition re-arms as soon as the price moves back.
		if mode == condition.Recurring {
			delete(e.fired, c.ID)
		}
		return false, nil
	}
	if e.fired[c.ID] && (mode == condition.Recurring || e.cfg.DeactivateOnce) {
		return false, nil
	}

	if err := e.trigger(ctx, c, quote); err != nil {
		return fail(err)
	}
	return true, nil
}

// trigger hands the job off, then records the fire time. A job that could not be handed off
// is not recorded, so the condition fires again on the next cycle.
func (e *Engine) trigger(ctx context.Context, c *condition.Condition, quote *feed.Quote) error {
	now := e.now().UTC()
	job := delivery.NewJob(c.WebhookURL, delivery.Payload{
		AlertID:        c.ID,
		Symbol:         c.Symbol,
		ConditionType:  string(c.Kind),
		ConditionValue: c.ThresholdString(),
		Timeframe:      c.Timeframe,
		CurrentPrice:   quote.Bid.InexactFloat64(),
		Timestamp:      delivery.FormatTimestamp(now),
	}, now)
	if e.cfg.DeliveryAttempts > 0 {
		job.MaxAttempts = e.cfg.DeliveryAttempts
	}

	if err := e.enqueuer.Enqueue(job); err != nil {
		return fmt.Errorf("failed to hand off notification: %w", err)
	}

	e.fired[c.ID] = true
	slog.Info("Condition triggered",
		"condition_id", c.ID,
		"symbol", c.Symbol,
		"condition_type", c.Kind,
		"bid", quote.Bid.String(),
		"job_id", job.ID,
	)

	if err := e.store.RecordTrigger(ctx, c.ID, now); err != nil {
		slog.Error("Failed to record trigger", "condition_id", c.ID, "error", err)
	}
	if c.EffectiveMode() == condition.Once && e.cfg.DeactivateOnce {
		if err := e.store.Deactivate(ctx, c.ID); err != nil {
			slog.Error("Failed to deactivate fired condition", "condition_id", c.ID, "error", err)
		}
	}
	return nil
}

// quoteCache fetches each symbol at most once per cycle.
type quoteCache struct {
	src    QuoteSource
	quotes map[string]*feed.Quote
	errs   map[string]error
}

func newQuoteCache(src QuoteSource) *quoteCache {
	return &quoteCache{src: src, quotes: map[string]*feed.Quote{}, errs: map[string]error{}}
}

func (q *quoteCache) get(ctx context.Context, symbol string) (*feed.Quote, error) {
	if err, ok := q.errs[symbol]; ok {
		return nil, err
	}
	if quote, ok := q.quotes[symbol]; ok {
		return quote, nil
	}
	quote, err := q.src.GetQuote(ctx, symbol)
	if err != nil {
		q.errs[symbol] = err
		return nil, err
	}
	q.quotes[symbol] = quote
	return quote, nil
}

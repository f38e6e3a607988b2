// Package metrics collects per-instance counters and publishes them to Redis so that every
// instance's numbers can be read from any other instance.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for instance metrics.
	KeyPrefix = "metrics:"
	// TTL is how long metrics stay in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// InstanceMetrics is the JSON document stored under metrics:<instance>.
type InstanceMetrics struct {
	Instance    string    `json:"instance"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"` // "healthy" or "unhealthy"

	DeliveriesSent       uint64  `json:"deliveries_sent"`
	DeliveriesFailed     uint64  `json:"deliveries_failed"`
	AvgDeliveryLatencyNs float64 `json:"avg_delivery_latency_ns"`

	Counters map[string]uint64 `json:"counters,omitempty"`
}

// Collector collects and reports metrics for one instance.
type Collector struct {
	instance       string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	deliveriesSent   atomic.Uint64
	deliveriesFailed atomic.Uint64
	totalLatencyNs   atomic.Uint64
	latencyCount     atomic.Uint64

	countersMu sync.RWMutex
	counters   map[string]*atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector. A nil Redis client keeps the counters in memory only.
func NewCollector(instance string, redisClient *redis.Client) *Collector {
	return &Collector{
		instance:       instance,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		counters:       make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	if interval > 0 {
		c.reportInterval = interval
	}
}

// Start begins the periodic metrics reporting to Redis.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background()) // final write
				return
			case <-c.stopCh:
				c.write(context.Background())
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop stops the reporting loop after one final write. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Increment bumps a named counter.
func (c *Collector) Increment(name string) {
	c.Add(name, 1)
}

// Add adds a value to a named counter.
func (c *Collector) Add(name string, value uint64) {
	c.countersMu.RLock()
	counter, exists := c.counters[name]
	c.countersMu.RUnlock()

	if !exists {
		c.countersMu.Lock()
		// Double-check after acquiring write lock
		if counter, exists = c.counters[name]; !exists {
			counter = &atomic.Uint64{}
			c.counters[name] = counter
		}
		c.countersMu.Unlock()
	}
	counter.Add(value)
}

// RecordDelivery counts one terminal delivery outcome.
func (c *Collector) RecordDelivery(delivered bool, latency time.Duration) {
	if !delivered {
		c.deliveriesFailed.Add(1)
		return
	}
	c.deliveriesSent.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

// Snapshot returns the current metrics without writing to Redis.
func (c *Collector) Snapshot() *InstanceMetrics {
	var avgLatencyNs float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(n)
	}

	c.countersMu.RLock()
	counters := make(map[string]uint64, len(c.counters))
	for name, counter := range c.counters {
		counters[name] = counter.Load()
	}
	c.countersMu.RUnlock()

	return &InstanceMetrics{
		Instance:             c.instance,
		StartedAt:            c.startedAt,
		LastUpdated:          time.Now().UTC(),
		Status:               "healthy",
		DeliveriesSent:       c.deliveriesSent.Load(),
		DeliveriesFailed:     c.deliveriesFailed.Load(),
		AvgDeliveryLatencyNs: avgLatencyNs,
		Counters:             counters,
	}
}

func (c *Collector) write(ctx context.Context) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		slog.Error("Failed to marshal metrics", "instance", c.instance, "error", err)
		return
	}

	key := KeyPrefix + c.instance
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "instance", c.instance, "error", err)
		return
	}
	slog.Debug("Metrics written to Redis", "instance", c.instance, "key", key)
}

// Reader reads instance metrics from Redis.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a new metrics reader.
func NewReader(redisClient *redis.Client) *Reader {
	return &Reader{redis: redisClient}
}

// ErrNoMetrics is returned when an instance has not reported or its entry expired.
var ErrNoMetrics = errors.New("no metrics found")

// Get retrieves metrics for one instance.
func (r *Reader) Get(ctx context.Context, instance string) (*InstanceMetrics, error) {
	data, err := r.redis.Get(ctx, KeyPrefix+instance).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w for instance: %s", ErrNoMetrics, instance)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}

	var m InstanceMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	if time.Since(m.LastUpdated) > TTL {
		m.Status = "unhealthy"
	}
	return &m, nil
}

// All retrieves metrics for every instance that has reported recently.
func (r *Reader) All(ctx context.Context) (map[string]*InstanceMetrics, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.redis.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list metrics keys: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	result := make(map[string]*InstanceMetrics, len(keys))
	for _, key := range keys {
		instance := key[len(KeyPrefix):]
		m, err := r.Get(ctx, instance)
		if err != nil {
			slog.Warn("Failed to read metrics for instance", "instance", instance, "error", err)
			continue
		}
		result[instance] = m
	}
	return result, nil
}

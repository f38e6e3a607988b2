package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"fxalert/internal/delivery"
	"fxalert/internal/delivery/retry"
	"fxalert/internal/shared"
)

// DefaultBufferSize is the number of jobs the producer holds while the writer catches up.
const DefaultBufferSize = 100

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer hands jobs to Kafka. Enqueue only touches an in-memory buffer; a single goroutine
// writes the buffered jobs so the caller never waits on the broker.
type Producer struct {
	writer messageWriter
	topic  string
	retry  retry.Config

	mu     sync.RWMutex
	closed bool
	jobs   chan delivery.Job
	done   chan struct{}
}

// NewProducer creates a producer writing to topic with leader acknowledgement.
func NewProducer(brokers, topic string, bufferSize int) (*Producer, error) {
	if err := validateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	brokerList := shared.ParseList(brokers)

	slog.Info("Initializing Kafka producer", "brokers", brokerList, "topic", topic)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	slog.Info("Kafka producer configured",
		"write_timeout", WriteTimeout,
		"required_acks", "RequireOne",
		"balancer", "Hash (key-based partitioning)",
		"partition_key", "alert_id",
	)
	return newProducer(writer, topic, bufferSize, retry.DefaultConfig()), nil
}

func newProducer(writer messageWriter, topic string, bufferSize int, rc retry.Config) *Producer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	p := &Producer{
		writer: writer,
		topic:  topic,
		retry:  rc,
		jobs:   make(chan delivery.Job, bufferSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Enqueue buffers job for writing. It fails with delivery.ErrQueueFull when the buffer is full.
func (p *Producer) Enqueue(job delivery.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return delivery.ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return delivery.ErrQueueFull
	}
}

func (p *Producer) run() {
	defer close(p.done)
	for job := range p.jobs {
		p.write(job)
	}
}

func (p *Producer) write(job delivery.Job) {
	value, err := encodeJob(job)
	if err != nil {
		slog.Error("Failed to encode job", "job_id", job.ID, "alert_id", job.Payload.AlertID, "error", err)
		return
	}
	msg := buildMessage(job, value)

	_, err = retry.Do(context.Background(), p.retry, "kafka write "+job.ID, func(attempt int) error {
		ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
		defer cancel()
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		slog.Error("Failed to write job to Kafka, job dropped",
			"job_id", job.ID,
			"alert_id", job.Payload.AlertID,
			"topic", p.topic,
			"error", err,
		)
		return
	}
	slog.Debug("Job written to Kafka", "job_id", job.ID, "topic", p.topic)
}

// Close stops accepting jobs, writes what is buffered and closes the writer. If ctx expires
// first the remaining jobs are abandoned.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	slog.Info("Closing Kafka producer", "topic", p.topic)
	var drainErr error
	select {
	case <-p.done:
	case <-ctx.Done():
		drainErr = fmt.Errorf("kafka producer drain interrupted: %w", ctx.Err())
	}
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	if drainErr != nil {
		return drainErr
	}
	slog.Info("Kafka producer closed successfully")
	return nil
}

// Buffered reports how many jobs await writing.
func (p *Producer) Buffered() int {
	return len(p.jobs)
}

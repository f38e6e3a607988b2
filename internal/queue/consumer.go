package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"fxalert/internal/delivery"
	"fxalert/internal/shared"
)

// commitTimeout bounds an offset commit made after a job's outcome.
const commitTimeout = 5 * time.Second

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Submitter runs a job and reports its terminal outcome to ack.
type Submitter interface {
	Submit(ctx context.Context, job delivery.Job, ack func(delivery.Outcome)) error
}

// Consumer reads jobs from Kafka and submits them to the delivery pool. An offset is committed
// only once the job and every earlier job on its partition reached a terminal outcome, so a crash
// redelivers unfinished work instead of losing it.
type Consumer struct {
	reader    messageReader
	topic     string
	submitter Submitter
	offsets   *offsetTracker

	// retryDelay is the pause after a transient fetch error.
	retryDelay time.Duration
}

// NewConsumer creates a consumer in groupID reading topic.
func NewConsumer(brokers, topic, groupID string, submitter Submitter) (*Consumer, error) {
	if err := validateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}
	brokerList := shared.ParseList(brokers)

	slog.Info("Initializing Kafka consumer", "brokers", brokerList, "topic", topic, "group_id", groupID)

	reader := kafka.NewReader(newReaderConfig(brokerList, topic, groupID))

	slog.Info("Kafka consumer configured",
		"min_bytes", 1,
		"max_bytes", 10e6,
		"max_wait", MaxPollWait,
		"commit", "after terminal outcome",
	)
	return newConsumer(reader, topic, submitter), nil
}

func newConsumer(reader messageReader, topic string, submitter Submitter) *Consumer {
	return &Consumer{
		reader:     reader,
		topic:      topic,
		submitter:  submitter,
		offsets:    newOffsetTracker(),
		retryDelay: time.Second,
	}
}

// Run fetches and submits jobs until ctx is canceled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("Kafka consumer started", "topic", c.topic)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopping", "topic", c.topic, "in_flight", c.offsets.inFlight())
				return nil
			}
			if errors.Is(err, io.EOF) {
				slog.Info("Kafka reader closed, consumer stopping", "topic", c.topic)
				return nil
			}
			slog.Error("Failed to fetch message from Kafka", "topic", c.topic, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.offsets.track(msg)
		job, err := decodeJob(msg.Value)
		if err != nil {
			// Undecodable messages can never succeed; skip them.
			slog.Error("Dropping undecodable job",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			c.complete(msg)
			continue
		}

		err = c.submitter.Submit(ctx, job, func(o delivery.Outcome) {
			if errors.Is(o.Err, context.Canceled) {
				slog.Warn("Job interrupted, leaving offset uncommitted", "job_id", o.Job.ID, "offset", msg.Offset)
				return
			}
			c.complete(msg)
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, delivery.ErrPoolClosed) {
				slog.Info("Kafka consumer stopping", "topic", c.topic, "reason", err)
				return nil
			}
			return fmt.Errorf("failed to submit job %s: %w", job.ID, err)
		}
	}
}

// complete marks msg finished and commits whatever contiguous prefix that unblocks.
func (c *Consumer) complete(msg kafka.Message) {
	commit, ok := c.offsets.complete(msg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, commit); err != nil {
		slog.Error("Failed to commit offset",
			"topic", commit.Topic,
			"partition", commit.Partition,
			"offset", commit.Offset,
			"error", err,
		)
	}
}

// Close closes the reader, which also ends Run.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}

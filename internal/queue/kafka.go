// Package queue carries notification jobs through a Kafka topic so that a job handed off by the
// alert engine survives a restart before it is delivered.
package queue

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"fxalert/internal/shared"
)

const (
	// WriteTimeout bounds a single Kafka write.
	WriteTimeout = 10 * time.Second
	// MaxPollWait is how long a fetch waits for new data before returning.
	MaxPollWait = 500 * time.Millisecond
	// CommitInterval is zero so every commit is synchronous.
	CommitInterval = 0
)

// DefaultTopic is the topic jobs are written to and read from.
const DefaultTopic = "notifications.webhook"

func validateProducerParams(brokers, topic string) error {
	if brokers == "" {
		return fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	return nil
}

func validateConsumerParams(brokers, topic, groupID string) error {
	if err := validateProducerParams(brokers, topic); err != nil {
		return err
	}
	if groupID == "" {
		return fmt.Errorf("groupID cannot be empty")
	}
	return nil
}

func newReaderConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        MaxPollWait,
		CommitInterval: CommitInterval,
		StartOffset:    kafka.FirstOffset,
	}
}

// EnsureTopic creates the topic when it does not exist yet. Failures are logged, not returned:
// the broker may auto-create topics or an operator may have created it already.
func EnsureTopic(brokers, topic string, partitions int) {
	list := shared.ParseList(brokers)
	if len(list) == 0 {
		return
	}
	conn, err := kafka.Dial("tcp", list[0])
	if err != nil {
		slog.Warn("Could not connect to Kafka to check topic", "broker", list[0], "topic", topic, "error", err)
		return
	}
	defer conn.Close()

	if existing, err := conn.ReadPartitions(topic); err == nil && len(existing) > 0 {
		slog.Info("Topic already exists", "topic", topic, "partitions", len(existing))
		return
	}

	if partitions <= 0 {
		partitions = 3
	}
	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		slog.Warn("Could not create topic", "topic", topic, "error", err)
		return
	}
	slog.Info("Created topic", "topic", topic, "partitions", partitions, "replication_factor", 1)
}

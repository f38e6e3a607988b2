package queue

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"fxalert/internal/delivery"
)

// FakeReader serves queued messages, then blocks until ctx ends or Close is called.
type FakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	fetchErr []error
	commits  []kafka.Message
	closed   chan struct{}
	once     sync.Once
}

func NewFakeReader(msgs ...kafka.Message) *FakeReader {
	return &FakeReader{messages: msgs, closed: make(chan struct{})}
}

func (f *FakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.fetchErr) > 0 {
		err := f.fetchErr[0]
		f.fetchErr = f.fetchErr[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-f.closed:
		return kafka.Message{}, io.EOF
	}
}

func (f *FakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, msgs...)
	return nil
}

func (f *FakeReader) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *FakeReader) CommittedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, m := range f.commits {
		out = append(out, m.Offset)
	}
	return out
}

// FakeSubmitter holds acks until the test resolves them, unless auto is set.
type FakeSubmitter struct {
	mu        sync.Mutex
	auto      *delivery.Outcome
	jobs      []delivery.Job
	acks      []func(delivery.Outcome)
	submitErr error
	submitted chan struct{}
}

func NewFakeSubmitter() *FakeSubmitter {
	return &FakeSubmitter{submitted: make(chan struct{}, 100)}
}

func (f *FakeSubmitter) Submit(ctx context.Context, job delivery.Job, ack func(delivery.Outcome)) error {
	f.mu.Lock()
	if f.submitErr != nil {
		err := f.submitErr
		f.mu.Unlock()
		return err
	}
	f.jobs = append(f.jobs, job)
	f.acks = append(f.acks, ack)
	auto := f.auto
	f.mu.Unlock()

	if auto != nil {
		o := *auto
		o.Job = job
		ack(o)
	}
	f.submitted <- struct{}{}
	return nil
}

// Resolve acks the i-th submitted job with the given outcome error.
func (f *FakeSubmitter) Resolve(i int, err error) {
	f.mu.Lock()
	ack, job := f.acks[i], f.jobs[i]
	f.mu.Unlock()
	o := delivery.Outcome{Job: job, Status: delivery.StatusDelivered, Attempts: 1}
	if err != nil {
		o.Status = delivery.StatusFailed
		o.Err = &delivery.DeliveryError{JobID: job.ID, Attempts: 1, Err: err}
	}
	ack(o)
}

// FakeWriter records writes and fails the first failures calls.
type FakeWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	written  []kafka.Message
	closed   bool
}

func (f *FakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("leader not available")
	}
	f.written = append(f.written, msgs...)
	return nil
}

func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeWriter) Written() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.written...)
}

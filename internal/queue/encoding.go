package queue

import (
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"fxalert/internal/delivery"
)

const contentType = "application/x-protobuf"

// jobToProto converts a job to a protobuf Struct. A missing condition value is encoded as null.
func jobToProto(job delivery.Job) (*structpb.Struct, error) {
	var conditionValue any
	if job.Payload.ConditionValue != nil {
		conditionValue = *job.Payload.ConditionValue
	}
	return structpb.NewStruct(map[string]any{
		"id":           job.ID,
		"url":          job.URL,
		"max_attempts": job.MaxAttempts,
		"created_at":   job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"payload": map[string]any{
			"alert_id":        job.Payload.AlertID,
			"symbol":          job.Payload.Symbol,
			"condition_type":  job.Payload.ConditionType,
			"condition_value": conditionValue,
			"timeframe":       job.Payload.Timeframe,
			"current_price":   job.Payload.CurrentPrice,
			"timestamp":       job.Payload.Timestamp,
		},
	})
}

func encodeJob(job delivery.Job) ([]byte, error) {
	pb, err := jobToProto(job)
	if err != nil {
		return nil, fmt.Errorf("failed to convert job: %w", err)
	}
	b, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return b, nil
}

func decodeJob(b []byte) (delivery.Job, error) {
	var pb structpb.Struct
	if err := proto.Unmarshal(b, &pb); err != nil {
		return delivery.Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	f := pb.GetFields()
	job := delivery.Job{
		ID:          f["id"].GetStringValue(),
		URL:         f["url"].GetStringValue(),
		MaxAttempts: int(f["max_attempts"].GetNumberValue()),
	}
	if job.ID == "" || job.URL == "" {
		return delivery.Job{}, fmt.Errorf("job is missing id or url")
	}
	if s := f["created_at"].GetStringValue(); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return delivery.Job{}, fmt.Errorf("invalid created_at %q: %w", s, err)
		}
		job.CreatedAt = t
	}

	p := f["payload"].GetStructValue().GetFields()
	job.Payload = delivery.Payload{
		AlertID:       p["alert_id"].GetStringValue(),
		Symbol:        p["symbol"].GetStringValue(),
		ConditionType: p["condition_type"].GetStringValue(),
		Timeframe:     p["timeframe"].GetStringValue(),
		CurrentPrice:  p["current_price"].GetNumberValue(),
		Timestamp:     p["timestamp"].GetStringValue(),
	}
	if v, ok := p["condition_value"].GetKind().(*structpb.Value_StringValue); ok {
		s := v.StringValue
		job.Payload.ConditionValue = &s
	}
	return job, nil
}

// buildMessage keys the message by alert id so jobs for one alert stay on one partition.
func buildMessage(job delivery.Job, value []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(job.Payload.AlertID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(contentType)},
			{Key: "job_id", Value: []byte(job.ID)},
		},
		Time: job.CreatedAt,
	}
}

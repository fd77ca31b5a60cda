// Package queue publishes notification events to SQS for downstream
// consumers such as chat relays or audit pipelines.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"rollcall/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// NotificationEvent is the JSON body of every published message.
type NotificationEvent struct {
	EventID    string    `json:"event_id"`
	CycleID    string    `json:"cycle_id,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher sends each notification as a NotificationEvent to one SQS
// queue. It implements types.Notifier.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

var _ types.Notifier = (*EventPublisher)(nil)

// NewEventPublisher creates an EventPublisher for queueURL.
func NewEventPublisher(client SQSSender, queueURL string, clock types.Clock, logger *slog.Logger) *EventPublisher {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// Notify publishes message along with the cycle and job IDs carried by ctx.
func (p *EventPublisher) Notify(ctx context.Context, message string) error {
	event := NotificationEvent{
		EventID:    uuid.New().String(),
		CycleID:    types.GetCycleID(ctx),
		JobID:      types.GetJobID(ctx),
		Message:    message,
		OccurredAt: p.clock.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal NotificationEvent: %w", err)
	}

	attrs := map[string]sqsTypes.MessageAttributeValue{
		"event_id": {
			DataType:    aws.String("String"),
			StringValue: aws.String(event.EventID),
		},
	}
	if event.JobID != "" {
		attrs["job_id"] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(event.JobID),
		}
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send NotificationEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "notification event sent",
		append(types.LogAttrs(ctx), "queue_url", p.queueURL, "event_id", event.EventID)...)
	return nil
}

// Package notify dispatches upload completion events to the analysis
// workers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/fileinsights/uploads/internal/upload"
)

// SQSNotifier publishes completion events to an SQS queue. Delivery is
// at-least-once by the queue's contract; consumers deduplicate on
// session id.
type SQSNotifier struct {
	client   *sqs.Client
	queueURL string
	logger   *slog.Logger
}

// NewSQSNotifier creates a notifier for the given queue URL.
func NewSQSNotifier(client *sqs.Client, queueURL string, logger *slog.Logger) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL, logger: logger}
}

// Publish sends one completion event.
func (n *SQSNotifier) Publish(ctx context.Context, event upload.CompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event for %s: %w", event.SessionID, err)
	}
	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("publish completion event for %s: %w", event.SessionID, err)
	}
	n.logger.Info("completion event published", "session_id", event.SessionID, "object_key", event.ObjectKey)
	return nil
}

// LogNotifier records events to the log only. It stands in when no queue
// is configured, which keeps local runs working.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish logs the event and reports success.
func (n *LogNotifier) Publish(_ context.Context, event upload.CompletedEvent) error {
	n.logger.Info("upload completed (no notification queue configured)",
		"session_id", event.SessionID, "owner", event.Owner,
		"object_key", event.ObjectKey, "total_size", event.TotalSize)
	return nil
}

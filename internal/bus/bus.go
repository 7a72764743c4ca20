// Package bus defines the two message-bus shapes the core depends on:
// a pub/sub Publisher for the replication event fan-out (SNS-shaped,
// SNS_TOPIC_ARN) and a FIFO Queue for schema migration jobs (SQS-shaped,
// MIGRATION_QUEUE_URL). Concrete implementations live in bus/awsbus
// (SNS/SQS) and bus/membus (in-memory fakes for tests).
package bus

import "context"

// Publisher fans a single JSON-encoded message out to every subscriber
// of a topic. Used by the Write Pipeline (C5) to announce a replication
// event for the Fan-out Worker (C6).
type Publisher interface {
	Publish(ctx context.Context, topicARN string, message []byte) error
}

// Message is a single delivered queue item, carrying enough of the
// underlying transport's envelope for at-least-once ack/retry semantics.
type Message struct {
	Body          []byte
	ReceiptHandle string
}

// Queue is a FIFO work queue grouped by an explicit group key, matching
// SQS FIFO semantics: messages sharing a group key are delivered in
// order, messages across groups may interleave. Used for schema
// migration jobs, grouped by tenant id (§4.8).
type Queue interface {
	// Send enqueues body under the given group key and dedup key.
	Send(ctx context.Context, queueURL, groupKey, dedupKey string, body []byte) error

	// Receive long-polls for up to maxMessages deliverable messages.
	Receive(ctx context.Context, queueURL string, maxMessages int32) ([]Message, error)

	// Delete acknowledges successful processing of a message, per its
	// receipt handle, so it is not redelivered.
	Delete(ctx context.Context, queueURL, receiptHandle string) error
}

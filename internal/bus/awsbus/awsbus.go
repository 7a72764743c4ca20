// Package awsbus implements bus.Publisher against SNS and bus.Queue
// against SQS FIFO, the natural pairing for SNS_TOPIC_ARN (replication
// fan-out) and MIGRATION_QUEUE_URL (per-tenant-ordered migration jobs).
package awsbus

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/tenantsqld/tenantsqld/internal/bus"
)

// Publisher publishes replication events to an SNS topic.
type Publisher struct {
	client *sns.Client
}

func NewPublisher(client *sns.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, topicARN string, message []byte) error {
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(message)),
	})
	if err != nil {
		return fmt.Errorf("awsbus: publish to %s: %w", topicARN, err)
	}
	return nil
}

// Queue implements bus.Queue against an SQS FIFO queue.
type Queue struct {
	client *sqs.Client
}

func NewQueue(client *sqs.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Send(ctx context.Context, queueURL, groupKey, dedupKey string, body []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(groupKey),
		MessageDeduplicationId: aws.String(dedupKey),
	})
	if err != nil {
		return fmt.Errorf("awsbus: send to %s (group %s): %w", queueURL, groupKey, err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context, queueURL string, maxMessages int32) ([]bus.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     10,
	})
	if err != nil {
		return nil, fmt.Errorf("awsbus: receive from %s: %w", queueURL, err)
	}

	msgs := make([]bus.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		body := ""
		if m.Body != nil {
			body = *m.Body
		}
		handle := ""
		if m.ReceiptHandle != nil {
			handle = *m.ReceiptHandle
		}
		msgs = append(msgs, bus.Message{Body: []byte(body), ReceiptHandle: handle})
	}
	return msgs, nil
}

func (q *Queue) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("awsbus: delete from %s: %w", queueURL, err)
	}
	return nil
}

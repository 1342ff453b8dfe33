// Package sqs schedules dispatch continuations through an SQS delay queue.
// When a dispatch run has more product batches than it can deliver in one
// invocation, the remainder is handed to SQS with a delivery delay instead
// of sleeping in process.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// maxDelay is the SQS per-message delay ceiling.
const maxDelay = 900 * time.Second

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Continuation is the payload for resuming a partially delivered run.
// RunDate pins the continuation to the day the run started so a message
// delivered after midnight still finishes the original day's batch.
type Continuation struct {
	RunDate    string `json:"run_date"`
	NextChunk  int    `json:"next_chunk"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// Producer enqueues dispatch continuations.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Enqueue sends a continuation to SQS with the given delivery delay.
// Returns the message ID for tracking.
func (p *Producer) Enqueue(ctx context.Context, cont Continuation, delay time.Duration) (string, error) {
	cont.EnqueuedAt = time.Now().UnixNano()

	body, err := json.Marshal(cont)
	if err != nil {
		return "", fmt.Errorf("failed to marshal continuation: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds(delay),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send continuation to sqs",
			zap.Error(err),
			zap.String("run_date", cont.RunDate),
			zap.Int("next_chunk", cont.NextChunk),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Info("continuation enqueued",
		zap.String("run_date", cont.RunDate),
		zap.Int("next_chunk", cont.NextChunk),
		zap.Duration("delay", delay),
	)

	return *result.MessageId, nil
}

// Close closes the SQS producer.
func (p *Producer) Close() {
	// AWS SDK v2 clients don't require explicit Close()
}

func delaySeconds(delay time.Duration) int32 {
	if delay < 0 {
		return 0
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return int32(delay / time.Second)
}

// Consumer reads dispatch continuations from SQS.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// ReceiveMessage retrieves a continuation from SQS with long polling.
func (c *Consumer) ReceiveMessage(ctx context.Context) (*Continuation, string, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	msgData := result.Messages[0]

	var cont Continuation
	if err := json.Unmarshal([]byte(*msgData.Body), &cont); err != nil {
		c.logger.Error("failed to unmarshal continuation", zap.Error(err))
		// Return the receipt handle so the caller can drop the
		// undecodable message instead of letting it redeliver forever.
		return nil, *msgData.ReceiptHandle, fmt.Errorf("invalid message format: %w", err)
	}

	return &cont, *msgData.ReceiptHandle, nil
}

// DeleteMessage removes a continuation from SQS after successful processing.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	_, err := c.client.DeleteMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}

// Close closes the SQS consumer.
func (c *Consumer) Close() {
	// AWS SDK v2 clients don't require explicit Close()
}

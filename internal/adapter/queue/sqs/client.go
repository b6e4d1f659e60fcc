// Package sqs implements the job queue on Amazon SQS.
package sqs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel"

	"github.com/zksmith/contract-worker/internal/config"
	"github.com/zksmith/contract-worker/internal/domain"
	"github.com/zksmith/contract-worker/internal/retry"
)

var tracer = otel.Tracer("adapter.queue.sqs")

// Long-poll window. SQS caps WaitTimeSeconds at 20.
const receiveWaitSeconds = 20

type api interface {
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *awssqs.GetQueueAttributesInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueAttributesOutput, error)
}

// Client consumes job messages from one queue. Every call goes through the
// retry engine, so transient outages park callers instead of failing them.
type Client struct {
	api      api
	queueURL string
	engine   *retry.Engine
	logger   *slog.Logger
}

// New builds the queue client and its retry engine.
func New(awsCfg aws.Config, cfg config.Config, logger *slog.Logger) *Client {
	sdk := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	})
	return &Client{
		api:      sdk,
		queueURL: cfg.QueueURL,
		engine: retry.NewEngine(retry.Config{
			Name:           "queue",
			ResendInterval: cfg.ResendInterval,
			MailboxSize:    cfg.MailboxSize,
			Logger:         logger,
		}),
		logger: logger.With(slog.String("adapter", "queue")),
	}
}

// Engine exposes the retry engine state for readiness probes.
func (c *Client) Engine() *retry.Engine { return c.engine }

// Close stops the retry engine.
func (c *Client) Close() { c.engine.Close() }

// Ping verifies the queue is reachable. Bypasses the retry engine so probes
// report real connectivity instead of parking.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.queueURL),
	})
	return err
}

// Receive long-polls for up to one message. A drained poll returns (nil, nil).
func (c *Client) Receive(ctx context.Context) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "queue.receive")
	defer span.End()

	var out *awssqs.ReceiveMessageOutput
	err := c.engine.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.api.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     receiveWaitSeconds,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("op=queue.Receive: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	m := out.Messages[0]
	return &domain.Message{
		Body:          aws.ToString(m.Body),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
	}, nil
}

// Delete acks one delivery. Best-effort: a stale handle past the visibility
// timeout fails permanently and the message reappears.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	ctx, span := tracer.Start(ctx, "queue.delete")
	defer span.End()

	err := c.engine.Do(ctx, func(ctx context.Context) error {
		_, err := c.api.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: aws.String(receiptHandle),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("op=queue.Delete: %w", err)
	}
	return nil
}

var _ domain.Queue = (*Client)(nil)

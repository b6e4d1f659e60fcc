// Package app wires the worker fleet: a listener long-polling the queue, N
// worker goroutines draining a shared channel, and the ops HTTP surface.
package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/zksmith/contract-worker/internal/adapter/observability"
	"github.com/zksmith/contract-worker/internal/domain"
)

// Processor handles one parsed message. A nil return means handled; an error
// leaves the message unacked for redelivery.
type Processor interface {
	Process(ctx context.Context, msg domain.QueueMessage, receiptHandle string) error
}

// Engine runs the listener and the worker pool.
type Engine struct {
	queue     domain.Queue
	processor Processor
	logger    *slog.Logger
	validate  *validator.Validate

	deliveries chan domain.Message
	wg         sync.WaitGroup
}

// NewEngine builds an engine over the queue and processor.
func NewEngine(queue domain.Queue, processor Processor, logger *slog.Logger) *Engine {
	return &Engine{
		queue:     queue,
		processor: processor,
		logger:    logger.With(slog.String("component", "engine")),
		validate:  validator.New(),
	}
}

// Start spawns the listener and n workers. Cancelling ctx stops the listener,
// which closes the channel and drains the workers; in-flight jobs finish.
func (e *Engine) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	e.deliveries = make(chan domain.Message)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.listen(ctx)
	}()
	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go func(worker int) {
			defer e.wg.Done()
			e.work(worker)
		}(i)
	}
	e.logger.Info("engine started", slog.Int("workers", n))
}

// Wait blocks until the listener and every worker exit.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// listen long-polls the queue and feeds workers. Receive errors back off
// exponentially so a dead queue does not spin the loop.
func (e *Engine) listen(ctx context.Context) {
	defer close(e.deliveries)
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := e.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			e.logger.Error("receive failed, backing off",
				slog.Any("error", err), slog.Duration("wait", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		bo.Reset()
		if msg == nil {
			continue
		}
		select {
		case e.deliveries <- *msg:
		case <-ctx.Done():
			// Listener is shutting down; the unacked message reappears after
			// its visibility timeout.
			return
		}
	}
}

// work drains the delivery channel until it closes. Undecodable messages are
// acked and dropped (poison policy); so are deliveries missing a body or
// receipt handle.
func (e *Engine) work(worker int) {
	log := e.logger.With(slog.Int("worker", worker))
	for delivery := range e.deliveries {
		deliveryID := ulid.Make().String()
		dlog := log.With(slog.String("delivery_id", deliveryID))
		ctx := observability.WithLogger(context.Background(), dlog)

		if delivery.Body == "" || delivery.ReceiptHandle == "" {
			dlog.Warn("dropping delivery with empty body or receipt")
			e.ack(ctx, delivery.ReceiptHandle, dlog)
			continue
		}
		var msg domain.QueueMessage
		if err := json.Unmarshal([]byte(delivery.Body), &msg); err != nil {
			dlog.Warn("dropping undecodable message", slog.Any("error", err))
			observability.PoisonMessagesTotal.Inc()
			e.ack(ctx, delivery.ReceiptHandle, dlog)
			continue
		}
		if err := e.validate.Struct(msg); err != nil {
			dlog.Warn("dropping invalid message", slog.Any("error", err))
			observability.PoisonMessagesTotal.Inc()
			e.ack(ctx, delivery.ReceiptHandle, dlog)
			continue
		}

		dlog = dlog.With(slog.String("job_id", msg.ID), slog.String("job_type", string(msg.Type)))
		ctx = observability.WithLogger(ctx, dlog)
		dlog.Info("processing job")
		if err := e.processor.Process(ctx, msg, delivery.ReceiptHandle); err != nil {
			dlog.Error("job left for redelivery", slog.Any("error", err))
		}
	}
}

func (e *Engine) ack(ctx context.Context, receiptHandle string, log *slog.Logger) {
	if receiptHandle == "" {
		return
	}
	if err := e.queue.Delete(ctx, receiptHandle); err != nil {
		log.Warn("ack failed", slog.Any("error", err))
	}
}

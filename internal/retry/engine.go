package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zksmith/contract-worker/internal/adapter/observability"
)

// ErrEngineClosed resolves actions still parked when the engine shuts down,
// and any call that would park after Close.
var ErrEngineClosed = errors.New("retry engine closed")

// State is the connectivity state shared by all calls through one engine.
type State int32

const (
	// StateConnected routes calls directly to the backend.
	StateConnected State = 0
	// StateReconnecting parks every call in the mailbox until the resender
	// observes a success.
	StateReconnecting State = 1
)

// String renders the state for logs.
func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "reconnecting"
}

// Action is one remote call. Results are captured by closing over output
// variables; the engine only sees the error.
type Action func(ctx context.Context) error

type pendingAction struct {
	ctx   context.Context
	run   Action
	reply chan error
}

// Config tunes one Engine.
type Config struct {
	// Name labels logs and metrics; conventionally the client name.
	Name string
	// Classify maps attempt errors to outcomes. Defaults to ClassifyAWS.
	Classify Classifier
	// ResendInterval is the tick between re-attempt rounds. Default 3s.
	ResendInterval time.Duration
	// MailboxSize bounds parked actions; a full mailbox blocks callers.
	// Default 1000.
	MailboxSize int
	Logger      *slog.Logger
}

// Engine supervises one remote client. Callers wrap every outbound call in
// Do; the engine guarantees each call resolves exactly once, either with the
// backend's answer or with a permanent error.
type Engine struct {
	name     string
	classify Classifier
	interval time.Duration
	logger   *slog.Logger

	state   atomic.Int32
	mailbox chan *pendingAction

	closed chan struct{}
	done   chan struct{}
}

// NewEngine builds the engine and spawns its resender loop.
func NewEngine(cfg Config) *Engine {
	if cfg.Classify == nil {
		cfg.Classify = ClassifyAWS
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = 3 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		name:     cfg.Name,
		classify: cfg.Classify,
		interval: cfg.ResendInterval,
		logger:   cfg.Logger.With(slog.String("client", cfg.Name)),
		mailbox:  make(chan *pendingAction, cfg.MailboxSize),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	observability.RetryEngineState.WithLabelValues(e.name).Set(0)
	go e.resend()
	return e
}

// State reports the current connectivity state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Close stops the resender. Parked actions and blocked callers resolve with
// ErrEngineClosed. Safe to call once; returns after the resender exits.
func (e *Engine) Close() {
	close(e.closed)
	<-e.done
}

// Do runs action through the reliability machine. While Connected the action
// is attempted inline; a transient failure flips the engine to Reconnecting
// and parks the action. While Reconnecting every action is parked. Parked
// callers block until the resender resolves their action or the engine
// closes; a caller whose ctx ends stops waiting, and its parked action is
// discarded on the next attempt.
func (e *Engine) Do(ctx context.Context, action Action) error {
	if e.State() == StateConnected {
		err := action(ctx)
		switch e.classify(err) {
		case Done:
			return nil
		case Fail:
			return err
		}
		if e.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
			observability.RetryEngineState.WithLabelValues(e.name).Set(1)
			e.logger.Warn("backend degraded, deferring calls", slog.Any("error", err))
		}
	}
	return e.park(ctx, action)
}

func (e *Engine) park(ctx context.Context, action Action) error {
	observability.RetryDeferredTotal.WithLabelValues(e.name).Inc()
	// Reply is buffered so the resender never blocks on an abandoned caller.
	p := &pendingAction{ctx: ctx, run: action, reply: make(chan error, 1)}
	select {
	case e.mailbox <- p:
	case <-e.closed:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-p.reply:
		return err
	case <-e.closed:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resend accumulates parked actions and re-attempts them in FIFO order every
// tick until each resolves.
func (e *Engine) resend() {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	var queue []*pendingAction
	for {
		select {
		case p := <-e.mailbox:
			queue = append(queue, p)
		case <-ticker.C:
			queue = e.attemptAll(queue)
		case <-e.closed:
			for _, p := range queue {
				p.reply <- ErrEngineClosed
			}
			for {
				select {
				case p := <-e.mailbox:
					p.reply <- ErrEngineClosed
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) attemptAll(queue []*pendingAction) []*pendingAction {
	if len(queue) == 0 {
		return queue
	}
	remaining := queue[:0]
	for _, p := range queue {
		err := p.run(p.ctx)
		outcome := e.classify(err)
		switch outcome {
		case Done:
			if e.state.CompareAndSwap(int32(StateReconnecting), int32(StateConnected)) {
				observability.RetryEngineState.WithLabelValues(e.name).Set(0)
				e.logger.Info("backend recovered")
			}
			p.reply <- nil
		case Fail:
			p.reply <- err
		default:
			remaining = append(remaining, p)
		}
		if outcome != Defer {
			observability.RetryRepliesTotal.WithLabelValues(e.name, outcome.String()).Inc()
		}
	}
	// Drop the tail so resolved actions do not pin their closures.
	for i := len(remaining); i < len(queue); i++ {
		queue[i] = nil
	}
	return remaining
}

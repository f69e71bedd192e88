package rsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Engine pairs requests sent through a MessageChannel with the broadcast events that
// report their outcome. It is safe for concurrent use; every correlated operation owns
// its own subscription and timer.
type Engine struct {
	channel MessageChannel
	bus     *EventBus
	logger  *slog.Logger
	metrics *Metrics
}

// EngineOption represents the options for the Engine.
type EngineOption func(*Engine)

// Operation describes one correlated request. T is the payload type published with
// Event.
type Operation[T any] struct {
	// Description names the operation in errors and logs, e.g. "create server wfly".
	Description string

	// Method and Params form the request.
	Method string
	Params any
	// Result, when non-nil, receives the decoded acknowledgement.
	Result any
	// Check, when non-nil, inspects the acknowledgement after Result was filled. A
	// non-nil error fails the operation without waiting for the event.
	Check func() error

	// Event is the event reporting the outcome and Match selects the payload that
	// completes this operation. Other payloads are ignored.
	Event EventName
	Match func(T) bool

	// Timeout bounds the whole operation, from subscription to match. Zero means
	// DefaultLongTimeout.
	Timeout time.Duration
}

const (
	outcomeResolved  = "resolved"
	outcomeTimeout   = "timeout"
	outcomeTransport = "transport"
	outcomeRejected  = "rejected"
	outcomeCancelled = "cancelled"
)

// NewEngine creates an Engine sending through channel and listening on bus.
func NewEngine(channel MessageChannel, bus *EventBus, options ...EngineOption) *Engine {
	e := &Engine{
		channel: channel,
		bus:     bus,
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// WithEngineLogger sets the logger of the Engine.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics records the outcome of every correlated operation in m.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Correlate sends the request of op and waits until both its acknowledgement and an
// event satisfying op.Match have arrived, in either order, and returns the matching
// payload.
//
// The listener is registered ahead of other listeners before the request is sent, so an
// event broadcast before the acknowledgement is not missed. It is removed exactly once
// whichever way Correlate returns. The timer starts at registration and is not reset by
// non-matching events.
//
// Errors wrap ErrTimeout, ErrTransport or ErrRejected; cancellation of ctx returns
// ctx.Err().
func Correlate[T any](ctx context.Context, e *Engine, op Operation[T]) (T, error) {
	var zero T

	if op.Match == nil {
		return zero, fmt.Errorf("%w: %s: nil match", ErrValidation, op.Description)
	}
	timeout := op.Timeout
	if timeout <= 0 {
		timeout = DefaultLongTimeout
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	matched := make(chan T, 1)
	sub := e.bus.Prepend(op.Event, func(payload any) {
		v, ok := payload.(T)
		if !ok || !op.Match(v) {
			return
		}
		select {
		case matched <- v:
		default:
		}
	})
	defer e.bus.Unsubscribe(sub)

	e.metrics.begin(op.Event)
	defer e.metrics.end(op.Event)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	acks := make(chan error, 1)
	go func() {
		acks <- e.channel.Call(callCtx, op.Method, op.Params, op.Result)
	}()

	e.logger.Debug("correlating",
		slog.String("operation", op.Description),
		slog.String("method", op.Method),
		slog.String("event", string(op.Event)),
		slog.Duration("timeout", timeout))

	var (
		result T
		hit    bool
		acked  bool
	)
	for !hit || !acked {
		select {
		case err := <-acks:
			acks = nil
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					e.metrics.observe(op.Method, outcomeCancelled, time.Since(start))
					return zero, ctxErr
				}
				e.metrics.observe(op.Method, outcomeTransport, time.Since(start))
				if errors.Is(err, ErrTransport) {
					return zero, fmt.Errorf("%s: %w", op.Description, err)
				}
				return zero, fmt.Errorf("%w: %s: %w", ErrTransport, op.Description, err)
			}
			if op.Check != nil {
				if err := op.Check(); err != nil {
					e.metrics.observe(op.Method, outcomeRejected, time.Since(start))
					if errors.Is(err, ErrRejected) {
						return zero, fmt.Errorf("%s: %w", op.Description, err)
					}
					return zero, fmt.Errorf("%w: %s: %w", ErrRejected, op.Description, err)
				}
			}
			acked = true
			e.logger.Debug("acknowledged", slog.String("operation", op.Description))
		case v := <-matched:
			matched = nil
			result = v
			hit = true
			e.logger.Debug("matched", slog.String("operation", op.Description))
		case <-timer.C:
			e.metrics.observe(op.Method, outcomeTimeout, time.Since(start))
			return zero, fmt.Errorf("%w: %s after %s", ErrTimeout, op.Description, timeout)
		case <-ctx.Done():
			e.metrics.observe(op.Method, outcomeCancelled, time.Since(start))
			return zero, ctx.Err()
		}
	}

	e.metrics.observe(op.Method, outcomeResolved, time.Since(start))
	return result, nil
}

package rsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn implements MessageChannel over a Session. Requests are correlated with their
// responses by a generated ID, notifications are routed to handlers registered by
// method, and requests sent by the server are answered by registered RequestHandlers.
//
// Serve must be running for responses and notifications to be delivered.
type Conn struct {
	session      Session
	logger       *slog.Logger
	writeTimeout time.Duration

	pending sync.Map // map[string]chan JSONRPCMessage

	handlersLock         sync.RWMutex
	notificationHandlers map[string][]NotificationHandler
	requestHandlers      map[string]RequestHandler

	done      chan struct{}
	closeOnce sync.Once
}

// ConnOption represents the options for the Conn.
type ConnOption func(*Conn)

const defaultConnWriteTimeout = 30 * time.Second

// NewConn wraps session into a Conn. The session is owned by the Conn from now on and is
// stopped by Close.
func NewConn(session Session, options ...ConnOption) *Conn {
	c := &Conn{
		session:              session,
		logger:               slog.Default(),
		notificationHandlers: make(map[string][]NotificationHandler),
		requestHandlers:      make(map[string]RequestHandler),
		done:                 make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.writeTimeout == 0 {
		c.writeTimeout = defaultConnWriteTimeout
	}

	return c
}

// WithConnLogger sets the logger of the Conn.
func WithConnLogger(logger *slog.Logger) ConnOption {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithConnWriteTimeout bounds how long a single message may take to be written.
func WithConnWriteTimeout(timeout time.Duration) ConnOption {
	return func(c *Conn) {
		c.writeTimeout = timeout
	}
}

// Serve reads messages from the session until it ends, ctx is cancelled or Close is
// called. On return the Conn is closed and outstanding calls fail with ErrClosed.
func (c *Conn) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()
	defer c.Close()

	for msg := range c.session.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			c.logger.Warn("dropping message with unexpected version", slog.String("version", msg.JSONRPC))
			if msg.Method != "" && msg.ID != "" {
				go c.rejectRequest(ctx, msg, "unsupported jsonrpc version")
			}
			continue
		}

		switch {
		case msg.Method == "":
			c.handleResponse(msg)
		case msg.ID == "":
			c.handleNotification(msg)
		default:
			go c.handleRequest(ctx, msg)
		}
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Call implements MessageChannel.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrClosed, method)
	default:
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal params: %w", ErrValidation, err)
		}
		msg.Params = paramsBs
	}

	msgID := uuid.New().String()
	msg.ID = MustString(msgID)

	results := make(chan JSONRPCMessage, 1)
	c.pending.Store(msgID, results)
	defer c.pending.Delete(msgID)

	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: failed to send %s: %w", ErrTransport, method, err)
	}

	var res JSONRPCMessage
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrClosed, method)
	case res = <-results:
	}

	if res.Error != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, method, res.Error)
	}
	if result == nil || len(res.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Result, result); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s result: %w", ErrTransport, method, err)
	}
	return nil
}

// Notify implements MessageChannel.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrClosed, method)
	default:
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal params: %w", ErrValidation, err)
		}
		msg.Params = paramsBs
	}

	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: failed to send notification %s: %w", ErrTransport, method, err)
	}
	return nil
}

// OnNotification implements MessageChannel. Several handlers may be registered for the
// same method; they run in registration order.
func (c *Conn) OnNotification(method string, handler NotificationHandler) {
	c.handlersLock.Lock()
	defer c.handlersLock.Unlock()

	c.notificationHandlers[method] = append(c.notificationHandlers[method], handler)
}

// OnRequest registers the handler answering server requests with the given method,
// replacing any previous one.
func (c *Conn) OnRequest(method string, handler RequestHandler) {
	c.handlersLock.Lock()
	defer c.handlersLock.Unlock()

	c.requestHandlers[method] = handler
}

// Done returns a channel closed once the Conn is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close implements MessageChannel. It stops the session; calling it more than once is a
// no-op.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.session.Stop()
	})
	return nil
}

func (c *Conn) handleResponse(msg JSONRPCMessage) {
	v, ok := c.pending.Load(string(msg.ID))
	if !ok {
		c.logger.Warn("received response for unknown request", slog.String("id", string(msg.ID)))
		return
	}
	results, _ := v.(chan JSONRPCMessage)

	select {
	case results <- msg:
	default:
		c.logger.Warn("dropping duplicate response", slog.String("id", string(msg.ID)))
	}
}

func (c *Conn) handleNotification(msg JSONRPCMessage) {
	c.handlersLock.RLock()
	handlers := c.notificationHandlers[msg.Method]
	c.handlersLock.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("unhandled notification", slog.String("method", msg.Method))
		return
	}
	for _, h := range handlers {
		h(msg.Params)
	}
}

func (c *Conn) handleRequest(ctx context.Context, msg JSONRPCMessage) {
	c.handlersLock.RLock()
	handler, ok := c.requestHandlers[msg.Method]
	c.handlersLock.RUnlock()

	if !ok {
		err := JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "method not found",
			Data:    map[string]any{"method": msg.Method},
		}
		if sErr := c.sendError(ctx, msg.ID, err); sErr != nil {
			c.logger.Error("failed to send error", "err", sErr)
		}
		return
	}

	result, err := handler(ctx, msg.Params)
	if err != nil {
		code := jsonRPCInternalErrorCode
		if errors.Is(err, ErrValidation) {
			code = jsonRPCInvalidParamsCode
		}
		jErr := JSONRPCError{
			Code:    code,
			Message: err.Error(),
		}
		if sErr := c.sendError(ctx, msg.ID, jErr); sErr != nil {
			c.logger.Error("failed to send error", "err", sErr)
		}
		return
	}

	if err := c.sendResult(ctx, msg.ID, result); err != nil {
		c.logger.Error("failed to send result", "err", err)
	}
}

// rejectRequest answers a malformed request with an invalid request error.
func (c *Conn) rejectRequest(ctx context.Context, msg JSONRPCMessage, reason string) {
	err := JSONRPCError{
		Code:    jsonRPCInvalidRequestCode,
		Message: "invalid request",
		Data:    map[string]any{"method": msg.Method, "reason": reason},
	}
	if sErr := c.sendError(ctx, msg.ID, err); sErr != nil {
		c.logger.Error("failed to send error", "err", sErr)
	}
}

func (c *Conn) sendResult(ctx context.Context, id MustString, result any) error {
	resBs, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}
	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send result: %w", err)
	}
	return nil
}

func (c *Conn) sendError(ctx context.Context, id MustString, err JSONRPCError) error {
	c.logger.Error("request error", "err", err)
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &err,
	}
	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send error: %w", err)
	}
	return nil
}

func (c *Conn) send(ctx context.Context, msg JSONRPCMessage) error {
	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	return c.session.Send(sCtx, msg)
}

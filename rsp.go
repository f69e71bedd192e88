package rsp

import (
	"context"
	"encoding/json"
	"iter"
)

// ClientTransport provides the client side of a connection to an RSP server.
type ClientTransport interface {
	// StartSession establishes a session with the server. The session is ready to send
	// and receive messages once StartSession returns without error.
	StartSession(ctx context.Context) (Session, error)
}

// Session represents a bidirectional communication channel with the server.
type Session interface {
	// ID returns the unique identifier for this session.
	ID() string

	// Send transmits a message to the other party.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Messages returns an iterator that yields messages received from the other party.
	// The implementations should exit the iteration if the session is closed.
	Messages() iter.Seq[JSONRPCMessage]

	// Stop stops the session. It must be safe to call more than once.
	Stop()
}

// MessageChannel is the request/notification surface the correlation engine and the
// workflow coordinators talk through. Conn is the implementation used by Client.
type MessageChannel interface {
	// Call sends a request and waits for its response. When result is non-nil the
	// response result is decoded into it.
	Call(ctx context.Context, method string, params, result any) error

	// Notify sends a notification.
	Notify(ctx context.Context, method string, params any) error

	// OnNotification registers handler for notifications with the given method.
	OnNotification(method string, handler NotificationHandler)

	// Close terminates the channel. Outstanding calls fail with ErrClosed.
	Close() error
}

// NotificationHandler receives the raw params of a notification. Handlers run on the
// read loop and must not block.
type NotificationHandler func(params json.RawMessage)

// RequestHandler answers a request the server sends to the client.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// StringPromptHandler answers the client/promptString request the server sends when it
// needs a value, such as a password, from the user.
type StringPromptHandler interface {
	PromptString(ctx context.Context, prompt StringPrompt) (string, error)
}

// StringPromptHandlerFunc adapts a function into a StringPromptHandler.
type StringPromptHandlerFunc func(ctx context.Context, prompt StringPrompt) (string, error)

// PromptString implements StringPromptHandler.
func (f StringPromptHandlerFunc) PromptString(ctx context.Context, prompt StringPrompt) (string, error) {
	return f(ctx, prompt)
}

package rsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
)

// TCP implements a ClientTransport connecting to an RSP server listening on a TCP
// address. Messages are framed with Content-Length headers, the framing RSP servers use
// on sockets.
//
// Instances should be created using NewTCPTransport. Every StartSession dials a new
// connection.
type TCP struct {
	addr   string
	dialer net.Dialer
	logger *slog.Logger
}

// TCPOption represents the options for the TCP transport.
type TCPOption func(*TCP)

type tcpSession struct {
	id     string
	conn   net.Conn
	stream jsonrpc2.ObjectStream
	logger *slog.Logger

	writeLock sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
}

// NewTCPTransport creates a transport dialing addr, in host:port form.
func NewTCPTransport(addr string, options ...TCPOption) *TCP {
	t := &TCP{
		addr:   addr,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// WithTCPLogger sets the logger of the sessions.
func WithTCPLogger(logger *slog.Logger) TCPOption {
	return func(t *TCP) {
		t.logger = logger
	}
}

// WithTCPDialTimeout bounds how long establishing the connection may take.
func WithTCPDialTimeout(timeout time.Duration) TCPOption {
	return func(t *TCP) {
		t.dialer.Timeout = timeout
	}
}

// WithTCPKeepAlive sets the keep-alive period of the connection.
func WithTCPKeepAlive(period time.Duration) TCPOption {
	return func(t *TCP) {
		t.dialer.KeepAlive = period
	}
}

// StartSession implements the ClientTransport interface.
func (t *TCP) StartSession(ctx context.Context) (Session, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", t.addr, err)
	}

	return newTCPSession(conn, t.logger), nil
}

func newTCPSession(conn net.Conn, logger *slog.Logger) *tcpSession {
	return &tcpSession{
		id:     uuid.New().String(),
		conn:   conn,
		stream: jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (s *tcpSession) ID() string {
	return s.id
}

func (s *tcpSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
		defer func() {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}()
	}

	if err := s.stream.WriteObject(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (s *tcpSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for {
			var msg JSONRPCMessage
			if err := s.stream.ReadObject(&msg); err != nil {
				select {
				case <-s.done:
				default:
					if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
						s.logger.Error("failed to read message", "err", err)
					}
				}
				return
			}

			if !yield(msg) {
				return
			}
		}
	}
}

func (s *tcpSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if err := s.stream.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("failed to close connection", slog.String("err", err.Error()))
		}
	})
}

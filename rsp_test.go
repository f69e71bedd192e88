package rsp_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-rsp"
)

// fakeServer plays the remote side of a connection. Requests are answered by the handler
// registered for their method; handlers run on the read loop, so everything a handler
// sends reaches the client in the order it was sent.
type fakeServer struct {
	session rsp.Session

	lock      sync.Mutex
	handlers  map[string]fakeHandler
	received  []rsp.JSONRPCMessage
	responses map[rsp.MustString]chan rsp.JSONRPCMessage
}

type fakeHandler func(s *fakeServer, msg rsp.JSONRPCMessage)

func newFakeServer(session rsp.Session) *fakeServer {
	s := &fakeServer{
		session:   session,
		handlers:  make(map[string]fakeHandler),
		responses: make(map[rsp.MustString]chan rsp.JSONRPCMessage),
	}
	s.handle(rsp.MethodRegisterClientCapabilities, func(s *fakeServer, msg rsp.JSONRPCMessage) {
		s.reply(msg, rsp.ServerCapabilitiesResponse{
			ServerCapabilities:       map[string]string{"protocol.version": rsp.ProtocolVersion},
			ClientRegistrationStatus: rsp.Status{Severity: rsp.SeverityOK},
		})
	})
	return s
}

func (s *fakeServer) handle(method string, h fakeHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handlers[method] = h
}

func (s *fakeServer) serve() {
	for msg := range s.session.Messages() {
		s.lock.Lock()
		s.received = append(s.received, msg)
		if msg.Method == "" {
			res, ok := s.responses[msg.ID]
			s.lock.Unlock()
			if ok {
				res <- msg
			}
			continue
		}
		h, ok := s.handlers[msg.Method]
		s.lock.Unlock()

		switch {
		case ok:
			h(s, msg)
		case msg.ID != "":
			s.send(rsp.JSONRPCMessage{
				JSONRPC: rsp.JSONRPCVersion,
				ID:      msg.ID,
				Error:   &rsp.JSONRPCError{Code: -32601, Message: "method not found"},
			})
		}
	}
}

func (s *fakeServer) reply(msg rsp.JSONRPCMessage, result any) {
	bs, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}
	s.send(rsp.JSONRPCMessage{JSONRPC: rsp.JSONRPCVersion, ID: msg.ID, Result: bs})
}

func (s *fakeServer) replyError(msg rsp.JSONRPCMessage, code int, message string) {
	s.send(rsp.JSONRPCMessage{
		JSONRPC: rsp.JSONRPCVersion,
		ID:      msg.ID,
		Error:   &rsp.JSONRPCError{Code: code, Message: message},
	})
}

func (s *fakeServer) notify(event rsp.EventName, payload any) {
	bs, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	s.send(rsp.JSONRPCMessage{JSONRPC: rsp.JSONRPCVersion, Method: event.Method(), Params: bs})
}

// request sends a server-to-client request and waits for the answer.
func (s *fakeServer) request(ctx context.Context, id, method string, params any) (rsp.JSONRPCMessage, error) {
	bs, err := json.Marshal(params)
	if err != nil {
		return rsp.JSONRPCMessage{}, err
	}

	return s.roundTrip(ctx, rsp.JSONRPCMessage{
		JSONRPC: rsp.JSONRPCVersion,
		ID:      rsp.MustString(id),
		Method:  method,
		Params:  bs,
	})
}

// roundTrip sends msg as is and waits for the answer carrying its id.
func (s *fakeServer) roundTrip(ctx context.Context, msg rsp.JSONRPCMessage) (rsp.JSONRPCMessage, error) {
	res := make(chan rsp.JSONRPCMessage, 1)
	s.lock.Lock()
	s.responses[msg.ID] = res
	s.lock.Unlock()

	if err := s.session.Send(ctx, msg); err != nil {
		return rsp.JSONRPCMessage{}, err
	}

	select {
	case msg := <-res:
		return msg, nil
	case <-ctx.Done():
		return rsp.JSONRPCMessage{}, ctx.Err()
	}
}

func (s *fakeServer) send(msg rsp.JSONRPCMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.session.Send(ctx, msg)
}

// requests returns the requests and notifications received with the given method.
func (s *fakeServer) requests(method string) []rsp.JSONRPCMessage {
	s.lock.Lock()
	defer s.lock.Unlock()

	var msgs []rsp.JSONRPCMessage
	for _, msg := range s.received {
		if msg.Method == method {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func setupStdIO() (rsp.StdIO, rsp.StdIO, func()) {
	srvReader, cliWriter := io.Pipe()
	cliReader, srvWriter := io.Pipe()

	// server's output is client's input
	srvIO := rsp.NewStdIO(srvReader, srvWriter)
	// client's output is server's input
	cliIO := rsp.NewStdIO(cliReader, cliWriter)

	closePipes := func() {
		srvReader.Close()
		srvWriter.Close()
		cliReader.Close()
		cliWriter.Close()
	}

	return srvIO, cliIO, closePipes
}

// setupClient connects a client to a fake server. handlers are installed before the
// client connects.
func setupClient(
	t *testing.T,
	handlers map[string]fakeHandler,
	options ...rsp.ClientOption,
) (*rsp.Client, *fakeServer) {
	t.Helper()

	srvIO, cliIO, closePipes := setupStdIO()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := srvIO.StartSession(ctx)
	if err != nil {
		t.Fatalf("failed to start server session: %v", err)
	}
	srv := newFakeServer(sess)
	for method, h := range handlers {
		srv.handle(method, h)
	}
	go srv.serve()

	client := rsp.NewClient(cliIO, options...)
	t.Cleanup(func() {
		closePipes()
		if err := client.Close(); err != nil {
			t.Errorf("failed to close client: %v", err)
		}
		sess.Stop()
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	return client, srv
}

func decodeParams[T any](t *testing.T, msg rsp.JSONRPCMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(msg.Params, &v); err != nil {
		t.Fatalf("failed to unmarshal %s params: %v", msg.Method, err)
	}
	return v
}

func okStatus() rsp.Status {
	return rsp.Status{Severity: rsp.SeverityOK, Message: "ok"}
}

func wildflyHandle(id string) rsp.ServerHandle {
	return rsp.ServerHandle{
		ID: id,
		Type: rsp.ServerType{
			ID:          "org.jboss.ide.eclipse.as.wildfly.240",
			VisibleName: "WildFly 24",
		},
	}
}

func serverState(id string, state rsp.RunState) rsp.ServerState {
	return rsp.ServerState{
		Server:       wildflyHandle(id),
		State:        state,
		PublishState: rsp.PublishStateNone,
		RunMode:      rsp.RunModeRun,
	}
}

func launch(id string) rsp.LaunchParameters {
	return rsp.LaunchParameters{
		Mode: rsp.RunModeRun,
		Params: rsp.ServerAttributes{
			ID:         id,
			ServerType: "org.jboss.ide.eclipse.as.wildfly.240",
			Attributes: map[string]any{},
		},
	}
}

func ctxWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustBeEmpty(t *testing.T, srv *fakeServer, methods ...string) {
	t.Helper()
	for _, m := range methods {
		if got := srv.requests(m); len(got) != 0 {
			t.Errorf("expected no %s request, got %d", m, len(got))
		}
	}
}

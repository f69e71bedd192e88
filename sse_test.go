package rsp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-rsp"
	"github.com/tmaxmax/go-sse"
)

// sseGateway exposes a fake RSP server the way an HTTP gateway does: server messages are
// streamed as "message" events, client messages are POSTed to the announced endpoint.
type sseGateway struct {
	endpoint string
	inbound  chan rsp.JSONRPCMessage
	outbound chan rsp.JSONRPCMessage
	status   int
}

func newSSEGateway(endpoint string) *sseGateway {
	return &sseGateway{
		endpoint: endpoint,
		inbound:  make(chan rsp.JSONRPCMessage, 10),
		outbound: make(chan rsp.JSONRPCMessage, 10),
		status:   http.StatusAccepted,
	}
}

func (g *sseGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if g.endpoint != "" {
			msg := &sse.Message{Type: sse.Type("endpoint")}
			msg.AppendData(g.endpoint)
			if err := sess.Send(msg); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case out := <-g.outbound:
				bs, err := json.Marshal(out)
				if err != nil {
					return
				}
				msg := &sse.Message{Type: sse.Type("message")}
				msg.AppendData(string(bs))
				if err := sess.Send(msg); err != nil {
					return
				}
				if err := sess.Flush(); err != nil {
					return
				}
			}
		}
	})
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		if g.status >= 300 {
			http.Error(w, "gateway unavailable", g.status)
			return
		}
		var msg rsp.JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.inbound <- msg
		w.WriteHeader(g.status)
	})
	return mux
}

func TestSSEClientSession(t *testing.T) {
	gw := newSSEGateway("/message")
	srv := httptest.NewServer(gw.handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := rsp.NewSSEClient(srv.URL+"/events", srv.Client()).StartSession(ctx)
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	defer sess.Stop()

	received := make(chan rsp.JSONRPCMessage, 1)
	go func() {
		for msg := range sess.Messages() {
			received <- msg
		}
	}()

	if err := sess.Send(ctx, rsp.JSONRPCMessage{
		JSONRPC: rsp.JSONRPCVersion,
		ID:      "1",
		Method:  rsp.MethodGetServerHandles,
	}); err != nil {
		t.Fatalf("failed to send: %v", err)
	}
	select {
	case msg := <-gw.inbound:
		if msg.Method != rsp.MethodGetServerHandles || msg.ID != "1" {
			t.Errorf("gateway received %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not receive the request")
	}

	gw.outbound <- rsp.JSONRPCMessage{
		JSONRPC: rsp.JSONRPCVersion,
		Method:  rsp.EventServerAdded.Method(),
		Params:  json.RawMessage(`{"id":"wfly","type":{"id":"org.jboss.ide.eclipse.as.wildfly.240"}}`),
	}
	select {
	case msg := <-received:
		if msg.Method != rsp.EventServerAdded.Method() {
			t.Errorf("got method %s, want %s", msg.Method, rsp.EventServerAdded.Method())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive the event")
	}

	sess.Stop()
	err = sess.Send(ctx, rsp.JSONRPCMessage{JSONRPC: rsp.JSONRPCVersion, Method: rsp.MethodShutdown})
	if !errors.Is(err, rsp.ErrClosed) {
		t.Errorf("expected ErrClosed after Stop, got %v", err)
	}
}

func TestSSEClientNegativeCases(t *testing.T) {
	t.Run("NoEndpoint", func(t *testing.T) {
		srv := httptest.NewServer(newSSEGateway("").handler())
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := rsp.NewSSEClient(srv.URL+"/events", srv.Client()).StartSession(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		srv := httptest.NewServer(newSSEGateway("/message").handler())
		defer srv.Close()

		_, err := rsp.NewSSEClient(srv.URL+"/missing", srv.Client()).StartSession(context.Background())
		if err == nil || !strings.Contains(err.Error(), "404") {
			t.Errorf("expected a 404 error, got %v", err)
		}
	})

	t.Run("RejectedPost", func(t *testing.T) {
		gw := newSSEGateway("/message")
		gw.status = http.StatusServiceUnavailable
		srv := httptest.NewServer(gw.handler())
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sess, err := rsp.NewSSEClient(srv.URL+"/events", srv.Client()).StartSession(ctx)
		if err != nil {
			t.Fatalf("failed to start session: %v", err)
		}
		defer sess.Stop()

		err = sess.Send(ctx, rsp.JSONRPCMessage{JSONRPC: rsp.JSONRPCVersion, Method: rsp.MethodShutdown})
		if err == nil || !strings.Contains(err.Error(), "503") {
			t.Errorf("expected a 503 error, got %v", err)
		}
	})
}

func TestSSEClientRoundTrip(t *testing.T) {
	gw := newSSEGateway("/message")
	srv := httptest.NewServer(gw.handler())
	defer srv.Close()

	go func() {
		for msg := range gw.inbound {
			var result any
			switch msg.Method {
			case rsp.MethodRegisterClientCapabilities:
				result = rsp.ServerCapabilitiesResponse{ClientRegistrationStatus: rsp.Status{Severity: rsp.SeverityOK}}
			case rsp.MethodGetServerHandles:
				result = []rsp.ServerHandle{wildflyHandle("wfly")}
			default:
				continue
			}
			bs, _ := json.Marshal(result)
			gw.outbound <- rsp.JSONRPCMessage{JSONRPC: rsp.JSONRPCVersion, ID: msg.ID, Result: bs}
		}
	}()

	client := rsp.NewClient(rsp.NewSSEClient(srv.URL+"/events", srv.Client()))
	ctx := ctxWithTimeout(t)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	handles, err := client.GetServerHandles(ctx)
	if err != nil {
		t.Fatalf("GetServerHandles: %v", err)
	}
	if len(handles) != 1 || handles[0].ID != "wfly" {
		t.Errorf("got handles %v", handles)
	}
}

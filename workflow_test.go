package rsp_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-rsp"
)

func wildflyBean() rsp.ServerBean {
	return rsp.ServerBean{
		Location:            "/opt/wildfly-24.0.0.Final",
		TypeCategory:        "WildFly",
		SpecificType:        "AS",
		Name:                "wildfly-24.0.0.Final",
		Version:             "24.0",
		FullVersion:         "24.0.0.Final",
		ServerAdapterTypeID: "org.jboss.ide.eclipse.as.wildfly.240",
	}
}

func TestCreateServerFromPath(t *testing.T) {
	client, srv := setupClient(t, map[string]fakeHandler{
		rsp.MethodFindServerBeans: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, []rsp.ServerBean{wildflyBean()})
		},
		rsp.MethodCreateServer: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			// Another client's server is announced first, and the event for ours
			// arrives before the acknowledgement.
			s.notify(rsp.EventServerAdded, wildflyHandle("eap"))
			s.notify(rsp.EventServerAdded, wildflyHandle("wfly"))
			s.reply(msg, rsp.CreateServerResponse{Status: okStatus()})
		},
	})
	baseline := client.Bus().Count(rsp.EventServerAdded)

	handle, err := client.CreateServerFromPath(ctxWithTimeout(t), "/opt/wildfly-24.0.0.Final", "wfly")
	if err != nil {
		t.Fatalf("CreateServerFromPath: %v", err)
	}
	if handle.ID != "wfly" {
		t.Errorf("got handle %q, want %q", handle.ID, "wfly")
	}

	reqs := srv.requests(rsp.MethodCreateServer)
	if len(reqs) != 1 {
		t.Fatalf("got %d createServer requests, want 1", len(reqs))
	}
	attrs := decodeParams[rsp.ServerAttributes](t, reqs[0])
	if attrs.ServerType != "org.jboss.ide.eclipse.as.wildfly.240" {
		t.Errorf("got server type %q", attrs.ServerType)
	}
	if got := attrs.Attributes[rsp.AttributeServerHome]; got != "/opt/wildfly-24.0.0.Final" {
		t.Errorf("got %s = %v", rsp.AttributeServerHome, got)
	}
	if _, ok := attrs.Attributes[rsp.AttributeMinishiftBinary]; ok {
		t.Errorf("unexpected %s for a WildFly bean", rsp.AttributeMinishiftBinary)
	}

	beans := decodeParams[rsp.DiscoveryPath](t, srv.requests(rsp.MethodFindServerBeans)[0])
	if beans.Filepath != "/opt/wildfly-24.0.0.Final" {
		t.Errorf("got findServerBeans path %q", beans.Filepath)
	}

	if got := client.Bus().Count(rsp.EventServerAdded); got != baseline {
		t.Errorf("got %d serverAdded listeners, want %d", got, baseline)
	}
}

func TestCreateServerFromPathErrors(t *testing.T) {
	client, srv := setupClient(t, map[string]fakeHandler{
		rsp.MethodFindServerBeans: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, []rsp.ServerBean{})
		},
	})
	ctx := ctxWithTimeout(t)

	_, err := client.CreateServerFromPath(ctx, "/opt/wildfly", "")
	if !errors.Is(err, rsp.ErrValidation) {
		t.Errorf("empty id: expected ErrValidation, got %v", err)
	}
	mustBeEmpty(t, srv, rsp.MethodFindServerBeans, rsp.MethodCreateServer)

	_, err = client.CreateServerFromPath(ctx, "/tmp/empty", "wfly")
	if !errors.Is(err, rsp.ErrNoMatch) {
		t.Errorf("no beans: expected ErrNoMatch, got %v", err)
	}
	mustBeEmpty(t, srv, rsp.MethodCreateServer)
}

func TestCreateServerFromBean(t *testing.T) {
	client, srv := setupClient(t, map[string]fakeHandler{
		rsp.MethodCreateServer: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			var attrs rsp.ServerAttributes
			_ = json.Unmarshal(msg.Params, &attrs)
			s.reply(msg, rsp.CreateServerResponse{Status: okStatus()})
			s.notify(rsp.EventServerAdded, rsp.ServerHandle{ID: attrs.ID})
		},
	})

	bean := rsp.ServerBean{
		Location:            "/home/user/.minishift/cache/oc/minishift",
		TypeCategory:        "MINISHIFT",
		Name:                "minishift-1.34",
		ServerAdapterTypeID: "org.jboss.tools.openshift.cdk.server.type.minishift.v1_14",
	}
	handle, err := client.CreateServerFromBean(ctxWithTimeout(t), bean, "",
		rsp.WithAttributes(map[string]any{"minishift.profile": "dev"}))
	if err != nil {
		t.Fatalf("CreateServerFromBean: %v", err)
	}
	if handle.ID != "minishift-1.34" {
		t.Errorf("got handle %q, want the bean name", handle.ID)
	}

	attrs := decodeParams[rsp.ServerAttributes](t, srv.requests(rsp.MethodCreateServer)[0])
	for key, want := range map[string]any{
		rsp.AttributeServerHome:      bean.Location,
		rsp.AttributeMinishiftBinary: bean.Location,
		"minishift.profile":          "dev",
	} {
		if got := attrs.Attributes[key]; got != want {
			t.Errorf("got %s = %v, want %v", key, got, want)
		}
	}
}

func TestCreateServerRejected(t *testing.T) {
	client, _ := setupClient(t, map[string]fakeHandler{
		rsp.MethodCreateServer: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, rsp.CreateServerResponse{
				Status:      rsp.Status{Severity: rsp.SeverityError, Message: "missing attributes"},
				InvalidKeys: []string{rsp.AttributeServerHome},
			})
		},
	})
	baseline := client.Bus().Count(rsp.EventServerAdded)

	_, err := client.CreateServer(ctxWithTimeout(t), rsp.ServerAttributes{
		ID:         "wfly",
		ServerType: "org.jboss.ide.eclipse.as.wildfly.240",
	})
	if !errors.Is(err, rsp.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var sErr *rsp.StatusError
	if !errors.As(err, &sErr) || sErr.Status.Message != "missing attributes" {
		t.Errorf("expected the rejecting status, got %v", err)
	}
	if got := client.Bus().Count(rsp.EventServerAdded); got != baseline {
		t.Errorf("got %d serverAdded listeners, want %d", got, baseline)
	}
}

func TestCreateServerTransportError(t *testing.T) {
	client, _ := setupClient(t, map[string]fakeHandler{
		rsp.MethodCreateServer: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.replyError(msg, -32602, "invalid params")
		},
	})

	_, err := client.CreateServer(ctxWithTimeout(t), rsp.ServerAttributes{
		ID:         "wfly",
		ServerType: "org.jboss.ide.eclipse.as.wildfly.240",
	})
	if !errors.Is(err, rsp.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestStartServer(t *testing.T) {
	client, srv := setupClient(t, map[string]fakeHandler{
		rsp.MethodStartServerAsync: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, rsp.StartServerResponse{Status: okStatus()})
			s.notify(rsp.EventServerStateChanged, serverState("wfly", rsp.RunStateStarting))
			s.notify(rsp.EventServerStateChanged, serverState("eap", rsp.RunStateStarted))
			s.notify(rsp.EventServerStateChanged, serverState("wfly", rsp.RunStateStarted))
		},
	})

	seen := make(chan rsp.RunState, 4)
	client.Bus().OnServerStateChanged(func(st rsp.ServerState) {
		if st.Server.ID == "wfly" {
			seen <- st.State
		}
	})

	state, err := client.StartServer(ctxWithTimeout(t), launch("wfly"))
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	if state.Server.ID != "wfly" || state.State != rsp.RunStateStarted {
		t.Errorf("got state %s of %q, want STARTED of wfly", state.State, state.Server.ID)
	}

	params := decodeParams[rsp.LaunchParameters](t, srv.requests(rsp.MethodStartServerAsync)[0])
	if params.Mode != rsp.RunModeRun || params.Params.ID != "wfly" {
		t.Errorf("got launch parameters %+v", params)
	}

	// Subscribers still see every transition.
	for _, want := range []rsp.RunState{rsp.RunStateStarting, rsp.RunStateStarted} {
		select {
		case got := <-seen:
			if got != want {
				t.Errorf("subscriber saw %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber did not see %s", want)
		}
	}
}

func TestStartServerValidation(t *testing.T) {
	client, srv := setupClient(t, nil)
	ctx := ctxWithTimeout(t)

	params := launch("wfly")
	params.Mode = ""
	if _, err := client.StartServer(ctx, params); !errors.Is(err, rsp.ErrValidation) {
		t.Errorf("empty mode: expected ErrValidation, got %v", err)
	}
	if _, err := client.StartServer(ctx, launch("")); !errors.Is(err, rsp.ErrValidation) {
		t.Errorf("empty id: expected ErrValidation, got %v", err)
	}
	mustBeEmpty(t, srv, rsp.MethodStartServerAsync)
}

func TestStopServer(t *testing.T) {
	client, srv := setupClient(t, map[string]fakeHandler{
		rsp.MethodStopServerAsync: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.notify(rsp.EventServerStateChanged, serverState("wfly", rsp.RunStateStopping))
			s.reply(msg, okStatus())
			s.notify(rsp.EventServerStateChanged, serverState("wfly", rsp.RunStateStopped))
		},
	})
	baseline := client.Bus().Count(rsp.EventServerStateChanged)

	state, err := client.StopServer(ctxWithTimeout(t), rsp.StopServerAttributes{ID: "wfly", Force: true})
	if err != nil {
		t.Fatalf("StopServer: %v", err)
	}
	if state.State != rsp.RunStateStopped {
		t.Errorf("got state %s, want %s", state.State, rsp.RunStateStopped)
	}

	attrs := decodeParams[rsp.StopServerAttributes](t, srv.requests(rsp.MethodStopServerAsync)[0])
	if !attrs.Force {
		t.Error("force flag was not sent")
	}
	if got := client.Bus().Count(rsp.EventServerStateChanged); got != baseline {
		t.Errorf("got %d serverStateChanged listeners, want %d", got, baseline)
	}
}

func TestDeleteServerTimeout(t *testing.T) {
	client, srv := setupClient(t, map[string]fakeHandler{
		// Acknowledged, but serverRemoved never comes.
		rsp.MethodDeleteServer: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, okStatus())
		},
	})
	baseline := client.Bus().Count(rsp.EventServerRemoved)

	_, err := client.DeleteServer(ctxWithTimeout(t), wildflyHandle("wfly"), rsp.WithTimeout(100*time.Millisecond))
	if !errors.Is(err, rsp.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := client.Bus().Count(rsp.EventServerRemoved); got != baseline {
		t.Errorf("got %d serverRemoved listeners, want %d", got, baseline)
	}

	// A late event reaches nobody and does not disturb the connection.
	srv.notify(rsp.EventServerRemoved, wildflyHandle("wfly"))
	if _, err := client.DeleteServerAsync(ctxWithTimeout(t), wildflyHandle("wfly")); err != nil {
		t.Errorf("DeleteServerAsync after timeout: %v", err)
	}
}

func TestDeleteServer(t *testing.T) {
	client, _ := setupClient(t, map[string]fakeHandler{
		rsp.MethodDeleteServer: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, okStatus())
			s.notify(rsp.EventServerRemoved, wildflyHandle("wfly"))
		},
	})

	handle, err := client.DeleteServer(ctxWithTimeout(t), wildflyHandle("wfly"))
	if err != nil {
		t.Fatalf("DeleteServer: %v", err)
	}
	if handle.ID != "wfly" {
		t.Errorf("got handle %q, want %q", handle.ID, "wfly")
	}
}

func TestDiscoveryPaths(t *testing.T) {
	client, _ := setupClient(t, map[string]fakeHandler{
		rsp.MethodAddDiscoveryPath: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			var path rsp.DiscoveryPath
			_ = json.Unmarshal(msg.Params, &path)
			s.reply(msg, okStatus())
			s.notify(rsp.EventDiscoveryPathAdded, rsp.DiscoveryPath{Filepath: "/other"})
			s.notify(rsp.EventDiscoveryPathAdded, path)
		},
		rsp.MethodRemoveDiscoveryPath: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, rsp.Status{Severity: rsp.SeverityCancel, Message: "unknown path"})
		},
	})
	ctx := ctxWithTimeout(t)

	path, err := client.AddDiscoveryPath(ctx, "/opt")
	if err != nil {
		t.Fatalf("AddDiscoveryPath: %v", err)
	}
	if path.Filepath != "/opt" {
		t.Errorf("got path %q, want %q", path.Filepath, "/opt")
	}

	_, err = client.RemoveDiscoveryPath(ctx, "/nowhere")
	if !errors.Is(err, rsp.ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}

	if _, err := client.AddDiscoveryPath(ctx, ""); !errors.Is(err, rsp.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestDeployables(t *testing.T) {
	client, srv := setupClient(t, map[string]fakeHandler{
		rsp.MethodAddDeployable: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, okStatus())
		},
		rsp.MethodGetDeployables: func(s *fakeServer, msg rsp.JSONRPCMessage) {
			s.reply(msg, []rsp.DeployableState{{
				Server:       wildflyHandle("wfly"),
				Reference:    rsp.DeployableReference{Label: "app.war", Path: "/tmp/app.war"},
				PublishState: rsp.PublishStateAdd,
				State:        rsp.RunStateUnknown,
			}})
		},
	})
	ctx := ctxWithTimeout(t)

	ref := rsp.ServerDeployableReference{
		Server:     wildflyHandle("wfly"),
		Deployable: rsp.DeployableReference{Label: "app.war", Path: "/tmp/app.war"},
	}
	if _, err := client.AddDeployable(ctx, ref); err != nil {
		t.Fatalf("AddDeployable: %v", err)
	}
	sent := decodeParams[rsp.ServerDeployableReference](t, srv.requests(rsp.MethodAddDeployable)[0])
	if sent.Deployable.Path != "/tmp/app.war" {
		t.Errorf("got deployable path %q", sent.Deployable.Path)
	}

	states, err := client.GetDeployables(ctx, wildflyHandle("wfly"))
	if err != nil {
		t.Fatalf("GetDeployables: %v", err)
	}
	if len(states) != 1 || !states[0].PublishState.NeedsPublish() {
		t.Errorf("got deployables %+v", states)
	}

	ref.Deployable.Path = ""
	if _, err := client.RemoveDeployable(ctx, ref); !errors.Is(err, rsp.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	mustBeEmpty(t, srv, rsp.MethodRemoveDeployable)
}

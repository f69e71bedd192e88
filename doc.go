// Package rsp implements a client of the Runtime Server Protocol (RSP), the JSON-RPC based
// protocol used by tooling to manage application servers (WildFly, EAP, Minishift and
// others) through a long-running server process.
//
// Every mutating request of the protocol is answered twice: an immediate acknowledgement
// and, independently and later, a broadcast notification describing the resulting change.
// Client hides that split behind synchronous workflows such as CreateServerFromPath or
// StartServer, which return once the matching notification arrived, and exposes the raw
// notifications as events on an EventBus.
//
// A minimal session over TCP:
//
//	client := rsp.NewClient(rsp.NewTCPTransport("localhost:27511"))
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close()
//
//	handle, err := client.CreateServerFromPath(ctx, "/opt/wildfly-24", "wfly")
//	if err != nil {
//		return err
//	}
//	state, err := client.StartServer(ctx, rsp.LaunchParameters{
//		Mode:   rsp.RunModeRun,
//		Params: rsp.ServerAttributes{ID: handle.ID, ServerType: handle.Type.ID},
//	})
//	if err != nil {
//		return err
//	}
//	log.Printf("%s is %s", state.Server.ID, state.State)
package rsp

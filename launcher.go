package rsp

import (
	"context"
	"fmt"
)

// StartServerAsync sends server/startServerAsync and returns the acknowledgement without
// waiting for the server to reach STARTED.
func (c *Client) StartServerAsync(ctx context.Context, params LaunchParameters, opts ...CallOption) (StartServerResponse, error) {
	if err := validateLaunchParameters(params); err != nil {
		return StartServerResponse{}, err
	}
	var res StartServerResponse
	if err := c.call(ctx, MethodStartServerAsync, params, &res, opts); err != nil {
		return StartServerResponse{}, err
	}
	return res, nil
}

// StartServer sends server/startServerAsync and returns the state the server broadcast
// once it reached STARTED. Intermediate states such as STARTING and state changes of
// other servers are ignored. Starting a started server is left to the server to decide.
func (c *Client) StartServer(ctx context.Context, params LaunchParameters, opts ...CallOption) (ServerState, error) {
	if err := validateLaunchParameters(params); err != nil {
		return ServerState{}, err
	}
	_, engine, err := c.connection()
	if err != nil {
		return ServerState{}, err
	}

	id := params.Params.ID
	var res StartServerResponse
	return Correlate(ctx, engine, Operation[ServerState]{
		Description: fmt.Sprintf("start server %s in %s mode", id, params.Mode),
		Method:      MethodStartServerAsync,
		Params:      params,
		Result:      &res,
		Check:       statusCheck(&res.Status),
		Event:       EventServerStateChanged,
		Match:       StateReached(id, RunStateStarted),
		Timeout:     c.timeoutFor(MethodStartServerAsync, newCallOptions(opts)),
	})
}

// StopServerAsync sends server/stopServerAsync and returns the acknowledgement without
// waiting for the server to reach STOPPED.
func (c *Client) StopServerAsync(ctx context.Context, attrs StopServerAttributes, opts ...CallOption) (Status, error) {
	if attrs.ID == "" {
		return Status{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}
	var status Status
	if err := c.call(ctx, MethodStopServerAsync, attrs, &status, opts); err != nil {
		return Status{}, err
	}
	return status, nil
}

// StopServer sends server/stopServerAsync and returns the state the server broadcast
// once it reached STOPPED.
func (c *Client) StopServer(ctx context.Context, attrs StopServerAttributes, opts ...CallOption) (ServerState, error) {
	if attrs.ID == "" {
		return ServerState{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}
	_, engine, err := c.connection()
	if err != nil {
		return ServerState{}, err
	}

	var status Status
	return Correlate(ctx, engine, Operation[ServerState]{
		Description: "stop server " + attrs.ID,
		Method:      MethodStopServerAsync,
		Params:      attrs,
		Result:      &status,
		Check:       statusCheck(&status),
		Event:       EventServerStateChanged,
		Match:       StateReached(attrs.ID, RunStateStopped),
		Timeout:     c.timeoutFor(MethodStopServerAsync, newCallOptions(opts)),
	})
}

// GetLaunchModes lists the launch modes servers of type st support.
func (c *Client) GetLaunchModes(ctx context.Context, st ServerType, opts ...CallOption) ([]ServerLaunchMode, error) {
	if st.ID == "" {
		return nil, fmt.Errorf("%w: empty server type", ErrValidation)
	}
	var modes []ServerLaunchMode
	if err := c.call(ctx, MethodGetLaunchModes, st, &modes, opts); err != nil {
		return nil, err
	}
	return modes, nil
}

// GetRequiredLaunchAttributes returns the attributes a launch in the requested mode
// needs.
func (c *Client) GetRequiredLaunchAttributes(ctx context.Context, req LaunchAttributesRequest, opts ...CallOption) (Attributes, error) {
	var attrs Attributes
	if err := c.call(ctx, MethodGetRequiredLaunchAttributes, req, &attrs, opts); err != nil {
		return Attributes{}, err
	}
	return attrs, nil
}

// GetOptionalLaunchAttributes returns the attributes a launch in the requested mode
// accepts.
func (c *Client) GetOptionalLaunchAttributes(ctx context.Context, req LaunchAttributesRequest, opts ...CallOption) (Attributes, error) {
	var attrs Attributes
	if err := c.call(ctx, MethodGetOptionalLaunchAttributes, req, &attrs, opts); err != nil {
		return Attributes{}, err
	}
	return attrs, nil
}

// GetLaunchCommand returns the command line the server would run to launch, for clients
// that start the process themselves.
func (c *Client) GetLaunchCommand(ctx context.Context, params LaunchParameters, opts ...CallOption) (CommandLineDetails, error) {
	if err := validateLaunchParameters(params); err != nil {
		return CommandLineDetails{}, err
	}
	var details CommandLineDetails
	if err := c.call(ctx, MethodGetLaunchCommand, params, &details, opts); err != nil {
		return CommandLineDetails{}, err
	}
	return details, nil
}

// ServerStartingByClient tells the server the client is launching the process itself.
func (c *Client) ServerStartingByClient(ctx context.Context, attrs ServerStartingAttributes, opts ...CallOption) (Status, error) {
	if err := validateLaunchParameters(attrs.Request); err != nil {
		return Status{}, err
	}
	var status Status
	if err := c.call(ctx, MethodServerStartingByClient, attrs, &status, opts); err != nil {
		return Status{}, err
	}
	return status, nil
}

// ServerStartedByClient tells the server the process launched by the client is up.
func (c *Client) ServerStartedByClient(ctx context.Context, params LaunchParameters, opts ...CallOption) (Status, error) {
	if err := validateLaunchParameters(params); err != nil {
		return Status{}, err
	}
	var status Status
	if err := c.call(ctx, MethodServerStartedByClient, params, &status, opts); err != nil {
		return Status{}, err
	}
	return status, nil
}

func validateLaunchParameters(params LaunchParameters) error {
	if params.Params.ID == "" {
		return fmt.Errorf("%w: empty server id", ErrValidation)
	}
	if params.Mode == "" {
		return fmt.Errorf("%w: empty launch mode", ErrValidation)
	}
	return nil
}

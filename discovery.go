package rsp

import (
	"context"
	"fmt"
)

// GetDiscoveryPaths lists the paths the server scans for installations.
func (c *Client) GetDiscoveryPaths(ctx context.Context, opts ...CallOption) ([]DiscoveryPath, error) {
	var paths []DiscoveryPath
	if err := c.call(ctx, MethodGetDiscoveryPaths, nil, &paths, opts); err != nil {
		return nil, err
	}
	return paths, nil
}

// FindServerBeans asks the server which installations exist under path.
func (c *Client) FindServerBeans(ctx context.Context, path string, opts ...CallOption) ([]ServerBean, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrValidation)
	}
	var beans []ServerBean
	if err := c.call(ctx, MethodFindServerBeans, DiscoveryPath{Filepath: path}, &beans, opts); err != nil {
		return nil, err
	}
	return beans, nil
}

// AddDiscoveryPathAsync adds path to the discovery paths and returns the acknowledgement
// without waiting for the discoveryPathAdded event.
func (c *Client) AddDiscoveryPathAsync(ctx context.Context, path string, opts ...CallOption) (Status, error) {
	if path == "" {
		return Status{}, fmt.Errorf("%w: empty path", ErrValidation)
	}
	var status Status
	if err := c.call(ctx, MethodAddDiscoveryPath, DiscoveryPath{Filepath: path}, &status, opts); err != nil {
		return Status{}, err
	}
	return status, nil
}

// AddDiscoveryPath adds path to the discovery paths and returns once the server
// broadcast discoveryPathAdded for it.
func (c *Client) AddDiscoveryPath(ctx context.Context, path string, opts ...CallOption) (DiscoveryPath, error) {
	return c.correlateDiscoveryPath(ctx, MethodAddDiscoveryPath, EventDiscoveryPathAdded, "add discovery path", path, opts)
}

// RemoveDiscoveryPathAsync removes path from the discovery paths and returns the
// acknowledgement without waiting for the discoveryPathRemoved event.
func (c *Client) RemoveDiscoveryPathAsync(ctx context.Context, path string, opts ...CallOption) (Status, error) {
	if path == "" {
		return Status{}, fmt.Errorf("%w: empty path", ErrValidation)
	}
	var status Status
	if err := c.call(ctx, MethodRemoveDiscoveryPath, DiscoveryPath{Filepath: path}, &status, opts); err != nil {
		return Status{}, err
	}
	return status, nil
}

// RemoveDiscoveryPath removes path from the discovery paths and returns once the server
// broadcast discoveryPathRemoved for it.
func (c *Client) RemoveDiscoveryPath(ctx context.Context, path string, opts ...CallOption) (DiscoveryPath, error) {
	return c.correlateDiscoveryPath(ctx, MethodRemoveDiscoveryPath, EventDiscoveryPathRemoved, "remove discovery path", path, opts)
}

func (c *Client) correlateDiscoveryPath(
	ctx context.Context,
	method string,
	event EventName,
	verb string,
	path string,
	opts []CallOption,
) (DiscoveryPath, error) {
	if path == "" {
		return DiscoveryPath{}, fmt.Errorf("%w: empty path", ErrValidation)
	}
	_, engine, err := c.connection()
	if err != nil {
		return DiscoveryPath{}, err
	}

	var status Status
	return Correlate(ctx, engine, Operation[DiscoveryPath]{
		Description: fmt.Sprintf("%s %s", verb, path),
		Method:      method,
		Params:      DiscoveryPath{Filepath: path},
		Result:      &status,
		Check:       statusCheck(&status),
		Event:       event,
		Match: func(p DiscoveryPath) bool {
			return p.Filepath == path
		},
		Timeout: c.timeoutFor(method, newCallOptions(opts)),
	})
}

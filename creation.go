package rsp

import (
	"context"
	"fmt"
	"maps"
)

// CreateServerAsync sends server/createServer and returns the acknowledgement without
// waiting for the serverAdded event. A non-OK status is returned as is, not as an error.
func (c *Client) CreateServerAsync(ctx context.Context, attrs ServerAttributes, opts ...CallOption) (CreateServerResponse, error) {
	if err := validateServerAttributes(attrs); err != nil {
		return CreateServerResponse{}, err
	}
	var res CreateServerResponse
	if err := c.call(ctx, MethodCreateServer, attrs, &res, opts); err != nil {
		return CreateServerResponse{}, err
	}
	return res, nil
}

// CreateServer sends server/createServer and returns the handle once the server
// broadcast serverAdded for attrs.ID.
func (c *Client) CreateServer(ctx context.Context, attrs ServerAttributes, opts ...CallOption) (ServerHandle, error) {
	if err := validateServerAttributes(attrs); err != nil {
		return ServerHandle{}, err
	}
	_, engine, err := c.connection()
	if err != nil {
		return ServerHandle{}, err
	}

	var res CreateServerResponse
	return Correlate(ctx, engine, Operation[ServerHandle]{
		Description: "create server " + attrs.ID,
		Method:      MethodCreateServer,
		Params:      attrs,
		Result:      &res,
		Check: func() error {
			if err := res.Status.Err(); err != nil {
				if len(res.InvalidKeys) > 0 {
					return fmt.Errorf("%w, invalid keys %v", err, res.InvalidKeys)
				}
				return err
			}
			return nil
		},
		Event: EventServerAdded,
		Match: func(h ServerHandle) bool {
			return h.ID == attrs.ID
		},
		Timeout: c.timeoutFor(MethodCreateServer, newCallOptions(opts)),
	})
}

// CreateServerFromBean creates a server from an installation found by FindServerBeans
// and returns its handle once the server broadcast serverAdded. An empty id defaults to
// the bean name. Attributes passed with WithAttributes override the derived ones.
func (c *Client) CreateServerFromBean(ctx context.Context, bean ServerBean, id string, opts ...CallOption) (ServerHandle, error) {
	if id == "" {
		id = bean.Name
	}
	if id == "" {
		return ServerHandle{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}

	attrs := ServerAttributes{
		ServerType: bean.ServerAdapterTypeID,
		ID:         id,
		Attributes: beanAttributes(bean),
	}
	maps.Copy(attrs.Attributes, newCallOptions(opts).attributes)

	return c.CreateServer(ctx, attrs, opts...)
}

// CreateServerFromPath looks up the installations under path, creates a server with the
// given id from the first one found and returns its handle once the server broadcast
// serverAdded. It fails with ErrNoMatch when nothing was found under path.
func (c *Client) CreateServerFromPath(ctx context.Context, path, id string, opts ...CallOption) (ServerHandle, error) {
	if id == "" {
		return ServerHandle{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}

	beans, err := c.FindServerBeans(ctx, path)
	if err != nil {
		return ServerHandle{}, fmt.Errorf("failed to find server beans: %w", err)
	}
	if len(beans) == 0 {
		return ServerHandle{}, fmt.Errorf("%w: no server found in %s", ErrNoMatch, path)
	}

	return c.CreateServerFromBean(ctx, beans[0], id, opts...)
}

// DeleteServerAsync sends server/deleteServer and returns the acknowledgement without
// waiting for the serverRemoved event.
func (c *Client) DeleteServerAsync(ctx context.Context, handle ServerHandle, opts ...CallOption) (Status, error) {
	if handle.ID == "" {
		return Status{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}
	var status Status
	if err := c.call(ctx, MethodDeleteServer, handle, &status, opts); err != nil {
		return Status{}, err
	}
	return status, nil
}

// DeleteServer sends server/deleteServer and returns the removed handle once the server
// broadcast serverRemoved for it.
func (c *Client) DeleteServer(ctx context.Context, handle ServerHandle, opts ...CallOption) (ServerHandle, error) {
	if handle.ID == "" {
		return ServerHandle{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}
	_, engine, err := c.connection()
	if err != nil {
		return ServerHandle{}, err
	}

	var status Status
	return Correlate(ctx, engine, Operation[ServerHandle]{
		Description: "delete server " + handle.ID,
		Method:      MethodDeleteServer,
		Params:      handle,
		Result:      &status,
		Check:       statusCheck(&status),
		Event:       EventServerRemoved,
		Match: func(h ServerHandle) bool {
			return h.ID == handle.ID
		},
		Timeout: c.timeoutFor(MethodDeleteServer, newCallOptions(opts)),
	})
}

// beanAttributes derives the creation attributes of a server installation.
func beanAttributes(bean ServerBean) map[string]any {
	attrs := map[string]any{
		AttributeServerHome: bean.Location,
	}
	switch bean.TypeCategory {
	case beanCategoryMinishift, beanCategoryCDK:
		attrs[AttributeMinishiftBinary] = bean.Location
	}
	return attrs
}

func validateServerAttributes(attrs ServerAttributes) error {
	if attrs.ID == "" {
		return fmt.Errorf("%w: empty server id", ErrValidation)
	}
	if attrs.ServerType == "" {
		return fmt.Errorf("%w: empty server type", ErrValidation)
	}
	return nil
}

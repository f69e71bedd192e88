package rsp

import (
	"context"
	"fmt"
)

// GetDeployables lists the deployables of the server and their states.
func (c *Client) GetDeployables(ctx context.Context, handle ServerHandle, opts ...CallOption) ([]DeployableState, error) {
	if handle.ID == "" {
		return nil, fmt.Errorf("%w: empty server id", ErrValidation)
	}
	var states []DeployableState
	if err := c.call(ctx, MethodGetDeployables, handle, &states, opts); err != nil {
		return nil, err
	}
	return states, nil
}

// AddDeployable adds an artifact to the server. It is deployed on the next publish.
func (c *Client) AddDeployable(ctx context.Context, ref ServerDeployableReference, opts ...CallOption) (Status, error) {
	return c.changeDeployable(ctx, MethodAddDeployable, ref, opts)
}

// RemoveDeployable removes an artifact from the server. It is undeployed on the next
// publish.
func (c *Client) RemoveDeployable(ctx context.Context, ref ServerDeployableReference, opts ...CallOption) (Status, error) {
	return c.changeDeployable(ctx, MethodRemoveDeployable, ref, opts)
}

// Publish pushes the deployables of the server. Progress is reported through
// serverStateChanged events.
func (c *Client) Publish(ctx context.Context, req PublishServerRequest, opts ...CallOption) (Status, error) {
	if req.Server.ID == "" {
		return Status{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}
	if req.Kind < PublishIncremental || req.Kind > PublishClean {
		return Status{}, fmt.Errorf("%w: unknown publish kind %d", ErrValidation, req.Kind)
	}
	var status Status
	if err := c.call(ctx, MethodPublish, req, &status, opts); err != nil {
		return Status{}, err
	}
	return status, nil
}

func (c *Client) changeDeployable(ctx context.Context, method string, ref ServerDeployableReference, opts []CallOption) (Status, error) {
	if ref.Server.ID == "" {
		return Status{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}
	if ref.Deployable.Path == "" {
		return Status{}, fmt.Errorf("%w: empty deployable path", ErrValidation)
	}
	var status Status
	if err := c.call(ctx, method, ref, &status, opts); err != nil {
		return Status{}, err
	}
	return status, nil
}

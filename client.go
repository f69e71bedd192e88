package rsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client implements a Runtime Server Protocol client. It exposes the plain requests of
// the protocol and synchronous workflows (create, delete, start, stop, discovery paths)
// that return only once the server broadcast the resulting change.
//
// Broadcast notifications are published on the client's EventBus, available through Bus
// before and after Connect. Listeners registered there run on the read loop and must not
// block; in particular they must not call the synchronous workflows.
//
// A Client is created with NewClient, connected with Connect and released with Close.
type Client struct {
	transport ClientTransport
	logger    *slog.Logger
	bus       *EventBus
	metrics   *Metrics

	capabilities  map[string]string
	promptHandler StringPromptHandler

	writeTimeout   time.Duration
	requestTimeout time.Duration
	longTimeout    time.Duration
	methodTimeouts map[string]time.Duration

	lock               sync.RWMutex
	conn               *Conn
	engine             *Engine
	serverCapabilities ServerCapabilitiesResponse
	cancel             context.CancelFunc
	group              *errgroup.Group
	// Listeners the client put on bus for the current connection.
	owned []*Subscription
}

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// CallOption adjusts a single client call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout    time.Duration
	attributes map[string]any
}

const (
	// DefaultRequestTimeout bounds metadata requests.
	DefaultRequestTimeout = 2 * time.Second
	// DefaultLongTimeout bounds requests that make the server touch the filesystem or
	// processes, and every correlated workflow.
	DefaultLongTimeout = 60 * time.Second

	defaultClientWriteTimeout = 30 * time.Second
)

var longRunningMethods = map[string]bool{
	MethodFindServerBeans:        true,
	MethodAddDiscoveryPath:       true,
	MethodRemoveDiscoveryPath:    true,
	MethodCreateServer:           true,
	MethodDeleteServer:           true,
	MethodStartServerAsync:       true,
	MethodStopServerAsync:        true,
	MethodServerStartingByClient: true,
	MethodServerStartedByClient:  true,
	MethodAddDeployable:          true,
	MethodRemoveDeployable:       true,
	MethodPublish:                true,
}

// WithClientLogger sets the logger for the client and the connection it opens.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientMetrics records correlated operations and received events in m.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClientCapabilities adds entries to the capability map sent to the server on
// Connect.
func WithClientCapabilities(capabilities map[string]string) ClientOption {
	return func(c *Client) {
		maps.Copy(c.capabilities, capabilities)
	}
}

// WithStringPromptHandler sets the handler answering client/promptString requests and
// advertises the capability to the server.
func WithStringPromptHandler(handler StringPromptHandler) ClientOption {
	return func(c *Client) {
		c.promptHandler = handler
	}
}

// WithClientWriteTimeout sets the write timeout for the client.
func WithClientWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

// WithClientRequestTimeout sets the default timeout of metadata requests.
func WithClientRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// WithClientLongTimeout sets the default timeout of long-running requests and correlated
// workflows.
func WithClientLongTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.longTimeout = timeout
	}
}

// WithMethodTimeout overrides the default timeout of one protocol method.
func WithMethodTimeout(method string, timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.methodTimeouts[method] = timeout
	}
}

// WithTimeout overrides the timeout of a single call.
func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = timeout
	}
}

// WithAttributes adds creation attributes on top of the ones derived from a server bean.
// It is ignored by calls that do not create servers.
func WithAttributes(attributes map[string]any) CallOption {
	return func(o *callOptions) {
		if o.attributes == nil {
			o.attributes = make(map[string]any, len(attributes))
		}
		maps.Copy(o.attributes, attributes)
	}
}

// NewClient creates a Runtime Server Protocol client talking through transport.
//
// The client will not be connected until Connect() is called.
func NewClient(transport ClientTransport, options ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		logger:    slog.Default(),
		capabilities: map[string]string{
			CapabilityProtocolVersion: ProtocolVersion,
		},
		methodTimeouts: make(map[string]time.Duration),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.writeTimeout == 0 {
		c.writeTimeout = defaultClientWriteTimeout
	}
	if c.requestTimeout == 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.longTimeout == 0 {
		c.longTimeout = DefaultLongTimeout
	}
	if c.promptHandler != nil {
		c.capabilities[CapabilityPromptString] = "true"
	}

	c.bus = NewEventBus(WithBusLogger(c.logger))

	return c
}

// Connect starts a session through the transport, starts the read loop and registers the
// client capabilities with the server. The session lives until Close, independently of
// ctx, which only bounds the handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn != nil {
		return errors.New("client already connected")
	}

	sess, err := c.transport.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to start session: %w", ErrTransport, err)
	}

	conn := NewConn(sess, WithConnLogger(c.logger), WithConnWriteTimeout(c.writeTimeout))
	BindEvents(conn, c.bus, c.logger)
	if c.promptHandler != nil {
		conn.OnRequest(MethodPromptString, c.handlePromptString)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, gCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return conn.Serve(gCtx)
	})

	abort := func() {
		cancel()
		_ = conn.Close()
		_ = group.Wait()
	}

	rCtx, rCancel := context.WithTimeout(ctx, c.timeoutFor(MethodRegisterClientCapabilities, callOptions{}))
	defer rCancel()

	var res ServerCapabilitiesResponse
	params := ClientCapabilitiesRequest{Map: maps.Clone(c.capabilities)}
	if err := conn.Call(rCtx, MethodRegisterClientCapabilities, params, &res); err != nil {
		abort()
		return fmt.Errorf("failed to register client capabilities: %w", err)
	}
	if err := res.ClientRegistrationStatus.Err(); err != nil {
		abort()
		return fmt.Errorf("failed to register client capabilities: %w", err)
	}

	c.owned = c.metrics.countEvents(c.bus)
	c.conn = conn
	c.engine = NewEngine(conn, c.bus, WithEngineLogger(c.logger), WithEngineMetrics(c.metrics))
	c.serverCapabilities = res
	c.cancel = cancel
	c.group = group

	c.logger.Debug("connected", slog.String("session", sess.ID()))

	return nil
}

// Close stops the read loop, closes the session and removes the listeners the client
// itself put on the bus. Listeners registered through Bus are kept, so they still
// receive events after the client connects again. Outstanding calls fail with
// ErrClosed. Closing a client that is not connected is a no-op.
func (c *Client) Close() error {
	c.lock.Lock()
	conn, cancel, group, owned := c.conn, c.cancel, c.group, c.owned
	c.conn, c.engine, c.cancel, c.group, c.owned = nil, nil, nil, nil, nil
	c.lock.Unlock()

	if conn == nil {
		return nil
	}

	cancel()
	_ = conn.Close()
	err := group.Wait()
	for _, sub := range owned {
		c.bus.Unsubscribe(sub)
	}

	return err
}

// Done returns a channel closed once the connection ended, either through Close or
// because the server went away. It returns nil when the client is not connected.
func (c *Client) Done() <-chan struct{} {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.conn == nil {
		return nil
	}
	return c.conn.Done()
}

// Bus returns the event bus of the client.
func (c *Client) Bus() *EventBus {
	return c.bus
}

// ServerCapabilities returns the capabilities the server answered on Connect.
func (c *Client) ServerCapabilities() ServerCapabilitiesResponse {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.serverCapabilities
}

// GetServerTypes lists the server types the server can create.
func (c *Client) GetServerTypes(ctx context.Context, opts ...CallOption) ([]ServerType, error) {
	var types []ServerType
	if err := c.call(ctx, MethodGetServerTypes, nil, &types, opts); err != nil {
		return nil, err
	}
	return types, nil
}

// GetServerHandles lists the servers currently defined on the server.
func (c *Client) GetServerHandles(ctx context.Context, opts ...CallOption) ([]ServerHandle, error) {
	var handles []ServerHandle
	if err := c.call(ctx, MethodGetServerHandles, nil, &handles, opts); err != nil {
		return nil, err
	}
	return handles, nil
}

// GetRequiredAttributes returns the attributes a server of type st must be created with.
func (c *Client) GetRequiredAttributes(ctx context.Context, st ServerType, opts ...CallOption) (Attributes, error) {
	if st.ID == "" {
		return Attributes{}, fmt.Errorf("%w: empty server type", ErrValidation)
	}
	var attrs Attributes
	if err := c.call(ctx, MethodGetRequiredAttributes, st, &attrs, opts); err != nil {
		return Attributes{}, err
	}
	return attrs, nil
}

// GetOptionalAttributes returns the attributes a server of type st may be created with.
func (c *Client) GetOptionalAttributes(ctx context.Context, st ServerType, opts ...CallOption) (Attributes, error) {
	if st.ID == "" {
		return Attributes{}, fmt.Errorf("%w: empty server type", ErrValidation)
	}
	var attrs Attributes
	if err := c.call(ctx, MethodGetOptionalAttributes, st, &attrs, opts); err != nil {
		return Attributes{}, err
	}
	return attrs, nil
}

// GetServerState returns the current state of the server.
func (c *Client) GetServerState(ctx context.Context, handle ServerHandle, opts ...CallOption) (ServerState, error) {
	if handle.ID == "" {
		return ServerState{}, fmt.Errorf("%w: empty server id", ErrValidation)
	}
	var state ServerState
	if err := c.call(ctx, MethodGetServerState, handle, &state, opts); err != nil {
		return ServerState{}, err
	}
	return state, nil
}

// ShutdownServer asks the server process to terminate. No response is expected.
func (c *Client) ShutdownServer(ctx context.Context) error {
	conn, _, err := c.connection()
	if err != nil {
		return err
	}
	return conn.Notify(ctx, MethodShutdown, nil)
}

// DisconnectClient tells the server this client is leaving. The connection stays open
// until Close.
func (c *Client) DisconnectClient(ctx context.Context) error {
	conn, _, err := c.connection()
	if err != nil {
		return err
	}
	return conn.Notify(ctx, MethodDisconnectClient, nil)
}

func (c *Client) handlePromptString(ctx context.Context, params json.RawMessage) (any, error) {
	var prompt StringPrompt
	if err := json.Unmarshal(params, &prompt); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal prompt: %w", ErrValidation, err)
	}

	answer, err := c.promptHandler.PromptString(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to prompt string: %w", err)
	}
	return answer, nil
}

func (c *Client) connection() (*Conn, *Engine, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.conn == nil {
		return nil, nil, ErrNotConnected
	}
	return c.conn, c.engine, nil
}

// call sends a plain request bounded by the timeout of method.
func (c *Client) call(ctx context.Context, method string, params, result any, opts []CallOption) error {
	conn, _, err := c.connection()
	if err != nil {
		return err
	}

	timeout := c.timeoutFor(method, newCallOptions(opts))
	cCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = conn.Call(cCtx, method, params, result)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)
	}
	return err
}

// timeoutFor resolves the timeout of method: per call, then per method, then by class.
func (c *Client) timeoutFor(method string, o callOptions) time.Duration {
	if o.timeout > 0 {
		return o.timeout
	}
	if t, ok := c.methodTimeouts[method]; ok && t > 0 {
		return t
	}
	if longRunningMethods[method] {
		return c.longTimeout
	}
	return c.requestTimeout
}

func newCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

package rsp

import (
	"encoding/json"
	"fmt"
)

// MustString is a type that enforces string representation for fields that can be either string or integer
// in the protocol, such as request IDs. It handles automatic conversion during JSON marshaling/unmarshaling.
type MustString string

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication with an RSP server.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID MustString `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	Data any `json:"data,omitempty"`
}

// ServerType describes a kind of server the remote side knows how to manage, such as a
// particular WildFly or EAP release.
type ServerType struct {
	ID          string `json:"id"`
	VisibleName string `json:"visibleName,omitempty"`
	Description string `json:"description,omitempty"`
}

// ServerHandle identifies a server instance managed by the remote side. The ID is unique
// within one remote.
type ServerHandle struct {
	ID   string     `json:"id"`
	Type ServerType `json:"type"`
}

// ServerState is the payload of the serverStateChanged event and the result of
// server/getServerState.
type ServerState struct {
	Server           ServerHandle      `json:"server"`
	State            RunState          `json:"state"`
	PublishState     PublishState      `json:"publishState"`
	RunMode          string            `json:"runMode,omitempty"`
	DeployableStates []DeployableState `json:"deployableStates,omitempty"`
}

// DiscoveryPath is a filesystem location the remote scans for server installations.
// The path string is its natural key.
type DiscoveryPath struct {
	Filepath string `json:"filepath"`
}

// ServerBean describes a server installation found under a discovery path.
type ServerBean struct {
	Location            string `json:"location"`
	TypeCategory        string `json:"typeCategory"`
	SpecificType        string `json:"specificType,omitempty"`
	Name                string `json:"name"`
	Version             string `json:"version,omitempty"`
	FullVersion         string `json:"fullVersion,omitempty"`
	ServerAdapterTypeID string `json:"serverAdapterTypeId"`
}

// ServerAttributes are the parameters of server/createServer.
type ServerAttributes struct {
	ServerType string         `json:"serverType"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// Attribute describes one configurable key of a server type or launch mode.
type Attribute struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	DefaultVal  any    `json:"defaultVal,omitempty"`
	Secret      bool   `json:"secret,omitempty"`
}

// Attributes is the result of the get*Attributes family of requests.
type Attributes struct {
	Attributes map[string]Attribute `json:"attributes"`
}

// Status is the remote's acknowledgement of an operation.
type Status struct {
	Severity  Severity `json:"severity"`
	PluginID  string   `json:"plugin,omitempty"`
	Code      int      `json:"code,omitempty"`
	Message   string   `json:"message,omitempty"`
	Trace     string   `json:"trace,omitempty"`
	Exception string   `json:"exception,omitempty"`
}

// CreateServerResponse is the acknowledgement of server/createServer.
type CreateServerResponse struct {
	Status      Status   `json:"status"`
	InvalidKeys []string `json:"invalidKeys,omitempty"`
}

// LaunchParameters are the parameters of server/startServerAsync and related launch
// requests.
type LaunchParameters struct {
	Mode   string           `json:"mode"`
	Params ServerAttributes `json:"params"`
}

// StartServerResponse is the acknowledgement of server/startServerAsync.
type StartServerResponse struct {
	Status  Status             `json:"status"`
	Details CommandLineDetails `json:"details"`
}

// CommandLineDetails describes the process the remote would launch for a server.
type CommandLineDetails struct {
	Cmdline    []string          `json:"cmdLine"`
	WorkingDir string            `json:"workingDir,omitempty"`
	Envp       []string          `json:"envp,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// StopServerAttributes are the parameters of server/stopServerAsync.
type StopServerAttributes struct {
	ID    string `json:"id"`
	Force bool   `json:"force"`
}

// ServerStartingAttributes are the parameters of server/serverStartingByClient.
type ServerStartingAttributes struct {
	InitiatePolling bool             `json:"initiatePolling"`
	Request         LaunchParameters `json:"request"`
}

// ServerLaunchMode is one entry of server/getLaunchModes.
type ServerLaunchMode struct {
	Mode        string `json:"mode"`
	Description string `json:"desc,omitempty"`
}

// LaunchAttributesRequest are the parameters of the get*LaunchAttributes requests.
type LaunchAttributesRequest struct {
	ServerTypeID string `json:"id"`
	Mode         string `json:"mode"`
}

// DeployableReference points at an artifact that can be deployed to a server.
type DeployableReference struct {
	Label   string         `json:"label"`
	Path    string         `json:"path"`
	Options map[string]any `json:"options,omitempty"`
}

// DeployableState is the publish and run state of one deployable on a server.
type DeployableState struct {
	Server       ServerHandle        `json:"server"`
	Reference    DeployableReference `json:"reference"`
	PublishState PublishState        `json:"publishState"`
	State        RunState            `json:"state"`
}

// ServerDeployableReference are the parameters of server/addDeployable and
// server/removeDeployable.
type ServerDeployableReference struct {
	Server     ServerHandle        `json:"server"`
	Deployable DeployableReference `json:"deployableReference"`
}

// PublishServerRequest are the parameters of server/publish.
type PublishServerRequest struct {
	Server ServerHandle `json:"server"`
	Kind   PublishKind  `json:"kind"`
}

// ServerProcess identifies a process the remote launched for a server.
type ServerProcess struct {
	Server    ServerHandle `json:"server"`
	ProcessID string       `json:"processId"`
}

// ServerProcessOutput is the payload of the serverProcessOutputAppended event.
type ServerProcessOutput struct {
	Server     ServerHandle `json:"server"`
	ProcessID  string       `json:"processId"`
	StreamType int          `json:"streamType"`
	Text       string       `json:"text"`
}

// ClientCapabilitiesRequest are the parameters of server/registerClientCapabilities.
type ClientCapabilitiesRequest struct {
	Map map[string]string `json:"map"`
}

// ServerCapabilitiesResponse is the result of server/registerClientCapabilities.
type ServerCapabilitiesResponse struct {
	ServerCapabilities       map[string]string `json:"serverCapabilities"`
	ClientRegistrationStatus Status            `json:"clientRegistrationStatus"`
}

// StringPrompt is the parameter of the client/promptString request the remote sends when
// it needs a value from the user, such as a password.
type StringPrompt struct {
	ID     int    `json:"id"`
	Prompt string `json:"prompt"`
	Secret bool   `json:"secret,omitempty"`
}

// Severity classifies a Status. Values are bit flags as sent by the remote.
type Severity int

// PublishKind selects how server/publish pushes deployables.
type PublishKind int

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// MethodRegisterClientCapabilities announces the client capabilities and returns the
	// remote's capabilities.
	MethodRegisterClientCapabilities = "server/registerClientCapabilities"
	// MethodShutdown asks the remote to terminate. It is a notification.
	MethodShutdown = "server/shutdown"
	// MethodDisconnectClient tells the remote this client is leaving. It is a notification.
	MethodDisconnectClient = "server/disconnectClient"

	MethodGetDiscoveryPaths   = "server/getDiscoveryPaths"
	MethodFindServerBeans     = "server/findServerBeans"
	MethodAddDiscoveryPath    = "server/addDiscoveryPath"
	MethodRemoveDiscoveryPath = "server/removeDiscoveryPath"

	MethodGetServerHandles      = "server/getServerHandles"
	MethodGetServerTypes        = "server/getServerTypes"
	MethodGetRequiredAttributes = "server/getRequiredAttributes"
	MethodGetOptionalAttributes = "server/getOptionalAttributes"
	MethodCreateServer          = "server/createServer"
	MethodDeleteServer          = "server/deleteServer"
	MethodGetServerState        = "server/getServerState"

	MethodGetLaunchModes              = "server/getLaunchModes"
	MethodGetRequiredLaunchAttributes = "server/getRequiredLaunchAttributes"
	MethodGetOptionalLaunchAttributes = "server/getOptionalLaunchAttributes"
	MethodGetLaunchCommand            = "server/getLaunchCommand"
	MethodServerStartingByClient      = "server/serverStartingByClient"
	MethodServerStartedByClient       = "server/serverStartedByClient"
	MethodStartServerAsync            = "server/startServerAsync"
	MethodStopServerAsync             = "server/stopServerAsync"

	MethodGetDeployables   = "server/getDeployables"
	MethodAddDeployable    = "server/addDeployable"
	MethodRemoveDeployable = "server/removeDeployable"
	MethodPublish          = "server/publish"

	// MethodPromptString is the only request the remote sends to the client.
	MethodPromptString = "client/promptString"

	// RunModeRun and RunModeDebug are the launch modes every server type supports.
	RunModeRun   = "run"
	RunModeDebug = "debug"

	// AttributeServerHome is the attribute key carrying a server installation directory.
	AttributeServerHome = "server.home.dir"
	// AttributeMinishiftBinary is the attribute key carrying a minishift or CDK binary.
	AttributeMinishiftBinary = "minishift.binary"

	// CapabilityPromptString advertises that the client answers client/promptString.
	CapabilityPromptString = "prompt.string"
	// CapabilityProtocolVersion advertises the protocol version the client speaks.
	CapabilityProtocolVersion = "protocol.version"

	// ProtocolVersion is the protocol version this client implements.
	ProtocolVersion = "0.23.0"
)

const (
	SeverityOK      Severity = 0
	SeverityInfo    Severity = 1
	SeverityWarning Severity = 2
	SeverityError   Severity = 4
	SeverityCancel  Severity = 8
)

const (
	PublishIncremental PublishKind = iota + 1
	PublishFull
	PublishAuto
	PublishClean
)

const (
	// Bean categories that need extra creation attributes.
	beanCategoryMinishift = "MINISHIFT"
	beanCategoryCDK       = "CDK"
)

const (
	jsonRPCInvalidRequestCode = -32600
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into MustString,
// handling both string and numeric input formats. A null ID decodes as empty.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case nil:
		*m = ""
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int64(v)))
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler to convert MustString into its JSON representation,
// always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}

// IsOK reports whether the status carries neither an error nor a cancellation.
func (s Status) IsOK() bool {
	return s.Severity&(SeverityError|SeverityCancel) == 0
}

// Err returns a *StatusError for a non-OK status and nil otherwise.
func (s Status) Err() error {
	if s.IsOK() {
		return nil
	}
	return &StatusError{Status: s}
}

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCancel:
		return "CANCEL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

func (k PublishKind) String() string {
	switch k {
	case PublishIncremental:
		return "INCREMENTAL"
	case PublishFull:
		return "FULL"
	case PublishAuto:
		return "AUTO"
	case PublishClean:
		return "CLEAN"
	default:
		return fmt.Sprintf("PublishKind(%d)", int(k))
	}
}

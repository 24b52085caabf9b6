package ui

import (
	"encoding/json"
	"slices"
)

// Protocol revisions this module understands, oldest first.
var SupportedProtocolVersions = []string{
	"2025-11-21",
}

// LatestProtocolVersion is the newest revision in SupportedProtocolVersions.
const LatestProtocolVersion = "2025-11-21"

// NegotiateProtocolVersion picks the revision a session will speak. It never
// fails: a requested revision the host knows is echoed back, anything else
// falls back to the latest revision the host supports. The requester decides
// whether the answer is acceptable.
func NegotiateProtocolVersion(requested string) string {
	if slices.Contains(SupportedProtocolVersions, requested) {
		return requested
	}
	return LatestProtocolVersion
}

// Method names, guest-originated unless noted.
const (
	// Requests from guest to host.
	MethodInitialize     = "ui/initialize"
	MethodMessage        = "ui/message"
	MethodOpenLink       = "ui/open-link"
	MethodLoggingMessage = "notifications/message"
	MethodToolsCall      = "tools/call"
	MethodResourcesRead  = "resources/read"
	MethodPing           = "ping"

	// Request from host to guest.
	MethodResourceTeardown = "ui/resource-teardown"

	// Notifications from guest to host.
	MethodNotifyInitialized = "ui/notifications/initialized"
	MethodNotifySizeChanged = "ui/notifications/size-changed"

	// Notifications from host to guest.
	MethodNotifyToolInput          = "ui/notifications/tool-input"
	MethodNotifyToolInputPartial   = "ui/notifications/tool-input-partial"
	MethodNotifyToolResult         = "ui/notifications/tool-result"
	MethodNotifyToolCancelled      = "ui/notifications/tool-cancelled"
	MethodNotifyHostContextChanged = "ui/notifications/host-context-changed"
)

// InitializeRequest opens the handshake. Sent by the guest as its first
// envelope on a fresh session.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	AppInfo         ImplementationInfo `json:"appInfo"`
	Capabilities    AppCapabilities    `json:"appCapabilities"`
	// Tools lists the custom tools the guest serves, if any. Only meaningful
	// when Capabilities.Tools is set.
	Tools []Tool `json:"tools,omitempty"`
}

// InitializeResult answers the handshake with the negotiated revision and the
// host's declared capabilities plus the initial environment snapshot.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	HostInfo        ImplementationInfo `json:"hostInfo"`
	Capabilities    HostCapabilities   `json:"hostCapabilities"`
	HostContext     HostContext        `json:"hostContext"`
}

// MessageParams carries a conversation message from the guest.
type MessageParams struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
	// StructuredContent holds machine-readable content alongside the blocks.
	// Requires the host to support the structured-content modality.
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// MessageResult reports the host's verdict on a conversation message. A
// refusal (the user declined, the host suppressed it) is an expected outcome
// carried here, not a protocol error.
type MessageResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitzero"`
}

// OpenLinkParams asks the host to open a URL outside the embedded surface.
type OpenLinkParams struct {
	URL string `json:"url"`
}

// OpenLinkResult reports whether the host opened the link.
type OpenLinkResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitzero"`
}

// Decision is a host listener's verdict on a request whose refusal is an
// expected outcome rather than a fault. Listener errors stay reserved for
// genuine failures.
type Decision struct {
	Accepted bool
	Reason   string
}

// Accept approves the request.
func Accept() Decision { return Decision{Accepted: true} }

// Decline refuses the request with an optional reason shown to the guest.
func Decline(reason string) Decision { return Decision{Reason: reason} }

// LoggingMessageParams forwards a structured log record to the host.
type LoggingMessageParams struct {
	Level  LoggingLevel    `json:"level"`
	Logger string          `json:"logger,omitzero"`
	Data   json.RawMessage `json:"data"`
}

// ToolCallParams invokes a tool by name. Flows guest-to-host for server tools
// and host-to-guest for guest custom tools.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the outcome of a tool invocation.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	// IsError marks a tool-level failure delivered as a result rather than a
	// protocol error.
	IsError           bool            `json:"isError,omitzero"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// ResourcesReadParams asks the host's server for a resource by URI.
type ResourcesReadParams struct {
	URI string `json:"uri"`
}

// ResourcesReadResult returns the resource contents.
type ResourcesReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ResourceTeardownParams asks the guest to release resources before the
// surface is destroyed.
type ResourceTeardownParams struct{}

// ResourceTeardownResult acknowledges the teardown request.
type ResourceTeardownResult struct{}

// SizeChangedParams reports the guest's rendered content size in CSS pixels.
type SizeChangedParams struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToolInputPartialParams streams an in-progress view of tool input.
type ToolInputPartialParams struct {
	InvocationID string          `json:"invocationId"`
	ToolName     string          `json:"toolName"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
}

// ToolInputParams delivers the finalized tool input for an invocation.
type ToolInputParams struct {
	InvocationID string          `json:"invocationId"`
	ToolName     string          `json:"toolName"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultParams delivers the terminal result of an invocation.
type ToolResultParams struct {
	InvocationID string         `json:"invocationId"`
	Content      []ContentBlock `json:"content,omitempty"`
	IsError      bool           `json:"isError,omitzero"`
}

// ToolCancelledParams marks an invocation as terminated without a result.
type ToolCancelledParams struct {
	InvocationID string `json:"invocationId"`
	Reason       string `json:"reason,omitzero"`
}

// HostContextChangedParams carries a partial environment update. Only the
// fields present in Context changed; everything absent is unchanged.
type HostContextChangedParams struct {
	Context HostContext `json:"context"`
}

// PingParams is the liveness probe payload.
type PingParams struct{}

// PingResult is the liveness probe acknowledgement.
type PingResult struct{}

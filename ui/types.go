package ui

import "encoding/json"

// Role indicates the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// LoggingLevel represents structured log severity, matching the syslog set.
type LoggingLevel string

const (
	LoggingLevelDebug   LoggingLevel = "debug"
	LoggingLevelInfo    LoggingLevel = "info"
	LoggingLevelNotice  LoggingLevel = "notice"
	LoggingLevelWarning LoggingLevel = "warning"
	LoggingLevelError   LoggingLevel = "error"
)

// ImplementationInfo identifies one side of the bridge.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// Capabilities are presence-typed: a nil pointer means the feature was never
// declared and any method depending on it must be rejected before dispatch.

// AppCapabilities is the guest-declared capability set.
type AppCapabilities struct {
	// Tools declares that the guest serves tools/call requests for the
	// custom tools it listed during initialization.
	Tools *AppToolsCapability `json:"tools,omitempty"`
	// Experimental carries forward-compatible feature flags.
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// AppToolsCapability is the presence flag for guest custom tools.
type AppToolsCapability struct{}

// HostCapabilities is the host-declared capability set.
type HostCapabilities struct {
	// OpenLinks allows the guest to ask for a URL to be opened externally.
	OpenLinks *OpenLinksCapability `json:"openLinks,omitempty"`
	// ServerTools allows the guest to forward tools/call to the host's
	// tool-execution server.
	ServerTools *ServerToolsCapability `json:"serverTools,omitempty"`
	// ServerResources allows the guest to forward resources/read.
	ServerResources *ServerResourcesCapability `json:"serverResources,omitempty"`
	// Logging accepts structured log notifications from the guest.
	Logging *LoggingCapability `json:"logging,omitempty"`
	// Message accepts conversation messages from the guest, constrained to
	// the declared content modalities.
	Message *MessageCapability `json:"message,omitempty"`
}

// OpenLinksCapability is the presence flag for external link opening.
type OpenLinksCapability struct{}

// ServerToolsCapability is the presence flag for tool-call forwarding.
type ServerToolsCapability struct{}

// ServerResourcesCapability is the presence flag for resource-read forwarding.
type ServerResourcesCapability struct{}

// LoggingCapability is the presence flag for log forwarding.
type LoggingCapability struct{}

// MessageCapability declares conversation-message support along with the
// content modalities the host accepts. A nil Modalities set means the host
// did not constrain modalities; validation then always succeeds.
type MessageCapability struct {
	Modalities ModalitySet `json:"modalities,omitempty"`
}

// ModalitySet is the set of supported modality keys, e.g. {"text": {}}.
type ModalitySet map[string]struct{}

// Has reports membership in the set.
func (s ModalitySet) Has(key string) bool {
	_, present := s[key]
	return present
}

// ContentBlock is one typed part of a conversation message or tool result.
type ContentBlock struct {
	Type string `json:"type"`
	// For text blocks.
	Text string `json:"text,omitzero"`
	// For image and audio blocks.
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
	// For embedded resources.
	Resource *ResourceContents `json:"resource,omitempty"`
	// For resource links.
	URI         string `json:"uri,omitzero"`
	Name        string `json:"name,omitzero"`
	Description string `json:"description,omitzero"`
}

// TextBlock builds a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ResourceContents is the value of a resource read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitzero"`
	// For text resources.
	Text string `json:"text,omitzero"`
	// For binary resources, base64 encoded.
	Blob string `json:"blob,omitzero"`
}

// Tool describes a guest-declared custom tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitzero"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON-schema-like description of tool input.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitzero"`
}

// SchemaProperty is a simplified schema node used in tool schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}

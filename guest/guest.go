// Package guest implements the guest side of the bridge: it drives the
// handshake, keeps a merged view of the host environment, surfaces tool
// lifecycle events to the embedding UI code, and rejects operations locally
// when the host never declared the capability they depend on.
package guest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uibridge/uibridge-go/internal/jsonrpc"
	"github.com/uibridge/uibridge-go/internal/logctx"
	"github.com/uibridge/uibridge-go/protocol"
	"github.com/uibridge/uibridge-go/ui"
)

// State is the session lifecycle position as seen by the guest.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateInitialized  State = "initialized"
	StateReady        State = "ready"
	StateClosed       State = "closed"
)

// ToolHandler serves one of the guest's declared custom tools.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*ui.ToolCallResult, error)

// Guest is the guest-side bridge over a single host session.
type Guest struct {
	engine *protocol.Engine
	log    *slog.Logger
	info   ui.ImplementationInfo

	mu              sync.Mutex
	state           State
	caps            ui.AppCapabilities
	tools           []ui.Tool
	toolHandlers    map[string]ToolHandler
	protocolVersion string
	hostInfo        ui.ImplementationInfo
	hostCaps        ui.HostCapabilities
	hostCtx         ui.HostContext

	onToolInput          func(context.Context, *ui.ToolInputParams)
	onToolInputPartial   func(context.Context, *ui.ToolInputPartialParams)
	onToolResult         func(context.Context, *ui.ToolResultParams)
	onToolCancelled      func(context.Context, *ui.ToolCancelledParams)
	onHostContextChanged func(context.Context, ui.HostContext)
	onSizeChanged        func(ctx context.Context, width, height float64)
	onTeardown           func(context.Context) error
}

// Option configures a Guest.
type Option func(*Guest)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(g *Guest) { g.log = log }
}

// WithAppInfo sets the implementation info sent in the handshake.
func WithAppInfo(info ui.ImplementationInfo) Option {
	return func(g *Guest) { g.info = info }
}

// New builds a guest bridge over the transport. Register tools and listeners,
// then call Connect.
func New(t protocol.Transport, opts ...Option) *Guest {
	g := &Guest{
		log:          slog.Default(),
		state:        StateDisconnected,
		toolHandlers: make(map[string]ToolHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.engine = protocol.NewEngine(t, protocol.WithLogger(g.log))
	g.engine.SetRequestHandler(ui.MethodResourceTeardown, g.handleTeardown)
	g.engine.SetRequestHandler(ui.MethodToolsCall, g.handleToolsCall)
	g.engine.SetRequestHandler(ui.MethodPing, g.handlePing)
	g.engine.SetNotificationHandler(ui.MethodNotifyToolInput, g.handleToolInput)
	g.engine.SetNotificationHandler(ui.MethodNotifyToolInputPartial, g.handleToolInputPartial)
	g.engine.SetNotificationHandler(ui.MethodNotifyToolResult, g.handleToolResult)
	g.engine.SetNotificationHandler(ui.MethodNotifyToolCancelled, g.handleToolCancelled)
	g.engine.SetNotificationHandler(ui.MethodNotifyHostContextChanged, g.handleHostContextChanged)
	g.engine.SetNotificationHandler(ui.MethodNotifySizeChanged, g.handleSizeChanged)
	return g
}

// RegisterTool declares a custom tool and its handler. Must be called before
// Connect so the tool appears in the handshake.
func (g *Guest) RegisterTool(tool ui.Tool, fn ToolHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateDisconnected {
		return fmt.Errorf("tool %q registered after connect", tool.Name)
	}
	if _, dup := g.toolHandlers[tool.Name]; dup {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	g.tools = append(g.tools, tool)
	g.toolHandlers[tool.Name] = fn
	g.caps.Tools = &ui.AppToolsCapability{}
	return nil
}

// Connect starts the transport and runs the handshake: ui/initialize, then
// the initialized notification once the host's answer arrives. The guest
// accepts whatever protocol revision the host negotiated.
func (g *Guest) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateDisconnected {
		g.mu.Unlock()
		return protocol.ErrAlreadyStarted
	}
	g.state = StateConnecting
	caps := g.caps
	tools := g.tools
	g.mu.Unlock()

	startCtx := logctx.WithSessionData(ctx, &logctx.SessionData{
		Role:  "guest",
		State: string(StateConnecting),
	})
	if err := g.engine.Start(startCtx); err != nil {
		g.mu.Lock()
		g.state = StateDisconnected
		g.mu.Unlock()
		return err
	}

	resp, err := g.engine.Call(ctx, ui.MethodInitialize, &ui.InitializeRequest{
		ProtocolVersion: ui.LatestProtocolVersion,
		AppInfo:         g.info,
		Capabilities:    caps,
		Tools:           tools,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var result ui.InitializeResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	g.mu.Lock()
	g.state = StateInitialized
	g.protocolVersion = result.ProtocolVersion
	g.hostInfo = result.HostInfo
	g.hostCaps = result.Capabilities
	g.hostCtx = result.HostContext
	g.mu.Unlock()

	if err := g.engine.Notify(ctx, ui.MethodNotifyInitialized, nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	g.mu.Lock()
	g.state = StateReady
	g.mu.Unlock()

	g.log.InfoContext(ctx, "connected to host",
		slog.String("host", result.HostInfo.Name),
		slog.String("protocol_version", result.ProtocolVersion))
	return nil
}

// Close tears the session down.
func (g *Guest) Close(cause error) error {
	g.mu.Lock()
	g.state = StateClosed
	g.mu.Unlock()
	g.engine.Close(cause)
	return nil
}

// Done is closed when the session ends.
func (g *Guest) Done() <-chan struct{} { return g.engine.Done() }

// State reports the current session state.
func (g *Guest) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// HostInfo returns the host's implementation info once connected.
func (g *Guest) HostInfo() ui.ImplementationInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hostInfo
}

// HostCapabilities returns the capability set the host declared.
func (g *Guest) HostCapabilities() ui.HostCapabilities {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hostCaps
}

// ProtocolVersion returns the negotiated protocol revision.
func (g *Guest) ProtocolVersion() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.protocolVersion
}

// HostContext returns the merged environment snapshot: the handshake value
// plus every partial update received since.
func (g *Guest) HostContext() ui.HostContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hostCtx
}

// --- listener slots, at most one per event ---

// OnToolInput registers the finalized-tool-input listener.
func (g *Guest) OnToolInput(fn func(context.Context, *ui.ToolInputParams)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onToolInput = fn
}

// OnToolInputPartial registers the streaming-input listener.
func (g *Guest) OnToolInputPartial(fn func(context.Context, *ui.ToolInputPartialParams)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onToolInputPartial = fn
}

// OnToolResult registers the tool-result listener.
func (g *Guest) OnToolResult(fn func(context.Context, *ui.ToolResultParams)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onToolResult = fn
}

// OnToolCancelled registers the tool-cancelled listener.
func (g *Guest) OnToolCancelled(fn func(context.Context, *ui.ToolCancelledParams)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onToolCancelled = fn
}

// OnHostContextChanged registers the environment-change listener. It receives
// the full merged snapshot, not the raw partial.
func (g *Guest) OnHostContextChanged(fn func(context.Context, ui.HostContext)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onHostContextChanged = fn
}

// OnSizeChanged registers the host surface size listener.
func (g *Guest) OnSizeChanged(fn func(ctx context.Context, width, height float64)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onSizeChanged = fn
}

// OnTeardown registers cleanup to run when the host announces teardown. The
// handler must return promptly: the host proceeds with destruction after its
// deadline whether or not the guest acknowledged. Without a handler teardown
// is acknowledged immediately.
func (g *Guest) OnTeardown(fn func(context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTeardown = fn
}

// --- inbound handlers ---

func (g *Guest) handleTeardown(ctx context.Context, _ *jsonrpc.Request) (any, error) {
	g.mu.Lock()
	fn := g.onTeardown
	g.mu.Unlock()
	if fn != nil {
		if err := fn(ctx); err != nil {
			return nil, err
		}
	}
	return &ui.ResourceTeardownResult{}, nil
}

func (g *Guest) handleToolsCall(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var params ui.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
	}

	g.mu.Lock()
	declared := g.caps.Tools != nil
	fn := g.toolHandlers[params.Name]
	g.mu.Unlock()
	if !declared || fn == nil {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeMethodNotFound,
			Message: fmt.Sprintf("no tool named %q", params.Name),
		}
	}
	return fn(ctx, params.Arguments)
}

func (g *Guest) handlePing(ctx context.Context, _ *jsonrpc.Request) (any, error) {
	return &ui.PingResult{}, nil
}

func (g *Guest) handleToolInput(ctx context.Context, note *jsonrpc.Request) {
	var params ui.ToolInputParams
	if err := json.Unmarshal(note.Params, &params); err != nil {
		g.log.WarnContext(ctx, "malformed tool-input", slog.String("error", err.Error()))
		return
	}
	g.mu.Lock()
	fn := g.onToolInput
	g.mu.Unlock()
	if fn != nil {
		fn(ctx, &params)
	}
}

func (g *Guest) handleToolInputPartial(ctx context.Context, note *jsonrpc.Request) {
	var params ui.ToolInputPartialParams
	if err := json.Unmarshal(note.Params, &params); err != nil {
		g.log.WarnContext(ctx, "malformed tool-input-partial", slog.String("error", err.Error()))
		return
	}
	g.mu.Lock()
	fn := g.onToolInputPartial
	g.mu.Unlock()
	if fn != nil {
		fn(ctx, &params)
	}
}

func (g *Guest) handleToolResult(ctx context.Context, note *jsonrpc.Request) {
	var params ui.ToolResultParams
	if err := json.Unmarshal(note.Params, &params); err != nil {
		g.log.WarnContext(ctx, "malformed tool-result", slog.String("error", err.Error()))
		return
	}
	g.mu.Lock()
	fn := g.onToolResult
	g.mu.Unlock()
	if fn != nil {
		fn(ctx, &params)
	}
}

func (g *Guest) handleToolCancelled(ctx context.Context, note *jsonrpc.Request) {
	var params ui.ToolCancelledParams
	if err := json.Unmarshal(note.Params, &params); err != nil {
		g.log.WarnContext(ctx, "malformed tool-cancelled", slog.String("error", err.Error()))
		return
	}
	g.mu.Lock()
	fn := g.onToolCancelled
	g.mu.Unlock()
	if fn != nil {
		fn(ctx, &params)
	}
}

func (g *Guest) handleHostContextChanged(ctx context.Context, note *jsonrpc.Request) {
	var params ui.HostContextChangedParams
	if err := json.Unmarshal(note.Params, &params); err != nil {
		g.log.WarnContext(ctx, "malformed host-context-changed", slog.String("error", err.Error()))
		return
	}
	g.mu.Lock()
	g.hostCtx = g.hostCtx.Merge(params.Context)
	merged := g.hostCtx
	fn := g.onHostContextChanged
	g.mu.Unlock()
	if fn != nil {
		fn(ctx, merged)
	}
}

func (g *Guest) handleSizeChanged(ctx context.Context, note *jsonrpc.Request) {
	var params ui.SizeChangedParams
	if err := json.Unmarshal(note.Params, &params); err != nil {
		g.log.WarnContext(ctx, "malformed size-changed", slog.String("error", err.Error()))
		return
	}
	g.mu.Lock()
	fn := g.onSizeChanged
	g.mu.Unlock()
	if fn != nil {
		fn(ctx, params.Width, params.Height)
	}
}

// --- guest-originated verbs ---

// SendMessage delivers a conversation message. The content is validated
// against the host's declared modalities before anything goes on the wire;
// invalid content fails locally with a *ui.ModalityError. A host refusal is
// not an error: it comes back in the result's Accepted field.
func (g *Guest) SendMessage(ctx context.Context, params *ui.MessageParams) (*ui.MessageResult, error) {
	g.mu.Lock()
	msgCap := g.hostCaps.Message
	g.mu.Unlock()
	if msgCap == nil {
		return nil, &ui.CapabilityError{Capability: "message"}
	}
	check := ui.ValidateModalities(msgCap.Modalities, params.Content, len(params.StructuredContent) > 0)
	if !check.Valid {
		return nil, &ui.ModalityError{Validation: check}
	}

	resp, err := g.engine.Call(ctx, ui.MethodMessage, params)
	if err != nil {
		return nil, err
	}
	var result ui.MessageResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OpenLink asks the host to open a URL outside the embedded surface. A host
// refusal is not an error: it comes back in the result's Accepted field.
func (g *Guest) OpenLink(ctx context.Context, url string) (*ui.OpenLinkResult, error) {
	g.mu.Lock()
	declared := g.hostCaps.OpenLinks != nil
	g.mu.Unlock()
	if !declared {
		return nil, &ui.CapabilityError{Capability: "openLinks"}
	}
	resp, err := g.engine.Call(ctx, ui.MethodOpenLink, &ui.OpenLinkParams{URL: url})
	if err != nil {
		return nil, err
	}
	var result ui.OpenLinkResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Log forwards a structured log record to the host. Fire and forget.
func (g *Guest) Log(ctx context.Context, level ui.LoggingLevel, logger string, data any) error {
	g.mu.Lock()
	declared := g.hostCaps.Logging != nil
	g.mu.Unlock()
	if !declared {
		return &ui.CapabilityError{Capability: "logging"}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return g.engine.Notify(ctx, ui.MethodLoggingMessage, &ui.LoggingMessageParams{
		Level:  level,
		Logger: logger,
		Data:   raw,
	})
}

// CallServerTool forwards a tool call to the host's tool server.
func (g *Guest) CallServerTool(ctx context.Context, name string, args json.RawMessage) (*ui.ToolCallResult, error) {
	g.mu.Lock()
	declared := g.hostCaps.ServerTools != nil
	g.mu.Unlock()
	if !declared {
		return nil, &ui.CapabilityError{Capability: "serverTools"}
	}
	resp, err := g.engine.Call(ctx, ui.MethodToolsCall, &ui.ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result ui.ToolCallResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadServerResource forwards a resource read to the host's server.
func (g *Guest) ReadServerResource(ctx context.Context, uri string) (*ui.ResourcesReadResult, error) {
	g.mu.Lock()
	declared := g.hostCaps.ServerResources != nil
	g.mu.Unlock()
	if !declared {
		return nil, &ui.CapabilityError{Capability: "serverResources"}
	}
	resp, err := g.engine.Call(ctx, ui.MethodResourcesRead, &ui.ResourcesReadParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var result ui.ResourcesReadResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// NotifySizeChanged reports the guest's rendered content size.
func (g *Guest) NotifySizeChanged(ctx context.Context, width, height float64) error {
	return g.engine.Notify(ctx, ui.MethodNotifySizeChanged, &ui.SizeChangedParams{Width: width, Height: height})
}

// Ping probes the host for liveness.
func (g *Guest) Ping(ctx context.Context) error {
	resp, err := g.engine.Call(ctx, ui.MethodPing, &ui.PingParams{})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return resp.Error
	}
	return nil
}

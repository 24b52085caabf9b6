// Package host implements the host side of the guest bridge: it answers the
// guest's handshake, gates inbound methods on the capabilities the host
// declared, relays tool lifecycle events and environment updates, and drives
// bounded teardown when the surface goes away.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uibridge/uibridge-go/internal/jsonrpc"
	"github.com/uibridge/uibridge-go/internal/logctx"
	"github.com/uibridge/uibridge-go/protocol"
	"github.com/uibridge/uibridge-go/ui"
)

// State is the session lifecycle position as seen by the host.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateInitialized  State = "initialized"
	StateReady        State = "ready"
	StateClosed       State = "closed"
)

// DefaultTeardownTimeout bounds SendResourceTeardown when no override is set.
const DefaultTeardownTimeout = 500 * time.Millisecond

var (
	// ErrNotReady is returned by verbs invoked before the handshake finished.
	ErrNotReady = errors.New("session not ready")
)

// ServerProxy serves the guest's forwarded tools/call and resources/read
// requests, typically against an external tool server.
type ServerProxy interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (*ui.ToolCallResult, error)
	ReadResource(ctx context.Context, uri string) (*ui.ResourcesReadResult, error)
}

// Host is the host-side bridge over a single guest session.
type Host struct {
	engine *protocol.Engine
	log    *slog.Logger

	info            ui.ImplementationInfo
	caps            ui.HostCapabilities
	teardownTimeout time.Duration

	mu              sync.Mutex
	state           State
	protocolVersion string
	guestInfo       ui.ImplementationInfo
	guestCaps       ui.AppCapabilities
	guestTools      map[string]ui.Tool
	hostCtx         ui.HostContext
	invocations     map[string]*invocation

	onInitialized func(context.Context)
	onMessage     func(context.Context, *ui.MessageParams) (ui.Decision, error)
	onOpenLink    func(context.Context, string) (ui.Decision, error)
	onLog         func(context.Context, *ui.LoggingMessageParams)
	onSizeChanged func(context.Context, float64, float64)
	proxy         ServerProxy
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(h *Host) { h.log = log }
}

// WithHostInfo sets the implementation info reported in the handshake result.
func WithHostInfo(info ui.ImplementationInfo) Option {
	return func(h *Host) { h.info = info }
}

// WithCapabilities declares the host capability set. Methods whose backing
// capability is absent are rejected before any handler runs.
func WithCapabilities(caps ui.HostCapabilities) Option {
	return func(h *Host) { h.caps = caps }
}

// WithHostContext seeds the environment snapshot shared at handshake.
func WithHostContext(hc ui.HostContext) Option {
	return func(h *Host) { h.hostCtx = hc }
}

// WithTeardownTimeout overrides the teardown deadline.
func WithTeardownTimeout(d time.Duration) Option {
	return func(h *Host) { h.teardownTimeout = d }
}

// WithServerProxy wires the backend serving forwarded tools/call and
// resources/read. Without a proxy those methods are rejected even when the
// capabilities are declared.
func WithServerProxy(p ServerProxy) Option {
	return func(h *Host) { h.proxy = p }
}

// New builds a host bridge over the transport. Call Start to begin serving.
func New(t protocol.Transport, opts ...Option) *Host {
	h := &Host{
		log:             slog.Default(),
		teardownTimeout: DefaultTeardownTimeout,
		state:           StateDisconnected,
		guestTools:      make(map[string]ui.Tool),
		invocations:     make(map[string]*invocation),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.engine = protocol.NewEngine(t, protocol.WithLogger(h.log))
	h.registerHandlers()
	return h
}

func (h *Host) registerHandlers() {
	h.engine.SetRequestHandler(ui.MethodInitialize, h.handleInitialize)
	h.engine.SetRequestHandler(ui.MethodPing, h.handlePing)
	h.engine.SetRequestHandler(ui.MethodMessage, h.handleMessage)
	h.engine.SetRequestHandler(ui.MethodOpenLink, h.handleOpenLink)
	h.engine.SetRequestHandler(ui.MethodToolsCall, h.handleToolsCall)
	h.engine.SetRequestHandler(ui.MethodResourcesRead, h.handleResourcesRead)
	h.engine.SetNotificationHandler(ui.MethodNotifyInitialized, h.handleInitialized)
	h.engine.SetNotificationHandler(ui.MethodNotifySizeChanged, h.handleSizeChanged)
	h.engine.SetNotificationHandler(ui.MethodLoggingMessage, h.handleLoggingMessage)
}

// Start begins serving the session. The context carries session metadata for
// log enrichment; cancellation does not tear the session down, use Close.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateDisconnected {
		h.mu.Unlock()
		return protocol.ErrAlreadyStarted
	}
	h.state = StateConnecting
	h.mu.Unlock()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		Role:  "host",
		State: string(StateConnecting),
	})
	if err := h.engine.Start(ctx); err != nil {
		h.mu.Lock()
		h.state = StateDisconnected
		h.mu.Unlock()
		return err
	}
	return nil
}

// Close tears the session down, rejecting any in-flight calls with cause.
func (h *Host) Close(cause error) error {
	h.mu.Lock()
	h.state = StateClosed
	h.mu.Unlock()
	h.engine.Close(cause)
	return nil
}

// Done is closed when the session ends.
func (h *Host) Done() <-chan struct{} { return h.engine.Done() }

// State reports the current session state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// GuestInfo returns the guest's implementation info once initialized.
func (h *Host) GuestInfo() ui.ImplementationInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.guestInfo
}

// ProtocolVersion returns the negotiated protocol revision, empty before the
// handshake completes.
func (h *Host) ProtocolVersion() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.protocolVersion
}

// OnInitialized registers the listener fired when the guest confirms the
// handshake. It fires at most once per session even if the guest misbehaves
// and repeats the initialized notification.
func (h *Host) OnInitialized(fn func(context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInitialized = fn
}

// OnMessage registers the conversation-message listener. Content is already
// modality-validated when the listener runs. The decision travels back to the
// guest in the result; return an error only for genuine faults.
func (h *Host) OnMessage(fn func(context.Context, *ui.MessageParams) (ui.Decision, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

// OnOpenLink registers the open-link listener. The decision travels back to
// the guest in the result; return an error only for genuine faults.
func (h *Host) OnOpenLink(fn func(context.Context, string) (ui.Decision, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOpenLink = fn
}

// OnLog registers the listener for guest log records.
func (h *Host) OnLog(fn func(context.Context, *ui.LoggingMessageParams)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLog = fn
}

// OnSizeChanged registers the listener for guest content size reports.
func (h *Host) OnSizeChanged(fn func(ctx context.Context, width, height float64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSizeChanged = fn
}

// --- handshake ---

func (h *Host) handleInitialize(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var params ui.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
	}

	h.mu.Lock()
	if h.state != StateConnecting {
		state := h.state
		h.mu.Unlock()
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeInvalidRequest,
			Message: fmt.Sprintf("initialize not valid in state %q", state),
		}
	}
	version := ui.NegotiateProtocolVersion(params.ProtocolVersion)
	h.protocolVersion = version
	h.guestInfo = params.AppInfo
	h.guestCaps = params.Capabilities
	for _, tool := range params.Tools {
		h.guestTools[tool.Name] = tool
	}
	h.state = StateInitialized
	hostCtx := h.hostCtx
	h.mu.Unlock()

	h.log.InfoContext(ctx, "guest initialized",
		slog.String("guest", params.AppInfo.Name),
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("negotiated_version", version))

	return &ui.InitializeResult{
		ProtocolVersion: version,
		HostInfo:        h.info,
		Capabilities:    h.caps,
		HostContext:     hostCtx,
	}, nil
}

func (h *Host) handleInitialized(ctx context.Context, _ *jsonrpc.Request) {
	h.mu.Lock()
	if h.state != StateInitialized {
		state := h.state
		h.mu.Unlock()
		h.log.WarnContext(ctx, "initialized notification out of order", slog.String("state", string(state)))
		return
	}
	h.state = StateReady
	fn := h.onInitialized
	h.mu.Unlock()

	// The Initialized -> Ready transition above admits exactly one caller, so
	// a repeated notification cannot reach this point.
	if fn != nil {
		fn(ctx)
	}
}

func (h *Host) handlePing(ctx context.Context, _ *jsonrpc.Request) (any, error) {
	return &ui.PingResult{}, nil
}

// --- capability-gated inbound methods ---

// capabilityGateErr is the rejection sent before any handler runs when the
// backing capability was never declared.
func capabilityGateErr(capability string) *jsonrpc.Error {
	return &jsonrpc.Error{
		Code:    jsonrpc.ErrorCodeMethodNotFound,
		Message: fmt.Sprintf("capability %q not declared", capability),
	}
}

// requireReady gates post-handshake methods. Initialized is accepted as well
// as Ready: the initialized notification and a fast first request race
// through concurrent handler dispatch, and the handshake response has
// already committed the session by then.
func (h *Host) requireReady() *jsonrpc.Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady && h.state != StateInitialized {
		return &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeInvalidRequest,
			Message: fmt.Sprintf("method not valid in state %q", h.state),
		}
	}
	return nil
}

func (h *Host) handleMessage(ctx context.Context, req *jsonrpc.Request) (any, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	msgCap := h.caps.Message
	fn := h.onMessage
	h.mu.Unlock()
	if msgCap == nil {
		return nil, capabilityGateErr("message")
	}

	var params ui.MessageParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
	}

	check := ui.ValidateModalities(msgCap.Modalities, params.Content, len(params.StructuredContent) > 0)
	if !check.Valid {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeContentModality,
			Message: "unsupported content modality",
			Data:    check,
		}
	}

	if fn == nil {
		return &ui.MessageResult{Accepted: true}, nil
	}
	d, err := fn(ctx, &params)
	if err != nil {
		return nil, err
	}
	return &ui.MessageResult{Accepted: d.Accepted, Reason: d.Reason}, nil
}

func (h *Host) handleOpenLink(ctx context.Context, req *jsonrpc.Request) (any, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	declared := h.caps.OpenLinks != nil
	fn := h.onOpenLink
	h.mu.Unlock()
	if !declared {
		return nil, capabilityGateErr("openLinks")
	}

	var params ui.OpenLinkParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
	}
	if fn == nil {
		return &ui.OpenLinkResult{Accepted: true}, nil
	}
	d, err := fn(ctx, params.URL)
	if err != nil {
		return nil, err
	}
	return &ui.OpenLinkResult{Accepted: d.Accepted, Reason: d.Reason}, nil
}

func (h *Host) handleToolsCall(ctx context.Context, req *jsonrpc.Request) (any, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	declared := h.caps.ServerTools != nil
	proxy := h.proxy
	h.mu.Unlock()
	if !declared || proxy == nil {
		return nil, capabilityGateErr("serverTools")
	}

	var params ui.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
	}
	return proxy.CallTool(ctx, params.Name, params.Arguments)
}

func (h *Host) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) (any, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	declared := h.caps.ServerResources != nil
	proxy := h.proxy
	h.mu.Unlock()
	if !declared || proxy == nil {
		return nil, capabilityGateErr("serverResources")
	}

	var params ui.ResourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
	}
	return proxy.ReadResource(ctx, params.URI)
}

func (h *Host) handleLoggingMessage(ctx context.Context, note *jsonrpc.Request) {
	h.mu.Lock()
	declared := h.caps.Logging != nil
	fn := h.onLog
	h.mu.Unlock()
	if !declared {
		h.log.WarnContext(ctx, "guest log dropped, logging capability not declared")
		return
	}

	var params ui.LoggingMessageParams
	if err := json.Unmarshal(note.Params, &params); err != nil {
		h.log.WarnContext(ctx, "malformed guest log record", slog.String("error", err.Error()))
		return
	}
	if fn != nil {
		fn(ctx, &params)
		return
	}
	// No listener: surface through our own logger at a mapped level.
	h.log.LogAttrs(ctx, slogLevel(params.Level), "guest log",
		slog.String("logger", params.Logger),
		slog.Any("data", json.RawMessage(params.Data)))
}

func slogLevel(l ui.LoggingLevel) slog.Level {
	switch l {
	case ui.LoggingLevelDebug:
		return slog.LevelDebug
	case ui.LoggingLevelWarning:
		return slog.LevelWarn
	case ui.LoggingLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (h *Host) handleSizeChanged(ctx context.Context, note *jsonrpc.Request) {
	var params ui.SizeChangedParams
	if err := json.Unmarshal(note.Params, &params); err != nil {
		h.log.WarnContext(ctx, "malformed size report", slog.String("error", err.Error()))
		return
	}
	h.mu.Lock()
	fn := h.onSizeChanged
	h.mu.Unlock()
	if fn != nil {
		fn(ctx, params.Width, params.Height)
	}
}

// --- host-originated verbs ---

// SetHostContext replaces the environment snapshot. Only fields that differ
// from the cached snapshot travel to the guest; an unchanged snapshot sends
// nothing at all.
func (h *Host) SetHostContext(ctx context.Context, next ui.HostContext) error {
	h.mu.Lock()
	if h.state != StateReady && h.state != StateInitialized {
		h.mu.Unlock()
		return ErrNotReady
	}
	delta, changed := h.hostCtx.Diff(next)
	if !changed {
		h.mu.Unlock()
		return nil
	}
	h.hostCtx = h.hostCtx.Merge(delta)
	h.mu.Unlock()

	return h.engine.Notify(ctx, ui.MethodNotifyHostContextChanged, &ui.HostContextChangedParams{Context: delta})
}

// HostContext returns the cached environment snapshot.
func (h *Host) HostContext() ui.HostContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hostCtx
}

// NotifySizeChanged reports the surface size to the guest.
func (h *Host) NotifySizeChanged(ctx context.Context, width, height float64) error {
	return h.engine.Notify(ctx, ui.MethodNotifySizeChanged, &ui.SizeChangedParams{Width: width, Height: height})
}

// CallGuestTool invokes one of the guest's declared custom tools. Rejected
// locally when the guest never declared the tools capability or never listed
// the tool.
func (h *Host) CallGuestTool(ctx context.Context, name string, args json.RawMessage) (*ui.ToolCallResult, error) {
	h.mu.Lock()
	declared := h.guestCaps.Tools != nil
	_, known := h.guestTools[name]
	h.mu.Unlock()
	if !declared {
		return nil, &ui.CapabilityError{Capability: "tools"}
	}
	if !known {
		return nil, fmt.Errorf("guest declared no tool named %q", name)
	}

	resp, err := h.engine.Call(ctx, ui.MethodToolsCall, &ui.ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result ui.ToolCallResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TeardownOutcome is the result of a bounded teardown request.
type TeardownOutcome struct {
	// Acked means the guest acknowledged before the deadline.
	Acked bool
	// TimedOut means the deadline passed with no acknowledgement. The caller
	// should proceed with destruction regardless.
	TimedOut bool
}

// SendResourceTeardown asks the guest to release its resources and waits at
// most the configured teardown timeout. It never hangs: a silent guest yields
// a TimedOut outcome rather than an error.
func (h *Host) SendResourceTeardown(ctx context.Context) (*TeardownOutcome, error) {
	resp, err := h.engine.Call(ctx, ui.MethodResourceTeardown, &ui.ResourceTeardownParams{},
		protocol.WithTimeout(h.teardownTimeout))
	if err != nil {
		var terr *protocol.TimeoutError
		if errors.As(err, &terr) {
			h.log.WarnContext(ctx, "guest did not acknowledge teardown before deadline",
				slog.Duration("timeout", h.teardownTimeout))
			return &TeardownOutcome{TimedOut: true}, nil
		}
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.Error
	}
	return &TeardownOutcome{Acked: true}, nil
}

// Ping probes the guest for liveness.
func (h *Host) Ping(ctx context.Context) error {
	resp, err := h.engine.Call(ctx, ui.MethodPing, &ui.PingParams{})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return resp.Error
	}
	return nil
}

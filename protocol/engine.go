package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uibridge/uibridge-go/internal/jsonrpc"
	"github.com/uibridge/uibridge-go/internal/logctx"
)

// DefaultRequestTimeout applies to Call when the caller does not override it.
const DefaultRequestTimeout = 30 * time.Second

// RequestHandler serves one incoming request. The returned value is wrapped
// in a response echoing the request id. Returning a *jsonrpc.Error propagates
// that exact error object; any other error becomes an internal error
// response.
type RequestHandler func(ctx context.Context, req *jsonrpc.Request) (any, error)

// NotificationHandler consumes one incoming notification. Notifications have
// no response channel: failures stay local to the handler.
type NotificationHandler func(ctx context.Context, note *jsonrpc.Request)

type pendingRequest struct {
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// Engine is the generic request/response correlation layer shared by the host
// and guest bridges. It owns the pending-request table keyed by id, the
// method handler registry, and the single dispatch point fed by the
// transport's incoming stream. Individual handlers run on their own
// goroutines so a slow request handler never delays notification delivery.
type Engine struct {
	transport      Transport
	log            *slog.Logger
	defaultTimeout time.Duration

	mu                   sync.Mutex
	pending              map[string]*pendingRequest
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	started              bool

	// nextID is instance scoped so concurrent sessions in one process never
	// collide.
	nextID uint64

	runCtx    context.Context
	runCancel context.CancelFunc

	closed   atomic.Bool
	closeErr error
	done     chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger used for dispatch-loop diagnostics.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithDefaultTimeout overrides the default per-request timeout.
func WithDefaultTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// NewEngine constructs an engine over the given transport. Start must be
// called before any traffic flows.
func NewEngine(t Transport, opts ...EngineOption) *Engine {
	e := &Engine{
		transport:            t,
		log:                  slog.Default(),
		defaultTimeout:       DefaultRequestTimeout,
		pending:              make(map[string]*pendingRequest),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		done:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetRequestHandler registers the handler for a request method.
// Re-registration replaces the previous handler; there is at most one handler
// per method.
func (e *Engine) SetRequestHandler(method string, h RequestHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		delete(e.requestHandlers, method)
		return
	}
	e.requestHandlers[method] = h
}

// SetNotificationHandler registers the handler for a notification method,
// replacing any previous registration.
func (e *Engine) SetNotificationHandler(method string, h NotificationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		delete(e.notificationHandlers, method)
		return
	}
	e.notificationHandlers[method] = h
}

// Start readies the transport and begins consuming its incoming stream.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	if err := e.transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	go e.dispatch()
	go e.drainTransportErrors()
	return nil
}

// Done is closed once the engine has fully shut down.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the close cause after Done is closed.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeErr
}

// Call sends a request and suspends the caller until the matching response
// arrives, the timeout elapses, or the context is canceled. Every call has
// exactly one terminal outcome and leaves no pending entry behind.
func (e *Engine) Call(ctx context.Context, method string, params any, opts ...CallOption) (*jsonrpc.Response, error) {
	cfg := callConfig{timeout: e.defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if e.closed.Load() {
		return nil, e.closeCause()
	}
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	e.nextID++
	id := jsonrpc.NewRequestID(e.nextID)
	pc := &pendingRequest{
		respCh: make(chan *jsonrpc.Response, 1),
		errCh:  make(chan error, 1),
	}
	e.pending[id.String()] = pc
	e.mu.Unlock()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		e.removePending(id.String())
		return nil, err
	}
	raw, err := jsonrpc.Encode(req)
	if err != nil {
		e.removePending(id.String())
		return nil, err
	}
	if err := e.transport.Send(ctx, raw); err != nil {
		e.removePending(id.String())
		return nil, err
	}

	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	select {
	case resp := <-pc.respCh:
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-timer.C:
		e.removePending(id.String())
		return nil, &TimeoutError{Method: method, Timeout: cfg.timeout}
	case <-ctx.Done():
		e.removePending(id.String())
		return nil, ctx.Err()
	}
}

// Notify sends a notification. It never waits for an acknowledgement and is
// never retried.
func (e *Engine) Notify(ctx context.Context, method string, params any) error {
	if e.closed.Load() {
		return e.closeCause()
	}
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	raw, err := jsonrpc.Encode(note)
	if err != nil {
		return err
	}
	return e.transport.Send(ctx, raw)
}

// Respond sends a pre-built response outside the normal request dispatch
// path. Bridges use it for deferred replies.
func (e *Engine) Respond(ctx context.Context, resp *jsonrpc.Response) error {
	raw, err := jsonrpc.Encode(resp)
	if err != nil {
		return err
	}
	return e.transport.Send(ctx, raw)
}

// Close tears the session down: no new sends are accepted and every
// still-pending request fails with cause (ErrEngineClosed when nil).
func (e *Engine) Close(cause error) {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	if cause == nil {
		cause = ErrEngineClosed
	}

	e.mu.Lock()
	e.closeErr = cause
	drained := e.pending
	e.pending = make(map[string]*pendingRequest)
	cancel := e.runCancel
	e.mu.Unlock()

	for _, pc := range drained {
		pc.errCh <- cause
	}
	if cancel != nil {
		cancel()
	}
	if err := e.transport.Close(); err != nil {
		e.log.Warn("transport close failed", "err", err)
	}
	close(e.done)
}

func (e *Engine) closeCause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closeErr != nil {
		return e.closeErr
	}
	return ErrEngineClosed
}

func (e *Engine) removePending(key string) {
	e.mu.Lock()
	delete(e.pending, key)
	e.mu.Unlock()
}

func (e *Engine) dispatch() {
	for raw := range e.transport.Messages() {
		msg, err := jsonrpc.Decode(raw)
		if err != nil {
			e.log.Warn("discarding malformed envelope", "err", err)
			e.reply(jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(nil), jsonrpc.ErrorCodeParseError, "parse error", nil))
			continue
		}

		switch msg.Type() {
		case "request":
			go e.serveRequest(msg.AsRequest())
		case "notification":
			go e.serveNotification(msg.AsRequest())
		case "response":
			e.resolve(msg.AsResponse())
		}
	}

	// The incoming stream ended: the channel is gone.
	e.Close(ErrEngineClosed)
}

func (e *Engine) drainTransportErrors() {
	errCh := e.transport.Errors()
	if errCh == nil {
		return
	}
	for err := range errCh {
		e.log.Warn("transport error", "err", err)
	}
}

func (e *Engine) serveRequest(req *jsonrpc.Request) {
	ctx := logctx.WithRPCMessage(e.runCtx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})

	e.mu.Lock()
	h := e.requestHandlers[req.Method]
	e.mu.Unlock()

	if h == nil {
		e.reply(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil))
		return
	}

	result, err := e.invokeRequestHandler(ctx, h, req)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			e.reply(&jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: rpcErr, ID: req.ID})
			return
		}
		e.reply(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil))
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		e.log.Error("failed to marshal handler result", "method", req.Method, "err", err)
		e.reply(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil))
		return
	}
	e.reply(resp)
}

func (e *Engine) invokeRequestHandler(ctx context.Context, h RequestHandler, req *jsonrpc.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, req)
}

func (e *Engine) serveNotification(note *jsonrpc.Request) {
	ctx := logctx.WithRPCMessage(e.runCtx, &logctx.RPCMessage{
		Method: note.Method,
		Type:   "notification",
	})

	e.mu.Lock()
	h := e.notificationHandlers[note.Method]
	e.mu.Unlock()

	if h == nil {
		// Unknown notifications are ignored for forward compatibility.
		e.log.Debug("ignoring unhandled notification", "method", note.Method)
		return
	}

	// A notification handler's failure must never affect session health.
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("notification handler panicked", "method", note.Method, "panic", r)
		}
	}()
	h(ctx, note)
}

func (e *Engine) resolve(resp *jsonrpc.Response) {
	if resp == nil || resp.ID.IsNil() {
		return
	}
	key := resp.ID.String()
	e.mu.Lock()
	pc, ok := e.pending[key]
	if ok {
		delete(e.pending, key)
	}
	e.mu.Unlock()
	if !ok {
		// Late response for a request that already timed out: discard.
		e.log.Debug("discarding response with no pending request", "id", key)
		return
	}
	pc.respCh <- resp
}

func (e *Engine) reply(resp *jsonrpc.Response) {
	if e.closed.Load() {
		return
	}
	raw, err := jsonrpc.Encode(resp)
	if err != nil {
		e.log.Error("failed to encode response", "err", err)
		return
	}
	if err := e.transport.Send(e.runCtx, raw); err != nil {
		e.log.Warn("failed to send response", "err", err)
	}
}

type callConfig struct {
	timeout time.Duration
}

// CallOption adjusts a single Call.
type CallOption func(*callConfig)

// WithTimeout overrides the request timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

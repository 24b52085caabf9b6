// Package webview adapts a native WebView to the bridge transport contract.
// Outbound envelopes are marshalled onto the UI thread and delivered to the
// page as synthetic MessageEvents, so guest code written against the browser
// messaging surface runs unmodified inside a native shell. Inbound envelopes
// arrive through the script-message binding the bootstrap script installs.
package webview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/uibridge/uibridge-go/internal/jsonrpc"
	"github.com/uibridge/uibridge-go/protocol"
)

// WebView is the minimal surface a native shell must expose. Eval must only
// run on the UI thread; Dispatch schedules work there. Every toolkit binding
// (WebKit, WebView2, CEF) can satisfy this pair.
type WebView interface {
	Eval(script string)
	Dispatch(fn func())
}

// DefaultBindingName is the native-callable function the bootstrap script
// expects the shell to have bound before navigation.
const DefaultBindingName = "__uibridge_native_send"

// bootstrapScript wires the in-page messaging surface. The sentinel makes
// re-injection after partial loads harmless; each real page load starts with
// a fresh window object and gets a fresh copy.
const bootstrapScript = `(() => {
  if (window.__uibridge) { return; }
  window.__uibridge = {
    _deliver(raw) {
      let data;
      try { data = JSON.parse(raw); } catch { data = raw; }
      window.dispatchEvent(new MessageEvent("message", { data }));
    },
    send(msg) {
      %s(typeof msg === "string" ? msg : JSON.stringify(msg));
    },
  };
})();`

var errTransportClosed = errors.New("webview transport closed")

// Transport is a protocol.Transport over a WebView.
type Transport struct {
	wv      WebView
	binding string

	mu      sync.Mutex
	started bool

	in   chan jsonrpc.Message
	errs chan error
	done chan struct{}

	closeOnce sync.Once
}

var _ protocol.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithBindingName overrides the native send binding the bootstrap script
// calls into.
func WithBindingName(name string) Option {
	return func(t *Transport) { t.binding = name }
}

// New wraps a WebView. The shell must route its script-message callback for
// the configured binding into HandleScriptMessage.
func New(wv WebView, opts ...Option) *Transport {
	t := &Transport{
		wv:      wv,
		binding: DefaultBindingName,
		in:      make(chan jsonrpc.Message, 64),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start injects the bootstrap script. Idempotent.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	already := t.started
	t.started = true
	t.mu.Unlock()
	if already {
		return nil
	}
	t.inject()
	return nil
}

// OnPageLoad must be called by the shell after each navigation finishes so
// the fresh window object gets the messaging surface again.
func (t *Transport) OnPageLoad() {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return
	}
	t.inject()
}

func (t *Transport) inject() {
	script := fmt.Sprintf(bootstrapScript, t.binding)
	t.wv.Dispatch(func() { t.wv.Eval(script) })
}

// Send delivers one envelope to the page. The Eval happens on the UI thread;
// Send itself may be called from any goroutine and does not wait for the
// page to process the event.
func (t *Transport) Send(ctx context.Context, msg jsonrpc.Message) error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return &protocol.TransportError{Op: "send", Err: protocol.ErrNotStarted}
	}
	select {
	case <-t.done:
		return &protocol.TransportError{Op: "send", Err: errTransportClosed}
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// A JSON string literal is also a valid JS string literal, which makes
	// the envelope safe to splice into the Eval payload.
	literal, err := json.Marshal(string(msg))
	if err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	script := fmt.Sprintf("window.__uibridge && window.__uibridge._deliver(%s);", literal)
	t.wv.Dispatch(func() { t.wv.Eval(script) })
	return nil
}

// HandleScriptMessage accepts one raw envelope from the page. The shell
// calls this from its script-message callback; the queue is buffered so
// normal bursts do not stall the UI thread while the bridge dispatches.
func (t *Transport) HandleScriptMessage(payload string) {
	msg := jsonrpc.Message(payload)
	select {
	case t.in <- msg:
	case <-t.done:
	}
}

// Messages implements protocol.Transport.
func (t *Transport) Messages() iter.Seq[jsonrpc.Message] {
	return func(yield func(jsonrpc.Message) bool) {
		for {
			select {
			case msg := <-t.in:
				if !yield(msg) {
					return
				}
			case <-t.done:
				return
			}
		}
	}
}

// Errors implements protocol.Transport.
func (t *Transport) Errors() <-chan error { return t.errs }

// Close implements protocol.Transport. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		close(t.errs)
	})
	return nil
}

package host_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uibridge/uibridge-go/guest"
	"github.com/uibridge/uibridge-go/host"
	"github.com/uibridge/uibridge-go/internal/jsonrpc"
	"github.com/uibridge/uibridge-go/loopback"
	"github.com/uibridge/uibridge-go/protocol"
	"github.com/uibridge/uibridge-go/ui"
)

// newPair wires a host and guest over loopback without starting either, so
// tests can register tools and listeners first.
func newPair(t *testing.T, hopts ...host.Option) (*host.Host, *guest.Guest) {
	t.Helper()
	ht, gt := loopback.New()
	h := host.New(ht, hopts...)
	g := guest.New(gt, guest.WithAppInfo(ui.ImplementationInfo{Name: "test-guest", Version: "0.0.1"}))
	t.Cleanup(func() {
		h.Close(nil)
		g.Close(nil)
	})
	return h, g
}

func connect(t *testing.T, h *host.Host, g *guest.Guest) {
	t.Helper()
	if err := h.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := g.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
}

func TestHandshake(t *testing.T) {
	h, g := newPair(t,
		host.WithHostInfo(ui.ImplementationInfo{Name: "test-host", Version: "1.0.0"}),
		host.WithCapabilities(ui.HostCapabilities{OpenLinks: &ui.OpenLinksCapability{}}),
		host.WithHostContext(ui.HostContext{Theme: "dark"}),
	)

	initialized := make(chan struct{})
	h.OnInitialized(func(ctx context.Context) { close(initialized) })

	connect(t, h, g)

	if g.State() != guest.StateReady {
		t.Fatalf("guest state = %s", g.State())
	}
	if g.ProtocolVersion() != ui.LatestProtocolVersion {
		t.Fatalf("negotiated version = %q", g.ProtocolVersion())
	}
	if g.HostInfo().Name != "test-host" {
		t.Fatalf("host info = %+v", g.HostInfo())
	}
	if g.HostCapabilities().OpenLinks == nil {
		t.Fatal("openLinks capability lost in handshake")
	}
	if g.HostContext().Theme != "dark" {
		t.Fatalf("host context = %+v", g.HostContext())
	}

	select {
	case <-initialized:
	case <-time.After(time.Second):
		t.Fatal("initialized listener never fired")
	}
	if h.GuestInfo().Name != "test-guest" {
		t.Fatalf("guest info = %+v", h.GuestInfo())
	}
}

// A guest requesting an unknown revision gets the host's latest instead of
// an error.
func TestVersionNegotiationNeverErrors(t *testing.T) {
	ht, gt := loopback.New()
	h := host.New(ht)
	if err := h.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	raw := protocol.NewEngine(gt)
	if err := raw.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		h.Close(nil)
		raw.Close(nil)
	})

	resp, err := raw.Call(t.Context(), ui.MethodInitialize, &ui.InitializeRequest{
		ProtocolVersion: "bogus",
		AppInfo:         ui.ImplementationInfo{Name: "old-guest", Version: "0.0.1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var result ui.InitializeResult
	if err := resp.UnmarshalResult(&result); err != nil {
		t.Fatal(err)
	}
	if result.ProtocolVersion != ui.LatestProtocolVersion {
		t.Fatalf("negotiated %q, want host's latest", result.ProtocolVersion)
	}
}

func TestInitializedListenerFiresExactlyOnce(t *testing.T) {
	ht, gt := loopback.New()
	h := host.New(ht)
	var fired atomic.Int64
	h.OnInitialized(func(ctx context.Context) { fired.Add(1) })
	if err := h.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	raw := protocol.NewEngine(gt)
	if err := raw.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		h.Close(nil)
		raw.Close(nil)
	})

	if _, err := raw.Call(t.Context(), ui.MethodInitialize, &ui.InitializeRequest{
		ProtocolVersion: ui.LatestProtocolVersion,
	}); err != nil {
		t.Fatal(err)
	}
	// A misbehaving guest repeats the notification.
	for range 3 {
		if err := raw.Notify(t.Context(), ui.MethodNotifyInitialized, nil); err != nil {
			t.Fatal(err)
		}
	}
	// Round-trip to flush the notification stream.
	if _, err := raw.Call(t.Context(), ui.MethodPing, nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if n := fired.Load(); n != 1 {
		t.Fatalf("initialized listener fired %d times", n)
	}
}

func TestCapabilityGateRejectsBeforeHandler(t *testing.T) {
	ht, gt := loopback.New()
	// No capabilities declared, but a listener registered anyway: the gate
	// must win.
	h := host.New(ht)
	var handlerRan atomic.Bool
	h.OnOpenLink(func(ctx context.Context, url string) (ui.Decision, error) {
		handlerRan.Store(true)
		return ui.Accept(), nil
	})
	if err := h.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	raw := protocol.NewEngine(gt)
	if err := raw.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		h.Close(nil)
		raw.Close(nil)
	})

	if _, err := raw.Call(t.Context(), ui.MethodInitialize, &ui.InitializeRequest{
		ProtocolVersion: ui.LatestProtocolVersion,
	}); err != nil {
		t.Fatal(err)
	}
	if err := raw.Notify(t.Context(), ui.MethodNotifyInitialized, nil); err != nil {
		t.Fatal(err)
	}

	resp, err := raw.Call(t.Context(), ui.MethodOpenLink, &ui.OpenLinkParams{URL: "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsError() || resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("want METHOD_NOT_FOUND, got %+v", resp)
	}
	if handlerRan.Load() {
		t.Fatal("handler ran despite undeclared capability")
	}
}

func TestOpenLinkRoundTrip(t *testing.T) {
	h, g := newPair(t, host.WithCapabilities(ui.HostCapabilities{OpenLinks: &ui.OpenLinksCapability{}}))
	opened := make(chan string, 1)
	h.OnOpenLink(func(ctx context.Context, url string) (ui.Decision, error) {
		opened <- url
		return ui.Accept(), nil
	})
	connect(t, h, g)

	result, err := g.OpenLink(t.Context(), "https://example.com/doc")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Accepted {
		t.Fatalf("result = %+v", result)
	}
	select {
	case url := <-opened:
		if url != "https://example.com/doc" {
			t.Fatalf("url = %q", url)
		}
	case <-time.After(time.Second):
		t.Fatal("open-link never delivered")
	}
}

func TestMessageModalityRejectedOnTheWire(t *testing.T) {
	ht, gt := loopback.New()
	h := host.New(ht, host.WithCapabilities(ui.HostCapabilities{
		Message: &ui.MessageCapability{Modalities: ui.ModalitySet{"text": {}}},
	}))
	if err := h.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	raw := protocol.NewEngine(gt)
	if err := raw.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		h.Close(nil)
		raw.Close(nil)
	})

	if _, err := raw.Call(t.Context(), ui.MethodInitialize, &ui.InitializeRequest{
		ProtocolVersion: ui.LatestProtocolVersion,
	}); err != nil {
		t.Fatal(err)
	}
	if err := raw.Notify(t.Context(), ui.MethodNotifyInitialized, nil); err != nil {
		t.Fatal(err)
	}

	resp, err := raw.Call(t.Context(), ui.MethodMessage, &ui.MessageParams{
		Role:    ui.RoleUser,
		Content: []ui.ContentBlock{ui.TextBlock("hi"), {Type: "image", Data: "AAAA", MimeType: "image/png"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsError() || resp.Error.Code != jsonrpc.ErrorCodeContentModality {
		t.Fatalf("want content modality error, got %+v", resp)
	}
	data, err := json.Marshal(resp.Error.Data)
	if err != nil {
		t.Fatal(err)
	}
	var check ui.ModalityValidation
	if err := json.Unmarshal(data, &check); err != nil {
		t.Fatal(err)
	}
	if check.Valid || len(check.UnsupportedTypes) != 1 || check.UnsupportedTypes[0] != "image" {
		t.Fatalf("validation payload = %+v", check)
	}
}

func TestToolLifecycleOrdering(t *testing.T) {
	h, g := newPair(t)

	events := make(chan string, 16)
	g.OnToolInputPartial(func(ctx context.Context, p *ui.ToolInputPartialParams) {
		events <- "partial"
	})
	g.OnToolInput(func(ctx context.Context, p *ui.ToolInputParams) {
		events <- "input"
	})
	g.OnToolResult(func(ctx context.Context, p *ui.ToolResultParams) {
		events <- "result"
	})
	connect(t, h, g)

	inv := host.NewInvocationID()
	args := json.RawMessage(`{"q":"weather"}`)
	if err := h.SendToolInputPartial(t.Context(), inv, "search", json.RawMessage(`{"q":"we"}`)); err != nil {
		t.Fatal(err)
	}
	if err := h.SendToolInputPartial(t.Context(), inv, "search", json.RawMessage(`{"q":"weath"}`)); err != nil {
		t.Fatal(err)
	}
	if err := h.SendToolInput(t.Context(), inv, "search", args); err != nil {
		t.Fatal(err)
	}
	if err := h.SendToolResult(t.Context(), inv, []ui.ContentBlock{ui.TextBlock("sunny")}, false); err != nil {
		t.Fatal(err)
	}

	want := []string{"partial", "partial", "input", "result"}
	for i, w := range want {
		select {
		case e := <-events:
			if e != w {
				t.Fatalf("event %d = %q, want %q", i, e, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d (%q)", i, w)
		}
	}
}

func TestToolLifecycleEnforcement(t *testing.T) {
	h, g := newPair(t)
	connect(t, h, g)

	const inv = "inv-2"
	if err := h.SendToolResult(t.Context(), inv, nil, false); !errors.Is(err, host.ErrInputNotSent) {
		t.Fatalf("result before input: %v", err)
	}
	if err := h.SendToolInput(t.Context(), inv, "search", nil); err != nil {
		t.Fatal(err)
	}
	if err := h.SendToolInputPartial(t.Context(), inv, "search", nil); !errors.Is(err, host.ErrInputFinalized) {
		t.Fatalf("partial after input: %v", err)
	}
	if err := h.SendToolInput(t.Context(), inv, "search", nil); !errors.Is(err, host.ErrInputFinalized) {
		t.Fatalf("second input: %v", err)
	}
	if err := h.SendToolResult(t.Context(), inv, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := h.SendToolCancelled(t.Context(), inv, "late"); !errors.Is(err, host.ErrInvocationTerminal) {
		t.Fatalf("second terminal event: %v", err)
	}

	// Cancellation is a valid terminal even before the final input.
	const inv2 = "inv-3"
	if err := h.SendToolInputPartial(t.Context(), inv2, "search", nil); err != nil {
		t.Fatal(err)
	}
	if err := h.SendToolCancelled(t.Context(), inv2, "user abort"); err != nil {
		t.Fatal(err)
	}
	if err := h.SendToolResult(t.Context(), inv2, nil, false); !errors.Is(err, host.ErrInvocationTerminal) {
		t.Fatalf("result after cancel: %v", err)
	}
}

func TestHostContextPartialUpdates(t *testing.T) {
	h, g := newPair(t, host.WithHostContext(ui.HostContext{Theme: "light", Locale: "en-US"}))
	updates := make(chan ui.HostContext, 4)
	g.OnHostContextChanged(func(ctx context.Context, hc ui.HostContext) {
		updates <- hc
	})
	connect(t, h, g)

	if err := h.SetHostContext(t.Context(), ui.HostContext{Theme: "dark", Locale: "en-US"}); err != nil {
		t.Fatal(err)
	}
	select {
	case hc := <-updates:
		if hc.Theme != "dark" {
			t.Fatalf("theme = %q", hc.Theme)
		}
		if hc.Locale != "en-US" {
			t.Fatalf("merge lost untouched field: %+v", hc)
		}
	case <-time.After(time.Second):
		t.Fatal("context update never delivered")
	}

	// Identical snapshot: nothing must travel.
	if err := h.SetHostContext(t.Context(), ui.HostContext{Theme: "dark", Locale: "en-US"}); err != nil {
		t.Fatal(err)
	}
	// A real change must arrive as the very next update.
	if err := h.SetHostContext(t.Context(), ui.HostContext{Theme: "dark", Locale: "fr-FR"}); err != nil {
		t.Fatal(err)
	}
	select {
	case hc := <-updates:
		if hc.Locale != "fr-FR" || hc.Theme != "dark" {
			t.Fatalf("unexpected update %+v (no-op snapshot leaked?)", hc)
		}
	case <-time.After(time.Second):
		t.Fatal("second context update never delivered")
	}
}

func TestResourceTeardownAcked(t *testing.T) {
	h, g := newPair(t)
	released := make(chan struct{}, 1)
	g.OnTeardown(func(ctx context.Context) error {
		released <- struct{}{}
		return nil
	})
	connect(t, h, g)

	outcome, err := h.SendResourceTeardown(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Acked || outcome.TimedOut {
		t.Fatalf("outcome = %+v", outcome)
	}
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("guest cleanup never ran")
	}
}

func TestResourceTeardownBounded(t *testing.T) {
	h, g := newPair(t, host.WithTeardownTimeout(80*time.Millisecond))
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	g.OnTeardown(func(ctx context.Context) error {
		<-block
		return nil
	})
	connect(t, h, g)

	start := time.Now()
	outcome, err := h.SendResourceTeardown(t.Context())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.TimedOut || outcome.Acked {
		t.Fatalf("outcome = %+v", outcome)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("teardown not bounded: took %s", elapsed)
	}
}

func TestCallGuestTool(t *testing.T) {
	h, g := newPair(t)
	type echoArgs struct {
		Text string `json:"text"`
	}
	if err := g.RegisterTool(ui.ToolFor[echoArgs]("echo", "Echo back"), func(ctx context.Context, args json.RawMessage) (*ui.ToolCallResult, error) {
		var a echoArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		return &ui.ToolCallResult{Content: []ui.ContentBlock{ui.TextBlock(a.Text)}}, nil
	}); err != nil {
		t.Fatal(err)
	}
	connect(t, h, g)

	result, err := h.CallGuestTool(t.Context(), "echo", json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Fatalf("result = %+v", result)
	}

	if _, err := h.CallGuestTool(t.Context(), "missing", nil); err == nil {
		t.Fatal("undeclared tool accepted")
	}
}

func TestCallGuestToolWithoutCapability(t *testing.T) {
	h, g := newPair(t)
	connect(t, h, g)

	_, err := h.CallGuestTool(t.Context(), "echo", nil)
	var cerr *ui.CapabilityError
	if !errors.As(err, &cerr) || cerr.Capability != "tools" {
		t.Fatalf("want CapabilityError(tools), got %v", err)
	}
}

type fakeProxy struct {
	lastTool string
	lastURI  string
}

func (p *fakeProxy) CallTool(ctx context.Context, name string, args json.RawMessage) (*ui.ToolCallResult, error) {
	p.lastTool = name
	return &ui.ToolCallResult{Content: []ui.ContentBlock{ui.TextBlock("proxied")}}, nil
}

func (p *fakeProxy) ReadResource(ctx context.Context, uri string) (*ui.ResourcesReadResult, error) {
	p.lastURI = uri
	return &ui.ResourcesReadResult{Contents: []ui.ResourceContents{{URI: uri, Text: "contents"}}}, nil
}

func TestServerForwarding(t *testing.T) {
	proxy := &fakeProxy{}
	h, g := newPair(t,
		host.WithCapabilities(ui.HostCapabilities{
			ServerTools:     &ui.ServerToolsCapability{},
			ServerResources: &ui.ServerResourcesCapability{},
		}),
		host.WithServerProxy(proxy),
	)
	connect(t, h, g)

	result, err := g.CallServerTool(t.Context(), "lookup", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "proxied" {
		t.Fatalf("tool result = %+v", result)
	}

	res, err := g.ReadServerResource(t.Context(), "doc://readme")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Contents) != 1 || res.Contents[0].URI != "doc://readme" {
		t.Fatalf("resource result = %+v", res)
	}
}

func TestSizeReporterCoalesces(t *testing.T) {
	h, g := newPair(t)
	sizes := make(chan [2]float64, 16)
	g.OnSizeChanged(func(ctx context.Context, w, hgt float64) {
		sizes <- [2]float64{w, hgt}
	})
	connect(t, h, g)

	r := host.NewSizeReporter(h, 30*time.Millisecond)
	defer r.Stop()
	for i := range 20 {
		r.Observe(float64(100+i), 50)
	}

	select {
	case s := <-sizes:
		if s[0] != 119 {
			t.Fatalf("coalesced size = %v, want latest observation", s)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced report never arrived")
	}
	// The burst must collapse into far fewer than 20 notifications.
	time.Sleep(100 * time.Millisecond)
	if extra := len(sizes); extra > 2 {
		t.Fatalf("%d extra reports after burst", extra+1)
	}
}

package webview

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/uibridge/uibridge-go/internal/jsonrpc"
)

// fakeWebView runs dispatched work inline and records evaluated scripts.
type fakeWebView struct {
	mu      sync.Mutex
	scripts []string
}

func (f *fakeWebView) Eval(script string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
}

func (f *fakeWebView) Dispatch(fn func()) { fn() }

func (f *fakeWebView) evaluated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

func TestStartInjectsBootstrapOnce(t *testing.T) {
	wv := &fakeWebView{}
	tr := New(wv)
	defer tr.Close()

	if err := tr.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	scripts := wv.evaluated()
	if len(scripts) != 1 {
		t.Fatalf("bootstrap injected %d times", len(scripts))
	}
	if !strings.Contains(scripts[0], "window.__uibridge") {
		t.Fatalf("unexpected bootstrap: %s", scripts[0])
	}
	if !strings.Contains(scripts[0], DefaultBindingName) {
		t.Fatalf("bootstrap missing native binding: %s", scripts[0])
	}
}

func TestPageLoadReinjects(t *testing.T) {
	wv := &fakeWebView{}
	tr := New(wv, WithBindingName("appSend"))
	defer tr.Close()

	// Before Start a page load injects nothing.
	tr.OnPageLoad()
	if len(wv.evaluated()) != 0 {
		t.Fatal("injected before start")
	}

	if err := tr.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	tr.OnPageLoad()

	scripts := wv.evaluated()
	if len(scripts) != 2 {
		t.Fatalf("want bootstrap per page load, got %d scripts", len(scripts))
	}
	if !strings.Contains(scripts[1], "appSend") {
		t.Fatalf("custom binding missing: %s", scripts[1])
	}
}

func TestSendDeliversThroughEval(t *testing.T) {
	wv := &fakeWebView{}
	tr := New(wv)
	defer tr.Close()
	if err := tr.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	msg := jsonrpc.Message(`{"jsonrpc":"2.0","method":"ui/notifications/tool-input","params":{"text":"a \"quoted\" value"}}`)
	if err := tr.Send(t.Context(), msg); err != nil {
		t.Fatal(err)
	}

	scripts := wv.evaluated()
	last := scripts[len(scripts)-1]
	if !strings.Contains(last, "_deliver(") {
		t.Fatalf("send did not target the deliver hook: %s", last)
	}
	// The envelope must be spliced as an escaped string literal, quotes intact.
	if !strings.Contains(last, `\"quoted\"`) {
		t.Fatalf("envelope not escaped into a string literal: %s", last)
	}
}

func TestSendBeforeStartFails(t *testing.T) {
	tr := New(&fakeWebView{})
	defer tr.Close()
	if err := tr.Send(t.Context(), jsonrpc.Message(`{}`)); err == nil {
		t.Fatal("send before start accepted")
	}
}

func TestScriptMessageReachesStream(t *testing.T) {
	tr := New(&fakeWebView{})
	defer tr.Close()
	if err := tr.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	payload := `{"jsonrpc":"2.0","id":1,"method":"ui/initialize","params":{}}`
	go tr.HandleScriptMessage(payload)

	got := make(chan string, 1)
	go func() {
		for msg := range tr.Messages() {
			got <- string(msg)
			return
		}
	}()

	select {
	case v := <-got:
		if v != payload {
			t.Fatalf("delivered %s", v)
		}
	case <-time.After(time.Second):
		t.Fatal("script message never surfaced")
	}
}

package ui

import (
	"reflect"
	"testing"
)

func TestDiffProducesOnlyChangedFields(t *testing.T) {
	old := HostContext{
		Theme:    "light",
		Locale:   "en-US",
		Viewport: &Viewport{Width: 800, Height: 600},
	}
	next := HostContext{
		Theme:    "dark",
		Locale:   "en-US",
		Viewport: &Viewport{Width: 800, Height: 600},
	}

	delta, changed := old.Diff(next)
	if !changed {
		t.Fatal("want changed=true")
	}
	want := HostContext{Theme: "dark"}
	if !reflect.DeepEqual(delta, want) {
		t.Fatalf("delta = %+v, want %+v", delta, want)
	}
}

func TestDiffIdenticalSnapshotsIsEmpty(t *testing.T) {
	ctx := HostContext{
		Theme:          "dark",
		SafeAreaInsets: &SafeAreaInsets{Top: 20},
	}
	// Same values through distinct pointers.
	same := HostContext{
		Theme:          "dark",
		SafeAreaInsets: &SafeAreaInsets{Top: 20},
	}

	delta, changed := ctx.Diff(same)
	if changed {
		t.Fatalf("want no change, got delta %+v", delta)
	}
}

func TestMergeAppliesDelta(t *testing.T) {
	base := HostContext{
		Theme:    "light",
		Locale:   "en-US",
		Viewport: &Viewport{Width: 800, Height: 600},
	}
	delta := HostContext{
		Theme:    "dark",
		Viewport: &Viewport{Width: 400, Height: 300},
	}

	merged := base.Merge(delta)
	if merged.Theme != "dark" {
		t.Fatalf("theme = %q", merged.Theme)
	}
	if merged.Locale != "en-US" {
		t.Fatalf("untouched field clobbered: locale = %q", merged.Locale)
	}
	if merged.Viewport == nil || merged.Viewport.Width != 400 {
		t.Fatalf("viewport = %+v", merged.Viewport)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	base := HostContext{Theme: "light", TimeZone: "UTC"}
	delta := HostContext{Theme: "dark", DeviceCapabilities: &DeviceCapabilities{Touch: true}}

	once := base.Merge(delta)
	twice := once.Merge(delta)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent: %+v vs %+v", once, twice)
	}
}

func TestMergeDoesNotShareSubStructPointers(t *testing.T) {
	delta := HostContext{Viewport: &Viewport{Width: 100, Height: 50}}
	merged := HostContext{}.Merge(delta)

	delta.Viewport.Width = 999
	if merged.Viewport.Width != 100 {
		t.Fatal("merged snapshot aliases delta sub-struct")
	}
}

func TestDiffThenMergeConverges(t *testing.T) {
	old := HostContext{
		Theme:          "light",
		Locale:         "en-US",
		Viewport:       &Viewport{Width: 800, Height: 600},
		ToolInvocation: &ToolInvocation{InvocationID: "inv-1", ToolName: "chart"},
	}
	next := HostContext{
		Theme:          "dark",
		Locale:         "en-US",
		Viewport:       &Viewport{Width: 390, Height: 844},
		ToolInvocation: &ToolInvocation{InvocationID: "inv-1", ToolName: "chart"},
	}

	delta, changed := old.Diff(next)
	if !changed {
		t.Fatal("want change")
	}
	if !reflect.DeepEqual(old.Merge(delta), next) {
		t.Fatalf("merge(diff) did not converge: %+v", old.Merge(delta))
	}
}

package devwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCoalescesWriteBurst(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	go w.Run(t.Context())
	// Let the watcher attach before producing events.
	time.Sleep(100 * time.Millisecond)

	for i := range 10 {
		name := filepath.Join(dir, "app.js")
		if err := os.WriteFile(name, []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-w.Reload():
	case <-time.After(5 * time.Second):
		t.Fatal("reload signal never fired")
	}

	// The burst must have settled into at most one further tick.
	time.Sleep(200 * time.Millisecond)
	extra := 0
	for {
		select {
		case <-w.Reload():
			extra++
			if extra > 1 {
				t.Fatalf("burst produced %d extra reloads", extra)
			}
			continue
		default:
		}
		break
	}
}

func TestMissingRootRejected(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("missing root accepted")
	}
}

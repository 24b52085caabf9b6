package host

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SizeReporter coalesces rapid surface size observations into debounced
// size-changed notifications, so a window being dragged does not flood the
// channel with one envelope per layout pass. Observations within the
// interval collapse into a single notification carrying the latest size.
type SizeReporter struct {
	h        *Host
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool
	width   float64
	height  float64
}

// NewSizeReporter builds a reporter for the host. An interval of 0 disables
// debouncing and reports every observation immediately.
func NewSizeReporter(h *Host, interval time.Duration) *SizeReporter {
	return &SizeReporter{h: h, interval: interval}
}

// Observe records a size sample. Safe for concurrent use.
func (r *SizeReporter) Observe(width, height float64) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.width, r.height = width, height
	if r.interval <= 0 {
		r.mu.Unlock()
		r.flush()
		return
	}
	if r.pending {
		r.mu.Unlock()
		return
	}
	r.pending = true
	if r.timer == nil {
		r.timer = time.AfterFunc(r.interval, r.flush)
	} else {
		r.timer.Reset(r.interval)
	}
	r.mu.Unlock()
}

func (r *SizeReporter) flush() {
	r.mu.Lock()
	r.pending = false
	if r.stopped {
		r.mu.Unlock()
		return
	}
	w, h := r.width, r.height
	r.mu.Unlock()

	if err := r.h.NotifySizeChanged(context.Background(), w, h); err != nil {
		r.h.log.Warn("size report failed", slog.String("error", err.Error()))
	}
}

// Stop drops any pending report and makes further observations no-ops.
func (r *SizeReporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}

// Package loopback provides a linked in-memory transport pair. The two ends
// forward directly into each other's incoming stream, which makes tests
// deterministic: there is no real I/O and receipt order equals send order.
package loopback

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"

	"github.com/uibridge/uibridge-go/internal/jsonrpc"
	"github.com/uibridge/uibridge-go/protocol"
)

var (
	errNotStarted = errors.New("not started")
	errClosed     = errors.New("closed")
	errPeerGone   = errors.New("peer closed")
)

// Transport is one end of an in-memory pair created by New.
type Transport struct {
	peer *Transport

	mu      sync.Mutex
	started bool

	in   chan jsonrpc.Message
	errs chan error
	done chan struct{}

	closeOnce sync.Once
}

var _ protocol.Transport = (*Transport)(nil)

// New returns the two linked ends of a loopback channel.
func New() (*Transport, *Transport) {
	a := newEnd()
	b := newEnd()
	a.peer = b
	b.peer = a
	return a, b
}

func newEnd() *Transport {
	return &Transport{
		in:   make(chan jsonrpc.Message, 64),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

// Start marks the end ready. Starting twice is a no-op.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

// Send forwards one envelope into the peer's incoming stream.
func (t *Transport) Send(ctx context.Context, msg jsonrpc.Message) error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return &protocol.TransportError{Op: "send", Err: errNotStarted}
	}
	select {
	case <-t.done:
		return &protocol.TransportError{Op: "send", Err: errClosed}
	default:
	}

	select {
	case <-t.peer.done:
		return &protocol.TransportError{Op: "send", Err: errPeerGone}
	default:
	}

	// Copy so the sender may reuse its buffer.
	cp := slices.Clone(msg)
	select {
	case t.peer.in <- cp:
		return nil
	case <-t.peer.done:
		return &protocol.TransportError{Op: "send", Err: errPeerGone}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages yields envelopes in receipt order until the end is closed.
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

// Errors returns the (rarely used) error stream of this end.
func (t *Transport) Errors() <-chan error { return t.errs }

// Close shuts this end down. Safe to call multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		close(t.errs)
	})
	return nil
}

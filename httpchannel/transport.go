package httpchannel

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/uibridge/uibridge-go/internal/jsonrpc"
	"github.com/uibridge/uibridge-go/protocol"
)

var errChannelClosed = errors.New("channel closed")

// Channel is the host-side transport for one browser guest. Inbound
// envelopes arrive via the guest's POSTs; outbound envelopes are published to
// the message host, where the guest's event stream picks them up.
type Channel struct {
	id     string
	server *Server

	mu      sync.Mutex
	started bool

	in   chan jsonrpc.Message
	errs chan error
	done chan struct{}

	closeOnce sync.Once
}

var _ protocol.Transport = (*Channel)(nil)

// ID returns the channel identifier the guest addresses its requests to.
func (c *Channel) ID() string { return c.id }

// Start implements protocol.Transport. Idempotent.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

// Send publishes one envelope for the guest's event stream.
func (c *Channel) Send(ctx context.Context, msg jsonrpc.Message) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return &protocol.TransportError{Op: "send", Err: protocol.ErrNotStarted}
	}
	select {
	case <-c.done:
		return &protocol.TransportError{Op: "send", Err: errChannelClosed}
	default:
	}
	if _, err := c.server.messages.Publish(ctx, c.id, msg); err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	return nil
}

// deliver routes one inbound envelope from the HTTP handler.
func (c *Channel) deliver(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case c.in <- msg:
		return nil
	case <-c.done:
		return errChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages implements protocol.Transport.
func (c *Channel) Messages() iter.Seq[jsonrpc.Message] {
	return func(yield func(jsonrpc.Message) bool) {
		for {
			select {
			case msg := <-c.in:
				if !yield(msg) {
					return
				}
			case <-c.done:
				return
			}
		}
	}
}

// Errors implements protocol.Transport.
func (c *Channel) Errors() <-chan error { return c.errs }

// Close implements protocol.Transport. It detaches the channel from the
// server and discards its buffered stream.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.errs)
		c.server.removeChannel(c.id)
		_ = c.server.messages.Cleanup(context.Background(), c.id)
	})
	return nil
}

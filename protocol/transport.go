package protocol

import (
	"context"
	"fmt"
	"iter"

	"github.com/uibridge/uibridge-go/internal/jsonrpc"
)

// Transport abstracts the physical channel that carries envelopes between a
// guest and its host. Implementations are message oriented: each Send
// delivers exactly one envelope, and delivery is fire-and-forget with no
// ordering guarantee beyond receipt order on the incoming stream.
type Transport interface {
	// Start readies the channel. Calling Start more than once must not
	// duplicate listeners; implementations either make it a no-op or return
	// an error.
	Start(ctx context.Context) error

	// Send delivers one envelope to the peer. It fails with a
	// *TransportError when the transport has not been started or the peer is
	// gone.
	Send(ctx context.Context, msg jsonrpc.Message) error

	// Messages yields every envelope received after Start, in receipt order.
	// The sequence ends when the transport is closed or the channel is lost;
	// it never fails mid-stream. Malformed frames are surfaced on Errors
	// instead of terminating the sequence.
	Messages() iter.Seq[jsonrpc.Message]

	// Errors surfaces channel-level faults (origin rejections, write
	// failures to a departed peer) without interrupting the message stream.
	// The channel is closed when the transport closes.
	Errors() <-chan error

	// Close releases resources. Safe to call multiple times.
	Close() error
}

// TransportError wraps a channel-level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Package channelhost defines the routing contract between an HTTP front end
// and the bridge: ordered per-channel message delivery with resume, so a
// guest that reconnects its event stream picks up where it left off. The
// in-process implementation lives in memoryhost; redishost routes across
// host instances.
package channelhost

import (
	"context"
	"errors"
)

// HandlerFunc receives one published message. Returning an error stops the
// subscription and surfaces the error from Subscribe.
type HandlerFunc func(ctx context.Context, eventID string, data []byte) error

// ErrUnknownEventID rejects a resume cursor the host has no record of.
var ErrUnknownEventID = errors.New("unknown last event id")

// MessageHost delivers messages published to a channel to that channel's
// subscriber, in publish order, with replay from a resume cursor.
type MessageHost interface {
	// Publish appends data to the channel and returns its event id.
	Publish(ctx context.Context, channelID string, data []byte) (eventID string, err error)

	// Subscribe delivers messages in order until ctx ends, the channel is
	// cleaned up, or the handler fails. An empty lastEventID starts at the
	// next message; otherwise delivery resumes just after the cursor.
	Subscribe(ctx context.Context, channelID string, lastEventID string, handler HandlerFunc) error

	// Cleanup discards the channel and wakes its subscribers.
	Cleanup(ctx context.Context, channelID string) error
}

// Package logctx enriches slog records with bridge and RPC context carried on
// the context.Context flowing through the dispatch path.
package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates an inner slog.Handler, attaching grouped attributes for
// whatever bridge/RPC data is present on the record's context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("session",
			slog.String("id", sd.SessionID),
			slog.String("role", sd.Role),
			slog.String("protocol_version", sd.ProtocolVersion),
			slog.String("state", sd.State),
		))
	}

	if msg, ok := ctx.Value(rpcMsgKey{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type rpcMsgKey struct{}

// RPCMessage identifies the envelope being dispatched.
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

// WithRPCMessage attaches envelope data to the context.
func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsgKey{}, msg)
}

type sessionDataKey struct{}

// SessionData identifies the bridge session serving the dispatch.
type SessionData struct {
	SessionID       string
	Role            string // "host" or "guest"
	ProtocolVersion string
	State           string
}

// WithSessionData attaches session data to the context.
func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

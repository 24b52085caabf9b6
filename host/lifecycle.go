package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/uibridge/uibridge-go/ui"
)

// Tool lifecycle ordering per invocation id:
//
//	tool-input-partial*  →  tool-input ×1  →  tool-result | tool-cancelled ×1
//
// The bridge enforces the ordering locally so a buggy host cannot emit a
// stream the guest is entitled to reject.

var (
	// ErrInputFinalized rejects a partial sent after the final input.
	ErrInputFinalized = errors.New("tool input already finalized")
	// ErrInputNotSent rejects a result for an invocation whose final input
	// never went out.
	ErrInputNotSent = errors.New("tool input not yet sent")
	// ErrInvocationTerminal rejects any event after the terminal one.
	ErrInvocationTerminal = errors.New("invocation already reached a terminal event")
)

// NewInvocationID mints a fresh invocation id for a tool lifecycle stream.
func NewInvocationID() string {
	return uuid.NewString()
}

type invocation struct {
	inputSent bool
	terminal  bool
}

func (h *Host) invocationFor(id string) *invocation {
	inv, ok := h.invocations[id]
	if !ok {
		inv = &invocation{}
		h.invocations[id] = inv
	}
	return inv
}

// SendToolInputPartial streams an in-progress view of an invocation's input.
// Valid any number of times before SendToolInput.
func (h *Host) SendToolInputPartial(ctx context.Context, invocationID, toolName string, args json.RawMessage) error {
	h.mu.Lock()
	inv := h.invocationFor(invocationID)
	switch {
	case inv.terminal:
		h.mu.Unlock()
		return fmt.Errorf("invocation %s: %w", invocationID, ErrInvocationTerminal)
	case inv.inputSent:
		h.mu.Unlock()
		return fmt.Errorf("invocation %s: %w", invocationID, ErrInputFinalized)
	}
	h.mu.Unlock()

	return h.engine.Notify(ctx, ui.MethodNotifyToolInputPartial, &ui.ToolInputPartialParams{
		InvocationID: invocationID,
		ToolName:     toolName,
		Arguments:    args,
	})
}

// SendToolInput delivers the finalized input. Exactly once per invocation.
func (h *Host) SendToolInput(ctx context.Context, invocationID, toolName string, args json.RawMessage) error {
	h.mu.Lock()
	inv := h.invocationFor(invocationID)
	switch {
	case inv.terminal:
		h.mu.Unlock()
		return fmt.Errorf("invocation %s: %w", invocationID, ErrInvocationTerminal)
	case inv.inputSent:
		h.mu.Unlock()
		return fmt.Errorf("invocation %s: %w", invocationID, ErrInputFinalized)
	}
	inv.inputSent = true
	h.mu.Unlock()

	return h.engine.Notify(ctx, ui.MethodNotifyToolInput, &ui.ToolInputParams{
		InvocationID: invocationID,
		ToolName:     toolName,
		Arguments:    args,
	})
}

// SendToolResult delivers the invocation's terminal result. Requires the
// final input to have been sent; excludes any further lifecycle event.
func (h *Host) SendToolResult(ctx context.Context, invocationID string, content []ui.ContentBlock, isError bool) error {
	h.mu.Lock()
	inv := h.invocationFor(invocationID)
	switch {
	case inv.terminal:
		h.mu.Unlock()
		return fmt.Errorf("invocation %s: %w", invocationID, ErrInvocationTerminal)
	case !inv.inputSent:
		h.mu.Unlock()
		return fmt.Errorf("invocation %s: %w", invocationID, ErrInputNotSent)
	}
	inv.terminal = true
	h.mu.Unlock()

	return h.engine.Notify(ctx, ui.MethodNotifyToolResult, &ui.ToolResultParams{
		InvocationID: invocationID,
		Content:      content,
		IsError:      isError,
	})
}

// SendToolCancelled terminates the invocation without a result. Valid at any
// point before the terminal event, including mid-stream before the final
// input.
func (h *Host) SendToolCancelled(ctx context.Context, invocationID, reason string) error {
	h.mu.Lock()
	inv := h.invocationFor(invocationID)
	if inv.terminal {
		h.mu.Unlock()
		return fmt.Errorf("invocation %s: %w", invocationID, ErrInvocationTerminal)
	}
	inv.terminal = true
	h.mu.Unlock()

	return h.engine.Notify(ctx, ui.MethodNotifyToolCancelled, &ui.ToolCancelledParams{
		InvocationID: invocationID,
		Reason:       reason,
	})
}

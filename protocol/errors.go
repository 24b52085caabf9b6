package protocol

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineClosed indicates the engine was closed before or while the
	// call was in flight. All pending requests fail with this (or the close
	// cause) when the session ends.
	ErrEngineClosed = errors.New("engine closed")
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrNotStarted indicates a call was made before Start.
	ErrNotStarted = errors.New("engine not started")
)

// TimeoutError indicates that no terminal response arrived within the
// request's deadline. The pending entry has been removed; the request is not
// retried.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", e.Method, e.Timeout)
}

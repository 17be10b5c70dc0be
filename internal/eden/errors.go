package eden

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TransportError is a network failure or a non-2xx gateway response.
type TransportError struct {
	Op         string // e.g. "request_creation", "poll", "fetch artifact"
	StatusCode int    // 0 when the request never got a response
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("eden: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("eden: %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("eden: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the gateway rejected the bot's credentials.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("eden: credentials rejected (%d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("eden: credentials rejected (%d)", e.StatusCode)
}

// ProtocolError means the gateway answered with a payload we cannot interpret.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "eden: protocol: " + e.Reason
}

// RemoteTaskFailure is the gateway reporting status=failed for a task.
type RemoteTaskFailure struct {
	TaskID TaskID
	Reason string
}

func (e *RemoteTaskFailure) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("eden: task %s failed: %s", e.TaskID, e.Reason)
	}
	return fmt.Sprintf("eden: task %s failed", e.TaskID)
}

// TimeoutError means a task did not reach a terminal state within the poll budget.
type TimeoutError struct {
	TaskID TaskID
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("eden: task %s did not finish within %s", e.TaskID, e.After)
}

// Retryable reports whether err is a transient condition (network, gateway
// 5xx, timeout) as opposed to a terminal business failure (rejected
// credentials, failed task, malformed payload). Nothing in this module
// retries automatically; the distinction is surfaced for callers.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode == 0 || te.StatusCode >= 500 || te.StatusCode == 429
	}
	var to *TimeoutError
	return errors.As(err, &to)
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// NetworkError is a transport failure or a non-OK HTTP status with no
// application payload.
type NetworkError struct {
	Op     string
	Status int // 0 when the request never got a response
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ApplicationError is a well-formed response that reports failure
// (success:false with an error message).
type ApplicationError struct {
	Op      string
	Status  int
	Message string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// RaceError reports that a stop request was overtaken by the batch finishing
// on its own.
type RaceError struct {
	Execution int
}

func (e *RaceError) Error() string {
	return fmt.Sprintf("execution %d already finished", e.Execution)
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, Err: err}
}

// NewStatusError reports a non-OK status without an application payload.
func NewStatusError(op string, status int) error {
	return &NetworkError{Op: op, Status: status}
}

// NewApplicationError builds an ApplicationError, falling back to a generic
// message when the server sent none.
func NewApplicationError(op string, status int, msg string) error {
	if msg == "" {
		msg = op + " failed"
	}
	return &ApplicationError{Op: op, Status: status, Message: msg}
}

// IsNetworkError reports whether err is (or wraps) a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsApplicationError reports whether err is (or wraps) an ApplicationError.
func IsApplicationError(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// IsPermanentError checks if an error should never be retried.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return true
	}
	var raceErr *RaceError
	if errors.As(err, &raceErr) {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.Status != 0 {
		// 4xx will not change on a second attempt; 5xx might.
		return netErr.Status >= 400 && netErr.Status < 500
	}

	return classifyError(err)
}

// IsTransientError checks if an error is transient (retryable).
func IsTransientError(err error) bool {
	return err != nil && !IsPermanentError(err)
}

func classifyError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Timeout() {
		return false
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.EACCES, syscall.EPERM, syscall.ENOENT, syscall.ENOTDIR:
			return true
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return false
		}
	}

	return false
}

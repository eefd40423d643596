package remote

import (
	"errors"
	"fmt"
)

// TransportError is a connectivity-level failure: the request never got a
// usable answer (connection refused, timeout) or the server answered 5xx.
// The operation is unconsumed and may succeed verbatim on a later attempt.
type TransportError struct {
	Op     string
	Status int // 0 when no response arrived
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server error %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError is a business refusal: the server understood the request
// and rejected it (4xx). Retrying the same payload would yield the same
// answer, so the operation is terminal.
type RejectionError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: rejected (%d): %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: rejected (%d)", e.Op, e.Status)
}

// IsRetryable reports whether the error warrants keeping the operation
// queued for a later pass.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether the error is a terminal server refusal.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// Package retry turns flaky remote calls into a two-state reliability
// machine. Each wrapped client owns one Engine; calls that fail transiently
// are parked in a bounded mailbox and re-attempted by a background resender
// until they resolve, while permanent failures surface immediately.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/aws/smithy-go"
)

// Outcome classifies one attempt of an action.
type Outcome int

const (
	// Done means the attempt succeeded.
	Done Outcome = iota
	// Defer means the failure is transient; park the action and re-attempt.
	Defer
	// Fail means the failure is permanent; surface it to the caller.
	Fail
)

// String renders the outcome for logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Defer:
		return "defer"
	default:
		return "fail"
	}
}

// Classifier maps an attempt error to an Outcome. A nil error must map to
// Done.
type Classifier func(error) Outcome

// ClassifyAWS is the classifier shared by the queue, record store, and
// object store clients.
//
// Transient: timeouts and dispatch failures that never produced a service
// response (connection refused or reset, DNS, truncated I/O). Permanent:
// caller cancellation, request construction errors, and every error the
// service itself returned.
func ClassifyAWS(err error) Outcome {
	if err == nil {
		return Done
	}
	if errors.Is(err, context.Canceled) {
		return Fail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Defer
	}
	var serr *smithy.SerializationError
	if errors.As(err, &serr) {
		return Fail
	}
	var derr *smithy.DeserializationError
	if errors.As(err, &derr) {
		return Fail
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return Fail
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Defer
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Defer
	}
	// An operation error that carries no service response is a dispatch
	// failure: the request never completed.
	var oerr *smithy.OperationError
	if errors.As(err, &oerr) {
		return Defer
	}
	return Fail
}

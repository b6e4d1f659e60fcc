package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (sentinels)
var (
	// ErrConditionalCheckFailed reports a lost claim race or a reaped record.
	ErrConditionalCheckFailed = errors.New("conditional check failed")
	// ErrRecordNotFound reports an absent record where one was required.
	ErrRecordNotFound = errors.New("record not found")
	// ErrMalformedRecord reports a store item that cannot be decoded.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInvalidObject reports a blob whose received bytes differ from its
	// advertised size.
	ErrInvalidObject = errors.New("invalid object")
	// ErrMalformedMessage reports a queue body that is not a valid job message.
	ErrMalformedMessage = errors.New("malformed message")
)

// ErrorType is the closed failure enumeration the front door maps to HTTP
// status codes. Every value except InternalError translates to a client error.
type ErrorType string

const (
	ErrorTypeUnsupportedCompilerVersion ErrorType = "UnsupportedCompilerVersion"
	ErrorTypeCompilation                ErrorType = "CompilationError"
	ErrorTypeNothingToCompile           ErrorType = "NothingToCompile"
	ErrorTypeUnknownNetwork             ErrorType = "UnknownNetworkError"
	ErrorTypeVerification               ErrorType = "VerificationError"
	ErrorTypeInternal                   ErrorType = "InternalError"
)

// JobError is a terminal job failure destined for the record's Failure payload.
type JobError struct {
	Type    ErrorType
	Message string
}

// Error implements error.
func (e *JobError) Error() string { return e.Message }

// NewUnsupportedVersionError reports a compiler version outside the allow-list.
func NewUnsupportedVersionError(version string) *JobError {
	return &JobError{Type: ErrorTypeUnsupportedCompilerVersion, Message: fmt.Sprintf("unsupported compiler version: %s", version)}
}

// NewCompilationError wraps the compiler's stderr on non-zero exit.
func NewCompilationError(stderr string) *JobError {
	return &JobError{Type: ErrorTypeCompilation, Message: stderr}
}

// NewNothingToCompileError reports an empty contract list after filtering.
func NewNothingToCompileError() *JobError {
	return &JobError{Type: ErrorTypeNothingToCompile, Message: "nothing to compile"}
}

// NewUnknownNetworkError reports a verify network outside the allow-list.
func NewUnknownNetworkError(network string) *JobError {
	return &JobError{Type: ErrorTypeUnknownNetwork, Message: fmt.Sprintf("unknown network: %s", network)}
}

// NewVerificationError wraps the verifier's stdout on non-zero exit.
func NewVerificationError(output string) *JobError {
	return &JobError{Type: ErrorTypeVerification, Message: output}
}

// NewInternalError wraps an infrastructure failure for terminal publication.
func NewInternalError(err error) *JobError {
	return &JobError{Type: ErrorTypeInternal, Message: err.Error()}
}

// ErrorTypeOf extracts the failure enumeration from err, defaulting to
// InternalError for anything that is not a JobError.
func ErrorTypeOf(err error) ErrorType {
	var je *JobError
	if errors.As(err, &je) {
		return je.Type
	}
	return ErrorTypeInternal
}

// ValidErrorType reports whether t belongs to the closed enumeration.
func ValidErrorType(t ErrorType) bool {
	switch t {
	case ErrorTypeUnsupportedCompilerVersion, ErrorTypeCompilation, ErrorTypeNothingToCompile,
		ErrorTypeUnknownNetwork, ErrorTypeVerification, ErrorTypeInternal:
		return true
	}
	return false
}

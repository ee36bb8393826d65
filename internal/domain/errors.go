package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Wrap them with NewDomainError or fmt.Errorf("%w") so that
// ErrorCodeOf can classify the failure.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound = fmt.Errorf("model source not found")
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrToolFailure      = fmt.Errorf("tool execution failed")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")

	// Relay / wire protocol errors.
	ErrInvocationOverlap = fmt.Errorf("tool invocation started while another is pending")
	ErrMalformedEvent    = fmt.Errorf("malformed wire event")
	ErrUpstream          = fmt.Errorf("upstream model stream failed")
	ErrEmptyMessage      = fmt.Errorf("message is required")

	// Upstream HTTP classification.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
// Nothing in the relay retries; the flag only annotates tool results.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrProviderError)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound  ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure       ErrorCode = "TOOL_FAILURE"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeInvocationOverlap ErrorCode = "INVOCATION_OVERLAP"
	CodeMalformedEvent    ErrorCode = "MALFORMED_EVENT"
	CodeUpstream          ErrorCode = "UPSTREAM"
	CodeEmptyMessage      ErrorCode = "EMPTY_MESSAGE"
	CodeContextOverflow   ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrTimeout:           CodeTimeout,
	ErrInvalidInput:      CodeInvalidInput,
	ErrProviderError:     CodeProviderError,
	ErrProviderNotFound:  CodeProviderNotFound,
	ErrToolNotFound:      CodeToolNotFound,
	ErrToolFailure:       CodeToolFailure,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrInvocationOverlap: CodeInvocationOverlap,
	ErrMalformedEvent:    CodeMalformedEvent,
	ErrUpstream:          CodeUpstream,
	ErrEmptyMessage:      CodeEmptyMessage,
	ErrContextOverflow:   CodeContextOverflow,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
}

// codePriority fixes the order in which wrapped chains are probed, so an
// error wrapping several sentinels always maps to the same code.
var codePriority = []error{
	ErrInvocationOverlap,
	ErrMalformedEvent,
	ErrEmptyMessage,
	ErrToolNotFound,
	ErrProviderNotFound,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrContextOverflow,
	ErrToolFailure,
	ErrUpstream,
	ErrConfigLoad,
	ErrDecryption,
	ErrNotFound,
	ErrTimeout,
	ErrInvalidInput,
	ErrProviderError,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

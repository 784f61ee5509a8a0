package apperror

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Severity classifies how an error should be handled by the pipeline.
type Severity string

const (
	// SeverityExpected marks routine, non-fatal outcomes: lost races,
	// guard-triggered reverts, stale quotes. Logged, recorded, never escalated.
	SeverityExpected Severity = "expected"

	// SeverityDegraded marks failures that reduce capability but keep the
	// pipeline running: relay timeouts, RPC errors, open circuits.
	SeverityDegraded Severity = "degraded"

	// SeverityFatal marks invariant violations. The offending plan is
	// aborted; the process must survive.
	SeverityFatal Severity = "fatal"
)

// AppError implements the error interface and provides structured error handling
type AppError struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Context   string    `json:"context,omitempty"`
	TraceID   string    `json:"traceId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	cause     error     // unexported to maintain encapsulation
	stack     []uintptr // stack trace
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (code: %s, context: %s)", e.Code, e.Message, e.Code, e.Context)
	}
	return fmt.Sprintf("%s: %s (code: %s)", e.Code, e.Message, e.Code)
}

// Unwrap implements the errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is implements errors.Is interface for error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithTraceID sets the trace ID for distributed tracing
func (e *AppError) WithTraceID(traceID string) *AppError {
	e.TraceID = traceID
	return e
}

// ToLog serializes the error for logging with stack trace
func (e *AppError) ToLog() map[string]interface{} {
	log := map[string]interface{}{
		"code":      e.Code,
		"message":   e.Message,
		"severity":  e.Severity,
		"timestamp": e.Timestamp.Format(time.RFC3339),
	}

	if e.Context != "" {
		log["context"] = e.Context
	}

	if e.TraceID != "" {
		log["traceId"] = e.TraceID
	}

	if e.cause != nil {
		log["cause"] = e.cause.Error()
	}

	if len(e.stack) > 0 {
		log["stack"] = e.formatStack()
	}

	return log
}

// formatStack formats the stack trace
func (e *AppError) formatStack() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			sb.WriteString(fmt.Sprintf("\n\t%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// captureStack captures the current stack trace
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[:n]
}

// New creates a new AppError with the given code and options
func New(code Code, opts ...Option) *AppError {
	err := &AppError{
		Code:      code,
		Message:   messages[code],
		Severity:  defaultSeverity(code),
		Timestamp: time.Now(),
		stack:     captureStack(),
	}

	// Apply options
	for _, opt := range opts {
		opt(err)
	}

	// If message wasn't set by options and isn't in messages map, use code as message
	if err.Message == "" {
		err.Message = string(code)
	}

	return err
}

// Option is a functional option for AppError
type Option func(*AppError)

// WithMessage sets a custom message
func WithMessage(message string) Option {
	return func(e *AppError) {
		e.Message = message
	}
}

// WithContext adds context information
func WithContext(context string) Option {
	return func(e *AppError) {
		e.Context = context
	}
}

// WithSeverity overrides the default severity
func WithSeverity(severity Severity) Option {
	return func(e *AppError) {
		e.Severity = severity
	}
}

// WithCause wraps an underlying error
func WithCause(cause error) Option {
	return func(e *AppError) {
		e.cause = cause
	}
}

// Factory methods for common error types

// Expected creates a routine, non-fatal error
func Expected(code Code, context string) *AppError {
	return New(code, WithContext(context), WithSeverity(SeverityExpected))
}

// Degraded creates a capability-reducing error
func Degraded(code Code, context string, cause error) *AppError {
	return New(code, WithContext(context), WithCause(cause), WithSeverity(SeverityDegraded))
}

// Fatal creates an invariant-violation error
func Fatal(code Code, context string, cause error) *AppError {
	return New(code, WithContext(context), WithCause(cause), WithSeverity(SeverityFatal))
}

// External creates an external service error
func External(code Code, context string, cause error) *AppError {
	return New(code, WithContext(context), WithCause(cause), WithSeverity(SeverityDegraded))
}

// Wrap wraps a standard error into AppError
func Wrap(err error, code Code, context string) *AppError {
	if err == nil {
		return nil
	}

	// If it's already an AppError, return it
	var appErr *AppError
	if errors.As(err, &appErr) {
		if context != "" && appErr.Context == "" {
			appErr.Context = context
		}
		return appErr
	}

	// Create new AppError wrapping the original
	return New(code, WithContext(context), WithCause(err))
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetCode extracts the error code from an error
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknownError
}

// HasCode reports whether err carries the given code anywhere in its chain
func HasCode(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// defaultSeverity determines the severity based on the error code
func defaultSeverity(code Code) Severity {
	switch code {
	// Routine pipeline outcomes
	case CodeCandidateExpired, CodeInsufficientMargin, CodeSizeBelowMinimum,
		CodeConcurrencyLimit, CodeCandidateAlreadySeen, CodeQuoteStale,
		CodeNoViableRoute, CodeFeeAbandon, CodeSimulationReverted,
		CodeRelayRejected, CodeCapacityExceeded, CodeCacheMiss, CodeCacheExpired:
		return SeverityExpected

	// Invariant violations
	case CodeUnsafeMinOut, CodeRepayMismatch, CodePlanImmutable, CodeBundleTerminal:
		return SeverityFatal

	default:
		return SeverityDegraded
	}
}

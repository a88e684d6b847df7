// Package errs provides structured error types and helpers shared across the
// dispatch fabric.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category: configuration, publish-time,
// dispatch-time, pool-state, lifecycle, or fatal.
type Code string

const (
	// CodeDuplicateName indicates a name collision at registration time
	// (duplicate source, duplicate target queue).
	CodeDuplicateName Code = "duplicate_name"
	// CodeNoSource indicates a lookup referenced an unknown name: a
	// subscription's source, or an agent group or service on the server.
	CodeNoSource Code = "no_source"
	// CodeNullArgument indicates a required argument was nil/empty.
	CodeNullArgument Code = "null_argument"
	// CodeInvalidCapacity indicates a capacity out of range was supplied
	// (non-positive, or below a component's minimum), or that an agent's
	// bounded pending start/stop queue was full.
	CodeInvalidCapacity Code = "invalid_capacity"
	// CodeQueueFull indicates a target queue rejected an offer after the
	// slow-consumer strategy was exhausted, or an executor's job queue was
	// full.
	CodeQueueFull Code = "queue_full"
	// CodeDispatchFailed indicates a processor invocation raised an error.
	CodeDispatchFailed Code = "dispatch_failed"
	// CodeInvalidState indicates a pool-state violation: acquire-after-return
	// or release-underflow.
	CodeInvalidState Code = "invalid_state"
	// CodeLifecycle indicates an unexpected lifecycle transition.
	CodeLifecycle Code = "lifecycle"
	// CodeFatal indicates an uncaught error that escaped an agent's duty
	// cycle; the default global handler terminates the process.
	CodeFatal Code = "fatal"
)

// E captures structured error information produced across the core.
type E struct {
	Component   string
	Code        Code
	Message     string
	Remediation string
	Fields      map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField attaches a single structured field to the error (e.g. source
// name, subscription key, pool name).
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = value
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "mongoose"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sortStrings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target carries the same Code, so callers can use
// errors.Is(err, errs.New("", errs.CodeNoSource)) as a lightweight
// classification check.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok || other == nil || e == nil {
		return false
	}
	return e.Code == other.Code
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

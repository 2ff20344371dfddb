// Package orcherr defines the closed error_kind taxonomy used across the
// orchestration engine: every Action, server handler, and streamer result
// classifies its failure as exactly one of these kinds so that the node
// executor's retry and propagation policy can be expressed without type
// assertions on provider-specific error types.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classifications carried by every Action
// result, server response, and streamer result.
type Kind string

const (
	// KindNotReady means a condition Action timed out waiting for a state.
	KindNotReady Kind = "not-ready"
	// KindUnauthorized means a credential was rejected (SSH, token, bearer).
	KindUnauthorized Kind = "unauthorized"
	// KindExpired means a token was presented past its validity window.
	KindExpired Kind = "expired"
	// KindMalformed means a document failed validation.
	KindMalformed Kind = "malformed"
	// KindConflict means a state-already-exists or ID collision occurred.
	KindConflict Kind = "conflict"
	// KindNotFound means a required resource was absent.
	KindNotFound Kind = "not-found"
	// KindRemoteFailure means a delegated sub-run returned failure.
	KindRemoteFailure Kind = "remote-failure"
	// KindTimeout means the streamer or overall run exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindCancelled means the operator interrupted the run.
	KindCancelled Kind = "cancelled"
	// KindInternal means an unexpected condition (programming error).
	KindInternal Kind = "internal"
)

// Valid reports whether k is one of the closed taxonomy values.
func (k Kind) Valid() bool {
	switch k {
	case KindNotReady, KindUnauthorized, KindExpired, KindMalformed,
		KindConflict, KindNotFound, KindRemoteFailure, KindTimeout,
		KindCancelled, KindInternal:
		return true
	default:
		return false
	}
}

// Retryable reports whether the initial probe for this kind is eligible for
// the bounded retry budget of §7 (not-ready and unauthorized only).
func (k Kind) Retryable() bool {
	return k == KindNotReady || k == KindUnauthorized
}

// Error is the orchestration engine's classified error type. It plays the
// same role as the teacher stack's EngineError but carries the error_kind
// taxonomy instead of a transient/throttled/conflict/permanent classification,
// since the node executor's propagation policy is keyed on error_kind.
type Error struct {
	Kind      Kind
	Message   string
	Node      string
	Phase     string
	Err       error
	Details   map[string]string
}

// New creates an Error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Node != "" && e.Phase != "" {
		return fmt.Sprintf("[%s] %s (node=%s, phase=%s): %s", e.Kind, e.Message, e.Node, e.Phase, e.unwrapMessage())
	}
	if e.Node != "" {
		return fmt.Sprintf("[%s] %s (node=%s): %s", e.Kind, e.Message, e.Node, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.unwrapMessage())
}

func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Unwrap exposes the wrapped error for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// Is compares by Kind so callers can use errors.Is(err, orcherr.New(orcherr.KindTimeout, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithNode attaches the node name that produced the error.
func (e *Error) WithNode(name string) *Error { e.Node = name; return e }

// WithPhase attaches the lifecycle phase name that produced the error.
func (e *Error) WithPhase(phase string) *Error { e.Phase = phase; return e }

// WithDetail adds a diagnostic detail.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryableProbe reports whether err is eligible for the initial-probe
// retry budget described in spec §7.
func IsRetryableProbe(err error) bool {
	return KindOf(err).Retryable()
}

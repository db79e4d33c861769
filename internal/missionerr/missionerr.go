// Package missionerr defines the error taxonomy used across the mission
// execution engine. Call sites classify failures into one of a small set
// of kinds rather than inspecting error strings; the kind determines
// propagation policy (retry, surface to user, alert operator).
package missionerr

import (
	"github.com/go-faster/errors"
)

// Kind is one of the taxonomy kinds from the error handling design.
type Kind string

const (
	KindInputRejected      Kind = "InputRejected"
	KindPolicyViolation    Kind = "PolicyViolation"
	KindRetryable          Kind = "Retryable"
	KindNonRetryable       Kind = "NonRetryable"
	KindResourceExhaustion Kind = "ResourceExhaustion"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindCritical           Kind = "Critical"
)

// Error wraps an underlying cause with a taxonomy Kind and a short machine
// readable Reason (e.g. "domain_locked", "max_retries_exceeded") used in
// event payloads and API responses.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Kind) + ": " + e.Reason
	}
	return string(e.Kind) + ": " + e.Reason + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

func InputRejected(reason string, cause error) *Error {
	return New(KindInputRejected, reason, cause)
}

func PolicyViolation(reason string, cause error) *Error {
	return New(KindPolicyViolation, reason, cause)
}

func Retryable(reason string, cause error) *Error {
	return New(KindRetryable, reason, cause)
}

func NonRetryable(reason string, cause error) *Error {
	return New(KindNonRetryable, reason, cause)
}

func ResourceExhaustion(reason string, cause error) *Error {
	return New(KindResourceExhaustion, reason, cause)
}

func StorageUnavailable(reason string, cause error) *Error {
	return New(KindStorageUnavailable, reason, cause)
}

func Critical(reason string, cause error) *Error {
	return New(KindCritical, reason, cause)
}

// KindOf extracts the taxonomy Kind from err, walking the wrap chain.
// Unclassified errors are treated as NonRetryable — the conservative
// default, since silently retrying an unknown failure can mask a bug.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindNonRetryable
}

// Retriable reports whether an error's taxonomy kind permits retry.
func Retriable(err error) bool {
	return KindOf(err) == KindRetryable
}

// IsKind reports whether err's taxonomy kind equals k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

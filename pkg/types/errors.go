// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can choose between retrying,
// skipping, and aborting without string-matching error text.
type ErrorKind string

const (
	// KindTransient covers network faults and 5xx responses; safe to retry.
	KindTransient ErrorKind = "transient"

	// KindRateLimited marks 429 responses; retry after backing off.
	KindRateLimited ErrorKind = "rate_limited"

	// KindUpstream4xx marks non-retryable client errors from a service.
	KindUpstream4xx ErrorKind = "upstream_4xx"

	// KindSchemaViolation marks model output that failed schema validation
	// after all repair attempts.
	KindSchemaViolation ErrorKind = "schema_violation"

	// KindNotFound marks lookups with no result.
	KindNotFound ErrorKind = "not_found"

	// KindConflict marks concurrent-modification collisions.
	KindConflict ErrorKind = "conflict"

	// KindIntegrity marks cross-store inconsistency found by verification.
	KindIntegrity ErrorKind = "integrity"

	// KindCancelled marks context cancellation or shutdown.
	KindCancelled ErrorKind = "cancelled"

	// KindFatal marks failures that end processing for the document.
	KindFatal ErrorKind = "fatal"
)

// Error attaches an ErrorKind to an underlying error. It supports
// errors.Is against sentinel kinds via KindOf and unwraps normally.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err yields an error carrying only
// the kind, for cases where the classification is the whole message.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf is NewError over fmt.Errorf.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the ErrorKind of err, walking the wrap chain. Errors that
// never passed through classification report KindFatal on the principle
// that unclassified failures should not be silently retried.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindFatal
}

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

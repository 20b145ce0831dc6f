// Package apperr defines the error taxonomy shared by every operation the
// service exposes. Each failure carries a Kind so callers can tell "try
// again" from "this will never succeed" without parsing message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota

	// KindNotFound means a document, conversation, or index is missing.
	// Surfaced to the caller, never retried internally.
	KindNotFound

	// KindValidation means malformed input. Never retried.
	KindValidation

	// KindTransient means a store or network call failed due to timeout or
	// throttling. Eligible for bounded retry with backoff at the call site.
	KindTransient

	// KindModel means the embedding or generation capability failed or
	// returned malformed output. Not retried within a single turn.
	KindModel

	// KindConsistency means the stored state contradicts itself, e.g. an
	// index whose dimension no longer matches the embedding model. Fatal.
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindModel:
		return "model"
	case KindConsistency:
		return "consistency"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed,
// e.g. "chat.Answer".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error from a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap classifies an existing error. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is worth retrying. Only transient failures
// qualify; model errors are excluded to avoid duplicate side effects.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

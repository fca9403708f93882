// Package lixerr implements the engine's error taxonomy (spec §7): a fixed
// set of kinds, each a sentinel that callers can match with errors.Is/As,
// wrapped with operation context the way internal/storage/sqlite wraps
// database errors around ErrNotFound.
package lixerr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the taxonomy's error classes an error belongs to.
type Kind int

const (
	KindParse Kind = iota
	KindBinding
	KindPlanner
	KindPrivateTableAccess
	KindLowering
	KindBackend
	KindPlugin
	KindInvariant
	KindClosed
	KindPostCommitEffect
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindBinding:
		return "BindingError"
	case KindPlanner:
		return "PlannerError"
	case KindPrivateTableAccess:
		return "PrivateTableAccess"
	case KindLowering:
		return "LoweringError"
	case KindBackend:
		return "BackendError"
	case KindPlugin:
		return "PluginError"
	case KindInvariant:
		return "InvariantError"
	case KindClosed:
		return "ClosedError"
	case KindPostCommitEffect:
		return "PostCommitEffectError"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type every Lix-surfaced error takes. It carries
// the taxonomy Kind, the operation that failed, and (for PostCommitEffectError)
// retry metadata.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Retry   *RetryInfo // only set for KindPostCommitEffect
}

// RetryInfo describes the backoff state of a post-commit effect that failed
// after the data it depends on was already durably committed.
type RetryInfo struct {
	Attempt     int
	NextBackoff string // human-readable duration, e.g. "2.4s"
	Permanent   bool   // true once retry has been abandoned
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind sentinel, so callers can write
// errors.Is(err, lixerr.ErrPrivateTableAccess) without caring about Op/Err.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// Sentinel, zero-value errors for each kind, usable with errors.Is.
var (
	ErrParse              = &Error{Kind: KindParse}
	ErrBinding            = &Error{Kind: KindBinding}
	ErrPlanner            = &Error{Kind: KindPlanner}
	ErrPrivateTableAccess = &Error{Kind: KindPrivateTableAccess}
	ErrLowering           = &Error{Kind: KindLowering}
	ErrBackend            = &Error{Kind: KindBackend}
	ErrPlugin             = &Error{Kind: KindPlugin}
	ErrInvariant          = &Error{Kind: KindInvariant}
	ErrClosed             = &Error{Kind: KindClosed}
	ErrPostCommitEffect   = &Error{Kind: KindPostCommitEffect}
)

// ErrPlaceholderAlreadyBound is the specific BindingError raised when a
// script's placeholders are bound a second time (invariant 5 / P5).
var ErrPlaceholderAlreadyBound = Wrap("bind_once", KindBinding, errors.New("placeholders already bound for this plan"))

// Wrap attaches operation context and a Kind to the underlying error. A nil
// err returns nil, mirroring wrapDBError's idiom of being safe to call
// unconditionally at the end of a database call.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf is Wrap with a formatted operation string.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: fmt.Sprintf(format, args...), Err: err}
}

// WithRetry attaches retry metadata to a PostCommitEffectError, recording how
// many attempts the deferred effects queue has made so far.
func WithRetry(op string, err error, attempt int, nextBackoff string, permanent bool) error {
	return &Error{
		Kind: KindPostCommitEffect,
		Op:   op,
		Err:  err,
		Retry: &RetryInfo{
			Attempt:     attempt,
			NextBackoff: nextBackoff,
			Permanent:   permanent,
		},
	}
}

// Is reports whether err belongs to the given Kind, regardless of Op/Err,
// mirroring storage/sqlite's isNotFound/isConflict/isCycle helpers.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

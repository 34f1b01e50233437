// SPDX-License-Identifier: LGPL-3.0-or-later

// Package synerr holds the module's typed error surface. It lives below
// every component package so that leaf packages (transfer, recovery,
// transport) can return typed errors without importing the composition
// root; the root syncshell package re-exports everything here as its
// public error API.
package synerr

import "fmt"

// ErrorKind enumerates the error dispositions a syncshell component can
// surface to its nearest orchestrator. The kind drives retry/backoff policy
// at the caller; it never drives panics or stack unwinding.
type ErrorKind string

const (
	// ErrCrypto: signature, tag, or decrypt verification failed. Not
	// retryable for the affected frame; bearer session terminates.
	ErrCrypto ErrorKind = "crypto_auth_fail"
	// ErrProtocol: malformed frame, unknown kind in strict mode, or an
	// out-of-range sequence. Session terminates.
	ErrProtocol ErrorKind = "protocol_violation"
	// ErrTransport: connect refused, keepalive timeout, channel closed
	// unexpectedly. Retried with backoff by the caller.
	ErrTransport ErrorKind = "transport"
	// ErrStale: invite expired, token expired, or group stale. Requires a
	// fresh invite.
	ErrStale ErrorKind = "stale"
	// ErrCapacity: chunk store full with nothing evictable, or an
	// outstanding-chunks window full. Caller retries after a short delay.
	ErrCapacity ErrorKind = "capacity_exceeded"
	// ErrNotFound: unknown group, peer, chunk, or recipe. Not retried.
	ErrNotFound ErrorKind = "not_found"
	// ErrApplyFailed: the mod applier rejected a recipe. The recipe is not
	// re-applied until it changes.
	ErrApplyFailed ErrorKind = "apply_failed"
)

// Error is the one error type every syncshell component returns for
// structural failures. Transient, component-internal errors are allowed to
// stay as plain wrapped errors; only failures that an orchestrator needs to
// branch on get promoted to *Error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrKindNotFound)-style checks work against the
// kind directly, by comparing a sentinel *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

func newErr(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// NewCryptoError wraps a signature/tag/decrypt failure.
func NewCryptoError(msg string, cause error) *Error { return newErr(ErrCrypto, msg, cause) }

// NewProtocolError wraps a malformed-frame or out-of-range-sequence failure.
func NewProtocolError(msg string, cause error) *Error { return newErr(ErrProtocol, msg, cause) }

// NewTransportError wraps a connect/keepalive/close failure.
func NewTransportError(msg string, cause error) *Error { return newErr(ErrTransport, msg, cause) }

// NewStaleError wraps an expired invite/token or a stale group.
func NewStaleError(msg string, cause error) *Error { return newErr(ErrStale, msg, cause) }

// NewCapacityError wraps a full store or full backpressure window.
func NewCapacityError(msg string, cause error) *Error { return newErr(ErrCapacity, msg, cause) }

// NewNotFoundError wraps an unknown group/peer/chunk/recipe lookup.
func NewNotFoundError(msg string, cause error) *Error { return newErr(ErrNotFound, msg, cause) }

// NewApplyFailedError wraps a mod-applier rejection.
func NewApplyFailedError(msg string, cause error) *Error { return newErr(ErrApplyFailed, msg, cause) }

// Kind-only sentinels for errors.Is comparisons.
var (
	ErrKindCrypto      = &Error{Kind: ErrCrypto}
	ErrKindProtocol    = &Error{Kind: ErrProtocol}
	ErrKindTransport   = &Error{Kind: ErrTransport}
	ErrKindStale       = &Error{Kind: ErrStale}
	ErrKindCapacity    = &Error{Kind: ErrCapacity}
	ErrKindNotFound    = &Error{Kind: ErrNotFound}
	ErrKindApplyFailed = &Error{Kind: ErrApplyFailed}
)

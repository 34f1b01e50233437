// SPDX-License-Identifier: LGPL-3.0-or-later

package syncshell

import "github.com/fyteclub/syncshell/internal/synerr"

// The error machinery is defined in internal/synerr so that leaf packages
// (transfer, recovery, transport) can return typed errors without
// importing this composition root. These aliases are the public surface;
// *syncshell.Error and *synerr.Error are the same type.

// ErrorKind enumerates the error dispositions a syncshell component can
// surface to its nearest orchestrator. The kind drives retry/backoff policy
// at the caller; it never drives panics or stack unwinding.
type ErrorKind = synerr.ErrorKind

const (
	// ErrCrypto: signature, tag, or decrypt verification failed. Not
	// retryable for the affected frame; bearer session terminates.
	ErrCrypto = synerr.ErrCrypto
	// ErrProtocol: malformed frame, unknown kind in strict mode, or an
	// out-of-range sequence. Session terminates.
	ErrProtocol = synerr.ErrProtocol
	// ErrTransport: connect refused, keepalive timeout, channel closed
	// unexpectedly. Retried with backoff by the caller.
	ErrTransport = synerr.ErrTransport
	// ErrStale: invite expired, token expired, or group stale. Requires a
	// fresh invite.
	ErrStale = synerr.ErrStale
	// ErrCapacity: chunk store full with nothing evictable, or an
	// outstanding-chunks window full. Caller retries after a short delay.
	ErrCapacity = synerr.ErrCapacity
	// ErrNotFound: unknown group, peer, chunk, or recipe. Not retried.
	ErrNotFound = synerr.ErrNotFound
	// ErrApplyFailed: the mod applier rejected a recipe. The recipe is not
	// re-applied until it changes.
	ErrApplyFailed = synerr.ErrApplyFailed
)

// Error is the one error type every syncshell component returns for
// structural failures. Transient, component-internal errors are allowed to
// stay as plain wrapped errors; only failures that an orchestrator needs to
// branch on get promoted to *Error.
type Error = synerr.Error

// NewCryptoError wraps a signature/tag/decrypt failure.
func NewCryptoError(msg string, cause error) *Error { return synerr.NewCryptoError(msg, cause) }

// NewProtocolError wraps a malformed-frame or out-of-range-sequence failure.
func NewProtocolError(msg string, cause error) *Error { return synerr.NewProtocolError(msg, cause) }

// NewTransportError wraps a connect/keepalive/close failure.
func NewTransportError(msg string, cause error) *Error { return synerr.NewTransportError(msg, cause) }

// NewStaleError wraps an expired invite/token or a stale group.
func NewStaleError(msg string, cause error) *Error { return synerr.NewStaleError(msg, cause) }

// NewCapacityError wraps a full store or full backpressure window.
func NewCapacityError(msg string, cause error) *Error { return synerr.NewCapacityError(msg, cause) }

// NewNotFoundError wraps an unknown group/peer/chunk/recipe lookup.
func NewNotFoundError(msg string, cause error) *Error { return synerr.NewNotFoundError(msg, cause) }

// NewApplyFailedError wraps a mod-applier rejection.
func NewApplyFailedError(msg string, cause error) *Error { return synerr.NewApplyFailedError(msg, cause) }

// sentinel kind-only errors for errors.Is comparisons, e.g.:
//
//	if errors.Is(err, syncshell.ErrKindNotFound) { ... }
var (
	ErrKindCrypto      = synerr.ErrKindCrypto
	ErrKindProtocol    = synerr.ErrKindProtocol
	ErrKindTransport   = synerr.ErrKindTransport
	ErrKindStale       = synerr.ErrKindStale
	ErrKindCapacity    = synerr.ErrKindCapacity
	ErrKindNotFound    = synerr.ErrKindNotFound
	ErrKindApplyFailed = synerr.ErrKindApplyFailed
)

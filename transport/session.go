// SPDX-License-Identifier: LGPL-3.0-or-later

// Package transport provides a bidirectional, reliable, in-order
// byte channel between two peers, with application-level keepalive and
// declared-dead detection. The ICE/STUN/TURN machinery that actually
// establishes a channel is treated as opaque; Session only requires that
// an established channel preserves order and delivers frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyteclub/syncshell"
)

// KeepaliveInterval and MissedKeepaliveMax define session liveness:
// keepalive every 15s, declared dead after 3 misses.
const (
	KeepaliveInterval  = 15 * time.Second
	MissedKeepaliveMax = 3
)

// ErrClosed is returned by Recv once a session has been closed, and by
// Send/Recv after the peer is declared dead.
var ErrClosed = errors.New("transport: session closed")

// State is a session's lifecycle stage. The full peer state machine
// (Disconnected -> Connecting -> Authenticating -> Active ->
// Disconnected) lives above this package; transport itself only ever
// touches Active/Closed, with Connecting/Authenticating owned by the
// token/recovery layer.
type State int

const (
	StateActive State = iota
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the transport contract: connect/accept establish one, send/recv move
// frames across it, close tears it down. Implementations: LoopbackSession
// (in-process, for tests) and RelaySession (the websocket rendezvous
// fallback used when relay_hints are needed).
type Session interface {
	// Send transmits one opaque frame. Safe for concurrent use with Recv
	// but not with another concurrent Send.
	Send(ctx context.Context, frame []byte) error
	// Recv blocks for the next frame, or returns ErrClosed once the
	// session is torn down or declared dead.
	Recv(ctx context.Context) ([]byte, error)
	// Close tears the session down; idempotent.
	Close() error
	// State reports the current lifecycle stage.
	State() State
}

// Keepalive wraps a Session with the 15s/3-miss liveness policy.
// Callers construct one per accepted/connected session and
// call Run in its own goroutine; Run returns when the session is
// declared dead or ctx is canceled.
type Keepalive struct {
	sess   Session
	onDead func()

	mu      sync.Mutex
	missed  int
	lastAck time.Time
}

// NewKeepalive wraps sess; onDead is invoked exactly once, from Run's
// goroutine, when the session is declared dead.
func NewKeepalive(sess Session, onDead func()) *Keepalive {
	return &Keepalive{sess: sess, onDead: onDead, lastAck: time.Now()}
}

// Ack records a liveness signal (any inbound frame counts, not just an
// explicit keepalive reply) and resets the missed counter.
func (k *Keepalive) Ack() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.missed = 0
	k.lastAck = time.Now()
}

// Run drives the keepalive ticker until ctx is canceled or the peer is
// declared dead. It does not send the wire-level keepalive frame itself
// (that is a protocol.KindKeepalive message sent by the caller); Run only
// tracks elapsed misses and fires onDead.
func (k *Keepalive) Run(ctx context.Context) {
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.mu.Lock()
			k.missed++
			dead := k.missed >= MissedKeepaliveMax
			k.mu.Unlock()
			if dead {
				if k.onDead != nil {
					k.onDead()
				}
				return
			}
		}
	}
}

// Disconnected builds the ErrTransport a session surfaces on
// declared-dead, for callers that want a *syncshell.Error rather than a
// bare sentinel.
func Disconnected(peerID string) *syncshell.Error {
	return syncshell.NewTransportError(fmt.Sprintf("peer %s declared dead after %d missed keepalives", peerID, MissedKeepaliveMax), nil)
}

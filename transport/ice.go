// SPDX-License-Identifier: LGPL-3.0-or-later

package transport

import "context"

// Negotiator is the adapter point for the host application's real
// ICE/STUN/TURN stack. A
// host plugin that embeds syncshell supplies a concrete Negotiator;
// syncshell only depends on this interface, never on a WebRTC library
// directly.
type Negotiator interface {
	// Connect negotiates a session from a locally-generated offer,
	// producing a Session once the remote side answers.
	Connect(ctx context.Context, offer string) (Session, error)
	// Accept negotiates a session from a remote offer, returning the
	// local answer to send back plus the resulting Session.
	Accept(ctx context.Context, offer string) (answer string, sess Session, err error)
}

// ICESession is a placeholder Session implementation satisfying the
// capability-record pattern: it records that an ICE-backed session
// exists without syncshell needing to know how it was established. Real
// negotiation is delegated entirely to a Negotiator; ICESession just
// carries the resulting Session value through the rest of the module.
type ICESession struct {
	Session
}

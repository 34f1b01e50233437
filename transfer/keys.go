// SPDX-License-Identifier: LGPL-3.0-or-later

// Package transfer implements streaming encrypted chunked transfer of
// mod bundles over a transport session, driven by protocol frames.
// Outbound and Inbound are message-driven handlers (not goroutine loops
// themselves) so the owning session's read loop can dispatch frames to
// them as an explicit, backpressured stream rather than through
// reentrant callbacks.
package transfer

import "github.com/fyteclub/syncshell/cryptoseal"

// Keys holds the two direction-distinct AES-256-GCM keys derived from a
// session's shared secret for sealing chunk/recipe payloads, one per
// traffic direction.
type Keys struct {
	SendKey []byte
	RecvKey []byte
}

// DeriveKeys derives Keys for the peer identified by localPeerID talking
// to remotePeerID over a session whose shared secret is sessionSecret.
func DeriveKeys(sessionSecret []byte, localPeerID, remotePeerID string) (Keys, error) {
	sendKey, err := cryptoseal.DeriveSessionKey(sessionSecret, cryptoseal.LabelMod, localPeerID+"->"+remotePeerID)
	if err != nil {
		return Keys{}, err
	}
	recvKey, err := cryptoseal.DeriveSessionKey(sessionSecret, cryptoseal.LabelMod, remotePeerID+"->"+localPeerID)
	if err != nil {
		return Keys{}, err
	}
	return Keys{SendKey: sendKey, RecvKey: recvKey}, nil
}

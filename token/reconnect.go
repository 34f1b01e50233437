// SPDX-License-Identifier: LGPL-3.0-or-later

package token

import (
	"fmt"
	"time"

	"github.com/fyteclub/syncshell/identity"
)

// MemberTokenTTL is how long a freshly issued MemberToken is valid.
const MemberTokenTTL = 30 * 24 * time.Hour

// ReissueWindow is how close to expiry a member's token must be before
// the current host offers a replacement during the reconnect handshake.
const ReissueWindow = 7 * 24 * time.Hour

// Responder implements the host side of the reconnect handshake:
// Hello{token} -> AuthChallenge{nonce} -> AuthResponse{
// signature(nonce), token} -> admit/reject. isHost and tombstoned are
// supplied by the caller (hostelect.Elector.IsHost, a phonebook lookup)
// rather than owned here, since Responder has no view of either on its
// own.
type Responder struct {
	host    *identity.Identity
	groupID string
	nonces  *NonceManager

	isHost     func(peerID string) bool
	tombstoned func(memberPeerID string) bool
}

// NewResponder builds a Responder that issues and verifies tokens as
// host for groupID.
func NewResponder(host *identity.Identity, groupID string, isHost func(peerID string) bool, tombstoned func(memberPeerID string) bool) *Responder {
	return &Responder{
		host:       host,
		groupID:    groupID,
		nonces:     NewNonceManager(),
		isHost:     isHost,
		tombstoned: tombstoned,
	}
}

// IssueChallenge mints a fresh AuthChallenge nonce for a peer presenting
// a reconnect token.
func (r *Responder) IssueChallenge(now time.Time) (string, error) {
	return r.nonces.Issue(now)
}

// IssueJoinToken mints a brand-new MemberToken for a first-time joiner.
// A first join carries no prior token and so has nothing to challenge
// against: the invite-level group_secret already gated entry to this
// session, and the handshake that reached this call already terminated
// on an authenticated transport.
func (r *Responder) IssueJoinToken(memberPeerID string, capabilities []string, now time.Time) (*MemberToken, error) {
	return Issue(r.host, r.groupID, memberPeerID, capabilities, now, MemberTokenTTL)
}

// Admit verifies a reconnecting peer's AuthResponse and, on success,
// returns the verified token. It checks, in order: the token's signature
// chain and expiry (Verify), that the issuer is a current or historical
// host, that the member has not been tombstoned since the token was
// issued (a tombstoned member's token still passes plain JWT
// verification; only a live phonebook lookup catches it), that
// the presented nonce is still outstanding and within its TTL, and
// finally the nonce signature against the token's member_peer_id.
func (r *Responder) Admit(rawToken, nonce string, nonceSignature []byte, now time.Time) (*MemberToken, error) {
	tok, err := Verify(rawToken, now)
	if err != nil {
		return nil, fmt.Errorf("token: reconnect token invalid: %w", err)
	}
	if r.isHost != nil && !r.isHost(tok.IssuerPeerID) {
		return nil, fmt.Errorf("token: issuer %s is not a current or historical host", tok.IssuerPeerID)
	}
	if r.tombstoned != nil && r.tombstoned(tok.MemberPeerID) {
		return nil, fmt.Errorf("token: member %s is tombstoned", tok.MemberPeerID)
	}
	if err := r.nonces.Consume(nonce, now); err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	if err := identity.Verify(tok.MemberPeerID, []byte(nonce), nonceSignature); err != nil {
		return nil, fmt.Errorf("token: nonce signature invalid: %w", err)
	}
	return tok, nil
}

// MaybeReissue returns a fresh token for tok's member when tok expires
// within ReissueWindow of now, or nil when the existing token is still
// comfortably valid. A host calls this after admitting a reconnect so
// members rotated onto a new host never ride an old token into expiry.
func (r *Responder) MaybeReissue(tok *MemberToken, now time.Time) (*MemberToken, error) {
	if tok.ExpiresAt.Sub(now) > ReissueWindow {
		return nil, nil
	}
	return Issue(r.host, r.groupID, tok.MemberPeerID, tok.Capabilities, now, MemberTokenTTL)
}

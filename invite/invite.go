// SPDX-License-Identifier: LGPL-3.0-or-later

// Package invite implements encoding, signing, and verifying the two
// invite shapes a syncshell hands out — live invites (NOSTR:) carrying a
// session offer, and bootstrap invites (BOOTSTRAP:) issued once a
// syncshell has gone stale and needs fresh signaling.
package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyteclub/syncshell/cryptoseal"
	"github.com/fyteclub/syncshell/identity"
)

const (
	prefixLive      = "NOSTR:"
	prefixBootstrap = "BOOTSTRAP:"

	// MaxLifetime bounds expires_at - issued_at for live invites.
	MaxLifetime = 24 * time.Hour

	// StaleAfter is how long since last successful sync before a
	// syncshell is considered stale and must issue a bootstrap invite.
	StaleAfter = 30 * 24 * time.Hour
)

// Kind distinguishes the two invite shapes.
type Kind string

const (
	KindLive      Kind = "live"
	KindBootstrap Kind = "bootstrap"
)

// payload is the deterministic-JSON body that gets base64url-encoded.
// Field order is fixed by the declaration order below, which json.Marshal
// preserves; encode always goes through canonicalize to get a stable byte
// representation before signing.
type payload struct {
	GroupID         string   `json:"group_id"`
	GroupSecret     []byte   `json:"group_secret"`
	SessionOffer    string   `json:"session_offer,omitempty"`
	RelayHints      []string `json:"relay_hints,omitempty"`
	IssuerPeerID    string   `json:"issuer_peer_id"`
	IssuedAt        int64    `json:"issued_at"`
	ExpiresAt       int64    `json:"expires_at"`
	IssuerSignature []byte   `json:"issuer_signature"`
}

// Invite is the decoded, verified form of an invite code.
type Invite struct {
	Kind            Kind
	GroupID         string
	GroupSecret     []byte
	SessionOffer    string
	RelayHints      []string
	IssuerPeerID    string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	IssuerSignature []byte
}

// IsBootstrap reports whether this is a BOOTSTRAP: invite (no session
// offer, consumer must initiate fresh signaling).
func (inv *Invite) IsBootstrap() bool { return inv.Kind == KindBootstrap }

// Encode builds and signs an invite addressed to recipientPub, sealing
// groupSecret to the recipient's Ed25519 key via cryptoseal. issuer signs
// the canonical payload bytes (with IssuerSignature left empty) so the
// consumer can verify against the same bytes it decodes.
func Encode(issuer *identity.Identity, recipientPub ed25519.PublicKey, kind Kind, groupID string, groupSecret []byte, sessionOffer string, relayHints []string, issuedAt time.Time, lifetime time.Duration) (string, error) {
	if lifetime > MaxLifetime {
		return "", fmt.Errorf("invite: lifetime %s exceeds max %s", lifetime, MaxLifetime)
	}
	if kind == KindLive && sessionOffer == "" {
		return "", fmt.Errorf("invite: live invite requires a session offer")
	}
	if kind == KindBootstrap {
		sessionOffer = ""
	}

	sealedSecret, err := cryptoseal.SealToEd25519Peer(recipientPub, groupSecret)
	if err != nil {
		return "", fmt.Errorf("invite: seal group secret: %w", err)
	}

	p := payload{
		GroupID:      groupID,
		GroupSecret:  sealedSecret,
		SessionOffer: sessionOffer,
		RelayHints:   relayHints,
		IssuerPeerID: issuer.PeerID(),
		IssuedAt:     issuedAt.Unix(),
		ExpiresAt:    issuedAt.Add(lifetime).Unix(),
	}

	signable, err := canonicalize(p)
	if err != nil {
		return "", err
	}
	p.IssuerSignature = issuer.Sign(signable)

	body, err := canonicalize(p)
	if err != nil {
		return "", err
	}
	encoded := base64.URLEncoding.EncodeToString(body)

	prefix := prefixLive
	if kind == KindBootstrap {
		prefix = prefixBootstrap
	}
	return prefix + encoded, nil
}

// Decode parses and verifies an invite code against now. It fails on
// malformed input, on a bad signature, and when now >= expires_at; these
// errors are plain errors, not syncshell error kinds, and JoinGroup
// reports each of them as a protocol error.
func Decode(code string, now time.Time) (*Invite, error) {
	var kind Kind
	var encoded string
	switch {
	case hasPrefix(code, prefixLive):
		kind, encoded = KindLive, code[len(prefixLive):]
	case hasPrefix(code, prefixBootstrap):
		kind, encoded = KindBootstrap, code[len(prefixBootstrap):]
	default:
		return nil, fmt.Errorf("invite: unrecognized invite prefix")
	}

	body, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invite: bad base64url: %w", err)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("invite: bad payload json: %w", err)
	}

	sig := p.IssuerSignature
	p.IssuerSignature = nil
	signable, err := canonicalize(p)
	if err != nil {
		return nil, err
	}
	if err := identity.Verify(p.IssuerPeerID, signable, sig); err != nil {
		return nil, fmt.Errorf("invite: signature verification failed: %w", err)
	}

	expiresAt := time.Unix(p.ExpiresAt, 0)
	if !now.Before(expiresAt) {
		return nil, fmt.Errorf("invite: expired at %s", expiresAt)
	}

	return &Invite{
		Kind:            kind,
		GroupID:         p.GroupID,
		GroupSecret:     p.GroupSecret,
		SessionOffer:    p.SessionOffer,
		RelayHints:      p.RelayHints,
		IssuerPeerID:    p.IssuerPeerID,
		IssuedAt:        time.Unix(p.IssuedAt, 0),
		ExpiresAt:       expiresAt,
		IssuerSignature: sig,
	}, nil
}

// UnsealGroupSecret recovers the plaintext group_secret using the
// consuming peer's own identity.
func UnsealGroupSecret(consumer *identity.Identity, inv *Invite) ([]byte, error) {
	return consumer.Unseal(inv.GroupSecret)
}

func canonicalize(p payload) ([]byte, error) {
	// encoding/json sorts map keys but preserves struct field order as
	// declared; since payload's field order is fixed, Marshal already
	// produces a deterministic byte sequence for a given value.
	return json.Marshal(p)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

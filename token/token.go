// SPDX-License-Identifier: LGPL-3.0-or-later

// Package token implements MemberToken issuance and verification and the
// AuthChallenge/AuthResponse reconnect handshake. The per-group backoff
// after repeated failures lives in package recovery.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fyteclub/syncshell/identity"
)

// claims is the JWT claim set backing a MemberToken. The host's peer_id
// signs it as "iss"; the member it was issued to is "sub".
type claims struct {
	jwt.RegisteredClaims
	GroupID      string   `json:"group_id"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// MemberToken is a host-signed proof of group membership, issued once
// after a successful join handshake and carried on every reconnect
// inside Hello, never embedded in an invite.
type MemberToken struct {
	Raw          string
	GroupID      string
	MemberPeerID string
	IssuerPeerID string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Capabilities []string
}

// Issue signs a new MemberToken as host for memberPeerID, scoped to
// groupID, valid for ttl, declaring capabilities (e.g. "relay", "apply").
func Issue(host *identity.Identity, groupID, memberPeerID string, capabilities []string, issuedAt time.Time, ttl time.Duration) (*MemberToken, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    host.PeerID(),
			Subject:   memberPeerID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		GroupID:      groupID,
		Capabilities: capabilities,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	raw, err := tok.SignedString(host.SigningKey())
	if err != nil {
		return nil, fmt.Errorf("token: sign: %w", err)
	}
	return &MemberToken{
		Raw:          raw,
		GroupID:      groupID,
		MemberPeerID: memberPeerID,
		IssuerPeerID: host.PeerID(),
		IssuedAt:     issuedAt,
		ExpiresAt:    c.ExpiresAt.Time,
		Capabilities: capabilities,
	}, nil
}

// Verify parses and verifies raw against the claimed issuer's public key,
// checking expiry at now. The caller (token/reconnect.go) is responsible
// for checking that the issuer names a current or historical host as
// recorded by the election history.
func Verify(raw string, now time.Time) (*MemberToken, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
			return nil, fmt.Errorf("token: unexpected signing method %s", t.Method.Alg())
		}
		mc, ok := t.Claims.(*claims)
		if !ok {
			return nil, fmt.Errorf("token: unexpected claims type")
		}
		pub, err := identity.PublicKeyFromPeerID(mc.Issuer)
		if err != nil {
			return nil, fmt.Errorf("token: bad issuer peer id: %w", err)
		}
		return pub, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return nil, fmt.Errorf("token: verify: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token: invalid token")
	}

	return &MemberToken{
		Raw:          raw,
		GroupID:      c.GroupID,
		MemberPeerID: c.Subject,
		IssuerPeerID: c.Issuer,
		IssuedAt:     c.IssuedAt.Time,
		ExpiresAt:    c.ExpiresAt.Time,
		Capabilities: c.Capabilities,
	}, nil
}

// Copyright (C) 2025 fyteclub
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package identity holds the local peer's Ed25519 keypair: generation,
// signing, verification, and at-rest encrypted persistence. Exactly one
// PeerIdentity exists per process and lives for the plugin's lifetime.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fyteclub/syncshell/cryptoseal"
)

// ErrInvalidSignature is returned by Verify when a signature does not match.
var ErrInvalidSignature = errors.New("identity: invalid signature")

// Identity is the local peer's Ed25519 keypair plus its derived peer ID.
type Identity struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
	peerID  string
}

// Generate creates a brand-new Ed25519 identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return fromKeys(pub, priv), nil
}

// FromPrivateKey reconstructs an Identity from a previously persisted
// Ed25519 seed (32 bytes) or full private key (64 bytes).
func FromPrivateKey(raw []byte) (*Identity, error) {
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(append([]byte(nil), raw...))
	default:
		return nil, fmt.Errorf("identity: bad private key length %d", len(raw))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return fromKeys(pub, priv), nil
}

func fromKeys(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Identity {
	return &Identity{
		public:  pub,
		private: priv,
		peerID:  hex.EncodeToString(pub),
	}
}

// PeerID returns the hex-encoded public key, which is the canonical
// member_peer_id / author_peer_id / issuer_peer_id used throughout the
// protocol.
func (id *Identity) PeerID() string { return id.peerID }

// PublicKey returns the raw 32-byte Ed25519 public key.
func (id *Identity) PublicKey() ed25519.PublicKey { return id.public }

// Seed returns the 32-byte seed suitable for at-rest persistence. Callers
// must encrypt this before writing it to identity.key.
func (id *Identity) Seed() []byte {
	return append([]byte(nil), id.private.Seed()...)
}

// Sign signs a message with the local Ed25519 secret key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.private, message)
}

// SigningKey returns the raw ed25519.PrivateKey for callers that need to
// hand it directly to a library signing API (e.g. golang-jwt's EdDSA
// method, which type-asserts on ed25519.PrivateKey rather than accepting
// a crypto.Signer). Treat the result as read-only.
func (id *Identity) SigningKey() ed25519.PrivateKey {
	return id.private
}

// Unseal recovers a payload that was sealed to this identity's public key
// via cryptoseal.SealToEd25519Peer (used to hand a consumer its
// group_secret inside an invite).
func (id *Identity) Unseal(payload []byte) ([]byte, error) {
	return cryptoseal.OpenFromEd25519Peer(id.private, payload)
}

// Verify checks a signature against an arbitrary peer's public key, given
// as the hex-encoded peer ID used on the wire.
func Verify(peerID string, message, signature []byte) error {
	pub, err := PublicKeyFromPeerID(peerID)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// PublicKeyFromPeerID decodes a hex peer ID back into an Ed25519 public key.
func PublicKeyFromPeerID(peerID string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(peerID)
	if err != nil {
		return nil, fmt.Errorf("identity: bad peer id %q: %w", peerID, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: peer id %q has wrong length", peerID)
	}
	return ed25519.PublicKey(raw), nil
}

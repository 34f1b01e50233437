// SPDX-License-Identifier: LGPL-3.0-or-later

package cryptoseal

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/hkdf"
)

// SealToEd25519Peer encrypts plaintext (the invite's group_secret, in
// practice) so only the holder of the recipient's Ed25519 private key can
// open it. The recipient's signing key is converted to its X25519
// counterpart, an ephemeral X25519 keypair performs one ECDH exchange
// against it, and the shared point is HKDF'd into an AES-256-GCM key. The
// ephemeral public key travels alongside the ciphertext since the
// recipient has no other way to reconstruct the shared secret. Returns
// payload = ephemeralPub(32) || nonce(12) || ciphertext.
func SealToEd25519Peer(recipientPub ed25519.PublicKey, plaintext []byte) ([]byte, error) {
	peerX, err := convertEd25519PubToX25519(recipientPub)
	if err != nil {
		return nil, err
	}
	peerXPub, err := ecdh.X25519().NewPublicKey(peerX)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: bad peer x25519 key: %w", err)
	}

	ephPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: generate ephemeral key: %w", err)
	}
	ephPub := ephPriv.PublicKey()

	shared, err := sharedSecret(ephPriv.ECDH(peerXPub))
	if err != nil {
		return nil, err
	}

	transcript := concatBytes(ephPub.Bytes(), peerX)
	key, err := deriveInviteKey(shared, transcript)
	if err != nil {
		return nil, err
	}

	sealed, err := SealOneShot(key, plaintext)
	if err != nil {
		return nil, err
	}
	return concatBytes(ephPub.Bytes(), sealed), nil
}

// OpenFromEd25519Peer reverses SealToEd25519Peer using the recipient's own
// Ed25519 private key and the combined ephemeralPub||sealed payload.
func OpenFromEd25519Peer(recipientPriv ed25519.PrivateKey, payload []byte) ([]byte, error) {
	const ephPubLen = 32
	if len(payload) < ephPubLen {
		return nil, fmt.Errorf("cryptoseal: invite payload too short")
	}
	ephPubBytes, sealed := payload[:ephPubLen], payload[ephPubLen:]

	ephPubKey, err := ecdh.X25519().NewPublicKey(ephPubBytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: invalid ephemeral public key: %w", err)
	}

	selfXPrivBytes, err := convertEd25519PrivToX25519(recipientPriv)
	if err != nil {
		return nil, err
	}
	selfXPriv, err := ecdh.X25519().NewPrivateKey(selfXPrivBytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: derive x25519 priv: %w", err)
	}

	shared, err := sharedSecret(selfXPriv.ECDH(ephPubKey))
	if err != nil {
		return nil, err
	}

	transcript := concatBytes(ephPubBytes, selfXPriv.PublicKey().Bytes())
	key, err := deriveInviteKey(shared, transcript)
	if err != nil {
		return nil, err
	}
	return OpenOneShot(key, sealed)
}

// deriveInviteKey derives a 32-byte AES key from a raw ECDH point using
// HKDF-SHA256, binding the (ephemeral-pub, peer-x25519-pub) transcript in
// as salt so two unrelated exchanges never collide.
func deriveInviteKey(shared, transcript []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, shared, transcript, []byte(LabelInvite))
	key := make([]byte, KeySize)
	if _, err := readFull(r, key); err != nil {
		return nil, fmt.Errorf("cryptoseal: derive invite key: %w", err)
	}
	return key, nil
}

// sharedSecret rejects the low-order/identity point in addition to
// surfacing the underlying ECDH error.
func sharedSecret(dh []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: ecdh: %w", err)
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(dh, zero[:]) == 1 {
		return nil, fmt.Errorf("cryptoseal: low-order or identity point")
	}
	return dh, nil
}

// convertEd25519PrivToX25519 turns an Ed25519 private key into the X25519
// scalar per RFC 8032 §5.1.5: SHA-512 the seed, clamp the low 32 bytes.
func convertEd25519PrivToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("cryptoseal: bad ed25519 private key length %d", len(priv))
	}
	h := sha512.Sum512(priv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	var xPriv [32]byte
	copy(xPriv[:], h[:32])
	return xPriv[:], nil
}

// convertEd25519PubToX25519 decompresses the Edwards point and maps it to
// its Montgomery u-coordinate, the standard birational equivalence between
// the two curve forms.
func convertEd25519PubToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("cryptoseal: bad ed25519 public key length %d", len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: invalid ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

func concatBytes(parts ...[]byte) []byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// SPDX-License-Identifier: LGPL-3.0-or-later

package cryptoseal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultFrameSize is the fixed plaintext size streaming seal/open
// chunks input into.
const DefaultFrameSize = 4096

const (
	nonceSaltSize = 4
	nonceSize     = 12 // AES-GCM standard: 96 bits
	tagSize       = 16 // 128-bit authentication tag
)

// Stream seals or opens a sequence of fixed-size frames under one AES-256-GCM
// key, with each frame's nonce bound to its ordinal so frames cannot be
// replayed at another position in the stream: nonce = salt(4) ||
// ordinal(8, big-endian). The salt is generated once per stream direction
// and must be shared out of band (it is not secret, only unique).
type Stream struct {
	aead cipher.AEAD
	salt [nonceSaltSize]byte
}

// NewStream builds a Stream from a 32-byte key. A random salt is generated
// for the sender; the receiver must be told the salt (it travels alongside
// the first frame or is fixed per session direction) via NewStreamWithSalt.
func NewStream(key []byte) (*Stream, [nonceSaltSize]byte, error) {
	var salt [nonceSaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return nil, salt, fmt.Errorf("cryptoseal: generate salt: %w", err)
	}
	s, err := NewStreamWithSalt(key, salt)
	return s, salt, err
}

// NewStreamWithSalt builds a Stream using a caller-supplied salt, for the
// receiving side of a stream that was told the sender's salt.
func NewStreamWithSalt(key []byte, salt [nonceSaltSize]byte) (*Stream, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptoseal: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: new gcm: %w", err)
	}
	return &Stream{aead: aead, salt: salt}, nil
}

func (s *Stream) nonce(ordinal uint64) []byte {
	n := make([]byte, nonceSize)
	copy(n, s.salt[:])
	binary.BigEndian.PutUint64(n[nonceSaltSize:], ordinal)
	return n
}

// SealFrame encrypts one frame of plaintext (any size up to the caller's
// choosing; DefaultFrameSize is a guideline, not a hard cap enforced here)
// bound to the given ordinal. The ordinal is also passed as associated
// data so a tampered ordinal fails authentication even if an attacker
// somehow forged a matching nonce.
func (s *Stream) SealFrame(ordinal uint64, plaintext []byte) []byte {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, ordinal)
	return s.aead.Seal(nil, s.nonce(ordinal), plaintext, aad)
}

// OpenFrame decrypts and authenticates a frame sealed by SealFrame at
// the same ordinal. Callers in this package return the raw cipher
// error; promotion to a typed ErrCrypto happens at the component
// boundary (protocol/transfer).
func (s *Stream) OpenFrame(ordinal uint64, sealed []byte) ([]byte, error) {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, ordinal)
	plaintext, err := s.aead.Open(nil, s.nonce(ordinal), sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: open frame %d: %w", ordinal, err)
	}
	return plaintext, nil
}

// Salt returns the stream's nonce salt so it can be transmitted to the peer
// out of band (e.g. as part of the session Hello).
func (s *Stream) Salt() [nonceSaltSize]byte { return s.salt }

// SealOneShot seals a single message without a stream, under a fresh
// random 96-bit nonce that is prepended to the ciphertext. Used for
// one-off payloads like RecipeDeliver/ChunkDeliver where a full Stream is
// unnecessary overhead.
func SealOneShot(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// OpenOneShot reverses SealOneShot.
func OpenOneShot(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+tagSize {
		return nil, fmt.Errorf("cryptoseal: sealed payload too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

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

// Package cryptoseal implements the key derivation and AEAD sealing shared
// by the other components, which call Derive/Seal/Open rather than touching
// raw AES-GCM state. The one exception is identity's local envelope for
// identity.key.
package cryptoseal

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/hkdf"
)

// Labels bind derived keys to their single purpose so a key leaked in one
// context (say, phonebook encryption) cannot be replayed against another
// (mod transfer).
const (
	LabelMod       = "FyteClubMod"
	LabelPhonebook = "FyteClubPhonebook"
	LabelInvite    = "FyteClubInvite"
	LabelToken     = "FyteClubToken"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// DeriveGroupKey derives a purpose-bound 32-byte key from a syncshell's
// group_secret using HKDF-SHA256, with label as the HKDF "info" parameter.
func DeriveGroupKey(groupSecret []byte, label string) ([]byte, error) {
	r := hkdf.New(sha256.New, groupSecret, nil, []byte(label))
	key := make([]byte, KeySize)
	if _, err := readFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveSessionKey derives a direction-distinct key for a single P2P
// session, with direction typically "<sender_peer_id>-><receiver_peer_id>",
// so each direction of a session's chunk/recipe traffic uses an independent
// key even though both sides share the same underlying session secret.
func DeriveSessionKey(sessionSecret []byte, label, direction string) ([]byte, error) {
	r := hkdf.New(sha256.New, sessionSecret, []byte(direction), []byte(label))
	key := make([]byte, KeySize)
	if _, err := readFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ConstantTimeEqual compares two byte slices in constant time, used
// whenever derived key material or tokens are compared as
// authenticators.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

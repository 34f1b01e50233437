// SPDX-License-Identifier: LGPL-3.0-or-later

// Package protocol implements the length-prefixed application frame
// format shared by every message kind, its content-hash dedup set, and
// per-author sequence ordering with bounded gap buffering.
package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Kind identifies a frame's payload shape.
type Kind uint8

const (
	KindHello            Kind = 1
	KindKeepalive        Kind = 2
	KindPhonebookGossip  Kind = 3
	KindPhonebookRequest Kind = 4
	KindRecipeAnnounce   Kind = 5
	KindRecipeRequest    Kind = 6
	KindRecipeDeliver    Kind = 7
	KindChunkRequest     Kind = 8
	KindChunkDeliver     Kind = 9
	KindTombstone        Kind = 10
	KindHostClaim        Kind = 11
	KindAuthChallenge    Kind = 12
	KindAuthResponse     Kind = 13
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindKeepalive:
		return "Keepalive"
	case KindPhonebookGossip:
		return "PhonebookGossip"
	case KindPhonebookRequest:
		return "PhonebookRequest"
	case KindRecipeAnnounce:
		return "RecipeAnnounce"
	case KindRecipeRequest:
		return "RecipeRequest"
	case KindRecipeDeliver:
		return "RecipeDeliver"
	case KindChunkRequest:
		return "ChunkRequest"
	case KindChunkDeliver:
		return "ChunkDeliver"
	case KindTombstone:
		return "Tombstone"
	case KindHostClaim:
		return "HostClaim"
	case KindAuthChallenge:
		return "AuthChallenge"
	case KindAuthResponse:
		return "AuthResponse"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// HashSize is the truncated SHA-256 content-hash length used for dedup.
const HashSize = 16

// Frame is one application message: { kind, group_id, author_peer_id,
// sequence, timestamp, payload }.
type Frame struct {
	Kind         Kind
	GroupID      string
	AuthorPeerID string
	Sequence     uint64
	Timestamp    int64 // unix seconds
	Payload      []byte
}

// ContentHash returns the frame's dedup key: SHA-256 over the frame's
// canonical bytes, truncated to 16 bytes.
func (f *Frame) ContentHash() [HashSize]byte {
	sum := sha256.Sum256(f.canonicalBytes())
	var out [HashSize]byte
	copy(out[:], sum[:HashSize])
	return out
}

func (f *Frame) canonicalBytes() []byte {
	buf := make([]byte, 0, 1+len(f.GroupID)+len(f.AuthorPeerID)+8+8+len(f.Payload)+8)
	buf = append(buf, byte(f.Kind))
	buf = appendLenPrefixed(buf, []byte(f.GroupID))
	buf = appendLenPrefixed(buf, []byte(f.AuthorPeerID))
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], f.Sequence)
	buf = append(buf, seq[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(f.Timestamp))
	buf = append(buf, ts[:]...)
	buf = appendLenPrefixed(buf, f.Payload)
	return buf
}

func appendLenPrefixed(dst, src []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(src)))
	dst = append(dst, length[:]...)
	return append(dst, src...)
}

// Encode serializes a frame to its on-wire length-prefixed byte form.
func Encode(f *Frame) []byte {
	body := f.canonicalBytes()
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// Decode parses a single length-prefixed frame from the front of buf,
// returning the frame and the number of bytes consumed.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("protocol: short buffer for length prefix")
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if uint32(len(buf)-4) < length {
		return nil, 0, fmt.Errorf("protocol: incomplete frame, want %d have %d", length, len(buf)-4)
	}
	body := buf[4 : 4+int(length)]
	pos := 0

	if len(body) < 1 {
		return nil, 0, fmt.Errorf("protocol: missing kind byte")
	}
	kind := Kind(body[pos])
	pos++

	groupID, n, err := readLenPrefixed(body[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n

	authorPeerID, n, err := readLenPrefixed(body[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n

	if len(body)-pos < 16 {
		return nil, 0, fmt.Errorf("protocol: truncated sequence/timestamp")
	}
	sequence := binary.BigEndian.Uint64(body[pos : pos+8])
	pos += 8
	timestamp := int64(binary.BigEndian.Uint64(body[pos : pos+8]))
	pos += 8

	payload, n, err := readLenPrefixed(body[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n

	return &Frame{
		Kind:         kind,
		GroupID:      string(groupID),
		AuthorPeerID: string(authorPeerID),
		Sequence:     sequence,
		Timestamp:    timestamp,
		Payload:      payload,
	}, 4 + int(length), nil
}

func readLenPrefixed(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("protocol: short buffer for length-prefixed field")
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if uint32(len(buf)-4) < length {
		return nil, 0, fmt.Errorf("protocol: truncated length-prefixed field")
	}
	return buf[4 : 4+int(length)], 4 + int(length), nil
}

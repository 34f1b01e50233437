// SPDX-License-Identifier: LGPL-3.0-or-later

// Package session ties the transport channel, the frame codec/dedup/
// ordering, and the message-driven transfer handlers into the one thing
// none of
// them is on its own: a live per-peer read loop. Peer.Run pulls frames
// off a transport.Session, runs them through the dedup set and Orderer,
// and dispatches each by kind to the handler that owns it -- the control
// plane kinds here (Hello/Keepalive/PhonebookGossip/PhonebookRequest/
// Tombstone/HostClaim/AuthChallenge/AuthResponse), or transfer.Outbound/
// Inbound for the mod transfer kinds.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fyteclub/syncshell/phonebook"
	"github.com/fyteclub/syncshell/protocol"
)

// HelloMsg is kind 1's payload. An empty Token is a first-join request;
// a non-empty Token presents a previously issued MemberToken for the
// reconnect handshake.
type HelloMsg struct {
	Token        string   `json:"token"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// KeepaliveMsg is kind 2's payload. It carries nothing: a Keepalive
// frame's only job is to be any frame at all, resetting the receiving
// side's transport.Keepalive miss counter.
type KeepaliveMsg struct{}

// PhonebookGossipMsg is kind 3's payload: signed entries, either a
// debounced delta or a full PhonebookRequest reply.
type PhonebookGossipMsg struct {
	Entries []*phonebook.Entry `json:"entries"`
}

// PhonebookRequestMsg is kind 4's payload. It carries nothing: receiving
// one means "send your full snapshot back".
type PhonebookRequestMsg struct{}

// TombstoneMsg is kind 10's payload: a single signed tombstone entry,
// sent out-of-band from the debounced gossip loop so departures and
// blocks propagate without waiting on the next gossip round.
type TombstoneMsg struct {
	Entry *phonebook.Entry `json:"entry"`
}

// HostClaimMsg is kind 11's payload, mirroring hostelect.Claim on the
// wire.
type HostClaimMsg struct {
	PeerID        string `json:"peer_id"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// AuthChallengeMsg is kind 12's payload: the host's nonce for the
// reconnecting peer to sign.
type AuthChallengeMsg struct {
	Nonce string `json:"nonce"`
}

// AuthResponseMsg is kind 13's payload: the signed nonce plus the
// MemberToken being reasserted.
type AuthResponseMsg struct {
	Nonce     string `json:"nonce"`
	Signature []byte `json:"signature"`
	Token     string `json:"token"`
}

func newFrame(kind protocol.Kind, groupID, authorPeerID string, seq uint64, payload []byte) *protocol.Frame {
	return &protocol.Frame{
		Kind:         kind,
		GroupID:      groupID,
		AuthorPeerID: authorPeerID,
		Sequence:     seq,
		Timestamp:    time.Now().Unix(),
		Payload:      payload,
	}
}

func encodeFrame(kind protocol.Kind, groupID, authorPeerID string, seq uint64, msg interface{}) (*protocol.Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return newFrame(kind, groupID, authorPeerID, seq, b), nil
}

func decodePayload(f *protocol.Frame, v interface{}) error {
	return json.Unmarshal(f.Payload, v)
}

// seqCounters hands out per-kind sequence numbers for frames this Peer
// authors, the control-plane counterpart to transfer's own unexported
// seqCounters (transfer/seq.go).
type seqCounters struct {
	mu     sync.Mutex
	nextBy map[protocol.Kind]uint64
}

func newSeqCounters() *seqCounters {
	return &seqCounters{nextBy: make(map[protocol.Kind]uint64)}
}

func (s *seqCounters) next(kind protocol.Kind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nextBy[kind]
	s.nextBy[kind] = n + 1
	return n
}

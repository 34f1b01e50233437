// SPDX-License-Identifier: LGPL-3.0-or-later

package syncshell

import (
	"time"

	"github.com/google/uuid"
)

// Group is a syncshell's immutable tuple: group_id and group_secret are
// derived once, at creation or from the initial invite, and never
// change for the group's lifetime.
type Group struct {
	GroupID     string    `json:"group_id"`
	Name        string    `json:"name"`
	GroupSecret []byte    `json:"group_secret"`
	OwnerPeerID string    `json:"owner_peer_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// MaxNameLength bounds Group.Name, in bytes of UTF-8.
const MaxNameLength = 64

// NewGroupID generates a 128-bit random group_id.
// uuid.New is a convenient source of 128 bits of randomness;
// the value is never interpreted as an RFC 4122 UUID elsewhere.
func NewGroupID() string {
	return uuid.New().String()
}

// NewGroupSecret generates a fresh 32-byte group_secret for a newly
// created syncshell (join-by-invite derives group_secret from the invite
// instead of calling this).
func NewGroupSecret() ([]byte, error) {
	return randomBytes(32)
}

// MemberState is the local, per-member view of a syncshell: state that
// lives alongside the replicated Group tuple but is never gossiped
// itself.
type MemberState struct {
	GroupID     string    `json:"group_id"`
	IsOwner     bool      `json:"is_owner"`
	IsActive    bool      `json:"is_active"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	EnableRelay bool      `json:"enable_relay"`
}

// IsStale reports whether this member's syncshell has gone staleAfter
// without a successful sync.
func (m *MemberState) IsStale(now time.Time, staleAfter time.Duration) bool {
	if m.LastSyncAt.IsZero() {
		return false
	}
	return now.Sub(m.LastSyncAt) > staleAfter
}

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package phonebook implements the replicated membership directory.
// Entries are signed by their author, merged with tombstone-wins and
// sequence/last-writer-wins rules, gossiped with debounce, persisted
// encrypted at rest, and aged out by TTL.
package phonebook

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fyteclub/syncshell/cryptoseal"
	"github.com/fyteclub/syncshell/identity"
	"github.com/fyteclub/syncshell/store"
)

// Status is a PhonebookEntry's membership state.
type Status string

const (
	StatusActive     Status = "active"
	StatusStale      Status = "stale"
	StatusTombstoned Status = "tombstoned"
)

// Eviction and gossip timing.
const (
	ActiveToStaleAfter  = 24 * time.Hour
	TombstonePurgeAfter = 90 * 24 * time.Hour
	GossipDebounce      = 2 * time.Second
	SnapshotEntryLimit  = 500
	PublishMaxInterval  = 10 * time.Minute
)

// Entry is one member's replicated phonebook record.
type Entry struct {
	MemberPeerID string    `json:"member_peer_id"`
	Status       Status    `json:"status"`
	DisplayName  string    `json:"display_name,omitempty"`
	Sequence     uint64    `json:"sequence"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	AuthorPeerID string    `json:"author_peer_id"`
	Signature    []byte    `json:"signature"`
}

// signable returns the bytes an Entry's signature covers: every field
// except the signature itself.
func (e *Entry) signable() []byte {
	cp := *e
	cp.Signature = nil
	b, _ := json.Marshal(cp)
	return b
}

// Sign signs e as author.
func (e *Entry) Sign(author *identity.Identity) {
	e.AuthorPeerID = author.PeerID()
	e.Signature = author.Sign(e.signable())
}

// Verify checks e's signature against its claimed author.
func (e *Entry) Verify() error {
	return identity.Verify(e.AuthorPeerID, e.signable(), e.Signature)
}

// Book is one syncshell's replicated directory: a map of member_peer_id
// to the current winning Entry, persisted in a bbolt bucket encrypted
// with a key derived from the group secret.
type Book struct {
	groupID string
	bucket  *store.Bucket
	key     []byte // AES-256-GCM key derived via "FyteClubPhonebook"

	// isHost is supplied by the caller (hostelect) so merge rule 2
	// ("authored by a current/past host") can be checked; phonebook
	// itself does not decide who is a host.
	isHost func(peerID string) bool
}

// Open derives the phonebook's encryption key from groupSecret and binds
// to the given bucket, which the caller has already created via
// store.KV.Bucket("phonebook").
func Open(groupID string, groupSecret []byte, bucket *store.Bucket, isHost func(peerID string) bool) (*Book, error) {
	key, err := cryptoseal.DeriveGroupKey(groupSecret, cryptoseal.LabelPhonebook)
	if err != nil {
		return nil, fmt.Errorf("phonebook: derive key: %w", err)
	}
	return &Book{groupID: groupID, bucket: bucket, key: key, isHost: isHost}, nil
}

// Get returns the current entry for memberPeerID, if any.
func (b *Book) Get(memberPeerID string) (*Entry, bool, error) {
	raw, err := b.bucket.Get([]byte(memberPeerID))
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	e, err := b.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Merge applies the three-step merge rule against the locally stored
// entry for incoming.MemberPeerID, writing the winner back atomically.
// It returns true if the incoming entry changed local state.
func (b *Book) Merge(incoming *Entry) (bool, error) {
	// Rule 1: verify signature; reject if invalid.
	if err := incoming.Verify(); err != nil {
		return false, fmt.Errorf("phonebook: reject unsigned/invalid entry: %w", err)
	}

	changed := false
	err := b.bucket.UpdateAtomic(func(get func([]byte) []byte, put func(key, value []byte) error) error {
		raw := get([]byte(incoming.MemberPeerID))
		var local *Entry
		if raw != nil {
			l, err := b.decode(raw)
			if err != nil {
				return err
			}
			local = l
		}

		winner := incoming
		if local != nil {
			winner = mergeWinner(local, incoming, b.isHost)
		}

		if local == nil || !sameEntry(local, winner) {
			changed = true
			enc, err := b.encode(winner)
			if err != nil {
				return err
			}
			return put([]byte(incoming.MemberPeerID), enc)
		}
		return nil
	})
	return changed, err
}

// mergeWinner applies the merge rule in order:
//  2. Tombstone from a current/past host, sequence >= local -> tombstone wins;
//     likewise a stored host tombstone keeps any non-tombstone entry with
//     sequence <= its own out, whichever arrives first.
//  3. Otherwise greater sequence wins; tie-break by greater last_seen_at;
//     further tie-break by lexicographically smaller author_peer_id.
func mergeWinner(local, incoming *Entry, isHost func(string) bool) *Entry {
	if incoming.Status == StatusTombstoned && isHost(incoming.AuthorPeerID) && incoming.Sequence >= local.Sequence {
		return incoming
	}
	if local.Status == StatusTombstoned && incoming.Status != StatusTombstoned && isHost(local.AuthorPeerID) && incoming.Sequence <= local.Sequence {
		return local
	}
	if incoming.Sequence != local.Sequence {
		if incoming.Sequence > local.Sequence {
			return incoming
		}
		return local
	}
	if !incoming.LastSeenAt.Equal(local.LastSeenAt) {
		if incoming.LastSeenAt.After(local.LastSeenAt) {
			return incoming
		}
		return local
	}
	if incoming.AuthorPeerID < local.AuthorPeerID {
		return incoming
	}
	return local
}

func sameEntry(a, b *Entry) bool {
	return a.MemberPeerID == b.MemberPeerID &&
		a.Status == b.Status &&
		a.Sequence == b.Sequence &&
		a.LastSeenAt.Equal(b.LastSeenAt) &&
		a.AuthorPeerID == b.AuthorPeerID
}

// Snapshot returns up to SnapshotEntryLimit entries, most-recently-seen
// first, for a full gossip exchange on session open. Stale entries are
// local-only reconnect hints (their stored status no longer matches what
// the author signed) and are never forwarded.
func (b *Book) Snapshot() ([]*Entry, error) {
	var all []*Entry
	err := b.bucket.ForEach(func(_, v []byte) error {
		e, err := b.decode(v)
		if err != nil {
			return err
		}
		if e.Status == StatusStale {
			return nil
		}
		all = append(all, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastSeenAt.After(all[j].LastSeenAt) })
	if len(all) > SnapshotEntryLimit {
		all = all[:SnapshotEntryLimit]
	}
	return all, nil
}

// Counts tallies entries by status, for status reporting and metrics.
// Unlike Snapshot it sees every entry, Stale included.
func (b *Book) Counts() (map[Status]int, error) {
	counts := make(map[Status]int, 3)
	err := b.bucket.ForEach(func(_, v []byte) error {
		e, err := b.decode(v)
		if err != nil {
			return err
		}
		counts[e.Status]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Evict demotes stale Active entries and purges old Tombstones.
// Returns the number of entries changed.
func (b *Book) Evict(now time.Time) (int, error) {
	var toDemote []*Entry
	var toPurge [][]byte

	err := b.bucket.ForEach(func(k, v []byte) error {
		e, err := b.decode(v)
		if err != nil {
			return err
		}
		switch {
		case e.Status == StatusActive && now.Sub(e.LastSeenAt) > ActiveToStaleAfter:
			toDemote = append(toDemote, e)
		case e.Status == StatusTombstoned && now.Sub(e.LastSeenAt) > TombstonePurgeAfter:
			toPurge = append(toPurge, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, e := range toDemote {
		e.Status = StatusStale
		enc, err := b.encode(e)
		if err != nil {
			return changed, err
		}
		if err := b.bucket.Put([]byte(e.MemberPeerID), enc); err != nil {
			return changed, err
		}
		changed++
	}
	for _, k := range toPurge {
		if err := b.bucket.Delete(k); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (b *Book) encode(e *Entry) ([]byte, error) {
	plaintext, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return cryptoseal.SealOneShot(b.key, plaintext)
}

func (b *Book) decode(sealed []byte) (*Entry, error) {
	plaintext, err := cryptoseal.OpenOneShot(b.key, sealed)
	if err != nil {
		return nil, fmt.Errorf("phonebook: decrypt entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(plaintext, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

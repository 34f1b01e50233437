// SPDX-License-Identifier: LGPL-3.0-or-later

// Package hostelect implements deterministic host election, rotation
// on departure, and the host-history ledger phonebook consults to decide
// whether a tombstone was authored by a current or past host.
package hostelect

import (
	"sort"
	"sync"
	"time"
)

// RotationGrace is how long a departed host's session may go unrestored
// before a surviving peer declares itself host.
const RotationGrace = 30 * time.Second

// Claim is one peer's bid for host, exchanged at session open.
type Claim struct {
	PeerID        string
	UptimeSeconds uint64
}

// winner picks the claim with the greatest uptime, tie-broken by
// lexicographically smallest peer_id.
func winner(claims []Claim) (Claim, bool) {
	if len(claims) == 0 {
		return Claim{}, false
	}
	best := claims[0]
	for _, c := range claims[1:] {
		if c.UptimeSeconds > best.UptimeSeconds {
			best = c
			continue
		}
		if c.UptimeSeconds == best.UptimeSeconds && c.PeerID < best.PeerID {
			best = c
		}
	}
	return best, true
}

// Elector tracks the live claim set for one syncshell and derives the
// current host deterministically from it. It also remembers past hosts
// so phonebook tombstones they issued remain verifiable after rotation.
type Elector struct {
	mu sync.Mutex

	claims      map[string]Claim
	currentHost string

	history    []string // every peer_id that has ever held host, in order
	historySet map[string]bool
	hostLostAt time.Time
	hostLost   bool
}

// NewElector returns an Elector with no claims and no elected host.
func NewElector() *Elector {
	return &Elector{
		claims:     make(map[string]Claim),
		historySet: make(map[string]bool),
	}
}

// Submit records or replaces a peer's claim and re-runs the election,
// returning the resulting host peer_id and whether it changed. While a
// departed host's RotationGrace window is open, other claims are only
// recorded; the departed host's own returning claim ends the window.
func (e *Elector) Submit(c Claim, now time.Time) (host string, changed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.claims[c.PeerID] = c
	if e.hostLost && now.Sub(e.hostLostAt) < RotationGrace {
		if c.PeerID != e.currentHost {
			return e.currentHost, false
		}
		e.hostLost = false
	}
	return e.electLocked(now)
}

// Withdraw removes a peer's claim (it disconnected); the election is not
// re-run here. If the departing peer was host, rotation begins: the next
// best claim among survivors is not installed as host until RotationGrace
// has elapsed without the departed host's claim returning — callers must
// call Tick with the current time to advance that timer.
func (e *Elector) Withdraw(peerID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.claims, peerID)
	if peerID == e.currentHost {
		e.hostLost = true
		e.hostLostAt = now
	}
}

// Tick re-evaluates rotation: if the host has been missing for at least
// RotationGrace, the next-best surviving claim is installed as host. It
// returns the resulting host peer_id and whether a rotation occurred.
func (e *Elector) Tick(now time.Time) (host string, rotated bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hostLost {
		return e.currentHost, false
	}
	if now.Sub(e.hostLostAt) < RotationGrace {
		return e.currentHost, false
	}
	_, changed := e.electLocked(now)
	e.hostLost = false
	return e.currentHost, changed
}

func (e *Elector) electLocked(now time.Time) (string, bool) {
	claims := make([]Claim, 0, len(e.claims))
	for _, c := range e.claims {
		claims = append(claims, c)
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].PeerID < claims[j].PeerID })

	w, ok := winner(claims)
	if !ok {
		return e.currentHost, false
	}
	if w.PeerID == e.currentHost {
		return e.currentHost, false
	}
	e.currentHost = w.PeerID
	if !e.historySet[w.PeerID] {
		e.historySet[w.PeerID] = true
		e.history = append(e.history, w.PeerID)
	}
	e.hostLost = false
	return e.currentHost, true
}

// CurrentHost returns the presently elected host, or "" if no claim has
// been submitted yet.
func (e *Elector) CurrentHost() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentHost
}

// IsHost reports whether peerID is the current host or has ever held
// host in this syncshell's lifetime — the predicate phonebook.Open
// needs to validate that a tombstone was authored by a current or past
// host.
func (e *Elector) IsHost(peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historySet[peerID]
}

// History returns every peer_id that has held host, oldest first.
func (e *Elector) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.history...)
}

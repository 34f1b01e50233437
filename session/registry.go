// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import "sync"

// Registry looks up the live Peer for a given remote peer_id, letting a
// caller outside this package (the proximity scheduler's enqueue
// callback, a CLI command) drive TriggerOutboundSync without itself
// knowing anything about transport sessions.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Put records peer as the live session for remotePeerID, replacing any
// prior entry.
func (r *Registry) Put(remotePeerID string, peer *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[remotePeerID] = peer
}

// Get returns the live Peer for remotePeerID, if a session is open.
func (r *Registry) Get(remotePeerID string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[remotePeerID]
	return p, ok
}

// All returns every live Peer, for broadcast-style callers (the
// gossiper, a shutdown sweep).
func (r *Registry) All() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Delete removes remotePeerID's entry, e.g. once its session closes.
func (r *Registry) Delete(remotePeerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, remotePeerID)
}

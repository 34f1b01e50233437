// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"context"
	"time"

	"github.com/fyteclub/syncshell/phonebook"
)

// Gossiper debounces phonebook-change notifications and pushes the
// resulting snapshot to every live peer in the registry, implementing
// the "gossip on change, debounced 2s" half of the phonebook's update
// contract (session open's full snapshot exchange is the other half,
// driven by SendPhonebookRequest).
type Gossiper struct {
	book  *phonebook.Book
	peers *Registry
	dirty chan struct{}
}

// NewGossiper binds a Gossiper to one group's phonebook and peer
// registry.
func NewGossiper(book *phonebook.Book, peers *Registry) *Gossiper {
	return &Gossiper{book: book, peers: peers, dirty: make(chan struct{}, 1)}
}

// Notify marks the phonebook changed. Calls during an already-pending
// debounce window coalesce into the single flush at its end.
func (g *Gossiper) Notify() {
	select {
	case g.dirty <- struct{}{}:
	default:
	}
}

// Run flushes snapshots until ctx is canceled: each Notify starts (or
// joins) a phonebook.GossipDebounce window, after which the current
// snapshot goes to every registered peer. A peer whose send fails is
// skipped; its own session teardown handles the rest.
func (g *Gossiper) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.dirty:
		}

		timer := time.NewTimer(phonebook.GossipDebounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		// Notify calls made during the window are covered by this flush.
		select {
		case <-g.dirty:
		default:
		}

		entries, err := g.book.Snapshot()
		if err != nil {
			continue
		}
		for _, p := range g.peers.All() {
			_ = p.SendPhonebookGossip(ctx, entries)
		}
	}
}

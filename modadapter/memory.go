// SPDX-License-Identifier: LGPL-3.0-or-later

package modadapter

import (
	"context"
	"sync"

	"github.com/fyteclub/syncshell/store"
)

// MemoryAdapter is a reference Capabilities backing: the local recipe is
// whatever was last set via SetLocalRecipe, and Apply just records what
// it was asked to realize, so CLI/test flows can drive and observe the
// enumerate/apply contract without a real game client.
type MemoryAdapter struct {
	mu      sync.Mutex
	local   *store.Recipe
	applied map[string]*store.Recipe
}

// NewMemoryAdapter returns an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{applied: make(map[string]*store.Recipe)}
}

// SetLocalRecipe sets what EnumerateCurrentMods will return.
func (m *MemoryAdapter) SetLocalRecipe(r *store.Recipe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = r
}

// Applied returns the last recipe applied for peerGameID, if any.
func (m *MemoryAdapter) Applied(peerGameID string) (*store.Recipe, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.applied[peerGameID]
	return r, ok
}

// Capabilities returns a Capabilities record backed by this adapter.
func (m *MemoryAdapter) Capabilities() Capabilities {
	return Capabilities{
		Enumerate: func(ctx context.Context) (*store.Recipe, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.local == nil {
				return &store.Recipe{}, nil
			}
			cp := *m.local
			return &cp, nil
		},
		Apply: func(ctx context.Context, peerGameID string, recipe *store.Recipe, chunks map[string][]byte, onComplete func(ApplyResult)) {
			m.mu.Lock()
			m.applied[peerGameID] = recipe
			m.mu.Unlock()
			if onComplete != nil {
				onComplete(ApplyResult{PeerGameID: peerGameID})
			}
		},
	}
}

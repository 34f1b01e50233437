// SPDX-License-Identifier: LGPL-3.0-or-later

// Package modadapter defines the external mod-subsystem collaborator:
// enumerating the local player's currently equipped mods
// into a recipe, and applying a received recipe plus its chunk bytes to a
// remote player's in-world avatar. The real subsystems (file overlay,
// appearance, body scale) are host-application concerns; this package
// only defines the narrow contract and
// ships an in-memory reference implementation so the rest of the module
// is runnable and testable without a live game client.
package modadapter

import (
	"context"
	"fmt"

	"github.com/fyteclub/syncshell/store"
)

// ApplyResult is delivered to an Apply completion callback.
type ApplyResult struct {
	PeerGameID string
	Err        error // non-nil means the applier rejected the recipe
}

// Capabilities is the capability record the host application supplies
// in place of dynamic dispatch over multiple appearance/file
// subsystems: each field is a typed function reference for one
// operation, and an absent capability is simply a nil field rather than a
// typed exception. A concrete Adapter is free to leave either field nil
// if the corresponding subsystem is unavailable on this host.
type Capabilities struct {
	// Enumerate builds a ModRecipe describing the local player's
	// currently equipped mods. Nil if no mod subsystem is available
	// locally (the peer can still receive but never sends RecipeAnnounce
	// for itself).
	Enumerate func(ctx context.Context) (*store.Recipe, error)

	// Apply realizes recipe for the remote player identified by
	// peerGameID, using the already-fetched chunk bytes keyed by
	// chunk_hash. onComplete is invoked exactly once, asynchronously or
	// synchronously, with the outcome. Nil if this host cannot apply
	// mods (observer-only deployment).
	Apply func(ctx context.Context, peerGameID string, recipe *store.Recipe, chunks map[string][]byte, onComplete func(ApplyResult))
}

// Adapter is the thin wrapper transfer/scheduler depend on; it is always
// backed by a Capabilities record so the "capability absent" case is a
// typed nil check rather than an interface type-assertion failure.
type Adapter struct {
	caps Capabilities
}

// New wraps a capability record.
func New(caps Capabilities) *Adapter { return &Adapter{caps: caps} }

// CanEnumerate reports whether this adapter can produce local recipes.
func (a *Adapter) CanEnumerate() bool { return a.caps.Enumerate != nil }

// CanApply reports whether this adapter can realize received recipes.
func (a *Adapter) CanApply() bool { return a.caps.Apply != nil }

// EnumerateCurrentMods builds the local player's current ModRecipe.
func (a *Adapter) EnumerateCurrentMods(ctx context.Context) (*store.Recipe, error) {
	if a.caps.Enumerate == nil {
		return nil, fmt.Errorf("modadapter: no enumerate capability")
	}
	return a.caps.Enumerate(ctx)
}

// Apply asks the mod subsystem to realize recipe for peerGameID.
func (a *Adapter) Apply(ctx context.Context, peerGameID string, recipe *store.Recipe, chunks map[string][]byte, onComplete func(ApplyResult)) error {
	if a.caps.Apply == nil {
		return fmt.Errorf("modadapter: no apply capability")
	}
	a.caps.Apply(ctx, peerGameID, recipe, chunks, onComplete)
	return nil
}

// SPDX-License-Identifier: LGPL-3.0-or-later

package recovery

import (
	"context"
	"time"

	"github.com/fyteclub/syncshell/internal/synerr"
)

// GroupStaleAfter is the no-successful-sync threshold past which a
// group is marked stale: the local peer can no longer initiate live
// invites, only bootstrap ones.
const GroupStaleAfter = 30 * 24 * time.Hour

// IsGroupStale reports whether a group with lastSuccessfulSyncAt has gone
// stale as of now.
func IsGroupStale(lastSuccessfulSyncAt, now time.Time) bool {
	return now.Sub(lastSuccessfulSyncAt) > GroupStaleAfter
}

// Reconnector retries a lost session using the stored token, backing
// off per Backoff between attempts, and runs a post-reconnect callback
// on success (typically a full phonebook gossip plus a RecipeAnnounce
// for self).
type Reconnector struct {
	backoff       *Backoff
	connect       func(ctx context.Context) error
	onReconnected func(ctx context.Context) error
}

// NewReconnector builds a Reconnector. backoff is the per-group failure
// counter to charge attempts against (nil starts a fresh one); sharing
// the group's counter means failures accumulated here trip the same
// "requires fresh invite" gate every other reconnect path checks.
// connect attempts one token-backed reconnect handshake; onReconnected
// runs once immediately after a successful connect and may itself be nil
// if the caller drives gossip separately.
func NewReconnector(backoff *Backoff, connect func(ctx context.Context) error, onReconnected func(ctx context.Context) error) *Reconnector {
	if backoff == nil {
		backoff = NewBackoff()
	}
	return &Reconnector{backoff: backoff, connect: connect, onReconnected: onReconnected}
}

// Backoff exposes the underlying Backoff, e.g. so a caller can check
// RequiresFreshInvite before prompting the user for one.
func (r *Reconnector) Backoff() *Backoff { return r.backoff }

// Run retries connect with exponential backoff until it succeeds, ctx is
// canceled, or the failure count crosses MaxFailuresBeforeFreshInvite (at
// which point it returns a *synerr.Error with ErrStale instead of
// retrying further).
func (r *Reconnector) Run(ctx context.Context) error {
	if r.backoff.RequiresFreshInvite() {
		return synerr.NewStaleError("reconnect refused until a fresh invite is consumed", nil)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.connect(ctx)
		if err == nil {
			r.backoff.RecordSuccess()
			if r.onReconnected != nil {
				return r.onReconnected(ctx)
			}
			return nil
		}

		delay, requiresFreshInvite := r.backoff.RecordFailure()
		if requiresFreshInvite {
			return synerr.NewStaleError("reconnect requires a fresh invite after repeated failures", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

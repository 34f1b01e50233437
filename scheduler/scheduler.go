// SPDX-License-Identifier: LGPL-3.0-or-later

// Package scheduler implements the proximity-driven sync scheduler.
// It consumes a snapshot.Source at <=1 Hz, resolves each observed avatar
// to a peer_id, filters by movement/block-set/recent-announce, and
// enqueues outbound syncs for whatever peers remain in range.
package scheduler

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyteclub/syncshell/metrics"
	"github.com/fyteclub/syncshell/snapshot"
)

// MovementMeters and AnnounceQuietFor gate re-syncs: a peer that has
// moved 5.0 m or less since its last observed tick is not re-synced
// (5.01 m is); an outbound sync is skipped if an inbound RecipeAnnounce
// arrived from that peer within the last 10 s.
const (
	MovementMeters   = 5.0
	AnnounceQuietFor = 10 * time.Second
)

type peerState struct {
	lastPos        snapshot.Entry
	havePos        bool
	everSynced     bool
	lastAnnounceAt time.Time
}

// Scheduler drives the per-tick filtering and dispatch. resolve,
// blocked and enqueue are all supplied by the caller: the first two are
// external collaborators, the last is this Runtime's own outbound-sync
// trigger (typically scheduling an Outbound.AnnounceSelf on the
// relevant session).
type Scheduler struct {
	source  snapshot.Source
	resolve func(peerGameID string) (peerID string, ok bool)
	blocked func(peerID string) bool
	enqueue func(peerID string)

	selfResync func(ctx context.Context)

	mu    sync.Mutex
	peers map[string]*peerState
	zone  string

	selfResyncInFlight atomic.Bool
}

// New builds a Scheduler. resolve maps a peer_game_id observed in a
// snapshot to the member's peer_id (unresolved IDs are ignored);
// blocked reports the local block set; enqueue is
// called once per peer that should receive an outbound sync this tick;
// selfResync re-announces the local player's own recipe.
func New(source snapshot.Source, resolve func(string) (string, bool), blocked func(string) bool, enqueue func(string), selfResync func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		source:     source,
		resolve:    resolve,
		blocked:    blocked,
		enqueue:    enqueue,
		selfResync: selfResync,
		peers:      make(map[string]*peerState),
	}
}

// Run drives Tick on every snapshot delivery until ctx is canceled or the
// source is exhausted (io.EOF, used by file-replay sources in tests and
// the `serve` CLI).
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// Tick pulls one snapshot and applies the movement/block/quiet-window
// filters to each observed avatar.
func (s *Scheduler) Tick(ctx context.Context) error {
	snap, err := s.source.NextSnapshot(ctx)
	if err != nil {
		return err
	}
	metrics.ProximityTicks.Inc()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range snap.Entries {
		peerID, ok := s.resolve(entry.PeerGameID)
		if !ok {
			continue
		}

		if s.blocked != nil && s.blocked(peerID) {
			metrics.SyncsEnqueued.WithLabelValues("skipped_blocked").Inc()
			continue
		}

		st, ok := s.peers[peerID]
		if !ok {
			st = &peerState{}
			s.peers[peerID] = st
		}

		moved := !st.havePos || distance(st.lastPos, entry) > MovementMeters
		st.lastPos = entry
		st.havePos = true

		if st.everSynced && !moved {
			metrics.SyncsEnqueued.WithLabelValues("skipped_no_movement").Inc()
			continue
		}

		if now.Sub(st.lastAnnounceAt) < AnnounceQuietFor {
			metrics.SyncsEnqueued.WithLabelValues("skipped_recent_announce").Inc()
			continue
		}

		st.everSynced = true
		metrics.SyncsEnqueued.WithLabelValues("enqueued").Inc()
		s.enqueue(peerID)
	}
	return nil
}

// NoteRecipeAnnounce records that an inbound RecipeAnnounce was just
// received from peerID, suppressing a redundant outbound sync for
// AnnounceQuietFor.
func (s *Scheduler) NoteRecipeAnnounce(peerID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.peers[peerID]
	if !ok {
		st = &peerState{}
		s.peers[peerID] = st
	}
	st.lastAnnounceAt = now
}

// OnZoneChange triggers a self-resync if newZone differs from the last
// zone observed.
func (s *Scheduler) OnZoneChange(ctx context.Context, newZone string) {
	s.mu.Lock()
	changed := newZone != s.zone
	s.zone = newZone
	s.mu.Unlock()
	if changed {
		s.triggerSelfResync(ctx)
	}
}

// OnModAdapterChange triggers a self-resync when the local mod set
// itself changed (a notification from the host application).
func (s *Scheduler) OnModAdapterChange(ctx context.Context) { s.triggerSelfResync(ctx) }

// OnLogin triggers a self-resync on initial connect.
func (s *Scheduler) OnLogin(ctx context.Context) { s.triggerSelfResync(ctx) }

// triggerSelfResync runs selfResync, bounded to at most one in-flight
// call.
func (s *Scheduler) triggerSelfResync(ctx context.Context) {
	if s.selfResync == nil {
		return
	}
	if !s.selfResyncInFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.selfResyncInFlight.Store(false)
	s.selfResync(ctx)
}

func distance(a, b snapshot.Entry) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

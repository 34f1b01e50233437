// SPDX-License-Identifier: LGPL-3.0-or-later

package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyteclub/syncshell/snapshot"
)

type fakeSource struct {
	snaps []snapshot.Snapshot
	i     int
}

func (f *fakeSource) NextSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	if f.i >= len(f.snaps) {
		return snapshot.Snapshot{}, io.EOF
	}
	s := f.snaps[f.i]
	f.i++
	return s, nil
}

func identityResolver(s string) (string, bool) { return s, true }

func TestTickEnqueuesFirstSightingRegardlessOfMovement(t *testing.T) {
	src := &fakeSource{snaps: []snapshot.Snapshot{
		{Tick: 1, Entries: []snapshot.Entry{{PeerGameID: "bob", X: 0, Y: 0, Z: 0}}},
	}}
	var enqueued []string
	s := New(src, identityResolver, nil, func(peerID string) { enqueued = append(enqueued, peerID) }, nil)

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []string{"bob"}, enqueued)
}

func TestTickDropsPeerAtExactlyFiveMeters(t *testing.T) {
	src := &fakeSource{snaps: []snapshot.Snapshot{
		{Entries: []snapshot.Entry{{PeerGameID: "bob", X: 0, Y: 0, Z: 0}}},
		{Entries: []snapshot.Entry{{PeerGameID: "bob", X: 5.0, Y: 0, Z: 0}}},
	}}
	var enqueued []string
	s := New(src, identityResolver, nil, func(peerID string) { enqueued = append(enqueued, peerID) }, nil)
	ctx := context.Background()

	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, []string{"bob"}, enqueued, "a move of exactly 5.0m must not trigger a second sync")
}

func TestTickResyncsAtFivePointZeroOneMeters(t *testing.T) {
	src := &fakeSource{snaps: []snapshot.Snapshot{
		{Entries: []snapshot.Entry{{PeerGameID: "bob", X: 0, Y: 0, Z: 0}}},
		{Entries: []snapshot.Entry{{PeerGameID: "bob", X: 5.01, Y: 0, Z: 0}}},
	}}
	var enqueued []string
	s := New(src, identityResolver, nil, func(peerID string) { enqueued = append(enqueued, peerID) }, nil)
	ctx := context.Background()

	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, []string{"bob", "bob"}, enqueued, "a move past 5.0m must trigger a re-sync")
}

func TestTickSkipsBlockedPeers(t *testing.T) {
	src := &fakeSource{snaps: []snapshot.Snapshot{
		{Entries: []snapshot.Entry{{PeerGameID: "bob", X: 0, Y: 0, Z: 0}}},
	}}
	var enqueued []string
	blocked := func(peerID string) bool { return peerID == "bob" }
	s := New(src, identityResolver, blocked, func(peerID string) { enqueued = append(enqueued, peerID) }, nil)

	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, enqueued)
}

func TestTickIgnoresUnresolvedPeerGameIDs(t *testing.T) {
	src := &fakeSource{snaps: []snapshot.Snapshot{
		{Entries: []snapshot.Entry{{PeerGameID: "ghost", X: 0, Y: 0, Z: 0}}},
	}}
	var enqueued []string
	s := New(src, func(string) (string, bool) { return "", false }, nil, func(peerID string) { enqueued = append(enqueued, peerID) }, nil)

	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, enqueued)
}

func TestNoteRecipeAnnounceSuppressesEnqueueDuringQuietWindow(t *testing.T) {
	src := &fakeSource{snaps: []snapshot.Snapshot{
		{Entries: []snapshot.Entry{{PeerGameID: "bob", X: 0, Y: 0, Z: 0}}},
	}}
	var enqueued []string
	s := New(src, identityResolver, nil, func(peerID string) { enqueued = append(enqueued, peerID) }, nil)
	s.NoteRecipeAnnounce("bob", time.Now())

	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, enqueued, "a recent RecipeAnnounce must suppress an outbound sync this tick")
}

func TestSelfResyncBoundedToOneInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	s := New(&fakeSource{}, identityResolver, nil, func(string) {}, func(ctx context.Context) {
		calls++
		close(started)
		<-release
	})

	go s.OnLogin(context.Background())
	<-started

	s.OnModAdapterChange(context.Background()) // should be a no-op: one already in flight
	close(release)

	assert.Eventually(t, func() bool { return calls == 1 }, time.Second, time.Millisecond)
}

func TestRunStopsOnEOF(t *testing.T) {
	src := &fakeSource{snaps: []snapshot.Snapshot{
		{Entries: []snapshot.Entry{{PeerGameID: "bob", X: 0, Y: 0, Z: 0}}},
	}}
	s := New(src, identityResolver, nil, func(string) {}, nil)
	assert.NoError(t, s.Run(context.Background()))
}

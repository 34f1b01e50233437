// SPDX-License-Identifier: LGPL-3.0-or-later

package syncshell_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyteclub/syncshell"
	"github.com/fyteclub/syncshell/config"
	"github.com/fyteclub/syncshell/internal/obslog"
	"github.com/fyteclub/syncshell/invite"
)

func newTestRuntime(t *testing.T, name string) *syncshell.Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), name)
	rt, err := syncshell.NewRuntime(cfg, make([]byte, 32), obslog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestCreateJoinBlockLeaveRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	alice := newTestRuntime(t, "alice")
	bob := newTestRuntime(t, "bob")

	group, err := alice.CreateGroup("Raid", now)
	require.NoError(t, err)
	assert.Equal(t, alice.Identity().PeerID(), group.OwnerPeerID)

	code, err := invite.Encode(alice.Identity(), bob.Identity().PublicKey(), invite.KindLive, group.GroupID, group.GroupSecret, "offer-bytes", nil, now, time.Hour)
	require.NoError(t, err)

	joined, err := bob.JoinGroup(code, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, group.GroupID, joined.GroupID)
	assert.Equal(t, group.GroupSecret, joined.GroupSecret)

	aliceStatus, err := alice.Status(now)
	require.NoError(t, err)
	require.Len(t, aliceStatus, 1)
	assert.True(t, aliceStatus[0].IsOwner)
	assert.Equal(t, 1, aliceStatus[0].MemberCount, "bob's entry has not gossiped to alice over any transport yet")

	bobStatus, err := bob.Status(now)
	require.NoError(t, err)
	require.Len(t, bobStatus, 1)
	assert.False(t, bobStatus[0].IsOwner)

	require.NoError(t, alice.Block(group.GroupID, bob.Identity().PeerID()))
	gs, err := alice.Group(group.GroupID)
	require.NoError(t, err)
	blocked, err := gs.IsBlocked(bob.Identity().PeerID())
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, alice.Unblock(group.GroupID, bob.Identity().PeerID()))
	blocked, err = gs.IsBlocked(bob.Identity().PeerID())
	require.NoError(t, err)
	assert.False(t, blocked)

	_, err = alice.Resync(context.Background(), group.GroupID, now.Add(time.Hour), nil, nil)
	require.NoError(t, err)

	require.NoError(t, bob.LeaveGroup(group.GroupID, now.Add(2*time.Hour)))
	_, err = bob.Group(group.GroupID)
	assert.Error(t, err)

	bobStatus, err = bob.Status(now)
	require.NoError(t, err)
	assert.Empty(t, bobStatus)
}

func TestJoinGroupRejectsExpiredInvite(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	alice := newTestRuntime(t, "alice")
	bob := newTestRuntime(t, "bob")

	group, err := alice.CreateGroup("Raid", now)
	require.NoError(t, err)

	code, err := invite.Encode(alice.Identity(), bob.Identity().PublicKey(), invite.KindLive, group.GroupID, group.GroupSecret, "offer-bytes", nil, now, time.Minute)
	require.NoError(t, err)

	_, err = bob.JoinGroup(code, now.Add(2*time.Hour))
	require.Error(t, err)
}

func TestCreateGroupRejectsOversizedName(t *testing.T) {
	alice := newTestRuntime(t, "alice")
	long := make([]byte, syncshell.MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := alice.CreateGroup(string(long), time.Now())
	require.Error(t, err)
}

func TestNewInviteFallsBackToBootstrapWhenStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	alice := newTestRuntime(t, "alice")
	bob := newTestRuntime(t, "bob")

	group, err := alice.CreateGroup("Raid", now)
	require.NoError(t, err)

	code, kind, err := alice.NewInvite(group.GroupID, bob.Identity().PublicKey(), "offer-bytes", nil, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, invite.KindLive, kind)
	assert.Contains(t, code, "NOSTR:")

	stale := now.Add(31 * 24 * time.Hour)
	code, kind, err = alice.NewInvite(group.GroupID, bob.Identity().PublicKey(), "offer-bytes", nil, stale)
	require.NoError(t, err)
	assert.Equal(t, invite.KindBootstrap, kind, "a stale syncshell must refuse live invites and issue a bootstrap invite")
	assert.Contains(t, code, "BOOTSTRAP:")
}

func TestBootstrapInviteRefreshesExistingMembership(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	alice := newTestRuntime(t, "alice")
	bob := newTestRuntime(t, "bob")

	group, err := alice.CreateGroup("Raid", now)
	require.NoError(t, err)

	liveCode, _, err := alice.NewInvite(group.GroupID, bob.Identity().PublicKey(), "offer-bytes", nil, now)
	require.NoError(t, err)
	_, err = bob.JoinGroup(liveCode, now.Add(time.Minute))
	require.NoError(t, err)

	// A second live invite for a group bob already holds is an error...
	liveCode2, _, err := alice.NewInvite(group.GroupID, bob.Identity().PublicKey(), "offer-bytes", nil, now)
	require.NoError(t, err)
	_, err = bob.JoinGroup(liveCode2, now.Add(2*time.Minute))
	require.Error(t, err)

	// ...but a bootstrap invite re-establishes signaling on the existing
	// membership without rotating group_secret, and clears the backoff's
	// requires-fresh-invite mark.
	gs, err := bob.Group(group.GroupID)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		gs.Backoff.RecordFailure()
	}
	require.True(t, gs.Backoff.RequiresFreshInvite())

	bootstrap, err := invite.Encode(alice.Identity(), bob.Identity().PublicKey(), invite.KindBootstrap, group.GroupID, group.GroupSecret, "", nil, now, time.Hour)
	require.NoError(t, err)

	refreshed, err := bob.JoinGroup(bootstrap, now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, group.GroupSecret, refreshed.GroupSecret)
	assert.False(t, gs.Backoff.RequiresFreshInvite(), "consuming a fresh invite must clear the reconnect refusal")
}

func TestVerifyContentDropsCorruptChunks(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	alice := newTestRuntime(t, "alice")

	group, err := alice.CreateGroup("Raid", now)
	require.NoError(t, err)
	gs, err := alice.Group(group.GroupID)
	require.NoError(t, err)

	hash, err := gs.Content.PutChunk([]byte("pristine bytes"))
	require.NoError(t, err)

	// Tamper with the on-disk bytes behind the index's back.
	path := filepath.Join(alice.Paths().ContentRoot(group.GroupID), "chunks", hash[:2], hash)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o600))

	corrupt, err := alice.VerifyContent(context.Background(), group.GroupID)
	require.NoError(t, err)
	require.Equal(t, []string{hash}, corrupt)

	_, ok, err := gs.Content.GetChunk(hash)
	require.NoError(t, err)
	assert.False(t, ok, "a chunk whose bytes no longer hash to its address must be dropped")
}

func TestRuntimeReloadsGroupsFromDisk(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "alice")

	rt, err := syncshell.NewRuntime(cfg, make([]byte, 32), obslog.Nop())
	require.NoError(t, err)
	group, err := rt.CreateGroup("Raid", time.Now())
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	reopened, err := syncshell.NewRuntime(cfg, make([]byte, 32), obslog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	status, err := reopened.Status(time.Now())
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, group.GroupID, status[0].GroupID)
	assert.Equal(t, reopened.Identity().PeerID(), rt.Identity().PeerID(), "identity must persist across restarts")
}

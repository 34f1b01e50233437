// SPDX-License-Identifier: LGPL-3.0-or-later

package session_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyteclub/syncshell"
	"github.com/fyteclub/syncshell/config"
	"github.com/fyteclub/syncshell/internal/obslog"
	"github.com/fyteclub/syncshell/invite"
	"github.com/fyteclub/syncshell/modadapter"
	"github.com/fyteclub/syncshell/phonebook"
	"github.com/fyteclub/syncshell/session"
	"github.com/fyteclub/syncshell/store"
	"github.com/fyteclub/syncshell/transfer"
	"github.com/fyteclub/syncshell/transport"
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

// twoPeerRig wires a freshly created syncshell (alice, host) and a
// freshly joined member (bob) together over a LoopbackSession pair, with
// each side's session.Peer read loop running in its own goroutine. It
// stops at the transport/Peer layer: the join handshake and phonebook
// exchange still have to be driven explicitly by the test, exactly as a
// real caller above this package would.
type twoPeerRig struct {
	alice, bob         *syncshell.Runtime
	aliceGS, bobGS     *syncshell.GroupState
	aliceAdapter       *modadapter.MemoryAdapter
	bobApplyCount      *int32
	alicePeer, bobPeer *session.Peer
	cancel             context.CancelFunc
}

func newTwoPeerRig(t *testing.T) *twoPeerRig {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)

	alice := newTestRuntime(t, "alice")
	bob := newTestRuntime(t, "bob")

	group, err := alice.CreateGroup("Raid", now)
	require.NoError(t, err)

	code, err := invite.Encode(alice.Identity(), bob.Identity().PublicKey(), invite.KindLive, group.GroupID, group.GroupSecret, "offer-bytes", nil, now, time.Hour)
	require.NoError(t, err)
	_, err = bob.JoinGroup(code, now.Add(time.Minute))
	require.NoError(t, err)

	aliceGS, err := alice.Group(group.GroupID)
	require.NoError(t, err)
	bobGS, err := bob.Group(group.GroupID)
	require.NoError(t, err)

	aliceAdapterMem := modadapter.NewMemoryAdapter()
	aliceAdapter := modadapter.New(aliceAdapterMem.Capabilities())

	bobApplyCount := new(int32)
	bobAdapter := modadapter.New(modadapter.Capabilities{
		Apply: func(ctx context.Context, peerGameID string, recipe *store.Recipe, chunks map[string][]byte, onComplete func(modadapter.ApplyResult)) {
			atomic.AddInt32(bobApplyCount, 1)
			if onComplete != nil {
				onComplete(modadapter.ApplyResult{PeerGameID: peerGameID})
			}
		},
	})

	transA, transB := transport.NewLoopbackPair(32)
	limiter := transfer.NewInboundLimiter()

	alicePeer, err := session.NewPeer(aliceGS, alice.Identity(), bob.Identity().PeerID(), "bob-game", true, transA, aliceAdapter, group.GroupSecret, limiter, transfer.NewShaper(1<<30))
	require.NoError(t, err)
	bobPeer, err := session.NewPeer(bobGS, bob.Identity(), alice.Identity().PeerID(), "alice-game", false, transB, bobAdapter, group.GroupSecret, limiter, transfer.NewShaper(1<<30))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go alicePeer.Run(ctx)
	go bobPeer.Run(ctx)

	rig := &twoPeerRig{
		alice: alice, bob: bob,
		aliceGS: aliceGS, bobGS: bobGS,
		aliceAdapter:  aliceAdapterMem,
		bobApplyCount: bobApplyCount,
		alicePeer:     alicePeer, bobPeer: bobPeer,
		cancel: cancel,
	}
	t.Cleanup(func() {
		cancel()
		alicePeer.Close()
		bobPeer.Close()
	})
	return rig
}

// TestSessionJoinAndPhonebookConvergence: bob presents an empty-token
// Hello to host alice, receives a freshly minted MemberToken back, and
// a PhonebookRequest/PhonebookGossip round
// in each direction converges both sides' phonebooks to the same two
// active members.
func TestSessionJoinAndPhonebookConvergence(t *testing.T) {
	rig := newTwoPeerRig(t)
	ctx := context.Background()

	admitted := make(chan string, 1)
	rig.bobPeer.OnAdmitted(func(rawToken string) { admitted <- rawToken })

	require.NoError(t, rig.bobPeer.SendHello(ctx, "", nil))

	select {
	case raw := <-admitted:
		assert.NotEmpty(t, raw)
	case <-time.After(2 * time.Second):
		t.Fatal("bob was never admitted")
	}

	rawToken, ok, err := rig.bobGS.LoadToken()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, rawToken)

	require.NoError(t, rig.bobPeer.SendPhonebookRequest(ctx))
	require.NoError(t, rig.alicePeer.SendPhonebookRequest(ctx))

	require.Eventually(t, func() bool {
		entry, ok, err := rig.bobGS.Phonebook.Get(rig.alice.Identity().PeerID())
		return err == nil && ok && entry.Status == phonebook.StatusActive
	}, 2*time.Second, 10*time.Millisecond, "bob must learn alice's phonebook entry via gossip")

	require.Eventually(t, func() bool {
		entry, ok, err := rig.aliceGS.Phonebook.Get(rig.bob.Identity().PeerID())
		return err == nil && ok && entry.Status == phonebook.StatusActive
	}, 2*time.Second, 10*time.Millisecond, "alice must learn bob's phonebook entry via gossip")
}

// TestGossiperDebouncedBroadcast: a Notify on alice's gossiper flushes
// her phonebook snapshot to every registered peer after the debounce
// window, landing alice's entry in bob's phonebook without bob asking.
func TestGossiperDebouncedBroadcast(t *testing.T) {
	rig := newTwoPeerRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := session.NewRegistry()
	reg.Put(rig.bob.Identity().PeerID(), rig.alicePeer)
	g := session.NewGossiper(rig.aliceGS.Phonebook, reg)
	go g.Run(ctx)

	g.Notify()
	g.Notify() // coalesces into the same flush

	require.Eventually(t, func() bool {
		entry, ok, err := rig.bobGS.Phonebook.Get(rig.alice.Identity().PeerID())
		return err == nil && ok && entry.Status == phonebook.StatusActive
	}, 5*time.Second, 50*time.Millisecond, "bob must receive alice's debounced gossip")
}

// TestSessionProximitySyncCacheHit: the first TriggerOutboundSync (the
// call scheduler.New's enqueue callback makes in production) moves
// alice's one-chunk recipe all the way to
// bob's mod adapter; a second call with the unchanged recipe hash is a
// no-op at bob's Inbound.HandleRecipeAnnounce, so bob's adapter is never
// invoked a second time.
func TestSessionProximitySyncCacheHit(t *testing.T) {
	rig := newTwoPeerRig(t)
	ctx := context.Background()

	hash, err := rig.aliceGS.Content.PutChunk([]byte("alice's mod bundle, one chunk"))
	require.NoError(t, err)
	recipe := &store.Recipe{
		Files:        []store.FileEntry{{GamePath: "mods/a.mod", ChunkHash: hash}},
		AuthorPeerID: rig.alice.Identity().PeerID(),
		CreatedAt:    time.Now(),
	}
	rig.aliceAdapter.SetLocalRecipe(recipe)

	require.NoError(t, rig.alicePeer.TriggerOutboundSync(ctx))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(rig.bobApplyCount) == 1
	}, 2*time.Second, 10*time.Millisecond, "bob's adapter must receive alice's recipe exactly once")

	cachedHash, ok, err := rig.bobGS.Content.Recall("alice-game")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, cachedHash)

	require.NoError(t, rig.alicePeer.TriggerOutboundSync(ctx))
	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(rig.bobApplyCount), "an unchanged recipe hash must not trigger a second apply")
}

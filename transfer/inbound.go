// SPDX-License-Identifier: LGPL-3.0-or-later

package transfer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/fyteclub/syncshell/internal/synerr"
	"github.com/fyteclub/syncshell/metrics"
	"github.com/fyteclub/syncshell/modadapter"
	"github.com/fyteclub/syncshell/protocol"
	"github.com/fyteclub/syncshell/store"
)

// nowTime is a seam the cooldown/timeout checks call through; production
// code always wants wall-clock time, so it is not threaded as a
// parameter on every Handle* method. Tests reassign it.
var nowTime = func() time.Time { return time.Now() }

// pendingTransfer tracks one in-flight inbound recipe download: the
// fixed ordered list of chunk hashes still needed, how many of the most
// recently requested batch remain outstanding, and the bytes collected
// so far.
type pendingTransfer struct {
	recipe      *store.Recipe
	order       []string
	next        int
	outstanding int
	collected   map[string][]byte
	startedAt   time.Time
	lastChunkAt time.Time
}

// Inbound receives a single remote peer's announced recipe, fetches
// whatever chunks the local content store doesn't already have, and
// hands the completed recipe + chunk bytes to the mod adapter. Like
// Outbound, it is message-driven: the session's read loop calls the
// relevant Handle* method per inbound frame.
type Inbound struct {
	groupID          string
	localPeerID      string
	remotePeerID     string
	remotePeerGameID string

	content   *store.Content
	adapter   *modadapter.Adapter
	keys      Keys
	limiter   *InboundLimiter
	cooldowns *Cooldowns
	seqs      *seqCounters
	blocked   func(peerID string) bool

	pending *pendingTransfer
}

// NewInbound builds an Inbound for one remote peer within one group.
// remotePeerGameID is the in-game identity the mod adapter should apply
// received recipes to; it is supplied by the caller (resolved via the
// phonebook), not derived from the peer_id. blocked reports the local
// block set; a blocked peer's completed transfer is stored and recorded
// in the player cache but never handed to the mod adapter.
func NewInbound(groupID, localPeerID, remotePeerID, remotePeerGameID string, content *store.Content, adapter *modadapter.Adapter, keys Keys, limiter *InboundLimiter, cooldowns *Cooldowns, blocked func(peerID string) bool) *Inbound {
	return &Inbound{
		groupID:          groupID,
		localPeerID:      localPeerID,
		remotePeerID:     remotePeerID,
		remotePeerGameID: remotePeerGameID,
		content:          content,
		adapter:          adapter,
		keys:             keys,
		limiter:          limiter,
		cooldowns:        cooldowns,
		seqs:             newSeqCounters(),
		blocked:          blocked,
	}
}

// HandleRecipeAnnounce decides whether the announced recipe needs
// fetching at all. A hash matching what we last applied for this peer
// is a no-op: skipped is true and frame is nil. Otherwise it returns
// the RecipeRequest frame to send.
func (i *Inbound) HandleRecipeAnnounce(ctx context.Context, f *protocol.Frame) (frame *protocol.Frame, skipped bool, err error) {
	msg, err := decodeRecipeAnnounce(f)
	if err != nil {
		return nil, false, synerr.NewProtocolError("decode recipe announce", err)
	}

	if i.cooldowns.Active(i.remotePeerID, nowTime()) {
		return nil, true, nil
	}

	cachedHash, ok, err := i.content.Recall(i.remotePeerGameID)
	if err != nil {
		return nil, false, err
	}
	if ok && cachedHash == msg.RecipeHash {
		return nil, true, nil
	}

	seq := i.seqs.next(uint8(protocol.KindRecipeRequest))
	frame, err = encodeRecipeRequest(i.groupID, i.localPeerID, seq, RecipeRequestMsg{RecipeHash: msg.RecipeHash})
	if err != nil {
		return nil, false, err
	}
	i.pending = nil
	return frame, false, nil
}

// HandleRecipeDeliver opens the sealed recipe, figures out which of its
// chunks we don't already hold, and either completes immediately (every
// chunk was already content-addressed locally) or returns the first
// ChunkRequest batch.
func (i *Inbound) HandleRecipeDeliver(ctx context.Context, f *protocol.Frame) (*protocol.Frame, error) {
	recipe, err := decodeRecipeDeliver(f, i.keys.RecvKey)
	if err != nil {
		i.cooldowns.Start(i.remotePeerID, nowTime())
		metrics.TransfersFailed.WithLabelValues("crypto_auth_fail").Inc()
		return nil, synerr.NewCryptoError("open recipe deliver", err)
	}

	if err := i.limiter.Acquire(ctx); err != nil {
		return nil, synerr.NewTransportError("acquire inbound transfer slot", err)
	}
	metrics.InboundTransfersActive.Inc()
	metrics.TransfersStarted.WithLabelValues("inbound").Inc()

	var missing []string
	for _, fe := range recipe.Files {
		if _, ok, err := i.content.GetChunk(fe.ChunkHash); err != nil {
			i.releaseSlot()
			return nil, err
		} else if !ok {
			missing = append(missing, fe.ChunkHash)
		}
	}

	started := nowTime()
	i.pending = &pendingTransfer{recipe: recipe, order: missing, collected: make(map[string][]byte), startedAt: started, lastChunkAt: started}

	if len(missing) == 0 {
		if err := i.finishTransfer(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return i.nextChunkBatch()
}

func (i *Inbound) nextChunkBatch() (*protocol.Frame, error) {
	p := i.pending
	batchSize := len(p.order) - p.next
	if batchSize > ChunkWindow {
		batchSize = ChunkWindow
	}
	if batchSize <= 0 {
		return nil, nil
	}
	batch := p.order[p.next : p.next+batchSize]
	p.next += batchSize
	p.outstanding = batchSize

	seq := i.seqs.next(uint8(protocol.KindChunkRequest))
	return encodeChunkRequest(i.groupID, i.localPeerID, seq, ChunkRequestMsg{Hashes: batch})
}

// HandleChunkDeliver opens and verifies one delivered chunk. A hash
// mismatch aborts the transfer and puts the peer on cooldown. When the
// current batch is fully received it either
// requests the next batch or, if nothing remains, finishes the
// transfer; done reports the latter.
func (i *Inbound) HandleChunkDeliver(ctx context.Context, f *protocol.Frame) (next *protocol.Frame, done bool, err error) {
	if i.pending == nil {
		return nil, false, synerr.NewProtocolError("chunk deliver with no pending transfer", nil)
	}

	now := nowTime()
	if now.Sub(i.pending.startedAt) > TransferTimeout || now.Sub(i.pending.lastChunkAt) > ChunkDeliverTimeout {
		metrics.TransfersFailed.WithLabelValues("timeout").Inc()
		i.releaseSlot()
		i.pending = nil
		return nil, false, synerr.NewTransportError("recipe transfer timed out", nil)
	}
	i.pending.lastChunkAt = now

	hash, bytes, err := decodeChunkDeliver(f, i.keys.RecvKey)
	if err != nil {
		i.abort("crypto_auth_fail")
		return nil, false, synerr.NewCryptoError("open chunk deliver", err)
	}

	sum := sha256.Sum256(bytes)
	if fmt.Sprintf("%x", sum) != hash {
		i.abort("chunk_verify_failed")
		return nil, false, synerr.NewCryptoError("chunk hash mismatch", nil)
	}

	if _, err := i.content.PutChunk(bytes); err != nil {
		i.abort("capacity_exceeded")
		if errors.Is(err, store.ErrCapacityExceeded) {
			metrics.ChunkOperations.WithLabelValues("put", "capacity_exceeded").Inc()
			return nil, false, synerr.NewCapacityError("store delivered chunk", err)
		}
		return nil, false, synerr.NewProtocolError("store delivered chunk", err)
	}
	metrics.ChunkOperations.WithLabelValues("put", "ok").Inc()

	i.pending.collected[hash] = bytes
	metrics.BytesTransferred.WithLabelValues("inbound").Add(float64(len(bytes)))
	i.pending.outstanding--
	if i.pending.outstanding > 0 {
		return nil, false, nil
	}

	if i.pending.next < len(i.pending.order) {
		frame, err := i.nextChunkBatch()
		return frame, false, err
	}

	if err := i.finishTransfer(ctx); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}

func (i *Inbound) abort(reason string) {
	metrics.TransfersFailed.WithLabelValues(reason).Inc()
	i.cooldowns.Start(i.remotePeerID, nowTime())
	i.releaseSlot()
	i.pending = nil
}

func (i *Inbound) releaseSlot() {
	i.limiter.Release()
	metrics.InboundTransfersActive.Dec()
}

func (i *Inbound) finishTransfer(ctx context.Context) error {
	defer i.releaseSlot()

	p := i.pending
	chunks := make(map[string][]byte, len(p.recipe.Files))
	for _, fe := range p.recipe.Files {
		if b, ok := p.collected[fe.ChunkHash]; ok {
			chunks[fe.ChunkHash] = b
			continue
		}
		b, ok, err := i.content.GetChunk(fe.ChunkHash)
		if err != nil {
			return err
		}
		if !ok {
			return synerr.NewNotFoundError("chunk missing at finish: "+fe.ChunkHash, nil)
		}
		chunks[fe.ChunkHash] = b
	}

	if err := i.content.PutRecipe(p.recipe); err != nil {
		return err
	}
	if err := i.content.Remember(i.remotePeerGameID, p.recipe.RecipeHash); err != nil {
		return err
	}

	if i.blocked != nil && i.blocked(i.remotePeerID) {
		i.pending = nil
		return nil
	}

	if i.adapter != nil && i.adapter.CanApply() {
		if err := i.adapter.Apply(ctx, i.remotePeerGameID, p.recipe, chunks, func(res modadapter.ApplyResult) {
			if res.Err != nil {
				metrics.TransfersFailed.WithLabelValues("apply_failed").Inc()
			}
		}); err != nil {
			return err
		}
	}

	i.pending = nil
	return nil
}

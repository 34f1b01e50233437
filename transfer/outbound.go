// SPDX-License-Identifier: LGPL-3.0-or-later

package transfer

import (
	"context"

	"github.com/fyteclub/syncshell/internal/synerr"
	"github.com/fyteclub/syncshell/metrics"
	"github.com/fyteclub/syncshell/modadapter"
	"github.com/fyteclub/syncshell/protocol"
	"github.com/fyteclub/syncshell/store"
)

// Outbound serves this peer's own mod recipe to a single remote session:
// announcing it, answering RecipeRequest with the full (sealed) recipe,
// and answering ChunkRequest with shaped, sealed chunk bytes. Methods are
// message-driven: the owning session's read loop calls the Handle*
// method for each inbound frame kind and sends back whatever frame(s) it
// returns, rather than Outbound owning a loop of its own.
type Outbound struct {
	groupID     string
	localPeerID string

	content *store.Content
	adapter *modadapter.Adapter
	keys    Keys
	shaper  *Shaper
	seqs    *seqCounters
	blocked func(peerID string) bool
}

// NewOutbound builds an Outbound bound to one remote session's derived
// keys and bandwidth shaper. blocked reports the local block set; a
// blocked peer's RecipeRequest/ChunkRequest is refused so blocking cuts
// off serving mid-session, not just the scheduler's next initiation.
func NewOutbound(groupID, localPeerID string, content *store.Content, adapter *modadapter.Adapter, keys Keys, shaper *Shaper, blocked func(peerID string) bool) *Outbound {
	return &Outbound{
		groupID:     groupID,
		localPeerID: localPeerID,
		content:     content,
		adapter:     adapter,
		keys:        keys,
		shaper:      shaper,
		seqs:        newSeqCounters(),
		blocked:     blocked,
	}
}

// AnnounceSelf enumerates the local player's current mods, stores the
// recipe (so a subsequent RecipeRequest can be served from it), and
// returns the RecipeAnnounce frame to broadcast.
func (o *Outbound) AnnounceSelf(ctx context.Context) (*protocol.Frame, error) {
	recipe, err := o.adapter.EnumerateCurrentMods(ctx)
	if err != nil {
		return nil, err
	}
	if err := o.content.PutRecipe(recipe); err != nil {
		return nil, err
	}
	seq := o.seqs.next(uint8(protocol.KindRecipeAnnounce))
	return encodeRecipeAnnounce(o.groupID, o.localPeerID, seq, RecipeAnnounceMsg{
		RecipeHash: recipe.RecipeHash,
		FileCount:  len(recipe.Files),
	})
}

// HandleRecipeRequest answers a peer's request for our recipe_hash with
// the full sealed recipe, or synerr.ErrNotFound if we no longer have
// it (it was GC'd, or was never ours to begin with). A blocked
// requester gets the same NotFound shape, never the recipe.
func (o *Outbound) HandleRecipeRequest(ctx context.Context, f *protocol.Frame) (*protocol.Frame, error) {
	msg, err := decodeRecipeRequest(f)
	if err != nil {
		return nil, synerr.NewProtocolError("decode recipe request", err)
	}
	if o.blocked != nil && o.blocked(f.AuthorPeerID) {
		return nil, synerr.NewNotFoundError("recipe request from blocked peer "+f.AuthorPeerID, nil)
	}
	recipe, ok, err := o.content.GetRecipe(msg.RecipeHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, synerr.NewNotFoundError("unknown recipe_hash "+msg.RecipeHash, nil)
	}

	metrics.TransfersStarted.WithLabelValues("outbound").Inc()

	seq := o.seqs.next(uint8(protocol.KindRecipeDeliver))
	return encodeRecipeDeliver(o.groupID, o.localPeerID, seq, o.keys.SendKey, recipe)
}

// HandleChunkRequest answers a batch chunk request, shaping outbound
// bytes through Shaper and sealing each chunk individually. A request
// larger than ChunkWindow is truncated; the requester is expected to
// re-request the remainder in its next batch.
func (o *Outbound) HandleChunkRequest(ctx context.Context, f *protocol.Frame) ([]*protocol.Frame, error) {
	msg, err := decodeChunkRequest(f)
	if err != nil {
		return nil, synerr.NewProtocolError("decode chunk request", err)
	}
	if o.blocked != nil && o.blocked(f.AuthorPeerID) {
		return nil, synerr.NewNotFoundError("chunk request from blocked peer "+f.AuthorPeerID, nil)
	}

	hashes := msg.Hashes
	if len(hashes) > ChunkWindow {
		hashes = hashes[:ChunkWindow]
	}

	out := make([]*protocol.Frame, 0, len(hashes))
	for _, hash := range hashes {
		data, ok, err := o.content.GetChunk(hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.ChunkOperations.WithLabelValues("get", "miss").Inc()
			return nil, synerr.NewNotFoundError("unknown chunk "+hash, nil)
		}
		metrics.ChunkOperations.WithLabelValues("get", "hit").Inc()
		if o.shaper != nil {
			if err := o.shaper.Wait(ctx, len(data)); err != nil {
				return nil, err
			}
		}
		seq := o.seqs.next(uint8(protocol.KindChunkDeliver))
		frame, err := encodeChunkDeliver(o.groupID, o.localPeerID, seq, o.keys.SendKey, hash, data)
		if err != nil {
			return nil, err
		}
		metrics.BytesTransferred.WithLabelValues("outbound").Add(float64(len(data)))
		out = append(out, frame)
	}
	return out, nil
}

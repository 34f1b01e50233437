package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{
		Kind:         KindRecipeAnnounce,
		GroupID:      "grp-1",
		AuthorPeerID: "peer-a",
		Sequence:     42,
		Timestamp:    1_700_000_000,
		Payload:      []byte("recipe summary"),
	}

	encoded := Encode(f)
	decoded, n, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, f, decoded)
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	f := &Frame{Kind: KindHello, GroupID: "g", AuthorPeerID: "a", Sequence: 1, Payload: []byte("x")}
	encoded := Encode(f)
	_, _, err := Decode(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestDedupDropsDuplicates(t *testing.T) {
	d := NewDedup(4)
	f := &Frame{Kind: KindKeepalive, GroupID: "g", AuthorPeerID: "a", Sequence: 1}
	hash := f.ContentHash()

	assert.False(t, d.SeenOrMark(hash))
	assert.True(t, d.SeenOrMark(hash), "second mark of same hash must report seen")
}

func TestDedupEvictsLeastRecentlyUsed(t *testing.T) {
	d := NewDedup(2)
	var h1, h2, h3 [HashSize]byte
	h1[0], h2[0], h3[0] = 1, 2, 3

	d.SeenOrMark(h1)
	d.SeenOrMark(h2)
	d.SeenOrMark(h3) // evicts h1

	assert.False(t, d.SeenOrMark(h1), "h1 should have been evicted and reported unseen")
}

func TestOrdererDeliversInSequenceImmediately(t *testing.T) {
	o := NewOrderer()
	now := time.Now()

	f1 := &Frame{Kind: KindRecipeAnnounce, AuthorPeerID: "a", Sequence: 0}
	out := o.Admit(f1, now)
	require.Len(t, out, 1)
	assert.Equal(t, f1, out[0])

	f2 := &Frame{Kind: KindRecipeAnnounce, AuthorPeerID: "a", Sequence: 1}
	out = o.Admit(f2, now)
	require.Len(t, out, 1)
	assert.Equal(t, f2, out[0])
}

func TestOrdererBuffersAndDrainsGap(t *testing.T) {
	o := NewOrderer()
	now := time.Now()

	f0 := &Frame{Kind: KindRecipeAnnounce, AuthorPeerID: "a", Sequence: 0}
	o.Admit(f0, now)

	f2 := &Frame{Kind: KindRecipeAnnounce, AuthorPeerID: "a", Sequence: 2}
	out := o.Admit(f2, now)
	assert.Empty(t, out, "sequence 2 must be buffered while 1 is missing")

	f1 := &Frame{Kind: KindRecipeAnnounce, AuthorPeerID: "a", Sequence: 1}
	out = o.Admit(f1, now)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(1), out[0].Sequence)
	assert.Equal(t, uint64(2), out[1].Sequence)
}

func TestOrdererAbandonsGapAfterTimeout(t *testing.T) {
	o := NewOrderer()
	start := time.Now()

	o.Admit(&Frame{Kind: KindRecipeAnnounce, AuthorPeerID: "a", Sequence: 0}, start)
	out := o.Admit(&Frame{Kind: KindRecipeAnnounce, AuthorPeerID: "a", Sequence: 2}, start)
	assert.Empty(t, out)

	late := start.Add(GapBufferTimeout + time.Second)
	out = o.Admit(&Frame{Kind: KindRecipeAnnounce, AuthorPeerID: "a", Sequence: 3}, late)
	require.NotEmpty(t, out, "gap must be abandoned once the timeout elapses")
}

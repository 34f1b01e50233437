// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestContent(t *testing.T, capacityBytes int64) *Content {
	t.Helper()
	dir := t.TempDir()
	kv, err := OpenKV(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	c, err := OpenContent(kv, dir, capacityBytes, 48*time.Hour, 48*time.Hour)
	require.NoError(t, err)
	return c
}

func TestPutChunkIsContentAddressed(t *testing.T) {
	c := openTestContent(t, 1<<20)

	hash, err := c.PutChunk([]byte("mod bytes"))
	require.NoError(t, err)

	data, ok, err := c.GetChunk(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("mod bytes"), data)
}

func TestPutChunkDedupesIdenticalBytes(t *testing.T) {
	c := openTestContent(t, 1<<20)

	h1, err := c.PutChunk([]byte("same"))
	require.NoError(t, err)
	h2, err := c.PutChunk([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "identical chunks must occupy a single entry")
}

func TestGetChunkMissReturnsFalse(t *testing.T) {
	c := openTestContent(t, 1<<20)
	_, ok, err := c.GetChunk("deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutChunkRejectsOversizedBytes(t *testing.T) {
	c := openTestContent(t, 1<<30)
	_, err := c.PutChunk(make([]byte, MaxChunkSize+1))
	assert.Error(t, err)
}

func TestPinPreventsEvictionUnderCapacityPressure(t *testing.T) {
	c := openTestContent(t, 20)

	pinned, err := c.PutChunk([]byte("0123456789")) // 10 bytes
	require.NoError(t, err)
	require.NoError(t, c.Pin(pinned))

	// A second 10-byte chunk fits exactly at capacity alongside the pinned one.
	second, err := c.PutChunk([]byte("abcdefghij"))
	require.NoError(t, err)
	require.NoError(t, c.Pin(second))

	// With every chunk pinned, a third has nothing evictable and must fail.
	_, err = c.PutChunk([]byte("ZYXWVUTSRQ"))
	assert.Error(t, err, "store: capacity exceeded with no evictable chunk must fail, not evict a pinned chunk")

	// The pinned chunk must still be retrievable.
	data, ok, err := c.GetChunk(pinned)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("0123456789"), data)
}

func TestPutChunkEvictsLRUUnpinnedChunkUnderPressure(t *testing.T) {
	c := openTestContent(t, 10)

	old, err := c.PutChunk([]byte("0123456789"))
	require.NoError(t, err)

	fresh, err := c.PutChunk([]byte("ZYXWVUTSRQ"))
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	_, ok, err := c.GetChunk(old)
	require.NoError(t, err)
	assert.False(t, ok, "unpinned LRU chunk should have been evicted to make room")

	data, ok, err := c.GetChunk(fresh)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ZYXWVUTSRQ"), data)
}

func TestPutRecipePinsReferencedChunks(t *testing.T) {
	c := openTestContent(t, 1<<20)

	h1, err := c.PutChunk([]byte("file one"))
	require.NoError(t, err)
	h2, err := c.PutChunk([]byte("file two"))
	require.NoError(t, err)

	r := &Recipe{
		Files: []FileEntry{
			{GamePath: "a.mdl", ChunkHash: h1},
			{GamePath: "b.mdl", ChunkHash: h2},
		},
		AppearanceHash: "app1",
		BodyScaleHash:  "body1",
		AuthorPeerID:   "peer-a",
	}
	require.NoError(t, c.PutRecipe(r))
	require.NotEmpty(t, r.RecipeHash)

	got, ok, err := c.GetRecipe(r.RecipeHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.RecipeHash, got.RecipeHash)

	require.NoError(t, c.Unpin(h1))
	require.NoError(t, c.Unpin(h2))
}

func TestPutRecipeIsDeterministicAcrossIdenticalModSets(t *testing.T) {
	c := openTestContent(t, 1<<20)

	h1, err := c.PutChunk([]byte("shared file"))
	require.NoError(t, err)

	r1 := &Recipe{
		Files:          []FileEntry{{GamePath: "a.mdl", ChunkHash: h1}},
		AppearanceHash: "app",
		BodyScaleHash:  "body",
		AuthorPeerID:   "peer-a",
	}
	r2 := &Recipe{
		Files:          []FileEntry{{GamePath: "a.mdl", ChunkHash: h1}},
		AppearanceHash: "app",
		BodyScaleHash:  "body",
		AuthorPeerID:   "peer-b", // different author, same content
	}
	require.NoError(t, c.PutRecipe(r1))
	require.NoError(t, c.PutRecipe(r2))
	assert.Equal(t, r1.RecipeHash, r2.RecipeHash, "identical mod sets must produce identical recipe_hash regardless of author")
}

func TestRememberRecall(t *testing.T) {
	c := openTestContent(t, 1<<20)

	_, ok, err := c.Recall("peer-x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Remember("peer-x", "recipe-hash-1"))
	hash, ok, err := c.Recall("peer-x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "recipe-hash-1", hash)
}

func TestGCPurgesExpiredRecipesAndPlayerCache(t *testing.T) {
	c := openTestContent(t, 1<<20)

	h1, err := c.PutChunk([]byte("stale file"))
	require.NoError(t, err)
	r := &Recipe{
		Files:          []FileEntry{{GamePath: "a.mdl", ChunkHash: h1}},
		AppearanceHash: "app",
		BodyScaleHash:  "body",
	}
	require.NoError(t, c.PutRecipe(r))
	require.NoError(t, c.Remember("peer-x", r.RecipeHash))

	recipesPurged, playersPurged, err := c.GC(time.Now().Add(49 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, recipesPurged)
	assert.Equal(t, 1, playersPurged)

	_, ok, err := c.GetRecipe(r.RecipeHash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Recall("peer-x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGCLeavesFreshEntriesAlone(t *testing.T) {
	c := openTestContent(t, 1<<20)

	h1, err := c.PutChunk([]byte("fresh file"))
	require.NoError(t, err)
	r := &Recipe{
		Files:          []FileEntry{{GamePath: "a.mdl", ChunkHash: h1}},
		AppearanceHash: "app",
		BodyScaleHash:  "body",
	}
	require.NoError(t, c.PutRecipe(r))

	recipesPurged, _, err := c.GC(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, recipesPurged)

	_, ok, err := c.GetRecipe(r.RecipeHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsedBytesTracksStoredChunks(t *testing.T) {
	c := openTestContent(t, 1<<20)
	assert.Equal(t, int64(0), c.UsedBytes())

	_, err := c.PutChunk([]byte("12345"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.UsedBytes())
}

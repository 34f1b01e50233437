// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxChunkSize is the largest content chunk the store will accept.
const MaxChunkSize = 1 << 20 // 1 MiB

// ErrCapacityExceeded is returned by PutChunk when the store is full and
// nothing is evictable. Callers wanting a typed capacity error wrap
// this themselves, using errors.Is(err, store.ErrCapacityExceeded) to
// tell it apart from other PutChunk failures (oversized chunk, disk
// I/O).
var ErrCapacityExceeded = errors.New("store: capacity exceeded, nothing evictable")

// ComponentRef caches, per peer, which recipe they were last seen serving,
// so a repeat proximity sync of an unchanged mod set can be short-circuited.
type ComponentRef struct {
	ComponentHash string    `json:"component_hash"` // == recipe_hash
	OwnerPeerID   string    `json:"owner_peer_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// FileEntry is one file within a ModRecipe: a game-relative path mapped to
// the content hash of its bytes.
type FileEntry struct {
	GamePath  string `json:"game_path"`
	ChunkHash string `json:"chunk_hash"`
}

// Recipe is the canonical descriptor of a player's current mod set.
// RecipeHash is the SHA-256 of the recipe's canonical serialization; two
// peers with identical mod sets produce identical RecipeHash.
type Recipe struct {
	RecipeHash     string      `json:"recipe_hash"`
	Files          []FileEntry `json:"files"`
	AppearanceHash string      `json:"appearance_hash"`
	BodyScaleHash  string      `json:"body_scale_hash"`
	AuthorPeerID   string      `json:"author_peer_id"`
	CreatedAt      time.Time   `json:"created_at"`
}

// canonicalBytes serializes the fields that determine RecipeHash: the file
// list (order matters, callers must sort by game_path before calling this)
// plus the appearance/body-scale blob hashes. Author and creation time are
// metadata, not part of the content identity.
func (r *Recipe) canonicalBytes() []byte {
	type wire struct {
		Files          []FileEntry `json:"files"`
		AppearanceHash string      `json:"appearance_hash"`
		BodyScaleHash  string      `json:"body_scale_hash"`
	}
	b, _ := json.Marshal(wire{Files: r.Files, AppearanceHash: r.AppearanceHash, BodyScaleHash: r.BodyScaleHash})
	return b
}

// ComputeRecipeHash derives the content-identity hash of a recipe from its
// files and appearance/body-scale blob hashes.
func ComputeRecipeHash(files []FileEntry, appearanceHash, bodyScaleHash string) string {
	r := &Recipe{Files: files, AppearanceHash: appearanceHash, BodyScaleHash: bodyScaleHash}
	sum := sha256.Sum256(r.canonicalBytes())
	return fmt.Sprintf("%x", sum)
}

// PlayerCacheEntry records the last recipe the external mod applier was
// asked to realize for a peer.
type PlayerCacheEntry struct {
	PeerID        string    `json:"peer_id"`
	RecipeHash    string    `json:"recipe_hash"`
	LastAppliedAt time.Time `json:"last_applied_at"`
}

type chunkMeta struct {
	Hash         string    `json:"hash"`
	Size         int       `json:"size"`
	Refcount     int       `json:"refcount"`
	LastAccessAt time.Time `json:"last_access_at"`
}

type recipeRecord struct {
	Recipe       Recipe    `json:"recipe"`
	LastAccessAt time.Time `json:"last_access_at"`
}

// Content is the content-addressed store: chunk bytes on disk under
// <root>/chunks/<first2>/<hash>, with chunk/recipe/player-cache metadata
// indexed in bbolt buckets so eviction scans never need to touch chunk
// bytes on disk.
type Content struct {
	mu sync.Mutex

	root     string
	chunkDir string

	chunkMeta   *Bucket
	recipes     *Bucket
	playerCache *Bucket

	capacityBytes int64
	recipeTTL     time.Duration
	playerTTL     time.Duration

	usedBytes int64
}

// OpenContent opens (creating if necessary) the on-disk chunk directory
// under root and binds the three index buckets from kv.
func OpenContent(kv *KV, root string, capacityBytes int64, recipeTTL, playerTTL time.Duration) (*Content, error) {
	chunkDir := filepath.Join(root, "chunks")
	if err := os.MkdirAll(chunkDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create chunk dir: %w", err)
	}

	chunkMeta, err := kv.Bucket("chunks")
	if err != nil {
		return nil, err
	}
	recipes, err := kv.Bucket("recipes")
	if err != nil {
		return nil, err
	}
	playerCache, err := kv.Bucket("playercache")
	if err != nil {
		return nil, err
	}

	c := &Content{
		root:          root,
		chunkDir:      chunkDir,
		chunkMeta:     chunkMeta,
		recipes:       recipes,
		playerCache:   playerCache,
		capacityBytes: capacityBytes,
		recipeTTL:     recipeTTL,
		playerTTL:     playerTTL,
	}
	if err := c.recomputeUsedBytes(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Content) recomputeUsedBytes() error {
	var total int64
	err := c.chunkMeta.ForEach(func(_, v []byte) error {
		var m chunkMeta
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		total += int64(m.Size)
		return nil
	})
	c.usedBytes = total
	return err
}

func (c *Content) chunkPath(hash string) string {
	return filepath.Join(c.chunkDir, hash[:2], hash)
}

// PutChunk stores bytes content-addressed by their SHA-256 hash, returning
// the hash. A chunk already present has its refcount left untouched (the
// caller bumps refcount separately via Pin when attaching it to a recipe).
// Returns ErrCapacityExceeded if the store is full and nothing is
// evictable.
func (c *Content) PutChunk(bytes []byte) (string, error) {
	if len(bytes) > MaxChunkSize {
		return "", fmt.Errorf("store: chunk exceeds %d bytes", MaxChunkSize)
	}
	sum := sha256.Sum256(bytes)
	hash := fmt.Sprintf("%x", sum)

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.chunkMeta.Get([]byte(hash))
	if err != nil {
		return "", err
	}
	if existing != nil {
		return hash, nil
	}

	if c.usedBytes+int64(len(bytes)) > c.capacityBytes {
		if !c.evictLocked(int64(len(bytes))) {
			return "", ErrCapacityExceeded
		}
	}

	path := c.chunkPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, bytes, 0o600); err != nil {
		return "", err
	}

	meta := chunkMeta{Hash: hash, Size: len(bytes), Refcount: 0, LastAccessAt: time.Now()}
	if err := c.putChunkMeta(meta); err != nil {
		return "", err
	}
	c.usedBytes += int64(len(bytes))
	return hash, nil
}

// GetChunk returns a chunk's bytes and bumps its last-access time for LRU
// purposes. Returns (nil, false) on a miss.
func (c *Content) GetChunk(hash string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.chunkMeta.Get([]byte(hash))
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	data, err := os.ReadFile(c.chunkPath(hash))
	if err != nil {
		return nil, false, fmt.Errorf("store: chunk metadata present but bytes missing: %w", err)
	}

	var m chunkMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, err
	}
	m.LastAccessAt = time.Now()
	if err := c.putChunkMeta(m); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Pin increments a chunk's refcount (called when a recipe referencing it
// is stored); Unpin decrements it (called when the owning recipe is
// destroyed). A chunk at refcount 0 is eligible for LRU eviction.
func (c *Content) Pin(hash string) error { return c.adjustRefcount(hash, 1) }
func (c *Content) Unpin(hash string) error { return c.adjustRefcount(hash, -1) }

func (c *Content) adjustRefcount(hash string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := c.chunkMeta.Get([]byte(hash))
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("store: unknown chunk %s", hash)
	}
	var m chunkMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	m.Refcount += delta
	if m.Refcount < 0 {
		m.Refcount = 0
	}
	return c.putChunkMeta(m)
}

func (c *Content) putChunkMeta(m chunkMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.chunkMeta.Put([]byte(m.Hash), b)
}

// evictLocked frees at least need bytes among refcount-0 chunks, oldest
// last_access_at first. Returns false if not enough was evictable (pinned
// chunks are never touched).
func (c *Content) evictLocked(need int64) bool {
	type candidate struct {
		meta chunkMeta
	}
	var candidates []candidate
	_ = c.chunkMeta.ForEach(func(_, v []byte) error {
		var m chunkMeta
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		if m.Refcount == 0 {
			candidates = append(candidates, candidate{meta: m})
		}
		return nil
	})

	// Oldest last_access_at first (simple insertion sort; candidate sets
	// are small relative to total chunk count in practice).
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].meta.LastAccessAt.Before(candidates[j-1].meta.LastAccessAt); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	var freed int64
	for _, cand := range candidates {
		if freed >= need {
			break
		}
		if err := c.deleteChunkLocked(cand.meta.Hash); err == nil {
			freed += int64(cand.meta.Size)
		}
	}
	return freed >= need
}

func (c *Content) deleteChunkLocked(hash string) error {
	if err := os.Remove(c.chunkPath(hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	raw, err := c.chunkMeta.Get([]byte(hash))
	if err == nil && raw != nil {
		var m chunkMeta
		if json.Unmarshal(raw, &m) == nil {
			c.usedBytes -= int64(m.Size)
		}
	}
	return c.chunkMeta.Delete([]byte(hash))
}

// PutRecipe stores r, pinning every chunk it references. Identical recipes
// (same RecipeHash) across peers share the single stored row.
func (c *Content) PutRecipe(r *Recipe) error {
	r.RecipeHash = ComputeRecipeHash(r.Files, r.AppearanceHash, r.BodyScaleHash)

	c.mu.Lock()
	existing, err := c.recipes.Get([]byte(r.RecipeHash))
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if existing == nil {
		for _, f := range r.Files {
			if err := c.Pin(f.ChunkHash); err != nil {
				return fmt.Errorf("store: pin chunk for recipe: %w", err)
			}
		}
	}

	rec := recipeRecord{Recipe: *r, LastAccessAt: time.Now()}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.recipes.Put([]byte(r.RecipeHash), b)
}

// GetRecipe returns a stored recipe by hash, bumping its last-access time.
func (c *Content) GetRecipe(hash string) (*Recipe, bool, error) {
	raw, err := c.recipes.Get([]byte(hash))
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	var rec recipeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	rec.LastAccessAt = time.Now()
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, false, err
	}
	if err := c.recipes.Put([]byte(hash), b); err != nil {
		return nil, false, err
	}
	return &rec.Recipe, true, nil
}

// Remember records that peerID's current recipe is recipeHash.
func (c *Content) Remember(peerID, recipeHash string) error {
	entry := PlayerCacheEntry{PeerID: peerID, RecipeHash: recipeHash, LastAppliedAt: time.Now()}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.playerCache.Put([]byte(peerID), b)
}

// Recall returns the recipe hash last remembered for peerID.
func (c *Content) Recall(peerID string) (string, bool, error) {
	raw, err := c.playerCache.Get([]byte(peerID))
	if err != nil {
		return "", false, err
	}
	if raw == nil {
		return "", false, nil
	}
	var entry PlayerCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", false, err
	}
	return entry.RecipeHash, true, nil
}

// GC purges recipes and player-cache entries past their TTL since
// last-access, unpinning the chunks each purged recipe referenced, and
// then sweeps any chunk left at refcount 0 whose last access is older
// than recipeTTL. Recipes are not removed when their owning peer is
// tombstoned; they age out by TTL like any other.
func (c *Content) GC(now time.Time) (recipesPurged, playersPurged int, err error) {
	var staleRecipes [][]byte
	err = c.recipes.ForEach(func(k, v []byte) error {
		var rec recipeRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if now.Sub(rec.LastAccessAt) > c.recipeTTL {
			staleRecipes = append(staleRecipes, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	for _, k := range staleRecipes {
		raw, gerr := c.recipes.Get(k)
		if gerr == nil && raw != nil {
			var rec recipeRecord
			if json.Unmarshal(raw, &rec) == nil {
				for _, f := range rec.Recipe.Files {
					_ = c.Unpin(f.ChunkHash)
				}
			}
		}
		if derr := c.recipes.Delete(k); derr == nil {
			recipesPurged++
		}
	}

	var stalePlayers [][]byte
	err = c.playerCache.ForEach(func(k, v []byte) error {
		var entry PlayerCacheEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		if now.Sub(entry.LastAppliedAt) > c.playerTTL {
			stalePlayers = append(stalePlayers, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return recipesPurged, 0, err
	}
	for _, k := range stalePlayers {
		if err := c.playerCache.Delete(k); err == nil {
			playersPurged++
		}
	}

	c.mu.Lock()
	c.sweepStaleChunksLocked(now)
	c.mu.Unlock()

	return recipesPurged, playersPurged, nil
}

// sweepStaleChunksLocked deletes every refcount-0 chunk whose last access
// is older than recipeTTL: a chunk only reaches refcount 0 once its last
// owning recipe is gone, so it is otherwise never touched again until
// eviction under capacity pressure forces it out.
func (c *Content) sweepStaleChunksLocked(now time.Time) {
	var stale []string
	_ = c.chunkMeta.ForEach(func(_, v []byte) error {
		var m chunkMeta
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		if m.Refcount == 0 && now.Sub(m.LastAccessAt) > c.recipeTTL {
			stale = append(stale, m.Hash)
		}
		return nil
	})
	for _, hash := range stale {
		_ = c.deleteChunkLocked(hash)
	}
}

// ChunkHashes lists every chunk hash currently indexed, for integrity
// sweeps that re-verify bytes against their content address.
func (c *Content) ChunkHashes() ([]string, error) {
	var hashes []string
	err := c.chunkMeta.ForEach(func(k, _ []byte) error {
		hashes = append(hashes, string(k))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// DropChunk removes a chunk outright regardless of refcount, for callers
// that have found its on-disk bytes corrupt. Recipes still referencing it
// will re-request it from the owning peer on the next sync.
func (c *Content) DropChunk(hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteChunkLocked(hash)
}

// UsedBytes returns current chunk-store occupancy, for metrics.
func (c *Content) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}


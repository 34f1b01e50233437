// SPDX-License-Identifier: LGPL-3.0-or-later

package transfer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyteclub/syncshell/cryptoseal"
	"github.com/fyteclub/syncshell/protocol"
	"github.com/fyteclub/syncshell/store"
)

// RecipeAnnounceMsg is kind 5's payload: a brief summary, not the full
// recipe.
type RecipeAnnounceMsg struct {
	RecipeHash string `json:"recipe_hash"`
	FileCount  int    `json:"file_count"`
}

// RecipeRequestMsg is kind 6's payload.
type RecipeRequestMsg struct {
	RecipeHash string `json:"recipe_hash"`
}

// ChunkRequestMsg is kind 8's payload: a batch of chunk hashes, bounded
// by ChunkWindow per in-flight request.
type ChunkRequestMsg struct {
	Hashes []string `json:"hashes"`
}

// chunkDeliverPlaintext is sealed as kind 9's payload.
type chunkDeliverPlaintext struct {
	Hash  string `json:"hash"`
	Bytes []byte `json:"bytes"`
}

func newFrame(kind protocol.Kind, groupID, authorPeerID string, seq uint64, payload []byte) *protocol.Frame {
	return &protocol.Frame{
		Kind:         kind,
		GroupID:      groupID,
		AuthorPeerID: authorPeerID,
		Sequence:     seq,
		Timestamp:    time.Now().Unix(),
		Payload:      payload,
	}
}

func encodeRecipeAnnounce(groupID, author string, seq uint64, msg RecipeAnnounceMsg) (*protocol.Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return newFrame(protocol.KindRecipeAnnounce, groupID, author, seq, b), nil
}

func decodeRecipeAnnounce(f *protocol.Frame) (RecipeAnnounceMsg, error) {
	var msg RecipeAnnounceMsg
	err := json.Unmarshal(f.Payload, &msg)
	return msg, err
}

func encodeRecipeRequest(groupID, author string, seq uint64, msg RecipeRequestMsg) (*protocol.Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return newFrame(protocol.KindRecipeRequest, groupID, author, seq, b), nil
}

func decodeRecipeRequest(f *protocol.Frame) (RecipeRequestMsg, error) {
	var msg RecipeRequestMsg
	err := json.Unmarshal(f.Payload, &msg)
	return msg, err
}

// encodeRecipeDeliver seals the full recipe with key; the recipe body
// never travels in cleartext.
func encodeRecipeDeliver(groupID, author string, seq uint64, key []byte, recipe *store.Recipe) (*protocol.Frame, error) {
	plaintext, err := json.Marshal(recipe)
	if err != nil {
		return nil, err
	}
	sealed, err := cryptoseal.SealOneShot(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("transfer: seal recipe deliver: %w", err)
	}
	return newFrame(protocol.KindRecipeDeliver, groupID, author, seq, sealed), nil
}

func decodeRecipeDeliver(f *protocol.Frame, key []byte) (*store.Recipe, error) {
	plaintext, err := cryptoseal.OpenOneShot(key, f.Payload)
	if err != nil {
		return nil, fmt.Errorf("transfer: open recipe deliver: %w", err)
	}
	var recipe store.Recipe
	if err := json.Unmarshal(plaintext, &recipe); err != nil {
		return nil, err
	}
	return &recipe, nil
}

func encodeChunkRequest(groupID, author string, seq uint64, msg ChunkRequestMsg) (*protocol.Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return newFrame(protocol.KindChunkRequest, groupID, author, seq, b), nil
}

func decodeChunkRequest(f *protocol.Frame) (ChunkRequestMsg, error) {
	var msg ChunkRequestMsg
	err := json.Unmarshal(f.Payload, &msg)
	return msg, err
}

// encodeChunkDeliver seals one chunk's bytes with key.
func encodeChunkDeliver(groupID, author string, seq uint64, key []byte, hash string, bytes []byte) (*protocol.Frame, error) {
	plaintext, err := json.Marshal(chunkDeliverPlaintext{Hash: hash, Bytes: bytes})
	if err != nil {
		return nil, err
	}
	sealed, err := cryptoseal.SealOneShot(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("transfer: seal chunk deliver: %w", err)
	}
	return newFrame(protocol.KindChunkDeliver, groupID, author, seq, sealed), nil
}

func decodeChunkDeliver(f *protocol.Frame, key []byte) (hash string, bytes []byte, err error) {
	plaintext, err := cryptoseal.OpenOneShot(key, f.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("transfer: open chunk deliver: %w", err)
	}
	var p chunkDeliverPlaintext
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return "", nil, err
	}
	return p.Hash, p.Bytes, nil
}

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package store implements the content-addressed chunk cache and
// provides the shared embedded-KV layer (one bbolt file per syncshell)
// that the phonebook and token storage also build on.
package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// KV wraps one bbolt file, opened once per syncshell (its index.db) and
// shared across that group's components via separate top-level buckets,
// mirroring the single-file,
// many-buckets layout used for index.db elsewhere in the ecosystem.
type KV struct {
	db *bolt.DB
}

// OpenKV opens (or creates) the bbolt file at path.
func OpenKV(path string) (*KV, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &KV{db: db}, nil
}

// Close closes the underlying bbolt file.
func (kv *KV) Close() error { return kv.db.Close() }

// Bucket returns a handle bound to one top-level bucket, creating it if
// necessary.
func (kv *KV) Bucket(name string) (*Bucket, error) {
	err := kv.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: create bucket %s: %w", name, err)
	}
	return &Bucket{db: kv.db, name: []byte(name)}, nil
}

// Bucket is a typed view over one bbolt bucket.
type Bucket struct {
	db   *bolt.DB
	name []byte
}

// Put writes key/value inside a single write transaction.
func (b *Bucket) Put(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).Put(key, value)
	})
}

// Get reads a value, returning (nil, nil) if the key is absent.
func (b *Bucket) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.name).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Delete removes a key; deleting an absent key is not an error.
func (b *Bucket) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).Delete(key)
	})
}

// ForEach iterates every key/value pair in the bucket inside a read
// transaction. fn must not retain the slices it is given.
func (b *Bucket) ForEach(fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).ForEach(fn)
	})
}

// UpdateAtomic runs fn inside a single write transaction bound to this
// bucket, for callers that need read-modify-write atomicity (e.g. the
// phonebook's signed-merge-then-rewrite sequence).
func (b *Bucket) UpdateAtomic(fn func(get func([]byte) []byte, put func(key, value []byte) error) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.name)
		get := func(key []byte) []byte { return bk.Get(key) }
		put := func(key, value []byte) error { return bk.Put(key, value) }
		return fn(get, put)
	})
}

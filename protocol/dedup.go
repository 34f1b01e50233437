// SPDX-License-Identifier: LGPL-3.0-or-later

package protocol

import (
	"container/list"
	"sync"
)

// DedupSetSize is the per-session LRU dedup capacity.
const DedupSetSize = 1024

// Dedup is a fixed-capacity LRU set of frame content hashes, one per
// session, used to silently drop duplicate frames. It is bounded by
// entry count rather than a TTL sweep: a fixed-size set keeps memory
// flat no matter how chatty a session gets.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[[HashSize]byte]*list.Element
}

// NewDedup returns an empty dedup set with the given capacity.
func NewDedup(capacity int) *Dedup {
	return &Dedup{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[[HashSize]byte]*list.Element, capacity),
	}
}

// SeenOrMark reports whether hash has already been recorded; if not, it
// records it, evicting the least-recently-used entry if the set is full.
func (d *Dedup) SeenOrMark(hash [HashSize]byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[hash]; ok {
		d.order.MoveToFront(el)
		return true
	}

	el := d.order.PushFront(hash)
	d.index[hash] = el

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.([HashSize]byte))
		}
	}
	return false
}

// Len returns the number of hashes currently tracked.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

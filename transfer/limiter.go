// SPDX-License-Identifier: LGPL-3.0-or-later

package transfer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// GlobalInboundCap is the process-wide ceiling on concurrent inbound
// recipe transfers.
const GlobalInboundCap = 4

// CooldownDuration is how long a peer is put on cooldown after a chunk
// verification failure.
const CooldownDuration = 60 * time.Second

// ChunkWindow is the per-session outstanding-chunks backpressure depth.
const ChunkWindow = 16

// ChunkDeliverTimeout and TransferTimeout bound a single chunk delivery
// and a whole recipe transfer respectively. Both are checked on message
// receipt: a delivery arriving after its deadline aborts the transfer
// the same way a corrupt chunk does, minus the cooldown.
const (
	ChunkDeliverTimeout = 30 * time.Second
	TransferTimeout     = 5 * time.Minute
)

// InboundLimiter bounds the number of inbound recipe transfers running
// concurrently across every syncshell a Runtime participates in, using
// x/sync/semaphore as a counting gate.
type InboundLimiter struct {
	sem *semaphore.Weighted
}

// NewInboundLimiter returns a limiter capped at GlobalInboundCap.
func NewInboundLimiter() *InboundLimiter {
	return &InboundLimiter{sem: semaphore.NewWeighted(GlobalInboundCap)}
}

// Acquire blocks until a transfer slot is free or ctx is canceled.
func (l *InboundLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release returns a transfer slot.
func (l *InboundLimiter) Release() { l.sem.Release(1) }

// Cooldowns tracks per-peer cooldown expiry after a verification failure
// aborts a recipe transfer.
type Cooldowns struct {
	mu      sync.Mutex
	untilAt map[string]time.Time
}

// NewCooldowns returns an empty Cooldowns tracker.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{untilAt: make(map[string]time.Time)}
}

// Start puts peerID on cooldown for CooldownDuration from now.
func (c *Cooldowns) Start(peerID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.untilAt[peerID] = now.Add(CooldownDuration)
}

// Active reports whether peerID is still on cooldown at now.
func (c *Cooldowns) Active(peerID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.untilAt[peerID]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.untilAt, peerID)
		return false
	}
	return true
}

// SPDX-License-Identifier: LGPL-3.0-or-later

package syncshell

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fyteclub/syncshell/config"
	"github.com/fyteclub/syncshell/cryptoseal"
	"github.com/fyteclub/syncshell/hostelect"
	"github.com/fyteclub/syncshell/identity"
	"github.com/fyteclub/syncshell/internal/obslog"
	"github.com/fyteclub/syncshell/internal/workerpool"
	"github.com/fyteclub/syncshell/invite"
	"github.com/fyteclub/syncshell/metrics"
	"github.com/fyteclub/syncshell/persist"
	"github.com/fyteclub/syncshell/phonebook"
	"github.com/fyteclub/syncshell/recovery"
	"github.com/fyteclub/syncshell/store"
	"github.com/fyteclub/syncshell/token"
	"github.com/fyteclub/syncshell/transfer"
)

// GroupState bundles everything a Runtime keeps open for one syncshell:
// the replicated directory, host election, content store, local block
// list, and token bucket, all backed by the group's single index.db
// file.
type GroupState struct {
	Group  *Group
	Member *MemberState

	kv        *store.KV
	Phonebook *phonebook.Book
	Elector   *hostelect.Elector
	Content   *store.Content
	Backoff   *recovery.Backoff
	Responder *token.Responder

	blocklist *store.Bucket
	tokens    *store.Bucket
	tokenKey  []byte
}

// IsBlocked reports whether peerID is on this group's local block list.
func (gs *GroupState) IsBlocked(peerID string) (bool, error) {
	raw, err := gs.blocklist.Get([]byte(peerID))
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// SaveToken persists the raw MemberToken the host issued this peer at
// join time, sealed at rest with a key derived from group_secret, for
// presentation on reconnect. The token rides inside Hello on every
// reconnect and is never embedded in an invite.
func (gs *GroupState) SaveToken(raw string) error {
	sealed, err := cryptoseal.SealOneShot(gs.tokenKey, []byte(raw))
	if err != nil {
		return err
	}
	return gs.tokens.Put([]byte("self"), sealed)
}

// LoadToken returns the previously saved MemberToken, if any.
func (gs *GroupState) LoadToken() (string, bool, error) {
	sealed, err := gs.tokens.Get([]byte("self"))
	if err != nil {
		return "", false, err
	}
	if sealed == nil {
		return "", false, nil
	}
	raw, err := cryptoseal.OpenOneShot(gs.tokenKey, sealed)
	if err != nil {
		return "", false, NewCryptoError("decrypt stored token", err)
	}
	return string(raw), true, nil
}

// NextSequence returns the sequence number the local peer should use for
// its next self-authored phonebook entry.
func (gs *GroupState) NextSequence(peerID string) (uint64, error) {
	entry, ok, err := gs.Phonebook.Get(peerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return entry.Sequence + 1, nil
}

// groupMetaFile is the JSON shape persisted at paths.GroupMeta(groupID):
// the replicated Group tuple plus this peer's local MemberState.
type groupMetaFile struct {
	Group  Group       `json:"group"`
	Member MemberState `json:"member"`
}

// Runtime is the process-lifetime owner of one local identity and every
// syncshell it currently belongs to. It is the composition root the
// create/join/leave/resync/block/unblock/status operations are built
// against.
type Runtime struct {
	cfg     *config.Config
	paths   *persist.Paths
	logger  obslog.Logger
	workers *workerpool.Pool

	identity      *identity.Identity
	identityStore *identity.Store
	startedAt     time.Time

	inboundLimiter *transfer.InboundLimiter

	mu     sync.Mutex
	groups map[string]*GroupState
}

// NewRuntime loads (or, on first run, generates) the local identity under
// cfg.DataDir, opens every syncshell already present on disk, and returns
// a ready-to-use Runtime. passphraseKey encrypts identity.key at rest;
// sourcing it from OS-protected material is the host application's job,
// Runtime only needs the derived symmetric key.
func NewRuntime(cfg *config.Config, passphraseKey []byte, logger obslog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = obslog.NewFromEnv()
	}
	paths := persist.New(cfg.DataDir)
	if err := paths.EnsureRoot(); err != nil {
		return nil, fmt.Errorf("syncshell: ensure data dir: %w", err)
	}

	idStore := identity.NewStore(cfg.DataDir)
	id, err := idStore.Load(passphraseKey)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("syncshell: load identity: %w", err)
		}
		id, err = identity.Generate()
		if err != nil {
			return nil, fmt.Errorf("syncshell: generate identity: %w", err)
		}
		if err := idStore.Save(id, passphraseKey); err != nil {
			return nil, fmt.Errorf("syncshell: save identity: %w", err)
		}
		logger.Info("generated new identity", obslog.String("peer_id", id.PeerID()))
	}

	r := &Runtime{
		cfg:            cfg,
		paths:          paths,
		logger:         logger,
		workers:        workerpool.New(4),
		identity:       id,
		identityStore:  idStore,
		startedAt:      time.Now(),
		inboundLimiter: transfer.NewInboundLimiter(),
		groups:         make(map[string]*GroupState),
	}

	ids, err := paths.ListGroupIDs()
	if err != nil {
		return nil, fmt.Errorf("syncshell: list groups: %w", err)
	}
	for _, groupID := range ids {
		if err := r.loadGroup(groupID); err != nil {
			logger.Error("failed to load syncshell from disk", obslog.String("group_id", groupID), obslog.Err(err))
			continue
		}
	}

	return r, nil
}

// Identity returns the local peer's identity.
func (r *Runtime) Identity() *identity.Identity { return r.identity }

// Logger returns the Runtime's base logger.
func (r *Runtime) Logger() obslog.Logger { return r.logger }

// Paths returns the on-disk layout resolver.
func (r *Runtime) Paths() *persist.Paths { return r.paths }

// Workers returns the shared worker pool for CPU-bound work (chunk
// hashing, signature verification).
func (r *Runtime) Workers() *workerpool.Pool { return r.workers }

// InboundLimiter returns the process-wide concurrent-inbound-transfer
// gate every group's Inbound handler shares.
func (r *Runtime) InboundLimiter() *transfer.InboundLimiter { return r.inboundLimiter }

// Close closes every open group's store and stops the worker pool.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, gs := range r.groups {
		if err := gs.kv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.workers.Close()
	return firstErr
}

func (r *Runtime) loadGroup(groupID string) error {
	data, err := os.ReadFile(r.paths.GroupMeta(groupID))
	if err != nil {
		return fmt.Errorf("read meta: %w", err)
	}
	var meta groupMetaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("parse meta: %w", err)
	}
	gs, err := r.openGroupState(&meta.Group, &meta.Member)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.groups[groupID] = gs
	r.mu.Unlock()
	return nil
}

// openGroupState opens the index.db file, phonebook/content stores, and
// submits the local peer's host-election claim for group.
func (r *Runtime) openGroupState(group *Group, member *MemberState) (*GroupState, error) {
	if err := r.paths.EnsureGroupDir(group.GroupID); err != nil {
		return nil, err
	}
	kv, err := store.OpenKV(r.paths.GroupIndex(group.GroupID))
	if err != nil {
		return nil, err
	}

	elector := hostelect.NewElector()
	elector.Submit(hostelect.Claim{
		PeerID:        r.identity.PeerID(),
		UptimeSeconds: uint64(time.Since(r.startedAt).Seconds()),
	}, time.Now())

	phonebookBucket, err := kv.Bucket("phonebook")
	if err != nil {
		kv.Close()
		return nil, err
	}
	book, err := phonebook.Open(group.GroupID, group.GroupSecret, phonebookBucket, elector.IsHost)
	if err != nil {
		kv.Close()
		return nil, err
	}

	content, err := store.OpenContent(kv, r.paths.ContentRoot(group.GroupID), r.cfg.Store.CapacityBytes, r.cfg.Store.RecipeTTL, r.cfg.Store.PlayerTTL)
	if err != nil {
		kv.Close()
		return nil, err
	}

	blocklist, err := kv.Bucket("blocklist")
	if err != nil {
		kv.Close()
		return nil, err
	}
	tokens, err := kv.Bucket("tokens")
	if err != nil {
		kv.Close()
		return nil, err
	}
	tokenKey, err := cryptoseal.DeriveGroupKey(group.GroupSecret, cryptoseal.LabelToken)
	if err != nil {
		kv.Close()
		return nil, err
	}

	tombstoned := func(memberPeerID string) bool {
		entry, ok, err := book.Get(memberPeerID)
		return err == nil && ok && entry.Status == phonebook.StatusTombstoned
	}
	responder := token.NewResponder(r.identity, group.GroupID, elector.IsHost, tombstoned)

	return &GroupState{
		Group:     group,
		Member:    member,
		kv:        kv,
		Phonebook: book,
		Elector:   elector,
		Content:   content,
		Backoff:   recovery.NewBackoff(),
		Responder: responder,
		blocklist: blocklist,
		tokens:    tokens,
		tokenKey:  tokenKey,
	}, nil
}

func (r *Runtime) persistMeta(gs *GroupState) error {
	meta := groupMetaFile{Group: *gs.Group, Member: *gs.Member}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	dst := r.paths.GroupMeta(gs.Group.GroupID)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// CreateGroup creates a brand-new syncshell owned by the local peer.
func (r *Runtime) CreateGroup(name string, now time.Time) (*Group, error) {
	if len(name) == 0 || len(name) > MaxNameLength {
		return nil, NewProtocolError(fmt.Sprintf("group name must be 1..%d bytes", MaxNameLength), nil)
	}

	secret, err := NewGroupSecret()
	if err != nil {
		return nil, fmt.Errorf("syncshell: generate group secret: %w", err)
	}
	group := &Group{
		GroupID:     NewGroupID(),
		Name:        name,
		GroupSecret: secret,
		OwnerPeerID: r.identity.PeerID(),
		CreatedAt:   now,
	}
	member := &MemberState{GroupID: group.GroupID, IsOwner: true, IsActive: true, LastSyncAt: now}

	gs, err := r.openGroupState(group, member)
	if err != nil {
		return nil, err
	}
	if err := r.selfAnnounce(gs, now); err != nil {
		gs.kv.Close()
		return nil, err
	}
	if err := r.persistMeta(gs); err != nil {
		gs.kv.Close()
		return nil, err
	}

	r.mu.Lock()
	r.groups[group.GroupID] = gs
	r.mu.Unlock()

	r.logger.Info("created syncshell", obslog.String("group_id", group.GroupID), obslog.String("name", name))
	return group, nil
}

// NewInvite issues an invite for groupID addressed to recipientPub,
// valid for invite.MaxLifetime. While the group is fresh it produces a
// live invite carrying sessionOffer; once the group has gone 30 days
// without a successful sync the live form is refused and a bootstrap
// invite (no session offer, consumer initiates fresh signaling) is
// produced instead, without rotating group_secret.
func (r *Runtime) NewInvite(groupID string, recipientPub ed25519.PublicKey, sessionOffer string, relayHints []string, now time.Time) (code string, kind invite.Kind, err error) {
	gs, err := r.group(groupID)
	if err != nil {
		return "", "", err
	}

	kind = invite.KindLive
	if gs.Member.IsStale(now, invite.StaleAfter) {
		kind = invite.KindBootstrap
		r.logger.Info("syncshell stale, issuing bootstrap invite", obslog.String("group_id", groupID))
	}

	code, err = invite.Encode(r.identity, recipientPub, kind, gs.Group.GroupID, gs.Group.GroupSecret, sessionOffer, relayHints, now, invite.MaxLifetime)
	if err != nil {
		return "", "", err
	}
	return code, kind, nil
}

// JoinGroup decodes and verifies an invite code, recovers the group
// secret, and opens local state for the syncshell it names. A
// bootstrap invite for a syncshell this
// peer already belongs to is a signaling refresh, not an error: the
// sealed secret is checked against the stored one and the group's
// reconnect backoff is cleared, lifting a "requires fresh invite" mark.
// JoinGroup does not itself perform the live session handshake with the
// host; that is driven by the transport layer once it has the decoded
// group_secret this returns.
func (r *Runtime) JoinGroup(code string, now time.Time) (*Group, error) {
	inv, err := invite.Decode(code, now)
	if err != nil {
		return nil, NewProtocolError("decode invite", err)
	}

	r.mu.Lock()
	existing := r.groups[inv.GroupID]
	r.mu.Unlock()
	if existing != nil {
		if !inv.IsBootstrap() {
			return nil, NewProtocolError(fmt.Sprintf("already a member of syncshell %s", inv.GroupID), nil)
		}
		return r.refreshFromBootstrap(existing, inv)
	}

	secret, err := invite.UnsealGroupSecret(r.identity, inv)
	if err != nil {
		return nil, NewCryptoError("unseal invite group secret", err)
	}

	group := &Group{
		GroupID:     inv.GroupID,
		GroupSecret: secret,
		OwnerPeerID: inv.IssuerPeerID,
		CreatedAt:   now,
	}
	member := &MemberState{GroupID: group.GroupID, IsOwner: false, IsActive: true, LastSyncAt: now}

	gs, err := r.openGroupState(group, member)
	if err != nil {
		return nil, err
	}
	if err := r.selfAnnounce(gs, now); err != nil {
		gs.kv.Close()
		return nil, err
	}
	if err := r.persistMeta(gs); err != nil {
		gs.kv.Close()
		return nil, err
	}

	r.mu.Lock()
	r.groups[group.GroupID] = gs
	r.mu.Unlock()

	r.logger.Info("joined syncshell", obslog.String("group_id", group.GroupID), obslog.Bool("bootstrap", inv.IsBootstrap()))
	return group, nil
}

// refreshFromBootstrap re-establishes an existing membership from a
// bootstrap invite: verify the sealed secret matches what we already
// hold, then clear the reconnect backoff so automatic reconnects resume.
func (r *Runtime) refreshFromBootstrap(gs *GroupState, inv *invite.Invite) (*Group, error) {
	secret, err := invite.UnsealGroupSecret(r.identity, inv)
	if err != nil {
		return nil, NewCryptoError("unseal bootstrap invite group secret", err)
	}
	if !cryptoseal.ConstantTimeEqual(secret, gs.Group.GroupSecret) {
		return nil, NewCryptoError("bootstrap invite carries a different group secret", nil)
	}

	gs.Backoff.RecordSuccess()
	gs.Member.IsActive = true
	if err := r.persistMeta(gs); err != nil {
		return nil, err
	}
	r.logger.Info("refreshed stale syncshell from bootstrap invite", obslog.String("group_id", gs.Group.GroupID))
	return gs.Group, nil
}

// Reconnector builds a recovery.Reconnector charged against groupID's
// own backoff counter, so failures here and elsewhere trip the same
// "requires fresh invite" gate.
func (r *Runtime) Reconnector(groupID string, connect, onReconnected func(ctx context.Context) error) (*recovery.Reconnector, error) {
	gs, err := r.group(groupID)
	if err != nil {
		return nil, err
	}
	return recovery.NewReconnector(gs.Backoff, connect, onReconnected), nil
}

// selfAnnounce merges the local peer's own active phonebook entry, so a
// freshly created or joined syncshell has at least one (self) entry
// before any remote gossip arrives.
func (r *Runtime) selfAnnounce(gs *GroupState, now time.Time) error {
	seq, err := gs.NextSequence(r.identity.PeerID())
	if err != nil {
		return err
	}
	entry := &phonebook.Entry{
		MemberPeerID: r.identity.PeerID(),
		Status:       phonebook.StatusActive,
		Sequence:     seq,
		LastSeenAt:   now,
	}
	entry.Sign(r.identity)
	_, err = gs.Phonebook.Merge(entry)
	return err
}

// LeaveGroup tombstones the local peer's own phonebook entry, marks the
// membership inactive, and closes the group's on-disk state.
func (r *Runtime) LeaveGroup(groupID string, now time.Time) error {
	gs, err := r.group(groupID)
	if err != nil {
		return err
	}

	seq, err := gs.NextSequence(r.identity.PeerID())
	if err != nil {
		return err
	}
	tombstone := &phonebook.Entry{
		MemberPeerID: r.identity.PeerID(),
		Status:       phonebook.StatusTombstoned,
		Sequence:     seq,
		LastSeenAt:   now,
	}
	tombstone.Sign(r.identity)
	if _, err := gs.Phonebook.Merge(tombstone); err != nil {
		return err
	}

	gs.Member.IsActive = false
	if err := r.persistMeta(gs); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.groups, groupID)
	r.mu.Unlock()

	return gs.kv.Close()
}

// Resync runs a local recovery pass for one syncshell immediately:
// purge expired phonebook entries and
// stale store rows, then invoke the caller-supplied retryTransport and
// runProximityOnce hooks (both optional) to rejoin the live transport
// and take one proximity-scheduler tick out of band.
func (r *Runtime) Resync(ctx context.Context, groupID string, now time.Time, retryTransport, runProximityOnce func(ctx context.Context) error) (recovery.SweepResult, error) {
	gs, err := r.group(groupID)
	if err != nil {
		return recovery.SweepResult{}, err
	}
	if host, rotated := gs.Elector.Tick(now); rotated {
		r.logger.Info("host rotated", obslog.String("group_id", groupID), obslog.String("host", host))
	}
	result, err := recovery.Sweep(ctx, gs.Phonebook, gs.Content, now, retryTransport, runProximityOnce)
	if err != nil {
		return result, err
	}
	gs.Member.LastSyncAt = now
	return result, r.persistMeta(gs)
}

// VerifyContent re-hashes every chunk groupID's store holds, fanning the
// hashing out over the shared worker pool, and drops any chunk whose
// on-disk bytes no longer match their content address. Dropped hashes
// are returned; recipes still referencing them re-fetch on next sync.
func (r *Runtime) VerifyContent(ctx context.Context, groupID string) ([]string, error) {
	gs, err := r.group(groupID)
	if err != nil {
		return nil, err
	}
	hashes, err := gs.Content.ChunkHashes()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var corrupt []string
	var wg sync.WaitGroup
	for _, hash := range hashes {
		hash := hash
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.workers.Submit(ctx, func() {
				data, ok, err := gs.Content.GetChunk(hash)
				if err != nil || !ok {
					return
				}
				if fmt.Sprintf("%x", sha256.Sum256(data)) != hash {
					mu.Lock()
					corrupt = append(corrupt, hash)
					mu.Unlock()
				}
			})
		}()
	}
	wg.Wait()

	for _, hash := range corrupt {
		if err := gs.Content.DropChunk(hash); err != nil {
			return corrupt, err
		}
		r.logger.Warn("dropped corrupt chunk", obslog.String("group_id", groupID), obslog.String("chunk", hash))
	}
	sort.Strings(corrupt)
	return corrupt, nil
}

// Block adds peerID to groupID's local block list: future proximity
// syncs and inbound transfers from that peer are refused.
func (r *Runtime) Block(groupID, peerID string) error {
	gs, err := r.group(groupID)
	if err != nil {
		return err
	}
	return gs.blocklist.Put([]byte(peerID), []byte{1})
}

// Unblock removes peerID from groupID's local block list.
func (r *Runtime) Unblock(groupID, peerID string) error {
	gs, err := r.group(groupID)
	if err != nil {
		return err
	}
	return gs.blocklist.Delete([]byte(peerID))
}

// GroupStatus is one syncshell's point-in-time status, for the status
// CLI surface.
type GroupStatus struct {
	GroupID     string
	Name        string
	IsOwner     bool
	IsActive    bool
	Host        string
	MemberCount int
	LastSyncAt  time.Time
	Stale       bool
}

// Status reports every syncshell this Runtime currently has open,
// ordered by group_id for stable CLI output.
func (r *Runtime) Status(now time.Time) ([]GroupStatus, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	out := make([]GroupStatus, 0, len(ids))
	for _, id := range ids {
		gs, err := r.group(id)
		if err != nil {
			continue
		}
		counts, err := gs.Phonebook.Counts()
		if err != nil {
			return nil, err
		}
		active := counts[phonebook.StatusActive]
		for _, status := range []phonebook.Status{phonebook.StatusActive, phonebook.StatusStale, phonebook.StatusTombstoned} {
			metrics.PhonebookEntries.WithLabelValues(gs.Group.GroupID, string(status)).Set(float64(counts[status]))
		}
		out = append(out, GroupStatus{
			GroupID:     gs.Group.GroupID,
			Name:        gs.Group.Name,
			IsOwner:     gs.Member.IsOwner,
			IsActive:    gs.Member.IsActive,
			Host:        gs.Elector.CurrentHost(),
			MemberCount: active,
			LastSyncAt:  gs.Member.LastSyncAt,
			Stale:       gs.Member.IsStale(now, invite.StaleAfter),
		})
	}
	return out, nil
}

// Group returns a currently open syncshell's state, e.g. so a transport
// or CLI layer can wire up a live session for it.
func (r *Runtime) Group(groupID string) (*GroupState, error) {
	return r.group(groupID)
}

// GroupIDs returns the group_ids this Runtime currently has open, sorted
// for stable iteration.
func (r *Runtime) GroupIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// group returns a currently open GroupState, or a NotFound error.
func (r *Runtime) group(groupID string) (*GroupState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs, ok := r.groups[groupID]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("not a member of syncshell %s", groupID), nil)
	}
	return gs, nil
}

// SessionKeys derives the directional transfer keys for a live session
// with remotePeerID, given the session's shared secret as negotiated by
// the transport layer's handshake (out of Runtime's scope).
func (r *Runtime) SessionKeys(sessionSecret []byte, remotePeerID string) (transfer.Keys, error) {
	return transfer.DeriveKeys(sessionSecret, r.identity.PeerID(), remotePeerID)
}

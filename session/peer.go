// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyteclub/syncshell"
	"github.com/fyteclub/syncshell/hostelect"
	"github.com/fyteclub/syncshell/identity"
	"github.com/fyteclub/syncshell/metrics"
	"github.com/fyteclub/syncshell/modadapter"
	"github.com/fyteclub/syncshell/phonebook"
	"github.com/fyteclub/syncshell/protocol"
	"github.com/fyteclub/syncshell/transfer"
	"github.com/fyteclub/syncshell/transport"
)

// Peer owns one live session with one remote member of one syncshell:
// the transport byte channel, the protocol dedup/ordering state, and
// the transfer Outbound/Inbound handlers for that remote peer. Run is
// the "owning session's read loop" transfer's doc comments refer to
// but never implement themselves.
type Peer struct {
	groupID          string
	localPeerID      string
	remotePeerID     string
	remotePeerGameID string
	isHost           bool

	gs    *syncshell.GroupState
	local *identity.Identity
	sess  transport.Session

	dedup *protocol.Dedup
	order *protocol.Orderer
	seqs  *seqCounters

	outbound  *transfer.Outbound
	inbound   *transfer.Inbound
	keepalive *transport.Keepalive

	mu               sync.Mutex
	onAdmitted       func(rawToken string)
	onRecipeAnnounce func(peerID string, now time.Time)
}

// NewPeer builds a Peer for one remote session within groupID. isHost
// marks whether the local side is this syncshell's current host, which
// decides which end of the Hello/AuthChallenge/AuthResponse handshake it
// plays. sessionSecret is the per-session shared secret the transport
// handshake above this package negotiated; it is passed straight through
// to transfer.DeriveKeys.
func NewPeer(
	gs *syncshell.GroupState,
	local *identity.Identity,
	remotePeerID, remotePeerGameID string,
	isHost bool,
	sess transport.Session,
	adapter *modadapter.Adapter,
	sessionSecret []byte,
	limiter *transfer.InboundLimiter,
	shaper *transfer.Shaper,
) (*Peer, error) {
	keys, err := transfer.DeriveKeys(sessionSecret, local.PeerID(), remotePeerID)
	if err != nil {
		return nil, err
	}

	cooldowns := transfer.NewCooldowns()
	blocked := func(peerID string) bool {
		b, err := gs.IsBlocked(peerID)
		return err == nil && b
	}

	p := &Peer{
		groupID:          gs.Group.GroupID,
		localPeerID:      local.PeerID(),
		remotePeerID:     remotePeerID,
		remotePeerGameID: remotePeerGameID,
		isHost:           isHost,
		gs:               gs,
		local:            local,
		sess:             sess,
		dedup:            protocol.NewDedup(protocol.DedupSetSize),
		order:            protocol.NewOrderer(),
		seqs:             newSeqCounters(),
		outbound:         transfer.NewOutbound(gs.Group.GroupID, local.PeerID(), gs.Content, adapter, keys, shaper, blocked),
		inbound:          transfer.NewInbound(gs.Group.GroupID, local.PeerID(), remotePeerID, remotePeerGameID, gs.Content, adapter, keys, limiter, cooldowns, blocked),
	}
	p.keepalive = transport.NewKeepalive(sess, func() { _ = sess.Close() })
	return p, nil
}

// RunKeepalive sends a Keepalive frame every transport.KeepaliveInterval
// and declares the session dead (closing it, which unblocks Run) after
// three intervals with no inbound frame of any kind. Run it in its own
// goroutine alongside Run.
func (p *Peer) RunKeepalive(ctx context.Context) {
	go p.keepalive.Run(ctx)

	ticker := time.NewTicker(transport.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.send(ctx, protocol.KindKeepalive, KeepaliveMsg{}); err != nil {
				return
			}
		}
	}
}

// OnAdmitted registers a callback fired once this peer's Hello/reconnect
// handshake concludes successfully, carrying the raw MemberToken now on
// file (freshly issued on join, reasserted on reconnect).
func (p *Peer) OnAdmitted(f func(rawToken string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAdmitted = f
}

// OnRecipeAnnounce registers a callback fired whenever a RecipeAnnounce
// arrives from this peer, so a scheduler can suppress a redundant
// outbound sync (scheduler.Scheduler.NoteRecipeAnnounce).
func (p *Peer) OnRecipeAnnounce(f func(peerID string, now time.Time)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRecipeAnnounce = f
}

// Run reads frames from the session until it closes or ctx is canceled,
// pushing each through the dedup set and Orderer and dispatching whatever
// comes out the other side in sequence order. A crypto or protocol
// violation terminates the session; any other dispatch error is
// swallowed, since it reflects one bad frame, not a broken session.
func (p *Peer) Run(ctx context.Context) error {
	// A session ending for any reason withdraws the remote peer's host
	// claim; if it was host, the 30s rotation grace starts counting.
	defer p.gs.Elector.Withdraw(p.remotePeerID, time.Now())

	for {
		raw, err := p.sess.Recv(ctx)
		if err != nil {
			return err
		}

		frame, _, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		if frame.GroupID != p.groupID {
			continue
		}

		p.keepalive.Ack()

		if p.dedup.SeenOrMark(frame.ContentHash()) {
			metrics.DedupDrops.Inc()
			continue
		}

		for _, ready := range p.order.Admit(frame, time.Now()) {
			if err := p.dispatch(ctx, ready); err != nil {
				var serr *syncshell.Error
				if errors.As(err, &serr) && (serr.Kind == syncshell.ErrCrypto || serr.Kind == syncshell.ErrProtocol) {
					return err
				}
			}
		}
	}
}

// Close tears down the underlying transport session.
func (p *Peer) Close() error { return p.sess.Close() }

func (p *Peer) dispatch(ctx context.Context, f *protocol.Frame) error {
	switch f.Kind {
	case protocol.KindHello:
		return p.handleHello(ctx, f)
	case protocol.KindKeepalive:
		return nil
	case protocol.KindPhonebookGossip:
		return p.handlePhonebookGossip(f)
	case protocol.KindPhonebookRequest:
		return p.handlePhonebookRequest(ctx)
	case protocol.KindRecipeAnnounce:
		return p.handleRecipeAnnounce(ctx, f)
	case protocol.KindRecipeRequest:
		return p.handleRecipeRequest(ctx, f)
	case protocol.KindRecipeDeliver:
		return p.handleRecipeDeliver(ctx, f)
	case protocol.KindChunkRequest:
		return p.handleChunkRequest(ctx, f)
	case protocol.KindChunkDeliver:
		return p.handleChunkDeliver(ctx, f)
	case protocol.KindTombstone:
		return p.handleTombstone(f)
	case protocol.KindHostClaim:
		return p.handleHostClaim(f)
	case protocol.KindAuthChallenge:
		return p.handleAuthChallenge(ctx, f)
	case protocol.KindAuthResponse:
		return p.handleAuthResponse(ctx, f)
	default:
		return syncshell.NewProtocolError(fmt.Sprintf("unknown frame kind %d", uint8(f.Kind)), nil)
	}
}

func (p *Peer) send(ctx context.Context, kind protocol.Kind, msg interface{}) error {
	seq := p.seqs.next(kind)
	frame, err := encodeFrame(kind, p.groupID, p.localPeerID, seq, msg)
	if err != nil {
		return err
	}
	return p.sendFrame(ctx, frame)
}

func (p *Peer) sendFrame(ctx context.Context, frame *protocol.Frame) error {
	return p.sess.Send(ctx, protocol.Encode(frame))
}

// --- control plane: join / reconnect handshake ---

// SendHello opens or resumes this peer's membership: rawToken empty means
// "I have never joined before", non-empty presents a previously issued
// MemberToken for the reconnect handshake.
func (p *Peer) SendHello(ctx context.Context, rawToken string, capabilities []string) error {
	return p.send(ctx, protocol.KindHello, HelloMsg{Token: rawToken, Capabilities: capabilities})
}

func (p *Peer) handleHello(ctx context.Context, f *protocol.Frame) error {
	var msg HelloMsg
	if err := decodePayload(f, &msg); err != nil {
		return syncshell.NewProtocolError("decode hello", err)
	}

	if p.isHost {
		if msg.Token == "" {
			tok, err := p.gs.Responder.IssueJoinToken(f.AuthorPeerID, msg.Capabilities, time.Now())
			if err != nil {
				return err
			}
			return p.send(ctx, protocol.KindHello, HelloMsg{Token: tok.Raw, Capabilities: tok.Capabilities})
		}
		nonce, err := p.gs.Responder.IssueChallenge(time.Now())
		if err != nil {
			return err
		}
		return p.send(ctx, protocol.KindAuthChallenge, AuthChallengeMsg{Nonce: nonce})
	}

	if msg.Token == "" {
		return nil
	}
	if err := p.gs.SaveToken(msg.Token); err != nil {
		return err
	}
	p.fireAdmitted(msg.Token)
	return nil
}

func (p *Peer) handleAuthChallenge(ctx context.Context, f *protocol.Frame) error {
	var msg AuthChallengeMsg
	if err := decodePayload(f, &msg); err != nil {
		return syncshell.NewProtocolError("decode auth challenge", err)
	}

	rawToken, ok, err := p.gs.LoadToken()
	if err != nil {
		return err
	}
	if !ok {
		return syncshell.NewProtocolError("auth challenge received with no stored token to reassert", nil)
	}

	signature := p.local.Sign([]byte(msg.Nonce))
	return p.send(ctx, protocol.KindAuthResponse, AuthResponseMsg{Nonce: msg.Nonce, Signature: signature, Token: rawToken})
}

func (p *Peer) handleAuthResponse(ctx context.Context, f *protocol.Frame) error {
	var msg AuthResponseMsg
	if err := decodePayload(f, &msg); err != nil {
		return syncshell.NewProtocolError("decode auth response", err)
	}

	tok, err := p.gs.Responder.Admit(msg.Token, msg.Nonce, msg.Signature, time.Now())
	if err != nil {
		return syncshell.NewCryptoError("reconnect handshake", err)
	}
	p.fireAdmitted(tok.Raw)

	// A token close to expiry gets replaced on the spot, so a member that
	// reconnected onto a rotated host never rides its old token out.
	fresh, err := p.gs.Responder.MaybeReissue(tok, time.Now())
	if err != nil || fresh == nil {
		return err
	}
	return p.send(ctx, protocol.KindHello, HelloMsg{Token: fresh.Raw, Capabilities: fresh.Capabilities})
}

func (p *Peer) fireAdmitted(rawToken string) {
	p.mu.Lock()
	cb := p.onAdmitted
	p.mu.Unlock()
	if cb != nil {
		cb(rawToken)
	}
}

// --- control plane: phonebook gossip ---

// SendPhonebookRequest asks the remote peer for its full phonebook
// snapshot, e.g. right after a fresh join or after a stale-group
// bootstrap.
func (p *Peer) SendPhonebookRequest(ctx context.Context) error {
	return p.send(ctx, protocol.KindPhonebookRequest, PhonebookRequestMsg{})
}

// SendPhonebookGossip pushes up to phonebook.SnapshotEntryLimit entries
// unprompted, for the debounced gossip loop.
func (p *Peer) SendPhonebookGossip(ctx context.Context, entries []*phonebook.Entry) error {
	metrics.GossipRounds.WithLabelValues("sent").Inc()
	return p.send(ctx, protocol.KindPhonebookGossip, PhonebookGossipMsg{Entries: entries})
}

func (p *Peer) handlePhonebookGossip(f *protocol.Frame) error {
	var msg PhonebookGossipMsg
	if err := decodePayload(f, &msg); err != nil {
		return syncshell.NewProtocolError("decode phonebook gossip", err)
	}
	metrics.GossipRounds.WithLabelValues("received").Inc()
	for _, e := range msg.Entries {
		changed, err := p.gs.Phonebook.Merge(e)
		if err != nil {
			metrics.PhonebookMerges.WithLabelValues("rejected_signature").Inc()
			continue
		}
		if changed {
			metrics.PhonebookMerges.WithLabelValues("accepted").Inc()
		} else {
			metrics.PhonebookMerges.WithLabelValues("unchanged").Inc()
		}
	}
	return nil
}

func (p *Peer) handlePhonebookRequest(ctx context.Context) error {
	entries, err := p.gs.Phonebook.Snapshot()
	if err != nil {
		return err
	}
	return p.SendPhonebookGossip(ctx, entries)
}

// SendTombstone announces a single tombstoned entry out-of-band from the
// debounced gossip loop, so a block or leave propagates immediately.
func (p *Peer) SendTombstone(ctx context.Context, entry *phonebook.Entry) error {
	return p.send(ctx, protocol.KindTombstone, TombstoneMsg{Entry: entry})
}

func (p *Peer) handleTombstone(f *protocol.Frame) error {
	var msg TombstoneMsg
	if err := decodePayload(f, &msg); err != nil {
		return syncshell.NewProtocolError("decode tombstone", err)
	}
	_, err := p.gs.Phonebook.Merge(msg.Entry)
	return err
}

// --- control plane: host election ---

// SendHostClaim broadcasts the local peer's own bid for host, exchanged
// at session open and again on any rotation tick.
func (p *Peer) SendHostClaim(ctx context.Context, uptimeSeconds uint64) error {
	return p.send(ctx, protocol.KindHostClaim, HostClaimMsg{PeerID: p.localPeerID, UptimeSeconds: uptimeSeconds})
}

func (p *Peer) handleHostClaim(f *protocol.Frame) error {
	var msg HostClaimMsg
	if err := decodePayload(f, &msg); err != nil {
		return syncshell.NewProtocolError("decode host claim", err)
	}
	p.gs.Elector.Submit(hostelect.Claim{PeerID: msg.PeerID, UptimeSeconds: msg.UptimeSeconds}, time.Now())
	return nil
}

// --- mod transfer, dispatched to Outbound/Inbound ---

// TriggerOutboundSync announces the local player's current mod recipe to
// this peer -- the production call scheduler.New's enqueue callback must
// make for a proximity sync to actually exchange a byte outside of tests.
func (p *Peer) TriggerOutboundSync(ctx context.Context) error {
	frame, err := p.outbound.AnnounceSelf(ctx)
	if err != nil {
		return err
	}
	return p.sendFrame(ctx, frame)
}

func (p *Peer) handleRecipeAnnounce(ctx context.Context, f *protocol.Frame) error {
	p.mu.Lock()
	cb := p.onRecipeAnnounce
	p.mu.Unlock()
	if cb != nil {
		cb(f.AuthorPeerID, time.Now())
	}

	frame, skipped, err := p.inbound.HandleRecipeAnnounce(ctx, f)
	if err != nil {
		return err
	}
	if skipped || frame == nil {
		return nil
	}
	return p.sendFrame(ctx, frame)
}

func (p *Peer) handleRecipeRequest(ctx context.Context, f *protocol.Frame) error {
	frame, err := p.outbound.HandleRecipeRequest(ctx, f)
	if err != nil {
		return err
	}
	return p.sendFrame(ctx, frame)
}

func (p *Peer) handleRecipeDeliver(ctx context.Context, f *protocol.Frame) error {
	frame, err := p.inbound.HandleRecipeDeliver(ctx, f)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	return p.sendFrame(ctx, frame)
}

func (p *Peer) handleChunkRequest(ctx context.Context, f *protocol.Frame) error {
	frames, err := p.outbound.HandleChunkRequest(ctx, f)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := p.sendFrame(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) handleChunkDeliver(ctx context.Context, f *protocol.Frame) error {
	frame, _, err := p.inbound.HandleChunkDeliver(ctx, f)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	return p.sendFrame(ctx, frame)
}

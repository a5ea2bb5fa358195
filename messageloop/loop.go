// Package messageloop implements the message loop: the peer lifecycle
// state machine. It owns the set of in-flight handshakes, the set of
// established peer sessions, the per-channel application queues, and
// the keep-alive timer, coordinating all of them per spec §4.4.
package messageloop

import (
	"context"
	"log/slog"
	"time"

	"github.com/kuuji/meshrelay/messenger"
	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
	"github.com/kuuji/meshrelay/pkg/queue"
)

// InboundDelivery is one item written to a per-channel inbound queue:
// a packet received from Peer on that channel.
type InboundDelivery struct {
	Peer   peerid.PeerId
	Packet peerid.Packet
}

// Config bundles the message loop's fixed collaborators and
// configuration, all supplied once at socket construction.
type Config struct {
	Messenger messenger.Messenger

	// Signaling loop connection.
	Requests chan<- peerproto.PeerRequest
	Events   <-chan peerproto.PeerEvent

	// Identity is written to exactly once, on EventIdAssigned.
	Identity chan<- peerid.PeerId

	// PeerStates receives a PeerStateChange on every Connected/Disconnected
	// transition.
	PeerStates chan<- peerproto.PeerStateChange

	// Outbound holds one receiver per configured channel; ChannelConfigs[i]
	// corresponds to Outbound[i].
	Outbound []<-chan OutboundPacket

	// Inbound holds one sender per configured channel, symmetric with
	// Outbound.
	Inbound []chan<- InboundDelivery

	ICEServers     []peerid.RtcIceServerConfig
	ChannelConfigs []peerid.ChannelConfig

	// KeepAliveInterval is the period between KeepAlive ticks. Zero
	// disables keep-alives (the timer never fires).
	KeepAliveInterval time.Duration

	Logger *slog.Logger
}

// handshakeOutcome is what a spawned handshake future yields: the
// negotiated session (nil on failure) and the result metadata.
type handshakeOutcome struct {
	session messenger.Session
	result  peerproto.HandshakeResult
}

// peerLoopOutcome is what a spawned peer_loop future yields: which
// peer's session ended.
type peerLoopOutcome struct {
	peer peerid.PeerId
}

// peerSignalEntry is one "handshake_signals" entry: the unbounded
// queue feeding a pending handshake's inbound PeerSignal stream. Like
// the signaling loop's top-level Requests/Events queues, this must
// never backpressure its producer (the message loop itself), so it is
// backed by pkg/queue.Unbounded rather than a fixed-capacity channel.
type peerSignalEntry struct {
	q *queue.Unbounded[peerproto.PeerSignal]
}

// Run executes the message loop until ctx is cancelled or all of the
// application's outbound channels close (socket dropped). It
// implements spec §4.4 exactly, including the redesigned behaviors
// from SPEC_FULL.md §13 (R1 keep-alive resubscribe is the signaling
// loop's concern; R2 log-and-drop on send to an unknown peer; R3
// removing handshake_signals entries once a handshake resolves).
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "messageloop")

	handshakes := newFutureSet[handshakeOutcome]()
	peerLoops := newFutureSet[peerLoopOutcome]()
	handshakeSignals := make(map[peerid.PeerId]peerSignalEntry)
	dataChannels := make(map[peerid.PeerId]messenger.Session)
	identitySent := false

	outbound := fanInOutbound(cfg.Outbound)

	var timerC <-chan time.Time
	var timer *time.Timer
	if cfg.KeepAliveInterval > 0 {
		timer = time.NewTimer(cfg.KeepAliveInterval)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timerC:
			select {
			case cfg.Requests <- peerproto.PeerRequest{Kind: peerproto.RequestKeepAlive}:
			case <-ctx.Done():
				return ctx.Err()
			}
			timer.Reset(cfg.KeepAliveInterval)

		case ev, ok := <-cfg.Events:
			if !ok {
				return nil
			}
			identitySent = handleSignalingEvent(ctx, cfg, ev, handshakes, handshakeSignals, identitySent)

		case outcome, ok := <-handshakes.Results():
			if !ok {
				continue
			}
			handleHandshakeComplete(ctx, cfg, log, outcome, peerLoops, handshakeSignals, dataChannels)

		case done, ok := <-peerLoops.Results():
			if !ok {
				continue
			}
			delete(dataChannels, done.peer)
			emitPeerState(ctx, cfg, peerproto.PeerStateChange{Peer: done.peer, State: peerproto.PeerDisconnected})

		case item, ok := <-outbound:
			if !ok {
				// All outbound application queues closed: the socket was
				// dropped. Exit cleanly per spec §4.4 item 6.
				return nil
			}
			deliverOutbound(log, dataChannels, item)
		}
	}
}

// handleSignalingEvent dispatches one PeerEvent from the signaling
// loop. Returns the updated identitySent flag.
func handleSignalingEvent(
	ctx context.Context,
	cfg Config,
	ev peerproto.PeerEvent,
	handshakes *futureSet[handshakeOutcome],
	handshakeSignals map[peerid.PeerId]peerSignalEntry,
	identitySent bool,
) bool {
	switch ev.Kind {
	case peerproto.EventIdAssigned:
		if !identitySent {
			select {
			case cfg.Identity <- ev.Id:
			case <-ctx.Done():
			}
		}
		return true

	case peerproto.EventNewPeer:
		q := queue.NewUnbounded[peerproto.PeerSignal](ctx)
		handshakeSignals[ev.Peer] = peerSignalEntry{q: q}
		signal := newSignalPeer(cfg.Requests, ev.Peer)
		handshakes.spawn(ctx, func(ctx context.Context) handshakeOutcome {
			sess, res := cfg.Messenger.OfferHandshake(ctx, signal, q.Out(), cfg.ICEServers, cfg.ChannelConfigs)
			return handshakeOutcome{session: sess, result: res}
		})

	case peerproto.EventPeerLeft:
		emitPeerState(ctx, cfg, peerproto.PeerStateChange{Peer: ev.Peer, State: peerproto.PeerDisconnected})

	case peerproto.EventSignal:
		entry, known := handshakeSignals[ev.Peer]
		if !known {
			q := queue.NewUnbounded[peerproto.PeerSignal](ctx)
			entry = peerSignalEntry{q: q}
			handshakeSignals[ev.Peer] = entry
			signal := newSignalPeer(cfg.Requests, ev.Peer)
			handshakes.spawn(ctx, func(ctx context.Context) handshakeOutcome {
				sess, res := cfg.Messenger.AcceptHandshake(ctx, signal, q.Out(), cfg.ICEServers, cfg.ChannelConfigs)
				return handshakeOutcome{session: sess, result: res}
			})
		}
		select {
		case entry.q.In() <- ev.Signal:
		case <-ctx.Done():
		}
	}
	return identitySent
}

func handleHandshakeComplete(
	ctx context.Context,
	cfg Config,
	log *slog.Logger,
	outcome handshakeOutcome,
	peerLoops *futureSet[peerLoopOutcome],
	handshakeSignals map[peerid.PeerId]peerSignalEntry,
	dataChannels map[peerid.PeerId]messenger.Session,
) {
	peer := outcome.result.Peer

	// R3: remove the handshake_signals entry once the handshake
	// resolves (success or failure), closing the leak spec.md §9 flags.
	delete(handshakeSignals, peer)

	if outcome.result.Err != nil {
		log.Warn("handshake failed", "peer", peer, "role", outcome.result.Role, "error", outcome.result.Err)
		return
	}

	dataChannels[peer] = outcome.session
	emitPeerState(ctx, cfg, peerproto.PeerStateChange{Peer: peer, State: peerproto.PeerConnected})

	sess := outcome.session
	sessionCtx, cancel := context.WithCancel(ctx)
	go forwardInbound(sessionCtx, cfg.Inbound, peer, sess)
	peerLoops.spawn(ctx, func(ctx context.Context) peerLoopOutcome {
		if err := sess.Run(ctx); err != nil {
			log.Debug("peer session ended", "peer", peer, "error", err)
		}
		_ = sess.Close()
		cancel()
		return peerLoopOutcome{peer: peer}
	})
}

// deliverOutbound hands one application packet to the data channel
// for its destination peer and channel index. Per R2 (spec.md Open
// Question 4), a packet addressed to a peer we never reported
// Connected for is logged and dropped rather than aborting the loop.
func deliverOutbound(log *slog.Logger, dataChannels map[peerid.PeerId]messenger.Session, item outboundItem) {
	sess, ok := dataChannels[item.pkt.Peer]
	if !ok {
		log.Warn("dropping packet to unknown peer", "peer", item.pkt.Peer, "channel", item.channel)
		return
	}
	if err := sess.Send(item.channel, item.pkt.Packet); err != nil {
		log.Warn("sending packet failed", "peer", item.pkt.Peer, "channel", item.channel, "error", err)
	}
}

// forwardInbound relays packets arriving on a session's data channels
// to the application's per-channel inbound queues, tagged with the
// peer they came from. Runs for the lifetime of the session.
func forwardInbound(ctx context.Context, inbound []chan<- InboundDelivery, peer peerid.PeerId, sess messenger.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-sess.Inbound():
			if !ok {
				return
			}
			if pkt.Channel < 0 || pkt.Channel >= len(inbound) {
				continue
			}
			select {
			case inbound[pkt.Channel] <- InboundDelivery{Peer: peer, Packet: pkt.Packet}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func emitPeerState(ctx context.Context, cfg Config, change peerproto.PeerStateChange) {
	select {
	case cfg.PeerStates <- change:
	case <-ctx.Done():
	}
}

func newSignalPeer(requests chan<- peerproto.PeerRequest, to peerid.PeerId) messenger.SignalPeer {
	return messenger.SignalPeer{
		To: to,
		Send: func(sig peerproto.PeerSignal) {
			requests <- peerproto.PeerRequest{Kind: peerproto.RequestSignal, To: to, Signal: sig}
		},
	}
}

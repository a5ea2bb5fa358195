// Package socket assembles the signaling loop, the message loop, a
// relay Signaller, and a Messenger into the public mesh-networking
// API: one identity, a set of peer connections negotiated over a
// Nostr relay, and a fixed set of ordered per-channel packet queues.
package socket

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kuuji/meshrelay/iceconfig"
	"github.com/kuuji/meshrelay/meshcfg"
	"github.com/kuuji/meshrelay/messageloop"
	"github.com/kuuji/meshrelay/messenger"
	"github.com/kuuji/meshrelay/pkg/nostrcrypto"
	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
	"github.com/kuuji/meshrelay/pkg/queue"
	"github.com/kuuji/meshrelay/relay"
	"github.com/kuuji/meshrelay/signalingloop"
)

// Channel is the application's handle to one configured data channel:
// an outbound send queue and an inbound receive queue, both addressed
// by peer.
type Channel struct {
	Outbound chan<- messageloop.OutboundPacket
	Inbound  <-chan messageloop.InboundDelivery
}

// Socket is one running mesh identity: its signaling loop and message
// loop, and the channels the application uses to observe peer state
// and exchange packets.
type Socket struct {
	cancel context.CancelFunc
	done   chan error

	localID    peerid.PeerId
	peerStates <-chan peerproto.PeerStateChange
	channels   []Channel
	outChans   []chan messageloop.OutboundPacket

	log *slog.Logger
}

// New constructs and starts a Socket from cfg: it opens the relay
// connection, starts both loops, and blocks until the local identity
// is announced (spec.md's identity-first invariant, surfaced here as
// the first observable effect of New succeeding).
func New(ctx context.Context, cfg *meshcfg.Config, log *slog.Logger) (*Socket, error) {
	if log == nil {
		log = slog.Default()
	}

	kp, err := cfg.KeyPair()
	if err != nil {
		return nil, fmt.Errorf("socket: loading identity: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	signaller := relay.NewWSSignaller(relay.Config{
		RelayURL:  cfg.Room.URL,
		PubKeyHex: kp.Public.String(),
		Attempts:  cfg.Room.AttemptsPtr(),
	}, log)

	// The signaling loop and message loop talk over unbounded queues:
	// spec.md §5 requires that the signaling loop never backpressure
	// the message loop, since doing so could deadlock a handshake that
	// is itself draining the signaling loop's output.
	requestQueue := queue.NewUnbounded[peerproto.PeerRequest](runCtx)
	eventQueue := queue.NewUnbounded[peerproto.PeerEvent](runCtx)
	identity := make(chan peerid.PeerId, 1)
	peerStates := make(chan peerproto.PeerStateChange, 64)

	channelConfigs := cfg.ToPeerChannelConfigs()
	outbound := make([]<-chan messageloop.OutboundPacket, len(channelConfigs))
	inbound := make([]chan<- messageloop.InboundDelivery, len(channelConfigs))
	channels := make([]Channel, len(channelConfigs))
	outChans := make([]chan messageloop.OutboundPacket, len(channelConfigs))
	for i := range channelConfigs {
		out := make(chan messageloop.OutboundPacket, 64)
		in := make(chan messageloop.InboundDelivery, 64)
		outbound[i] = out
		inbound[i] = in
		outChans[i] = out
		channels[i] = Channel{Outbound: out, Inbound: in}
	}

	msgr := messenger.NewPionMessenger(kp.Public, log)

	iceServers := append(cfg.ToICEServers(), iceconfig.Build(kp.Public, nil, cfg.ToTURNRestConfigs())...)

	done := make(chan error, 1)

	go func() {
		err := signalingloop.Run(runCtx, signalingloop.Config{
			Signaller: signaller,
			KeyPair:   kp,
			Requests:  requestQueue.Out(),
			Events:    eventQueue.In(),
			Logger:    log,
		})
		if err != nil {
			log.Error("signaling loop exited", "error", err)
		}
	}()

	go func() {
		err := messageloop.Run(runCtx, messageloop.Config{
			Messenger:         msgr,
			Requests:          requestQueue.In(),
			Events:            eventQueue.Out(),
			Identity:          identity,
			PeerStates:        peerStates,
			Outbound:          outbound,
			Inbound:           inbound,
			ICEServers:        iceServers,
			ChannelConfigs:    channelConfigs,
			KeepAliveInterval: cfg.Room.KeepAlive(),
			Logger:            log,
		})
		done <- err
	}()

	var localID peerid.PeerId
	select {
	case localID = <-identity:
	case <-runCtx.Done():
		cancel()
		return nil, runCtx.Err()
	}

	return &Socket{
		cancel:     cancel,
		done:       done,
		localID:    localID,
		peerStates: peerStates,
		channels:   channels,
		outChans:   outChans,
		log:        log,
	}, nil
}

// PeerID returns the local identity, the same value delivered as the
// socket's first internal IdAssigned event.
func (s *Socket) PeerID() peerid.PeerId {
	return s.localID
}

// PeerStates returns the channel on which (peer, Connected/Disconnected)
// transitions are reported, per spec.md §8's connect/disconnect
// invariants.
func (s *Socket) PeerStates() <-chan peerproto.PeerStateChange {
	return s.peerStates
}

// Channel returns the send/receive handle for the i'th configured data
// channel.
func (s *Socket) Channel(i int) Channel {
	return s.channels[i]
}

// Close drops the socket: it cancels both loops and closes every
// outbound queue, which the message loop observes as the "application
// dropped the socket" exit condition (spec.md §4.4 item 6).
func (s *Socket) Close() error {
	for _, out := range s.outChans {
		close(out)
	}
	s.cancel()
	return <-s.done
}

// GenerateIdentity creates a fresh keypair for use with meshcfg.Config.SetKeyPair.
func GenerateIdentity() (nostrcrypto.KeyPair, error) {
	return nostrcrypto.GenerateKeyPair()
}

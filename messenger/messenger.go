// Package messenger implements the Messenger abstraction: per-peer
// WebRTC handshake and session management. The message loop drives a
// Messenger through offer/accept handshakes and then hands the
// resulting session's run loop off to its own peer_loops set.
package messenger

import (
	"context"
	"errors"

	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
)

// ErrChannelClosed is returned by a session send when the underlying
// data channel has already closed.
var ErrChannelClosed = errors.New("messenger: channel closed")

// ErrSendFailed wraps a lower-level transport error from a data
// channel send.
var ErrSendFailed = errors.New("messenger: send failed")

// SignalPeer is the handle a handshake uses to push outbound
// PeerSignals to the remote identified by To. It carries a cloned
// sender of the message loop's outbound signaling-request queue: a
// relation, not ownership, so it becomes inert once the message loop
// shuts down.
type SignalPeer struct {
	To   peerid.PeerId
	Send func(peerproto.PeerSignal)
}

// Session is an established, handshake-complete peer connection: N
// ordered data channels, indexed exactly as ChannelConfig was ordered
// at construction time.
type Session interface {
	// Send writes a packet to data channel i. Returns ErrChannelClosed
	// if that channel (or the whole session) has already closed.
	Send(i int, p peerid.Packet) error

	// Inbound returns the channel on which packets received on data
	// channel i are delivered, paired with their index so the message
	// loop's select can dispatch by position.
	Inbound() <-chan InboundPacket

	// Run blocks until the session ends (ICE failure, remote close, or
	// Close called), mirroring the spec's peer_loop contract: it
	// completes exactly once per peer.
	Run(ctx context.Context) error

	// Close tears down the peer connection and all its data channels.
	Close() error
}

// InboundPacket pairs a received packet with the index of the channel
// it arrived on.
type InboundPacket struct {
	Channel int
	Packet  peerid.Packet
}

// Messenger is the WebRTC engine abstraction: one per local identity,
// shared across all peer handshakes.
type Messenger interface {
	// OfferHandshake drives the local side as offerer: creates all
	// data channels, creates and pushes an SDP offer through signal,
	// applies the eventual answer and trickled candidates read from
	// inbound, and returns once every channel is open.
	OfferHandshake(ctx context.Context, signal SignalPeer, inbound <-chan peerproto.PeerSignal, iceServers []peerid.RtcIceServerConfig, channels []peerid.ChannelConfig) (Session, peerproto.HandshakeResult)

	// AcceptHandshake drives the local side as answerer: waits for the
	// offer on inbound, creates an SDP answer and pushes it through
	// signal, applies trickled candidates, and returns once every
	// channel is open.
	AcceptHandshake(ctx context.Context, signal SignalPeer, inbound <-chan peerproto.PeerSignal, iceServers []peerid.RtcIceServerConfig, channels []peerid.ChannelConfig) (Session, peerproto.HandshakeResult)
}

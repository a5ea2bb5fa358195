package messenger

import (
	"context"
	"sync"

	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
)

// FakeMessenger is a Messenger that completes a handshake as soon as
// it has exchanged one signal in each direction, without any real
// transport. Two of its sessions joined with Link behave like a
// connected pair.
type FakeMessenger struct{}

// NewFakeMessenger constructs a FakeMessenger.
func NewFakeMessenger() *FakeMessenger { return &FakeMessenger{} }

// OfferHandshake implements Messenger: sends a synthetic offer, waits
// for the synthetic answer, and returns an open in-memory session.
func (FakeMessenger) OfferHandshake(ctx context.Context, signal SignalPeer, inbound <-chan peerproto.PeerSignal, _ []peerid.RtcIceServerConfig, channels []peerid.ChannelConfig) (Session, peerproto.HandshakeResult) {
	res := peerproto.HandshakeResult{Peer: signal.To, Role: peerproto.RoleOfferer}
	signal.Send(peerproto.PeerSignal{Kind: peerproto.SignalOffer, SDP: "fake-offer"})

	select {
	case <-ctx.Done():
		res.Err = ctx.Err()
		return nil, res
	case sig, ok := <-inbound:
		if !ok || sig.Kind != peerproto.SignalAnswer {
			res.Err = errNoAnswer
			return nil, res
		}
	}
	return newFakeSession(len(channels)), res
}

// AcceptHandshake implements Messenger: waits for the synthetic offer,
// sends a synthetic answer, and returns an open in-memory session.
func (FakeMessenger) AcceptHandshake(ctx context.Context, signal SignalPeer, inbound <-chan peerproto.PeerSignal, _ []peerid.RtcIceServerConfig, channels []peerid.ChannelConfig) (Session, peerproto.HandshakeResult) {
	res := peerproto.HandshakeResult{Peer: signal.To, Role: peerproto.RoleAnswerer}

	select {
	case <-ctx.Done():
		res.Err = ctx.Err()
		return nil, res
	case sig, ok := <-inbound:
		if !ok || sig.Kind != peerproto.SignalOffer {
			res.Err = errNoOffer
			return nil, res
		}
	}
	signal.Send(peerproto.PeerSignal{Kind: peerproto.SignalAnswer, SDP: "fake-answer"})
	return newFakeSession(len(channels)), res
}

var errNoOffer = fakeErr("messenger: expected offer, channel closed or wrong kind")
var errNoAnswer = fakeErr("messenger: expected answer, channel closed or wrong kind")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// fakeSession is an in-process Session with no real transport: Send
// delivers locally to a linked peer when wired via Link. Run returns
// only when its ctx is done; Close does not end it.
type fakeSession struct {
	mu     sync.Mutex
	closed bool
	peer   *fakeSession

	inbound chan InboundPacket
}

func newFakeSession(n int) *fakeSession {
	return &fakeSession{inbound: make(chan InboundPacket, 64)}
}

// Link wires two fake sessions together so a.Send delivers to
// b.Inbound and vice versa, simulating an established data path.
func Link(a, b Session) {
	fa, fb := a.(*fakeSession), b.(*fakeSession)
	fa.mu.Lock()
	fa.peer = fb
	fa.mu.Unlock()
	fb.mu.Lock()
	fb.peer = fa
	fb.mu.Unlock()
}

func (s *fakeSession) Send(i int, p peerid.Packet) error {
	s.mu.Lock()
	closed := s.closed
	peer := s.peer
	s.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	if peer == nil {
		return nil
	}
	peer.mu.Lock()
	peerClosed := peer.closed
	peer.mu.Unlock()
	if peerClosed {
		return nil
	}
	peer.inbound <- InboundPacket{Channel: i, Packet: p}
	return nil
}

func (s *fakeSession) Inbound() <-chan InboundPacket { return s.inbound }

func (s *fakeSession) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return nil
}

package messenger

import (
	"context"
	"testing"
	"time"

	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
)

// wireSignals pumps each side's outbound PeerSignal directly into the
// other side's inbound channel, simulating the message loop relaying
// signals over the relay without any of that machinery.
func wireSignals(t *testing.T, offererID, answererID peerid.PeerId) (offererTo, answererTo SignalPeer, offererIn, answererIn chan peerproto.PeerSignal) {
	t.Helper()
	offererIn = make(chan peerproto.PeerSignal, 8)
	answererIn = make(chan peerproto.PeerSignal, 8)

	offererTo = SignalPeer{To: answererID, Send: func(s peerproto.PeerSignal) { answererIn <- s }}
	answererTo = SignalPeer{To: offererID, Send: func(s peerproto.PeerSignal) { offererIn <- s }}
	return
}

func TestFakeMessenger_HandshakeAndDataExchange(t *testing.T) {
	t.Parallel()

	var offererID, answererID peerid.PeerId
	offererID[0] = 1
	answererID[0] = 2

	offererTo, answererTo, offererIn, answererIn := wireSignals(t, offererID, answererID)

	m := NewFakeMessenger()
	channels := []peerid.ChannelConfig{{Label: "default", Ordered: true}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type handshakeOut struct {
		sess Session
		res  peerproto.HandshakeResult
	}
	offerCh := make(chan handshakeOut, 1)
	acceptCh := make(chan handshakeOut, 1)

	go func() {
		sess, res := m.OfferHandshake(ctx, offererTo, offererIn, nil, channels)
		offerCh <- handshakeOut{sess, res}
	}()
	go func() {
		sess, res := m.AcceptHandshake(ctx, answererTo, answererIn, nil, channels)
		acceptCh <- handshakeOut{sess, res}
	}()

	offerResult := <-offerCh
	acceptResult := <-acceptCh

	if offerResult.res.Err != nil {
		t.Fatalf("OfferHandshake error: %v", offerResult.res.Err)
	}
	if acceptResult.res.Err != nil {
		t.Fatalf("AcceptHandshake error: %v", acceptResult.res.Err)
	}
	if offerResult.res.Role != peerproto.RoleOfferer {
		t.Errorf("offerer role = %v, want RoleOfferer", offerResult.res.Role)
	}
	if acceptResult.res.Role != peerproto.RoleAnswerer {
		t.Errorf("answerer role = %v, want RoleAnswerer", acceptResult.res.Role)
	}

	Link(offerResult.sess, acceptResult.sess)

	if err := offerResult.sess.Send(0, peerid.Packet("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case pkt := <-acceptResult.sess.Inbound():
		if string(pkt.Packet) != "hello" || pkt.Channel != 0 {
			t.Errorf("received %+v, want channel 0 \"hello\"", pkt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered packet")
	}

	if err := offerResult.sess.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := offerResult.sess.Send(0, peerid.Packet("after close")); err != ErrChannelClosed {
		t.Errorf("Send after Close = %v, want ErrChannelClosed", err)
	}
}

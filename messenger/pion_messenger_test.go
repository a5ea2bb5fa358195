package messenger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// wirePionSignals relays each side's outbound PeerSignal to the
// other's inbound channel by writing it straight into that buffered
// channel, the same role a real signaling loop plays in production. No STUN/TURN servers are
// configured; pion completes the handshake using host candidates
// alone, as in the teacher's local-ICE tests.
func wirePionSignals(offererID, answererID peerid.PeerId) (offererTo, answererTo SignalPeer, offererIn, answererIn chan peerproto.PeerSignal) {
	offererIn = make(chan peerproto.PeerSignal, 32)
	answererIn = make(chan peerproto.PeerSignal, 32)

	offererTo = SignalPeer{To: answererID, Send: func(s peerproto.PeerSignal) { answererIn <- s }}
	answererTo = SignalPeer{To: offererID, Send: func(s peerproto.PeerSignal) { offererIn <- s }}
	return
}

// TestPionMessenger_OfferAnswerAndDataExchange verifies that two real
// pion peer connections complete an offer/answer/ICE-trickle handshake
// over two configured data channels, and that a packet sent on one
// channel arrives on the matching channel at the other end.
func TestPionMessenger_OfferAnswerAndDataExchange(t *testing.T) {
	t.Parallel()

	var offererID, answererID peerid.PeerId
	offererID[0] = 1
	answererID[0] = 2

	offererTo, answererTo, offererIn, answererIn := wirePionSignals(offererID, answererID)

	channels := []peerid.ChannelConfig{
		{Label: "reliable", Ordered: true},
		{Label: "unreliable", Ordered: false, MaxRetransmits: uint16Ptr(0)},
	}

	mOfferer := NewPionMessenger(offererID, discardLogger())
	mAnswerer := NewPionMessenger(answererID, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type handshakeOut struct {
		sess Session
		res  peerproto.HandshakeResult
	}
	offerCh := make(chan handshakeOut, 1)
	acceptCh := make(chan handshakeOut, 1)

	go func() {
		sess, res := mOfferer.OfferHandshake(ctx, offererTo, offererIn, nil, channels)
		offerCh <- handshakeOut{sess, res}
	}()
	go func() {
		sess, res := mAnswerer.AcceptHandshake(ctx, answererTo, answererIn, nil, channels)
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
	defer offerResult.sess.Close()
	defer acceptResult.sess.Close()

	if err := offerResult.sess.Send(0, peerid.Packet("hello on channel 0")); err != nil {
		t.Fatalf("Send on channel 0: %v", err)
	}
	select {
	case pkt := <-acceptResult.sess.Inbound():
		if pkt.Channel != 0 || string(pkt.Packet) != "hello on channel 0" {
			t.Errorf("received %+v, want channel 0 \"hello on channel 0\"", pkt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel 0 delivery")
	}

	if err := acceptResult.sess.Send(1, peerid.Packet("hello on channel 1")); err != nil {
		t.Fatalf("Send on channel 1: %v", err)
	}
	select {
	case pkt := <-offerResult.sess.Inbound():
		if pkt.Channel != 1 || string(pkt.Packet) != "hello on channel 1" {
			t.Errorf("received %+v, want channel 1 \"hello on channel 1\"", pkt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel 1 delivery")
	}
}

func uint16Ptr(v uint16) *uint16 { return &v }

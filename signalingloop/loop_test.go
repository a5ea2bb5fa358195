package signalingloop

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kuuji/meshrelay/pkg/nostrcrypto"
	"github.com/kuuji/meshrelay/pkg/nostrwire"
	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
	"github.com/kuuji/meshrelay/relay"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// TestRun_DeliversSignalBetweenTwoLoops wires two real signaling loops
// to a shared FakeRoom and a real keypair each, and checks that a
// RequestSignal sent by one arrives, decrypted and verified, as an
// EventSignal on the other's event channel.
func TestRun_DeliversSignalBetweenTwoLoops(t *testing.T) {
	t.Parallel()

	room := relay.NewFakeRoom()

	kpA, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair A: %v", err)
	}
	kpB, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair B: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requestsA := make(chan peerproto.PeerRequest, 8)
	eventsA := make(chan peerproto.PeerEvent, 8)
	requestsB := make(chan peerproto.PeerRequest, 8)
	eventsB := make(chan peerproto.PeerEvent, 8)

	errA := make(chan error, 1)
	errB := make(chan error, 1)

	go func() {
		errA <- Run(ctx, Config{
			Signaller: relay.NewFakeSignaller(room),
			KeyPair:   kpA,
			Requests:  requestsA,
			Events:    eventsA,
			Logger:    discardLogger(),
		})
	}()
	go func() {
		errB <- Run(ctx, Config{
			Signaller: relay.NewFakeSignaller(room),
			KeyPair:   kpB,
			Requests:  requestsB,
			Events:    eventsB,
			Logger:    discardLogger(),
		})
	}()

	// Both sides announce their own identity first.
	mustIdAssigned(t, eventsA, kpA.Public)
	mustIdAssigned(t, eventsB, kpB.Public)

	requestsA <- peerproto.PeerRequest{
		Kind:   peerproto.RequestSignal,
		To:     kpB.Public,
		Signal: peerproto.PeerSignal{Kind: peerproto.SignalOffer, SDP: "v=0 offer"},
	}

	select {
	case ev := <-eventsB:
		if ev.Kind != peerproto.EventSignal || ev.Peer != kpA.Public || ev.Signal.Kind != peerproto.SignalOffer || ev.Signal.SDP != "v=0 offer" {
			t.Fatalf("unexpected event on B: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal delivery to B")
	}

	// A must not see its own publish echoed back as an event.
	select {
	case ev := <-eventsA:
		t.Fatalf("A unexpectedly received an event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	if err := <-errA; err != nil && err != context.Canceled {
		t.Errorf("loop A returned %v", err)
	}
	if err := <-errB; err != nil && err != context.Canceled {
		t.Errorf("loop B returned %v", err)
	}
}

// TestHandleEvent_DropsTamperedSignature checks that handleEvent
// silently drops an event whose signature no longer matches its
// (mutated) content, instead of forwarding garbage to the message
// loop.
func TestHandleEvent_DropsTamperedSignature(t *testing.T) {
	t.Parallel()

	kpSender, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair sender: %v", err)
	}
	kpReceiver, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair receiver: %v", err)
	}

	body, err := peerproto.MarshalRequest(peerproto.PeerRequest{
		Kind:   peerproto.RequestSignal,
		To:     kpReceiver.Public,
		Signal: peerproto.PeerSignal{Kind: peerproto.SignalOffer, SDP: "v=0"},
	})
	if err != nil {
		t.Fatalf("MarshalRequest: %v", err)
	}
	content, err := nostrcrypto.EncryptDM(kpSender, kpReceiver.Public, body)
	if err != nil {
		t.Fatalf("EncryptDM: %v", err)
	}
	ev := nostrwire.Event{
		CreatedAt: 1,
		Kind:      nostrwire.KindEncryptedDirectMessage,
		Tags:      []nostrwire.Tag{nostrwire.PubKeyTag(kpReceiver.Public.String())},
		Content:   content,
	}
	signed, err := nostrcrypto.SignEvent(kpSender, ev)
	if err != nil {
		t.Fatalf("SignEvent: %v", err)
	}
	signed.Content = content + "tampered"

	events := make(chan peerproto.PeerEvent, 1)
	cfg := Config{KeyPair: kpReceiver, Events: events, Logger: discardLogger()}

	handleEvent(context.Background(), cfg, nostrwire.RelayMessage{Kind: "EVENT", Event: &signed}, discardLogger())

	select {
	case ev := <-events:
		t.Fatalf("tampered event was forwarded: %+v", ev)
	default:
	}
}

// recordingSignaller is a relay.Signaller that only counts
// Resubscribe calls; Open/Send/NextMessage/Close are unused by the
// handleRequest tests below and just satisfy the interface.
type recordingSignaller struct {
	resubscribes int
}

func (r *recordingSignaller) Open(ctx context.Context) error { return nil }
func (r *recordingSignaller) Send(ctx context.Context, ev nostrwire.Event) error {
	return nil
}
func (r *recordingSignaller) NextMessage(ctx context.Context) (nostrwire.RelayMessage, error) {
	<-ctx.Done()
	return nostrwire.RelayMessage{}, ctx.Err()
}
func (r *recordingSignaller) Resubscribe(ctx context.Context) error {
	r.resubscribes++
	return nil
}
func (r *recordingSignaller) Close() error { return nil }

// TestHandleRequest_KeepAliveGatedOnSilence checks the reconciled S4
// behavior: a KeepAlive tick produces no relay traffic at all while the
// relay is still delivering frames (sawFrame true resets without
// resubscribing), and only resubscribes once a full interval has
// passed with nothing observed from the relay.
func TestHandleRequest_KeepAliveGatedOnSilence(t *testing.T) {
	t.Parallel()

	sig := &recordingSignaller{}
	cfg := Config{Signaller: sig, Logger: discardLogger()}
	ctx := context.Background()

	sawFrame := true
	if err := handleRequest(ctx, cfg, peerproto.PeerRequest{Kind: peerproto.RequestKeepAlive}, discardLogger(), &sawFrame); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	if sig.resubscribes != 0 {
		t.Fatalf("resubscribed while relay was active: %d calls", sig.resubscribes)
	}
	if sawFrame {
		t.Fatal("sawFrame was not reset after a quiet-but-active tick")
	}

	// No frame arrived since the previous tick: the relay has gone
	// quiet for a full interval, so this tick must resubscribe.
	if err := handleRequest(ctx, cfg, peerproto.PeerRequest{Kind: peerproto.RequestKeepAlive}, discardLogger(), &sawFrame); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	if sig.resubscribes != 1 {
		t.Fatalf("expected exactly one resubscribe after silence, got %d", sig.resubscribes)
	}

	// A frame arrives, then the next tick must go quiet again with no
	// further resubscribe.
	sawFrame = true
	if err := handleRequest(ctx, cfg, peerproto.PeerRequest{Kind: peerproto.RequestKeepAlive}, discardLogger(), &sawFrame); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}
	if sig.resubscribes != 1 {
		t.Fatalf("resubscribed despite frame observed since last tick: %d calls", sig.resubscribes)
	}
}

func mustIdAssigned(t *testing.T, events <-chan peerproto.PeerEvent, want peerid.PeerId) {
	t.Helper()
	select {
	case ev := <-events:
		if ev.Kind != peerproto.EventIdAssigned || ev.Id != want {
			t.Fatalf("unexpected first event: %+v, want IdAssigned(%s)", ev, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for IdAssigned")
	}
}

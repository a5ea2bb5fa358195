// Package signalingloop implements the signaling loop: the bridge
// between the internal peer-to-peer protocol and the Nostr relay wire
// protocol. It owns the local keypair, encrypts and signs every
// outbound signal, and decrypts and verifies every inbound one before
// handing it to the message loop.
package signalingloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kuuji/meshrelay/pkg/nostrcrypto"
	"github.com/kuuji/meshrelay/pkg/nostrwire"
	"github.com/kuuji/meshrelay/pkg/peerid"
	"github.com/kuuji/meshrelay/pkg/peerproto"
	"github.com/kuuji/meshrelay/relay"
)

// Config bundles the signaling loop's fixed collaborators.
type Config struct {
	Signaller relay.Signaller
	KeyPair   nostrcrypto.KeyPair
	Requests  <-chan peerproto.PeerRequest
	Events    chan<- peerproto.PeerEvent
	Logger    *slog.Logger
}

// Run executes the signaling loop until ctx is cancelled, the
// signaller reports a fatal error, or both its sources are exhausted.
// It implements spec §4.2 exactly: connect, announce identity, then
// select over outbound requests and inbound relay frames with equal
// priority.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "signalingloop", "peer", cfg.KeyPair.Public.String())

	if err := cfg.Signaller.Open(ctx); err != nil {
		return fmt.Errorf("opening signaller: %w", err)
	}
	defer cfg.Signaller.Close()

	// IdAssigned must be the first event on the channel, before any
	// peer handshake can start downstream.
	select {
	case cfg.Events <- peerproto.PeerEvent{Kind: peerproto.EventIdAssigned, Id: cfg.KeyPair.Public}:
	case <-ctx.Done():
		return ctx.Err()
	}

	frames := make(chan frameOrErr, 64)
	go pumpFrames(ctx, cfg.Signaller, frames)

	// sawFrame tracks whether any relay frame has arrived since the
	// last keep-alive tick. A keep-alive only triggers a resubscribe
	// when the relay has gone quiet for a whole interval (sawFrame is
	// still false at the next tick); otherwise it is a pure no-op at
	// the wire level, matching spec.md §8 S4. Starts true: Open has
	// just established the subscription, so there is nothing to
	// recover yet.
	sawFrame := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req, ok := <-cfg.Requests:
			if !ok {
				return nil
			}
			if err := handleRequest(ctx, cfg, req, log, &sawFrame); err != nil {
				return err
			}

		case fe, ok := <-frames:
			if !ok {
				return nil
			}
			if fe.err != nil {
				if errors.Is(fe.err, relay.ErrClosed) {
					return nil
				}
				log.Error("signaller error", "error", fe.err)
				return fe.err
			}
			sawFrame = true
			handleFrame(ctx, cfg, fe.msg, log)
		}
	}
}

type frameOrErr struct {
	msg nostrwire.RelayMessage
	err error
}

// pumpFrames adapts Signaller.NextMessage's blocking call-per-call
// shape into a channel so Run can select over it alongside requests.
func pumpFrames(ctx context.Context, s relay.Signaller, out chan<- frameOrErr) {
	defer close(out)
	for {
		msg, err := s.NextMessage(ctx)
		if err != nil {
			select {
			case out <- frameOrErr{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- frameOrErr{msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

// handleRequest encrypts and publishes an outbound Signal request, or
// (per the redesigned KeepAlive behavior, R1) re-issues the relay
// subscription, but only when sawFrame shows the relay has gone quiet
// since the previous tick; a relay that's still delivering frames gets
// no outbound traffic at all from a KeepAlive, per spec.md §8 S4.
func handleRequest(ctx context.Context, cfg Config, req peerproto.PeerRequest, log *slog.Logger, sawFrame *bool) error {
	switch req.Kind {
	case peerproto.RequestSignal:
		return sendSignal(ctx, cfg, req, log)
	case peerproto.RequestKeepAlive:
		if *sawFrame {
			*sawFrame = false
			return nil
		}
		if err := cfg.Signaller.Resubscribe(ctx); err != nil {
			log.Warn("keep-alive resubscribe failed", "error", err)
		}
		return nil
	default:
		log.Error("unknown outbound request kind", "kind", req.Kind)
		return nil
	}
}

func sendSignal(ctx context.Context, cfg Config, req peerproto.PeerRequest, log *slog.Logger) error {
	body, err := peerproto.MarshalRequest(peerproto.PeerRequest{
		Kind:   peerproto.RequestSignal,
		To:     req.To,
		Signal: req.Signal,
	})
	if err != nil {
		return fmt.Errorf("serializing outbound signal: %w", err)
	}

	content, err := nostrcrypto.EncryptDM(cfg.KeyPair, req.To, body)
	if err != nil {
		return fmt.Errorf("encrypting outbound signal: %w", err)
	}

	ev := nostrwire.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      nostrwire.KindEncryptedDirectMessage,
		Tags: []nostrwire.Tag{
			nostrwire.PubKeyTag(req.To.String()),
			nostrwire.HashtagTag(nostrwire.PeerTag),
		},
		Content: content,
	}
	signed, err := nostrcrypto.SignEvent(cfg.KeyPair, ev)
	if err != nil {
		return fmt.Errorf("signing outbound event: %w", err)
	}

	if err := cfg.Signaller.Send(ctx, signed); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	log.Debug("sent signal", "to", req.To)
	return nil
}

// handleFrame dispatches one inbound relay frame. Decryption, parse,
// and verification failures are isolated to this single frame and
// never terminate the loop.
func handleFrame(ctx context.Context, cfg Config, msg nostrwire.RelayMessage, log *slog.Logger) {
	switch msg.Kind {
	case "EVENT":
		handleEvent(ctx, cfg, msg, log)
	case "NOTICE":
		log.Info("relay notice", "message", msg.Notice)
	case "OK":
		log.Debug("relay OK", "event_id", msg.OKEventID, "accepted", msg.OKAccepted, "message", msg.OKMessage)
	case "EOSE", "AUTH", "COUNT", "EMPTY":
		// no-op
	default:
		log.Debug("ignoring unrecognized relay frame", "kind", msg.Kind)
	}
}

func handleEvent(ctx context.Context, cfg Config, msg nostrwire.RelayMessage, log *slog.Logger) {
	if msg.Event == nil {
		return
	}
	ev := *msg.Event

	if ev.PubKey == cfg.KeyPair.Public.String() {
		return // self-echo
	}
	if ev.Kind != nostrwire.KindEncryptedDirectMessage {
		return
	}

	if err := nostrcrypto.VerifyEvent(ev); err != nil {
		log.Debug("dropping event with invalid signature", "error", err)
		return
	}

	sender, err := peerid.ParsePeerId(ev.PubKey)
	if err != nil {
		log.Debug("dropping event with malformed pubkey", "error", err)
		return
	}

	plaintext, err := nostrcrypto.DecryptDM(cfg.KeyPair, sender, ev.Content)
	if err != nil {
		log.Debug("dropping event that failed to decrypt", "error", err)
		return
	}

	req, peerEv, err := peerproto.ParseEnvelope(plaintext)
	if err != nil {
		log.Debug("dropping event with unparseable payload", "error", err)
		return
	}

	switch {
	case req != nil && req.Kind == peerproto.RequestSignal:
		deliver(ctx, cfg.Events, peerproto.PeerEvent{Kind: peerproto.EventSignal, Peer: sender, Signal: req.Signal})
	case req != nil && req.Kind == peerproto.RequestKeepAlive:
		// Dropped silently, per spec.
	case peerEv != nil:
		deliver(ctx, cfg.Events, *peerEv)
	}
}

func deliver(ctx context.Context, events chan<- peerproto.PeerEvent, ev peerproto.PeerEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// Package relay implements the Signaller abstraction: the signaling
// loop's one collaborator for talking to a Nostr relay over
// WebSocket. Everything above this package deals in already-decrypted
// PeerSignal values and PeerId addressing; this package owns the
// relay connection, the NIP-01 subscription, and raw frame I/O.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/kuuji/meshrelay/pkg/nostrwire"
)

// ErrNotConnected is returned by WSSignaller's Send and Resubscribe
// when it holds no connection: before Open has succeeded, or after
// Close.
var ErrNotConnected = errors.New("relay: not connected")

// ErrClosed is returned by NextMessage once the Signaller has been
// closed (or its connection has ended) and the buffered frames are
// drained, and by FakeSignaller's Send after Close.
var ErrClosed = errors.New("relay: closed")

// Signaller is the signaling loop's transport collaborator. A
// Signaller owns exactly one relay connection and one subscription.
// Resubscribe re-issues the subscription on that connection; a lost
// connection is not redialed, and NextMessage then reports ErrClosed.
type Signaller interface {
	// Open dials the relay and subscribes to encrypted direct messages
	// (kind 4) created since the subscribe time. The filter does not
	// select by recipient: events addressed to other identities are
	// delivered too. Open must be called exactly once before Send or
	// NextMessage.
	Open(ctx context.Context) error

	// Send publishes an already-built event to the relay as an EVENT
	// frame. The caller (signaling loop) is responsible for encrypting
	// and signing ev before calling Send.
	Send(ctx context.Context, ev nostrwire.Event) error

	// NextMessage blocks until a relay frame arrives, the context is
	// cancelled, or the Signaller is closed. It returns ErrClosed once
	// closed and drained.
	NextMessage(ctx context.Context) (nostrwire.RelayMessage, error)

	// Resubscribe tears down and re-issues the subscription under a
	// fresh subscription id, but preserves the existing since: it does
	// not narrow the window of accepted events the way a fresh "now"
	// would. Used by the signaling loop's keep-alive handling, only
	// once it observes the relay has gone quiet, to recover a
	// subscription the relay silently dropped without closing the
	// socket.
	Resubscribe(ctx context.Context) error

	// Close releases the underlying connection. NextMessage then
	// returns ErrClosed once drained; Send fails with ErrClosed
	// (FakeSignaller) or ErrNotConnected (WSSignaller).
	Close() error
}

// Config holds the parameters needed to construct a WSSignaller.
type Config struct {
	// RelayURL is the WebSocket URL of the Nostr relay (e.g.
	// "wss://relay.example.com").
	RelayURL string

	// PubKeyHex is this identity's hex-encoded public key. The
	// subscription filter does not use it (see Signaller.Open).
	PubKeyHex string

	// DialTimeout bounds each WebSocket dial attempt. Defaults to 10s.
	DialTimeout time.Duration

	// MessageBufferSize is the capacity of the inbound frame channel.
	// Defaults to 64.
	MessageBufferSize int

	// Attempts bounds how many times Open retries a failed dial, with
	// exponential backoff between tries. Nil means retry indefinitely;
	// 0 or negative means a single attempt, no retry.
	Attempts *int
}

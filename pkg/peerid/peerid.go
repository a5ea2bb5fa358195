// Package peerid defines the identifiers and small value types shared
// across the signaling and message loops: the peer identifier, the
// opaque application packet, and the per-channel/per-connection
// configuration structs fixed at socket construction time.
package peerid

import (
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a PeerId: a BIP-340 x-only secp256k1
// public key, the same convention Nostr uses for pubkeys.
const Size = 32

// PeerId uniquely identifies a participant for the lifetime of a session.
// Equality and hashing are by raw bytes, so PeerId is safe to use as a
// map key.
type PeerId [Size]byte

// String returns the lowercase hex encoding of the id.
func (p PeerId) String() string {
	return hex.EncodeToString(p[:])
}

// IsZero reports whether p is the zero value.
func (p PeerId) IsZero() bool {
	var zero PeerId
	return p == zero
}

// ParsePeerId decodes a lowercase or uppercase hex string into a PeerId.
func ParsePeerId(s string) (PeerId, error) {
	var id PeerId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != Size {
		return id, fmt.Errorf("peerid: invalid length, want %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Packet is an opaque, immutable byte buffer. No framing is interpreted
// at this layer — the application owns its contents.
type Packet []byte

// ChannelConfig describes the reliability and ordering of one data
// channel, fixed at socket construction time and applied in order when
// a handshake opens its data channels.
type ChannelConfig struct {
	// Label is a human-readable name for the channel, used only for
	// logging and debugging — the peer-to-peer protocol addresses
	// channels by index, not label.
	Label string

	// Ordered controls in-order delivery of the underlying SCTP stream.
	Ordered bool

	// MaxRetransmits caps the number of retransmit attempts for an
	// unreliable, ordered-or-not channel. Mutually exclusive with
	// MaxPacketLifetime; nil means "use MaxPacketLifetime or reliable
	// delivery".
	MaxRetransmits *uint16

	// MaxPacketLifetime caps, in milliseconds, how long the transport
	// will attempt to deliver a packet before giving up. Mutually
	// exclusive with MaxRetransmits.
	MaxPacketLifetime *uint16
}

// RtcIceServerConfig lists a STUN/TURN server URL set with optional
// long-term or TURN-REST credentials.
type RtcIceServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

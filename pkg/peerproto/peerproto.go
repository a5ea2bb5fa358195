// Package peerproto defines the messages that cross the boundary
// between a socket's two loops: requests the message loop hands to the
// signaling loop, events the signaling loop hands back, and the
// signaling payloads carried inside both; plus the peer-state changes
// the message loop reports to the socket's caller.
package peerproto

import (
	"encoding/json"
	"fmt"

	"github.com/kuuji/meshrelay/pkg/peerid"
)

// SignalKind discriminates the offer/answer/ICE-candidate payloads
// carried by a PeerSignal.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// PeerSignal is one leg of a WebRTC handshake, addressed to a specific
// peer and exchanged verbatim between the message loop and the
// signaling loop (and, encrypted, over the relay).
type PeerSignal struct {
	Kind      SignalKind
	SDP       string // set when Kind is SignalOffer or SignalAnswer
	Candidate string // set when Kind is SignalCandidate; empty means end-of-candidates
}

type wireSignal struct {
	Kind      SignalKind `json:"kind"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"`
}

// MarshalJSON encodes a PeerSignal for transport inside a NIP-04
// direct-message payload.
func (s PeerSignal) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSignal{Kind: s.Kind, SDP: s.SDP, Candidate: s.Candidate})
}

// UnmarshalJSON decodes a PeerSignal previously produced by MarshalJSON.
func (s *PeerSignal) UnmarshalJSON(data []byte) error {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding peer signal: %w", err)
	}
	s.Kind = w.Kind
	s.SDP = w.SDP
	s.Candidate = w.Candidate
	return nil
}

// PeerRequestKind discriminates the variants of PeerRequest.
type PeerRequestKind int

const (
	// RequestSignal asks the signaling loop to relay a PeerSignal to a
	// given peer, driving or continuing a handshake.
	RequestSignal PeerRequestKind = iota
	// RequestKeepAlive is the message loop's keep-alive tick. The
	// signaling loop resubscribes on it when no relay frame has arrived
	// since the previous tick, so a relay that silently dropped the
	// subscription is recovered; nothing is sent on data channels.
	RequestKeepAlive
)

// PeerRequest is handed by the message loop to the signaling loop's
// outbound request queue. Exactly one of the kind-specific fields is
// meaningful, selected by Kind.
type PeerRequest struct {
	Kind PeerRequestKind

	// Signal fields, valid when Kind == RequestSignal.
	To     peerid.PeerId
	Signal PeerSignal
}

// PeerEventKind discriminates the variants of PeerEvent.
type PeerEventKind int

const (
	// EventIdAssigned is emitted exactly once, before any other event,
	// announcing the local peer's own id.
	EventIdAssigned PeerEventKind = iota
	// EventNewPeer announces a newly known remote; the message loop
	// starts an offer handshake with it.
	EventNewPeer
	// EventPeerLeft announces that an established peer disconnected.
	EventPeerLeft
	// EventSignal delivers a signaling payload (SDP/ICE fragment)
	// received from another peer, already decrypted and verified.
	EventSignal
)

// PeerEvent is emitted by the signaling loop to the message loop's
// inbound event queue. Exactly one of the kind-specific fields is
// meaningful, selected by Kind. This is an internal type: it never
// reaches the application directly (see peerproto.PeerStateChange and
// the per-channel queues exposed by the socket package for that).
type PeerEvent struct {
	Kind PeerEventKind

	// Id is valid when Kind == EventIdAssigned.
	Id peerid.PeerId

	// Peer is valid when Kind is EventNewPeer, EventPeerLeft, or
	// EventSignal: the remote the event concerns.
	Peer peerid.PeerId

	// Signal is valid when Kind == EventSignal: the payload received
	// from Peer, already decrypted and verified by the signaling loop.
	Signal PeerSignal
}

// Role identifies which side of a handshake a peer played: offerer
// (the side that saw NewPeer first) or answerer (the side that saw an
// unsolicited Signal first). Unlike a lexicographic tie-break, this is
// assigned by which event arrived first, so both sides can
// legitimately end up offering at once; see the Messenger's glare
// handling.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

// PeerState is the externally observable state of one peer, as
// reported on a socket's PeerStates channel.
type PeerState int

const (
	PeerDisconnected PeerState = iota
	PeerConnected
)

// String implements fmt.Stringer for logging.
func (s PeerState) String() string {
	if s == PeerConnected {
		return "connected"
	}
	return "disconnected"
}

// PeerStateChange is emitted on the socket's public peer-state channel
// whenever a peer transitions to Connected or Disconnected.
type PeerStateChange struct {
	Peer  peerid.PeerId
	State PeerState
}

// HandshakeResult is returned by a Messenger's handshake once a peer
// connection's data channels have all opened (success) or the
// handshake could not complete (error).
type HandshakeResult struct {
	Peer peerid.PeerId
	Role Role
	Err  error
}

// envelopeType discriminates the wire encoding of PeerRequest and
// PeerEvent values carried inside a NIP-04-decrypted event body. Both
// types share one "type" tag space so a single decode attempt can
// dispatch to whichever one the plaintext actually is, per spec: the
// signaling loop tries PeerRequest first, then PeerEvent.
type envelopeType string

const (
	envRequestSignal    envelopeType = "peer_request_signal"
	envRequestKeepAlive envelopeType = "peer_request_keep_alive"
	envEventIdAssigned  envelopeType = "peer_event_id_assigned"
	envEventNewPeer     envelopeType = "peer_event_new_peer"
	envEventPeerLeft    envelopeType = "peer_event_peer_left"
	envEventSignal      envelopeType = "peer_event_signal"
)

type envelope struct {
	Type   envelopeType `json:"type"`
	To     string       `json:"to,omitempty"`
	Id     string       `json:"id,omitempty"`
	Peer   string       `json:"peer,omitempty"`
	Signal *PeerSignal  `json:"signal,omitempty"`
}

// MarshalRequest serializes a PeerRequest for transport inside a
// NIP-04-encrypted event body.
func MarshalRequest(r PeerRequest) ([]byte, error) {
	switch r.Kind {
	case RequestSignal:
		sig := r.Signal
		return json.Marshal(envelope{Type: envRequestSignal, To: r.To.String(), Signal: &sig})
	case RequestKeepAlive:
		return json.Marshal(envelope{Type: envRequestKeepAlive})
	default:
		return nil, fmt.Errorf("peerproto: unknown PeerRequest kind %d", r.Kind)
	}
}

// MarshalEvent serializes a PeerEvent for transport inside a
// NIP-04-encrypted event body.
func MarshalEvent(e PeerEvent) ([]byte, error) {
	switch e.Kind {
	case EventIdAssigned:
		return json.Marshal(envelope{Type: envEventIdAssigned, Id: e.Id.String()})
	case EventNewPeer:
		return json.Marshal(envelope{Type: envEventNewPeer, Peer: e.Peer.String()})
	case EventPeerLeft:
		return json.Marshal(envelope{Type: envEventPeerLeft, Peer: e.Peer.String()})
	case EventSignal:
		sig := e.Signal
		return json.Marshal(envelope{Type: envEventSignal, Peer: e.Peer.String(), Signal: &sig})
	default:
		return nil, fmt.Errorf("peerproto: unknown PeerEvent kind %d", e.Kind)
	}
}

// ParseEnvelope decodes plaintext previously produced by MarshalRequest
// or MarshalEvent. Exactly one of the returned pointers is non-nil on
// success. An unrecognized "type" tag is reported as an error so the
// caller can drop the frame, per spec ("otherwise drop").
func ParseEnvelope(data []byte) (*PeerRequest, *PeerEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("decoding peer envelope: %w", err)
	}

	switch env.Type {
	case envRequestSignal:
		to, err := peerid.ParsePeerId(env.To)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding envelope recipient: %w", err)
		}
		var sig PeerSignal
		if env.Signal != nil {
			sig = *env.Signal
		}
		return &PeerRequest{Kind: RequestSignal, To: to, Signal: sig}, nil, nil
	case envRequestKeepAlive:
		return &PeerRequest{Kind: RequestKeepAlive}, nil, nil
	case envEventIdAssigned:
		id, err := peerid.ParsePeerId(env.Id)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding envelope id: %w", err)
		}
		return nil, &PeerEvent{Kind: EventIdAssigned, Id: id}, nil
	case envEventNewPeer:
		peer, err := peerid.ParsePeerId(env.Peer)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding envelope peer: %w", err)
		}
		return nil, &PeerEvent{Kind: EventNewPeer, Peer: peer}, nil
	case envEventPeerLeft:
		peer, err := peerid.ParsePeerId(env.Peer)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding envelope peer: %w", err)
		}
		return nil, &PeerEvent{Kind: EventPeerLeft, Peer: peer}, nil
	case envEventSignal:
		peer, err := peerid.ParsePeerId(env.Peer)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding envelope peer: %w", err)
		}
		var sig PeerSignal
		if env.Signal != nil {
			sig = *env.Signal
		}
		return nil, &PeerEvent{Kind: EventSignal, Peer: peer, Signal: sig}, nil
	default:
		return nil, nil, fmt.Errorf("peerproto: unrecognized envelope type %q", env.Type)
	}
}

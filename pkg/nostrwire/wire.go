// Package nostrwire implements the relay wire protocol (NIP-01): the
// JSON frames exchanged between a client and a Nostr relay, and the
// canonical serialization used to compute an event's id.
package nostrwire

import (
	"encoding/json"
	"fmt"
)

// KindEncryptedDirectMessage is the event kind used for all
// peer-to-peer signaling traffic (NIP-04).
const KindEncryptedDirectMessage = 4

// PeerTag is the hashtag carried on every signaling direct message so
// relays and peers can filter the mesh's traffic from the rest of the
// firehose.
const PeerTag = "matchbox-nostr-1"

// Tag is a single relay event tag: a non-empty list of strings, e.g.
// ["p", "<hex pubkey>"] or ["t", "matchbox-nostr-1"].
type Tag []string

// PubKeyTag builds a `p` (pubkey reference) tag.
func PubKeyTag(hexPubKey string) Tag { return Tag{"p", hexPubKey} }

// HashtagTag builds a `t` (hashtag) tag.
func HashtagTag(tag string) Tag { return Tag{"t", tag} }

// Event is a signed Nostr event, as exchanged over the relay wire.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// CanonicalBytes returns the canonical JSON serialization used to
// compute an event's id: the 6-element array
// [0, pubkey, created_at, kind, tags, content]. Field order and the
// leading 0 are part of the NIP-01 specification, not stylistic choice.
func (e Event) CanonicalBytes() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}
	arr := []any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}
	b, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing event: %w", err)
	}
	return b, nil
}

// ClientMessage is the envelope for the three client-to-relay frame
// kinds this library emits: EVENT, REQ, and CLOSE.
type ClientMessage struct {
	Kind         string // "EVENT", "REQ", "CLOSE"
	SubID        string // REQ, CLOSE
	Event        *Event // EVENT
	Filter       *Filter // REQ
}

// Filter is a relay subscription filter. Only the fields this library
// uses (kinds + since) are modeled; a real relay may accept more.
type Filter struct {
	Kinds []int `json:"kinds,omitempty"`
	Since int64 `json:"since,omitempty"`
}

// MarshalClientMessage serializes an outbound frame per NIP-01's
// tagged-array wire format.
func MarshalClientMessage(m ClientMessage) ([]byte, error) {
	switch m.Kind {
	case "EVENT":
		if m.Event == nil {
			return nil, fmt.Errorf("nostrwire: EVENT message missing event")
		}
		return json.Marshal([]any{"EVENT", m.Event})
	case "REQ":
		if m.Filter == nil {
			return nil, fmt.Errorf("nostrwire: REQ message missing filter")
		}
		return json.Marshal([]any{"REQ", m.SubID, m.Filter})
	case "CLOSE":
		return json.Marshal([]any{"CLOSE", m.SubID})
	default:
		return nil, fmt.Errorf("nostrwire: unknown client message kind %q", m.Kind)
	}
}

// RelayMessage is a parsed relay-to-client frame. Kind identifies the
// variant; only the fields relevant to that variant are populated.
type RelayMessage struct {
	Kind         string // "EVENT", "NOTICE", "EOSE", "OK", "AUTH", "COUNT", "EMPTY"
	SubID        string
	Event        *Event
	Notice       string
	OKEventID    string
	OKAccepted   bool
	OKMessage    string
	AuthChallenge string
	Count        int
}

// ParseRelayMessage decodes an inbound relay frame. Malformed or
// unrecognized frames return an error; the caller (the signaling loop)
// is expected to drop these and continue, per spec.
func ParseRelayMessage(data []byte) (RelayMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return RelayMessage{}, fmt.Errorf("decoding relay frame: %w", err)
	}
	if len(raw) == 0 {
		return RelayMessage{}, fmt.Errorf("nostrwire: empty relay frame")
	}
	var kind string
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return RelayMessage{}, fmt.Errorf("decoding relay frame kind: %w", err)
	}

	msg := RelayMessage{Kind: kind}
	switch kind {
	case "EVENT":
		if len(raw) < 3 {
			return RelayMessage{}, fmt.Errorf("nostrwire: malformed EVENT frame")
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding EVENT subscription id: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(raw[2], &ev); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding EVENT payload: %w", err)
		}
		msg.Event = &ev
	case "NOTICE":
		if len(raw) < 2 {
			return RelayMessage{}, fmt.Errorf("nostrwire: malformed NOTICE frame")
		}
		if err := json.Unmarshal(raw[1], &msg.Notice); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding NOTICE message: %w", err)
		}
	case "EOSE":
		if len(raw) < 2 {
			return RelayMessage{}, fmt.Errorf("nostrwire: malformed EOSE frame")
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding EOSE subscription id: %w", err)
		}
	case "OK":
		if len(raw) < 4 {
			return RelayMessage{}, fmt.Errorf("nostrwire: malformed OK frame")
		}
		if err := json.Unmarshal(raw[1], &msg.OKEventID); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding OK event id: %w", err)
		}
		if err := json.Unmarshal(raw[2], &msg.OKAccepted); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding OK accepted flag: %w", err)
		}
		if err := json.Unmarshal(raw[3], &msg.OKMessage); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding OK message: %w", err)
		}
	case "AUTH":
		if len(raw) < 2 {
			return RelayMessage{}, fmt.Errorf("nostrwire: malformed AUTH frame")
		}
		if err := json.Unmarshal(raw[1], &msg.AuthChallenge); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding AUTH challenge: %w", err)
		}
	case "COUNT":
		if len(raw) < 3 {
			return RelayMessage{}, fmt.Errorf("nostrwire: malformed COUNT frame")
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding COUNT subscription id: %w", err)
		}
		var countObj struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(raw[2], &countObj); err != nil {
			return RelayMessage{}, fmt.Errorf("decoding COUNT payload: %w", err)
		}
		msg.Count = countObj.Count
	case "EMPTY":
		// No payload.
	default:
		return RelayMessage{}, fmt.Errorf("nostrwire: unknown relay message kind %q", kind)
	}

	return msg, nil
}

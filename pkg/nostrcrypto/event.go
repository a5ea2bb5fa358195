package nostrcrypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/kuuji/meshrelay/pkg/nostrwire"
	"github.com/kuuji/meshrelay/pkg/peerid"
)

// EventID computes the id of an event: the hex-encoded sha256 of its
// canonical JSON serialization. The Sig and ID fields of ev are ignored.
func EventID(ev nostrwire.Event) (string, error) {
	b, err := ev.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SignEvent fills in ev.PubKey, ev.ID and ev.Sig: a BIP-340 Schnorr
// signature over the event id, produced by the holder of k.
func SignEvent(k KeyPair, ev nostrwire.Event) (nostrwire.Event, error) {
	ev.PubKey = k.Public.String()

	id, err := EventID(ev)
	if err != nil {
		return nostrwire.Event{}, err
	}
	ev.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return nostrwire.Event{}, fmt.Errorf("decoding event id: %w", err)
	}
	sig, err := schnorr.Sign(k.Private, idBytes)
	if err != nil {
		return nostrwire.Event{}, fmt.Errorf("signing event: %w", err)
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return ev, nil
}

// VerifyEvent checks that ev.ID matches its canonical serialization and
// that ev.Sig is a valid BIP-340 signature over that id by the pubkey
// named in ev.PubKey.
func VerifyEvent(ev nostrwire.Event) error {
	wantID, err := EventID(ev)
	if err != nil {
		return err
	}
	if wantID != ev.ID {
		return fmt.Errorf("nostrcrypto: event id mismatch: computed %s, got %s", wantID, ev.ID)
	}

	senderID, err := peerid.ParsePeerId(ev.PubKey)
	if err != nil {
		return fmt.Errorf("parsing event pubkey: %w", err)
	}
	pub, err := parsePublicKey(senderID)
	if err != nil {
		return err
	}

	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("decoding event signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parsing event signature: %w", err)
	}

	idBytes, err := hex.DecodeString(ev.ID)
	if err != nil {
		return fmt.Errorf("decoding event id: %w", err)
	}
	if !sig.Verify(idBytes, pub) {
		return fmt.Errorf("nostrcrypto: invalid signature from %s", senderID)
	}
	return nil
}

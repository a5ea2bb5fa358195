// Package nostrcrypto implements the cryptographic primitives the
// signaling loop treats as opaque functions: secp256k1 keypair handling,
// Nostr event id/signature computation, and NIP-04 direct-message
// encryption. None of this is exposed to the message loop — private key
// material lives only where the signaling loop holds it.
package nostrcrypto

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/kuuji/meshrelay/pkg/peerid"
)

// KeyPair holds a secp256k1 private key and its x-only public key, the
// latter doubling as the holder's PeerId.
type KeyPair struct {
	Private *btcec.PrivateKey
	Public  peerid.PeerId
}

// GenerateKeyPair creates a new random secp256k1 keypair.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return keyPairFromPrivate(priv), nil
}

// ParsePrivateKey builds a KeyPair from a 32-byte raw secp256k1 private
// key, e.g. one loaded from configuration.
func ParsePrivateKey(raw []byte) (KeyPair, error) {
	if len(raw) != 32 {
		return KeyPair{}, fmt.Errorf("nostrcrypto: private key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return keyPairFromPrivate(priv), nil
}

func keyPairFromPrivate(priv *btcec.PrivateKey) KeyPair {
	var pub peerid.PeerId
	copy(pub[:], schnorr.SerializePubKey(priv.PubKey()))
	return KeyPair{Private: priv, Public: pub}
}

// Bytes returns the raw 32-byte private key.
func (k KeyPair) Bytes() []byte {
	return k.Private.Serialize()
}

// parsePublicKey recovers a btcec public key from a PeerId (x-only,
// even-y convention per BIP-340).
func parsePublicKey(id peerid.PeerId) (*btcec.PublicKey, error) {
	pub, err := schnorr.ParsePubKey(id[:])
	if err != nil {
		return nil, fmt.Errorf("parsing peer public key: %w", err)
	}
	return pub, nil
}

// randomBytes fills a buffer with cryptographically random bytes.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

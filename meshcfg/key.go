package meshcfg

import (
	"encoding/hex"
	"fmt"
)

// KeySize is the length in bytes of a secp256k1 private key.
const KeySize = 32

// Key is a secp256k1 private key, encoded as hex in its TOML
// representation. It holds the same raw bytes as
// nostrcrypto.KeyPair.Bytes; Config.KeyPair converts it back.
type Key [KeySize]byte

// ParseKey decodes a hex-encoded key string into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decoding hex key: %w", err)
	}
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("invalid key length: got %d, want %d", len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// String returns the lowercase hex encoding of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool {
	var zero Key
	return k == zero
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

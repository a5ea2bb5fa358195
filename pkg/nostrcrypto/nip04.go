package nostrcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/kuuji/meshrelay/pkg/peerid"
)

// sharedSecret derives the NIP-04 shared secret between k and the peer
// identified by receiver: sha256 of the x-coordinate of
// k.Private * receiverPub.
func sharedSecret(k KeyPair, receiver peerid.PeerId) ([]byte, error) {
	receiverPub, err := parsePublicKey(receiver)
	if err != nil {
		return nil, err
	}
	x := btcec.GenerateSharedSecret(k.Private, receiverPub)
	sum := sha256.Sum256(x)
	return sum[:], nil
}

// EncryptDM encrypts plaintext for receiver using NIP-04: AES-256-CBC
// under the ECDH shared secret, PKCS#7 padded, with a random IV. The
// wire format is base64(ciphertext) + "?iv=" + base64(iv).
func EncryptDM(k KeyPair, receiver peerid.PeerId, plaintext []byte) (string, error) {
	key, err := sharedSecret(k, receiver)
	if err != nil {
		return "", err
	}

	iv, err := randomBytes(aes.BlockSize)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("constructing AES cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptDM reverses EncryptDM: sender is the peer whose public key
// produced the shared secret, i.e. the author of the direct message.
func DecryptDM(k KeyPair, sender peerid.PeerId, content string) ([]byte, error) {
	key, err := sharedSecret(k, sender)
	if err != nil {
		return nil, err
	}

	ctB64, ivB64, ok := strings.Cut(content, "?iv=")
	if !ok {
		return nil, fmt.Errorf("nostrcrypto: malformed NIP-04 content, missing \"?iv=\"")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return nil, fmt.Errorf("decoding NIP-04 ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("decoding NIP-04 iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("nostrcrypto: invalid iv length %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("nostrcrypto: invalid ciphertext length %d", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AES cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("nostrcrypto: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("nostrcrypto: invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}

package nostrcrypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptDM_RoundTrip(t *testing.T) {
	t.Parallel()

	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair(alice): %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair(bob): %v", err)
	}

	plaintext := []byte(`{"type":"peer_request_signal","to":"deadbeef"}`)

	content, err := EncryptDM(alice, bob.Public, plaintext)
	if err != nil {
		t.Fatalf("EncryptDM: %v", err)
	}

	got, err := DecryptDM(bob, alice.Public, content)
	if err != nil {
		t.Fatalf("DecryptDM: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("DecryptDM = %q, want %q", got, plaintext)
	}
}

func TestDecryptDM_RejectsMalformedContent(t *testing.T) {
	t.Parallel()

	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	if _, err := DecryptDM(bob, alice.Public, "not-base64?notiv="); err == nil {
		t.Fatal("DecryptDM: want error for malformed content, got nil")
	}
}

func TestSharedSecret_IsSymmetric(t *testing.T) {
	t.Parallel()

	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	a, err := sharedSecret(alice, bob.Public)
	if err != nil {
		t.Fatalf("sharedSecret(alice, bob): %v", err)
	}
	b, err := sharedSecret(bob, alice.Public)
	if err != nil {
		t.Fatalf("sharedSecret(bob, alice): %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("shared secret is not symmetric")
	}
}

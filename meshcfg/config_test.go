package meshcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuuji/meshrelay/pkg/nostrcrypto"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Room.URL = "wss://relay.example.com"
	cfg.Room.Attempts = 5
	cfg.Room.KeepAliveInterval = "30s"
	cfg.SetKeyPair(kp)

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Room.URL != cfg.Room.URL {
		t.Errorf("Room.URL = %q, want %q", loaded.Room.URL, cfg.Room.URL)
	}
	if loaded.Room.Attempts != 5 {
		t.Errorf("Room.Attempts = %d, want 5", loaded.Room.Attempts)
	}
	if loaded.Room.KeepAlive() != 30*time.Second {
		t.Errorf("Room.KeepAlive() = %v, want 30s", loaded.Room.KeepAlive())
	}

	loadedKP, err := loaded.KeyPair()
	if err != nil {
		t.Fatalf("loaded.KeyPair: %v", err)
	}
	if loadedKP.Public != kp.Public {
		t.Errorf("loaded identity = %s, want %s", loadedKP.Public, kp.Public)
	}
}

func TestLoad_MissingSecretsLeavesIdentityZero(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Room.URL = "wss://relay.example.com"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Remove the secrets file to simulate a public-only checkout.
	secretsPath := SecretsPathFromConfig(path)
	if err := os.Remove(secretsPath); err != nil {
		t.Fatalf("removing secrets file: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Identity.PrivateKey.IsZero() {
		t.Error("expected zero identity when secrets.toml is absent")
	}
}

func TestRoomConfig_AttemptsPtr(t *testing.T) {
	t.Parallel()

	zero := RoomConfig{Attempts: 0}
	if zero.AttemptsPtr() != nil {
		t.Error("Attempts: 0 should mean retry indefinitely (nil)")
	}

	five := RoomConfig{Attempts: 5}
	p := five.AttemptsPtr()
	if p == nil || *p != 5 {
		t.Errorf("AttemptsPtr() = %v, want pointer to 5", p)
	}
}

func TestKey_TextRoundTrip(t *testing.T) {
	t.Parallel()

	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	var k Key
	copy(k[:], kp.Bytes())

	text, err := k.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var k2 Key
	if err := k2.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if k2 != k {
		t.Errorf("round trip = %x, want %x", k2, k)
	}
}

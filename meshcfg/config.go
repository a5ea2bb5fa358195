// Package meshcfg is the TOML-backed configuration surface for a
// socket: the relay to join, retry and keep-alive timing, ICE server
// configuration, per-channel reliability settings, and the local
// identity keypair.
package meshcfg

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kuuji/meshrelay/iceconfig"
	"github.com/kuuji/meshrelay/pkg/nostrcrypto"
	"github.com/kuuji/meshrelay/pkg/peerid"
)

// DefaultSTUNServers are used when no ICE servers are configured.
var DefaultSTUNServers = []string{
	"stun:stun.cloudflare.com:3478",
	"stun:stun.l.google.com:19302",
}

// DefaultConfigDir is the user-level config directory for meshrelay.
const DefaultConfigDir = ".config/meshrelay"

// secretsFileName holds the local private key, kept separate from the
// otherwise world-readable config.
const secretsFileName = "secrets.toml"

// Config is the top-level socket configuration, persisted as a pair of
// TOML files: config.toml (public) and secrets.toml (the private key).
type Config struct {
	Room     RoomConfig     `toml:"room"`
	ICE      ICEConfig      `toml:"ice"`
	Channels []ChannelEntry `toml:"channel"`
	Identity IdentityConfig `toml:"identity"`
}

// RoomConfig identifies the relay to join and how hard to retry.
type RoomConfig struct {
	// URL is the wss:// address of the Nostr relay.
	URL string `toml:"url"`

	// Attempts bounds how many times the signaling loop retries a
	// failed connection. Omitted or zero means retry indefinitely.
	Attempts int `toml:"attempts,omitempty"`

	// KeepAliveInterval is the duration between KeepAlive ticks, as a
	// Go duration string (e.g. "30s"). Empty disables keep-alives.
	KeepAliveInterval string `toml:"keep_alive_interval,omitempty"`
}

// ICEConfig lists STUN servers and, optionally, TURN REST API servers
// with time-limited credentials derived from a shared secret.
type ICEConfig struct {
	// STUNServers is a list of STUN server URIs.
	STUNServers []string `toml:"stun_servers,omitempty"`

	// TURNServers configures static TURN servers with fixed
	// credentials (long-term credential mechanism).
	TURNServers []StaticTURNEntry `toml:"turn_server,omitempty"`

	// TURNRest configures shared-secret TURN REST API servers. socket.New
	// derives their username/password once, when the socket is built,
	// and every peer connection of that socket reuses them.
	TURNRest []TURNRestEntry `toml:"turn_rest,omitempty"`
}

// StaticTURNEntry is one TURN server with fixed credentials.
type StaticTURNEntry struct {
	URLs       []string `toml:"urls"`
	Username   string   `toml:"username,omitempty"`
	Credential string   `toml:"credential,omitempty"`
}

// TURNRestEntry is one TURN server using the shared-secret TURN REST
// API credential scheme.
type TURNRestEntry struct {
	URLs     string `toml:"urls"`
	Secret   string `toml:"secret"`
	Lifetime string `toml:"lifetime,omitempty"` // Go duration string
}

// ChannelEntry configures one data channel's reliability and ordering.
// Channels are indexed by their position in this list; the list order
// is the channel index order used throughout the socket API.
type ChannelEntry struct {
	Label             string  `toml:"label,omitempty"`
	Ordered           bool    `toml:"ordered"`
	MaxRetransmits    *uint16 `toml:"max_retransmits,omitempty"`
	MaxPacketLifetime *uint16 `toml:"max_packet_lifetime_ms,omitempty"`
}

// IdentityConfig holds the local keypair. PrivateKey is populated only
// when loaded from secrets.toml; it is the zero Key when absent, in
// which case the caller should generate and persist a new one.
type IdentityConfig struct {
	PrivateKey Key `toml:"private_key,omitempty"`
}

// configFile is the TOML shape of config.toml (no secrets).
type configFile struct {
	Room     RoomConfig     `toml:"room"`
	ICE      ICEConfig      `toml:"ice"`
	Channels []ChannelEntry `toml:"channel"`
}

// secretsFile is the TOML shape of secrets.toml.
type secretsFile struct {
	Identity IdentityConfig `toml:"identity"`
}

// DefaultConfig returns a Config with one reliable, ordered channel and
// the default public STUN servers. Room.URL and the identity must
// still be filled in.
func DefaultConfig() *Config {
	return &Config{
		ICE: ICEConfig{
			STUNServers: append([]string(nil), DefaultSTUNServers...),
		},
		Channels: []ChannelEntry{
			{Label: "default", Ordered: true},
		},
	}
}

// DefaultConfigPath returns ~/.config/meshrelay/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, "config.toml"), nil
}

// SecretsPathFromConfig derives the secrets.toml path from a
// config.toml path, keeping it alongside.
func SecretsPathFromConfig(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), secretsFileName)
}

// Load reads config.toml and secrets.toml from the directory containing
// path, merging them into one Config. If secrets.toml is missing, the
// identity is left zero-valued so the caller can generate one.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	applyDefaults(cfg)

	secretsPath := SecretsPathFromConfig(path)
	var sec secretsFile
	if _, err := toml.DecodeFile(secretsPath, &sec); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading secrets file %s: %w", secretsPath, err)
		}
	} else {
		cfg.Identity = sec.Identity
	}

	return cfg, nil
}

// Save writes both config.toml and secrets.toml to the directory
// containing path, creating it (0755) if necessary. secrets.toml is
// written with 0600 permissions since it holds the private key.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	if err := writeFile(path, 0644, configFile{Room: cfg.Room, ICE: cfg.ICE, Channels: cfg.Channels}); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	secretsPath := SecretsPathFromConfig(path)
	if err := writeFile(secretsPath, 0600, secretsFile{Identity: cfg.Identity}); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}
	return nil
}

func writeFile(path string, mode os.FileMode, v interface{}) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, mode)
}

func applyDefaults(cfg *Config) {
	if len(cfg.ICE.STUNServers) == 0 && len(cfg.ICE.TURNServers) == 0 && len(cfg.ICE.TURNRest) == 0 {
		cfg.ICE.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []ChannelEntry{{Label: "default", Ordered: true}}
	}
}

// KeyPair returns the local keypair stored in cfg's identity. It
// returns an error if the identity is unset; it does not generate one.
func (c *Config) KeyPair() (nostrcrypto.KeyPair, error) {
	if c.Identity.PrivateKey.IsZero() {
		return nostrcrypto.KeyPair{}, errors.New("meshcfg: identity private key is not set")
	}
	return nostrcrypto.ParsePrivateKey(c.Identity.PrivateKey[:])
}

// SetKeyPair stores kp's private key into the config's identity.
func (c *Config) SetKeyPair(kp nostrcrypto.KeyPair) {
	var k Key
	copy(k[:], kp.Bytes())
	c.Identity.PrivateKey = k
}

// AttemptsPtr returns the room's retry bound as *int for relay.Config:
// zero means "retry indefinitely" (nil).
func (r RoomConfig) AttemptsPtr() *int {
	if r.Attempts <= 0 {
		return nil
	}
	n := r.Attempts
	return &n
}

// KeepAlive parses the room's keep-alive interval, returning zero if
// unset or unparseable.
func (r RoomConfig) KeepAlive() time.Duration {
	if r.KeepAliveInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(r.KeepAliveInterval)
	if err != nil {
		return 0
	}
	return d
}

// ToPeerChannelConfigs converts the configured channel entries into
// peerid.ChannelConfig values, in order.
func (c *Config) ToPeerChannelConfigs() []peerid.ChannelConfig {
	out := make([]peerid.ChannelConfig, len(c.Channels))
	for i, ch := range c.Channels {
		out[i] = peerid.ChannelConfig{
			Label:             ch.Label,
			Ordered:           ch.Ordered,
			MaxRetransmits:    ch.MaxRetransmits,
			MaxPacketLifetime: ch.MaxPacketLifetime,
		}
	}
	return out
}

// ToICEServers builds the static ICE server list from configuration
// (STUN + fixed-credential TURN entries). TURN-REST entries are not
// resolved here: socket.New passes ToTURNRestConfigs to iceconfig.Build,
// which derives their time-limited credentials.
func (c *Config) ToICEServers() []peerid.RtcIceServerConfig {
	servers := make([]peerid.RtcIceServerConfig, 0, len(c.ICE.STUNServers)+len(c.ICE.TURNServers))
	for _, url := range c.ICE.STUNServers {
		servers = append(servers, peerid.RtcIceServerConfig{URLs: []string{url}})
	}
	for _, t := range c.ICE.TURNServers {
		servers = append(servers, peerid.RtcIceServerConfig{
			URLs:       t.URLs,
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return servers
}

// ToTURNRestConfigs converts the configured TURN-REST entries into
// iceconfig.TurnRestConfig values.
func (c *Config) ToTURNRestConfigs() []iceconfig.TurnRestConfig {
	out := make([]iceconfig.TurnRestConfig, len(c.ICE.TURNRest))
	for i, t := range c.ICE.TURNRest {
		lifetime := iceconfig.DefaultCredentialLifetime
		if t.Lifetime != "" {
			if d, err := time.ParseDuration(t.Lifetime); err == nil {
				lifetime = d
			}
		}
		out[i] = iceconfig.TurnRestConfig{
			URLs:     []string{t.URLs},
			Secret:   t.Secret,
			Lifetime: lifetime,
		}
	}
	return out
}

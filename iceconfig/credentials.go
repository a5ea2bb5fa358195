// Package iceconfig builds the RtcIceServerConfig list a socket hands
// to its Messenger: static STUN/TURN URLs plus, when a shared secret
// is configured, time-limited TURN REST API credentials.
package iceconfig

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kuuji/meshrelay/pkg/peerid"
)

// DefaultCredentialLifetime is the default validity period for TURN credentials.
const DefaultCredentialLifetime = 24 * time.Hour

// TurnRestConfig configures the shared-secret TURN REST API credential
// scheme for one TURN server entry.
type TurnRestConfig struct {
	URLs     []string
	Secret   string
	Lifetime time.Duration // defaults to DefaultCredentialLifetime if zero
}

// GenerateCredentials creates time-limited TURN REST API credentials from
// a shared secret. The username encodes the expiry timestamp and peer ID;
// the password is an HMAC-SHA1 of the username, keyed by the shared secret.
//
// This follows the TURN REST API convention used by coturn and supported
// by pion/ice:
//
//	username = "<unix_expiry>:<peerID>"
//	password = base64(HMAC-SHA1(secret, username))
func GenerateCredentials(secret, peerID string, lifetime time.Duration) (username, password string) {
	if lifetime == 0 {
		lifetime = DefaultCredentialLifetime
	}
	expiry := time.Now().Add(lifetime).Unix()
	username = fmt.Sprintf("%d:%s", expiry, peerID)
	password = computePassword(secret, username)
	return username, password
}

// ValidateCredentials checks that TURN REST API credentials are valid and
// not expired, recomputing the password from the shared secret.
func ValidateCredentials(secret, username, password string) error {
	parts := strings.SplitN(username, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid username format: expected '<expiry>:<peerID>'")
	}

	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiry in username: %w", err)
	}
	if time.Now().Unix() > expiry {
		return fmt.Errorf("credentials expired at %d", expiry)
	}

	expected := computePassword(secret, username)
	if !hmac.Equal([]byte(password), []byte(expected)) {
		return fmt.Errorf("invalid password")
	}
	return nil
}

func computePassword(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Build assembles the ICE server list for one peer connection: static
// servers passed through unchanged, and TURN-REST servers with freshly
// derived credentials scoped to local.
func Build(local peerid.PeerId, static []peerid.RtcIceServerConfig, turnREST []TurnRestConfig) []peerid.RtcIceServerConfig {
	servers := make([]peerid.RtcIceServerConfig, 0, len(static)+len(turnREST))
	servers = append(servers, static...)

	for _, t := range turnREST {
		username, password := GenerateCredentials(t.Secret, local.String(), t.Lifetime)
		servers = append(servers, peerid.RtcIceServerConfig{
			URLs:       t.URLs,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

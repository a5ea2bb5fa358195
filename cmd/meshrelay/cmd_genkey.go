package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuuji/meshrelay/pkg/nostrcrypto"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a new secp256k1 identity keypair",
	Long: `Generate a new secp256k1 private key for use as a meshrelay identity.
The private key is printed to stdout as hex. The corresponding public
key (which doubles as the peer id) is printed to stderr.

Example:
  meshrelay genkey                    # print private key
  meshrelay genkey 2>/dev/null        # private key only (pipe-friendly)`,
	RunE: runGenkey,
}

func runGenkey(cmd *cobra.Command, args []string) error {
	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	fmt.Println(hex.EncodeToString(kp.Bytes()))
	fmt.Fprintf(cmd.ErrOrStderr(), "peer id: %s\n", kp.Public.String())
	return nil
}

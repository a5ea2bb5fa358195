package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuuji/meshrelay/meshcfg"
	"github.com/kuuji/meshrelay/pkg/nostrcrypto"
)

var initRoomURL string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a new config file with a freshly generated identity",
	Long: `Create config.toml and secrets.toml at the resolved config path,
with a fresh identity keypair and the given relay URL. Fails if a
config file already exists at that path.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initRoomURL, "room", "", "wss:// URL of the Nostr relay to use")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if initRoomURL == "" {
		return fmt.Errorf("--room is required")
	}

	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	cfg := meshcfg.DefaultConfig()
	cfg.Room.URL = initRoomURL
	cfg.SetKeyPair(kp)

	if err := meshcfg.Save(path, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\npeer id: %s\n", path, kp.Public.String())
	return nil
}

// resolvedConfigPath returns the config file path, using the global
// flag if set, otherwise the default user-level path.
func resolvedConfigPath() string {
	if globalConfigPath != "" {
		return globalConfigPath
	}
	p, err := meshcfg.DefaultConfigPath()
	if err != nil {
		return "config.toml"
	}
	return p
}

// Command meshrelay is a WebRTC mesh-networking peer that uses a
// Nostr relay for signaling instead of a dedicated server.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Global flags shared across subcommands.
var (
	globalConfigPath string
	globalVerbose    bool
	globalLogger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "meshrelay",
	Short: "WebRTC mesh networking signaled over a Nostr relay",
	Long: `meshrelay connects peers directly over WebRTC data channels,
using a Nostr relay instead of a dedicated signaling server to
exchange offers, answers, and ICE candidates.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if globalVerbose {
			level = slog.LevelDebug
		}
		globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", "", "path to config file (default: ~/.config/meshrelay/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(genkeyCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(joinCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

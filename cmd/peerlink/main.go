// peerlink - peer-to-peer sync core over a shared record store.
//
// Each instance publishes its own catalog and host state, relays
// conversations that need a reply to an inference server, and executes
// commands other peers queue for it. Peers never talk to each other
// directly: everything goes through the shared record store, with MQTT
// wake-ups so changes are picked up without waiting for a poll.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/peerlink-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/peerlink.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM so every command can shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "peerlink",
		Short:         "peerlink - peer-to-peer sync core",
		Long:          "peerlink shares model catalogs, relays conversations and runs remote commands through a shared record store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().String("config", "", "config file (default $PEERLINK_CONFIG or "+defaultConfigPath+")")

	cmd.AddCommand(
		newServeCmd(),
		newCatalogCmd(),
		newExecCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "peerlink %s (commit %s, built %s)\n", version, commit, date)
			return err
		},
	}
}

// configPath resolves the config file: --config, then PEERLINK_CONFIG,
// then the default.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	if path := os.Getenv("PEERLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relay-cli",
	Short: "Relay hub CLI tool",
	Long: `relay-cli is a command-line client for the Relay event-distribution hub.

Available commands:
  token     Mint a bearer token for an identity
  listen    Connect to a hub and stream messages

Use "relay-cli [command] --help" for more information about a specific command.`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

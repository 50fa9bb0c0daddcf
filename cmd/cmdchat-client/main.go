package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cmdchat-client",
	Short: "cmdchat-client - encrypted room-based chat client",
	Long: `cmdchat-client dials a cmdchat-server, performs an RSA-OAEP
handshake to negotiate a per-session AES-256-GCM key, and exchanges
encrypted chat, rename, room-switch, and file-transfer messages for as
long as the connection (or a reconnect attempt) holds.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Note: commands are registered in their respective files
	// - connect.go: connectCmd
	// - version.go: versionCmd
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cmdchat-server",
	Short: "cmdchat-server - encrypted room-based chat broker",
	Long: `cmdchat-server runs the in-memory, room-based chat broker: a TCP
listener that performs an RSA-OAEP handshake with each client, negotiates
a per-session AES-256-GCM key, and fans out chat, rename, room-switch,
and file-transfer messages to every other session in the room.`,
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
	// - serve.go: serveCmd
	// - version.go: versionCmd
}

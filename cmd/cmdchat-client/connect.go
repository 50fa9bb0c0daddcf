package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amariwan/cmdchat-go/client"
	"github.com/amariwan/cmdchat-go/client/filetransfer"
	"github.com/amariwan/cmdchat-go/client/render"
	"github.com/amariwan/cmdchat-go/config"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/protocol"
)

var (
	connHost              string
	connPort              int
	connName              string
	connRoom              string
	connToken             string
	connRenderer          string
	connBufferSize        int
	connQuietReconnect    bool
	connHistoryFile       string
	connHistoryPassphrase string
	connTLS               bool
	connTLSInsecure       bool
	connCAFile            string
	connConfigFile        string
	connEnvFile           string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a chat room",
	Long: `connect dials a cmdchat-server, performs the handshake, and then
reads lines from stdin: a plain line is sent as a chat message, a line
starting with "/" is routed to a slash command (/quit, /help, /clear,
/send, /nick, /join). Inbound payloads are rendered with --renderer and
printed to stdout, one per line.`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	defaults := config.DefaultClientConfig()
	connectCmd.Flags().StringVar(&connHost, "host", defaults.Host, "server address")
	connectCmd.Flags().IntVar(&connPort, "port", defaults.Port, "server port")
	connectCmd.Flags().StringVar(&connName, "name", "", "display name")
	connectCmd.Flags().StringVar(&connRoom, "room", "", "room to join")
	connectCmd.Flags().StringVar(&connToken, "token", "", "auth token, if the server requires one")
	connectCmd.Flags().StringVar(&connRenderer, "renderer", defaults.Renderer, "renderer: rich, minimal, or json")
	connectCmd.Flags().IntVar(&connBufferSize, "buffer-size", defaults.BufferSize, "pending output buffer size, clamped to [10,1000]")
	connectCmd.Flags().BoolVar(&connQuietReconnect, "quiet-reconnect", false, "suppress reconnect status logging")
	connectCmd.Flags().StringVar(&connHistoryFile, "history-file", "", "encrypted local history file")
	connectCmd.Flags().StringVar(&connHistoryPassphrase, "history-passphrase", "", "passphrase for --history-file (required if set)")
	connectCmd.Flags().BoolVar(&connTLS, "tls", false, "connect over TLS")
	connectCmd.Flags().BoolVar(&connTLSInsecure, "tls-insecure", false, "skip TLS certificate verification")
	connectCmd.Flags().StringVar(&connCAFile, "ca-file", "", "CA certificate bundle for TLS verification")
	connectCmd.Flags().StringVar(&connConfigFile, "config", "", "optional YAML config file, overridden by flags")
	connectCmd.Flags().StringVar(&connEnvFile, "env-file", "", "optional .env file to load before reading CMDCHAT_* variables")
}

func runConnect(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(connEnvFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.LoadClientConfigFile(connConfigFile)
	if err != nil {
		return err
	}

	applyFlag(cmd, "host", &cfg.Host, connHost)
	applyFlag(cmd, "port", &cfg.Port, connPort)
	applyFlag(cmd, "name", &cfg.Name, connName)
	applyFlag(cmd, "room", &cfg.Room, connRoom)
	applyFlag(cmd, "token", &cfg.Token, connToken)
	applyFlag(cmd, "renderer", &cfg.Renderer, connRenderer)
	applyFlag(cmd, "buffer-size", &cfg.BufferSize, connBufferSize)
	applyFlag(cmd, "quiet-reconnect", &cfg.QuietReconnect, connQuietReconnect)
	applyFlag(cmd, "history-file", &cfg.HistoryFile, connHistoryFile)
	applyFlag(cmd, "history-passphrase", &cfg.HistoryPassphrase, connHistoryPassphrase)
	applyFlag(cmd, "tls", &cfg.TLS, connTLS)
	applyFlag(cmd, "tls-insecure", &cfg.TLSInsecure, connTLSInsecure)
	applyFlag(cmd, "ca-file", &cfg.CAFile, connCAFile)

	if cfg.HistoryFile != "" && cfg.HistoryPassphrase == "" {
		return fmt.Errorf("--history-passphrase is required when --history-file is set")
	}

	log := logger.NewDefaultLogger()
	if cfg.QuietReconnect {
		log.SetLevel(logger.ErrorLevel)
	}

	renderer := render.NewRenderer(protocol.NormalizeRenderer(cfg.Renderer))

	c, err := client.New(cfg, log, func(v interface{}) {
		printPayload(renderer, v)
	})
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx) }()

	scanner := bufio.NewScanner(os.Stdin)
	go func() {
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if err := c.SendLine(line); err != nil {
				fmt.Fprintf(os.Stderr, "[error] %v\n", err)
			}
		}
		c.Stop()
	}()

	return <-runErrCh
}

func applyFlag[T any](cmd *cobra.Command, name string, dst *T, flagValue T) {
	if cmd.Flags().Changed(name) {
		*dst = flagValue
	}
}

// printPayload renders one decoded inbound payload to stdout. File
// transfers print a one-line summary instead of the renderer output,
// since FileInitPayload/FileChunkPayload/filetransfer.Completed aren't
// meant for the json/rich/minimal renderers (they carry raw bytes or
// base64 chunk data, not display text).
func printPayload(r render.Renderer, v interface{}) {
	switch payload := v.(type) {
	case filetransfer.Completed:
		fmt.Printf("[file] received %q (%d bytes)\n", payload.Filename, len(payload.Data))
		return
	case protocol.FileInitPayload:
		fmt.Printf("[file] %s is sending %q (%d bytes)\n", payload.Sender, payload.Filename, payload.Filesize)
		return
	case protocol.FileChunkPayload:
		return
	}

	out, err := r.Render(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[error] render failed: %v\n", err)
		return
	}
	fmt.Println(out)
}

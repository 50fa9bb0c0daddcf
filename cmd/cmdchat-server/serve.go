package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amariwan/cmdchat-go/config"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/internal/metrics"
	"github.com/amariwan/cmdchat-go/server"
)

var (
	flagHost            string
	flagPort            int
	flagCertFile        string
	flagKeyFile         string
	flagMetricsInterval int
	flagMetricsAddr     string
	flagConfigFile      string
	flagEnvFile         string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat broker",
	Long: `serve binds a TCP listener and runs the broker: it accepts
connections, performs the RSA-OAEP handshake, admits sessions into the
room registry, and dispatches chat, rename, room-switch, and file-transfer
messages until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := config.DefaultServerConfig()
	serveCmd.Flags().StringVar(&flagHost, "host", defaults.Host, "address to bind")
	serveCmd.Flags().IntVar(&flagPort, "port", defaults.Port, "port to bind")
	serveCmd.Flags().StringVar(&flagCertFile, "certfile", "", "TLS certificate file (enables TLS together with --keyfile)")
	serveCmd.Flags().StringVar(&flagKeyFile, "keyfile", "", "TLS private key file (enables TLS together with --certfile)")
	serveCmd.Flags().IntVar(&flagMetricsInterval, "metrics-interval", 0, "seconds between metrics snapshots (0 disables)")
	serveCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (empty disables)")
	serveCmd.Flags().StringVar(&flagConfigFile, "config", "", "optional YAML config file, overridden by flags and env")
	serveCmd.Flags().StringVar(&flagEnvFile, "env-file", "", "optional .env file to load before reading CMDCHAT_* variables")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(flagEnvFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.LoadServerConfigFile(flagConfigFile)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	if cmd.Flags().Changed("host") {
		cfg.Host = flagHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("certfile") {
		cfg.CertFile = flagCertFile
	}
	if cmd.Flags().Changed("keyfile") {
		cfg.KeyFile = flagKeyFile
	}
	if cmd.Flags().Changed("metrics-interval") {
		cfg.MetricsInterval = flagMetricsInterval
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}

	log := logger.NewLogger(os.Stdout, logger.ParseLevel(cfg.LogLevel))
	log.Info("starting cmdchat-server",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.Bool("tls", cfg.TLSEnabled()),
		logger.Bool("auth", cfg.AuthEnabled()),
	)

	srv := server.New(cfg, log)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info("metrics listening", logger.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server failed", logger.String("error", err.Error()))
			}
		}()
	}

	serveErr := srv.Serve(ctx)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", logger.String("error", err.Error()))
		}
		shutdownCancel()
	}

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}

	log.Info("shutdown complete")
	return nil
}

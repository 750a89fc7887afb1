// Package main provides the CLI entry point for the media relay.
package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/backkem/mediarelay/pkg/config"
	"github.com/backkem/mediarelay/pkg/metrics"
	"github.com/backkem/mediarelay/pkg/relay"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "media-relay",
		Short: "WebRTC secure media transport",
		Long: `media-relay terminates ICE-lite connectivity checks, DTLS-SRTP
handshakes and SRTP media for many WebRTC peers on one UDP port.

Sessions are created by an external signaling layer.`,
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(fingerprintCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the media socket",
		Long:  "Open the shared media socket and serve sessions until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			loggerFactory := logging.NewDefaultLoggerFactory()
			loggerFactory.DefaultLogLevel = cfg.PionLogLevel()
			log := loggerFactory.NewLogger("media-relay")

			cert, err := cfg.Certificate.LoadCertificate()
			if err != nil {
				return fmt.Errorf("failed to load certificate: %w", err)
			}

			rc, err := relay.NewContext(cert, loggerFactory, metrics.NewMetrics())
			if err != nil {
				return err
			}

			srv, err := relay.NewServer(relay.ServerConfig{
				Context:           rc,
				ListenAddr:        cfg.Listen,
				CandidateEndpoint: cfg.CandidateEndpoint(),
				MaxSessions:       cfg.MaxSessions,
				Params:            cfg.Session.Params(),
			})
			if err != nil {
				return fmt.Errorf("failed to open media socket: %w", err)
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}

			fp, _ := cert.SDPFingerprint()
			fmt.Printf("Media socket: %s\n", srv.LocalAddr())
			fmt.Printf("Fingerprint:  %s\n", fp)
			if cand, err := srv.LocalCandidate(); err == nil {
				fmt.Printf("Candidate:    %s\n", cand)
			}

			var metricsServer *http.Server
			if cfg.MetricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsServer = &http.Server{
					Addr:              cfg.MetricsListen,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Errorf("metrics server: %v", err)
					}
				}()
				fmt.Printf("Metrics:      http://%s/metrics\n", cfg.MetricsListen)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			log.Infof("received %s, shutting down", sig)

			if metricsServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = metricsServer.Shutdown(ctx)
				cancel()
			}
			return srv.Stop()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}

func fingerprintCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the DTLS certificate fingerprints",
		Long:  "Print the SHA-256 and SHA-1 fingerprints of the configured certificate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Certificate.Cert == "" {
				return errors.New("no certificate configured; a fresh one is generated on every start")
			}

			cert, err := cfg.Certificate.LoadCertificate()
			if err != nil {
				return fmt.Errorf("failed to load certificate: %w", err)
			}
			for _, h := range []struct {
				name string
				hash crypto.Hash
			}{
				{"sha-256", crypto.SHA256},
				{"sha-1", crypto.SHA1},
			} {
				fp, err := cert.Fingerprint(h.hash)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", h.name, fp)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blinksend/discovery"
	"blinksend/relay"
)

func relayCmd() *cobra.Command {
	var (
		listen    string
		metrics   string
		advertise bool
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay that peers connect to",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cmd.Flags().Changed("listen") {
				listen = cfg.RelayListen
			}
			if !cmd.Flags().Changed("metrics") {
				metrics = cfg.MetricsListen
			}
			if !cmd.Flags().Changed("advertise") {
				advertise = cfg.AdvertiseMDNS
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r := relay.New(relay.Options{
				ListenAddress: listen,
				Logger:        logger.Named("relay"),
			})
			if err := r.Start(); err != nil {
				return fmt.Errorf("failed to start relay: %w", err)
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Relay:"), valueStyle.Render(r.Addr().String()))

			if advertise {
				port := 0
				if tcp, ok := r.Addr().(*net.TCPAddr); ok {
					port = tcp.Port
				}
				broadcaster, err := discovery.StartBroadcaster(discovery.Config{
					InstanceName: cfg.DisplayName,
					RelayID:      cfg.InstallID,
					Port:         port,
				})
				if err != nil {
					logger.Warn("mDNS advertisement failed", zap.Error(err))
				} else {
					defer broadcaster.Stop()
					fmt.Fprintf(out, "%s %s\n", labelStyle.Render("mDNS:"), valueStyle.Render(discovery.DefaultService))
				}
			}

			if metrics != "" {
				server := startMetricsServer(metrics, logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Metrics:"), valueStyle.Render("http://"+metrics+"/metrics"))
			}

			fmt.Fprintln(out, mutedStyle.Render("Press Ctrl+C to stop"))
			<-ctx.Done()
			fmt.Fprintln(out, mutedStyle.Render("Shutting down"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "TCP listen address (default from config)")
	cmd.Flags().StringVar(&metrics, "metrics", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&advertise, "advertise", true, "advertise the relay over mDNS")
	return cmd
}

func startMetricsServer(address string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", relay.MetricsHandler())

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return server
}

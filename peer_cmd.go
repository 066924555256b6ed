package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blinksend/client"
	"blinksend/config"
	"blinksend/models"
	"blinksend/storage"
	"blinksend/transfer"
)

// peerFlags are shared by every command that joins a relay.
type peerFlags struct {
	relay   string
	name    string
	timeout time.Duration
}

func (f *peerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.relay, "relay", "r", "", "relay host:port (default from config, else mDNS)")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "display name (default from config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "how long to wait for the relay and peers")
}

// peerSession is one connected client plus the resources it owns.
type peerSession struct {
	client *client.Client
	store  *storage.Store
	logger *zap.Logger
}

func (s *peerSession) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	_ = s.logger.Sync()
}

// openPeer loads config, opens history and connects to the relay with the
// given callbacks.
func openPeer(ctx context.Context, flags peerFlags, options client.Options) (*peerSession, *config.Config, error) {
	logger := setupLogger(verbose)

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, _, err := storage.Open(filepath.Dir(cfgPath))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}

	options.RelayAddress = firstNonEmpty(flags.relay, cfg.RelayAddress)
	options.Name = firstNonEmpty(flags.name, cfg.DisplayName)
	options.DownloadsDir = cfg.DownloadsDir
	options.ChunkSize = cfg.ChunkSize
	options.MaxFileSize = cfg.MaxFileSize
	options.ConnectionTimeout = flags.timeout
	options.Store = store
	options.Logger = logger.Named("client")

	connectCtx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()
	c, err := client.Connect(connectCtx, options)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &peerSession{client: c, store: store, logger: logger}, cfg, nil
}

func peersCmd() *cobra.Command {
	var flags peerFlags

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List peers connected to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			roster := make(chan []models.Peer, 1)
			session, _, err := openPeer(cmd.Context(), flags, client.Options{
				OnPeersChanged: func(peers []models.Peer) {
					select {
					case roster <- peers:
					default:
					}
				},
			})
			if err != nil {
				return err
			}
			defer session.Close()

			var peers []models.Peer
			select {
			case peers = <-roster:
			case <-time.After(flags.timeout):
				peers = session.client.Peers()
			}

			out := cmd.OutOrStdout()
			self := session.client.Self()
			fmt.Fprintf(out, "%s %s %s\n", labelStyle.Render("You:"), valueStyle.Render(self.Name), mutedStyle.Render(self.ID))
			if len(peers) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No other peers connected"))
				return nil
			}
			fmt.Fprintln(out, renderPeersTable(peers))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		flags peerFlags
		to    string
	)

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Offer a file to a peer and stream it once accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(to) == "" {
				return fmt.Errorf("--to is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			done := make(chan error, 1)
			finish := func(err error) {
				select {
				case done <- err:
				default:
				}
			}

			session, _, err := openPeer(ctx, flags, client.Options{
				OnAccepted: func(offer models.FileOffer) {
					fmt.Fprintln(out, accentStyle.Render("Accepted, sending..."))
				},
				OnRejected: func(offer models.FileOffer, reason string) {
					finish(fmt.Errorf("%s was rejected: %s", offer.Name, reason))
				},
				OnProgress: func(progress transfer.Progress) {
					fmt.Fprintf(out, "\r%s %s", renderProgressBar(progress.Percent, 30), mutedStyle.Render(formatBytes(progress.BytesTransferred)))
				},
				OnSent: func(offer models.FileOffer) {
					finish(nil)
				},
				OnCancelled: func(cancellation transfer.Cancellation) {
					finish(fmt.Errorf("transfer cancelled: %s", cancellation.Reason))
				},
			})
			if err != nil {
				return err
			}
			defer session.Close()

			waitCtx, cancel := context.WithTimeout(ctx, flags.timeout)
			peer, err := session.client.WaitForPeer(waitCtx, to)
			cancel()
			if err != nil {
				return fmt.Errorf("peer %q not found: %w", to, err)
			}

			fileID, err := session.client.SendFile(peer.ID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Offered %s to %s %s\n", valueStyle.Render(filepath.Base(args[0])), valueStyle.Render(peer.Label()), mutedStyle.Render(fileID))
			fmt.Fprintln(out, mutedStyle.Render("Waiting for the peer to respond"))

			select {
			case err := <-done:
				fmt.Fprintln(out)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, accentStyle.Render("Sent"))
				return nil
			case <-session.client.Done():
				return fmt.Errorf("relay connection lost")
			case <-ctx.Done():
				_ = session.client.Cancel(transfer.ReasonCancelled)
				return ctx.Err()
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&to, "to", "t", "", "recipient name or id")
	return cmd
}

func receiveCmd() *cobra.Command {
	var (
		flags peerFlags
		yes   bool
		once  bool
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for incoming offers and download accepted files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			offers := make(chan models.FileOffer, 8)
			finished := make(chan struct{}, 8)

			session, cfg, err := openPeer(ctx, flags, client.Options{
				OnOffer: func(offer models.FileOffer) {
					offers <- offer
				},
				OnProgress: func(progress transfer.Progress) {
					fmt.Fprintf(out, "\r%s %s", renderProgressBar(progress.Percent, 30), mutedStyle.Render(formatBytes(progress.BytesTransferred)))
				},
				OnReceived: func(file client.ReceivedFile) {
					fmt.Fprintf(out, "\n%s %s\n", accentStyle.Render("Saved"), valueStyle.Render(file.Path))
					finished <- struct{}{}
				},
				OnCancelled: func(cancellation transfer.Cancellation) {
					fmt.Fprintf(out, "\n%s %s: %s\n", dangerStyle.Render("Cancelled"), cancellation.Offer.Name, cancellation.Reason)
					finished <- struct{}{}
				},
			})
			if err != nil {
				return err
			}
			defer session.Close()

			self := session.client.Self()
			fmt.Fprintf(out, "Receiving as %s %s\n", valueStyle.Render(self.Name), mutedStyle.Render(self.ID))
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Downloads:"), cfg.DownloadsDir)

			answers := readLines(cmd.InOrStdin())
			for {
				select {
				case offer := <-offers:
					sender := offer.From
					if peer, ok := findRosterPeer(session.client.Peers(), offer.From); ok {
						sender = peer.Label()
					}
					fmt.Fprintf(out, "%s wants to send %s (%s)\n", valueStyle.Render(sender), valueStyle.Render(offer.Name), formatBytes(offer.Size))

					accept := yes
					if !yes {
						fmt.Fprint(out, "Accept? [y/N] ")
						select {
						case answer, ok := <-answers:
							accept = ok && isYes(answer)
						case <-ctx.Done():
							return nil
						}
					}
					if err := session.client.Respond(offer.From, accept); err != nil {
						fmt.Fprintf(out, "%s %v\n", dangerStyle.Render("Respond failed:"), err)
						continue
					}
					if !accept {
						fmt.Fprintln(out, mutedStyle.Render("Declined"))
					}
				case <-finished:
					if once {
						return nil
					}
				case <-session.client.Done():
					return fmt.Errorf("relay connection lost")
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept every offer without asking")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first finished transfer")
	return cmd
}

// readLines feeds lines from r to the returned channel until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func findRosterPeer(peers []models.Peer, id string) (models.Peer, bool) {
	for _, peer := range peers {
		if peer.ID == id {
			return peer, true
		}
	}
	return models.Peer{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}


package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"blinksend/storage"
)

func historyCmd() *cobra.Command {
	var (
		direction string
		status    string
		peer      string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfgPath, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store, _, err := storage.Open(filepath.Dir(cfgPath))
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()

			records, err := store.ListTransfers(storage.TransferFilter{
				Direction: direction,
				PeerID:    peer,
				Status:    status,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No transfers yet"))
				return nil
			}
			fmt.Fprintln(out, renderHistoryTable(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "", "filter by direction (send or receive)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&peer, "peer", "", "filter by peer id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	return cmd
}

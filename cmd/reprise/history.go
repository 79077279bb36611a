package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reprise/internal/config"
	"reprise/internal/ledger"
)

func historyCmd() *cobra.Command {
	var limit int
	var configPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent job records from the run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			led, err := ledger.Open(filepath.Join(cfg.WorkDir, "reprise.db"))
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer led.Close()

			records, err := led.Recent(limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORIGIN\tSTATUS\tSTART\tEND\tDETAILS")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.Origin, r.Status, r.StartTime.Format("2006-01-02 15:04:05"), r.EndTime.Format("15:04:05"), r.Details)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records to show, most recent first")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	return cmd
}

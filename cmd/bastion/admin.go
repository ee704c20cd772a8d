package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"bastion/internal/config"
	"bastion/internal/expiry"
	"bastion/internal/privileges"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

func newExpiriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expiries",
		Short: "List pending mute and ban expiries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tUSER\tEXPIRES\tIN")
			now := time.Now()
			for _, kind := range expiry.Timed {
				rows, err := store.ListExpiries(cmd.Context(), kind)
				if err != nil {
					return err
				}
				for _, row := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, row.UserID, row.ExpiresAt.Format(time.RFC3339), row.ExpiresAt.Sub(now).Round(time.Second))
				}
			}
			return w.Flush()
		},
	}
}

func newCheckRanksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-ranks [path]",
		Short: "Validate a rank table file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				path = cfg.RanksPath
			}
			table, err := config.LoadRanks(path)
			if err != nil {
				return err
			}
			if _, err := privileges.NewEvaluator(table); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d ranks ok\n", path, len(table.Ranks))
			return nil
		},
	}
}

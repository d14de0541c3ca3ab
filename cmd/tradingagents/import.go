package main

import (
	"fmt"
	"os"

	"github.com/mohammad-safakhou/tradingagents/internal/reports"
	"github.com/spf13/cobra"
)

func importCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <session.json>",
		Short: "Validate and store a complete session exported as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := reports.ParsePayload(data)
			if err != nil {
				return err
			}
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			st, err := a.newStore(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Reports.ImportSession(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported session %s with %d report(s)\n", p.SessionID, len(p.Reports))
			return nil
		},
	}
}

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func dbinfoCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dbinfo",
		Short: "Print database health and server details as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			health := st.Pool.HealthCheck(cmd.Context())
			out := map[string]interface{}{"health": health}
			if health.Healthy {
				info, err := st.Pool.DatabaseInfo(cmd.Context())
				if err != nil {
					return err
				}
				out["database"] = info
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

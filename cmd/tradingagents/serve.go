package main

import (
	"github.com/mohammad-safakhou/tradingagents/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD(a *app) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only reports HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.Server.Address = addr
			}
			return server.Run(cmd.Context(), cfg, logger)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return serve
}

package main

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/tradingagents/internal/runtime"
	"github.com/spf13/cobra"
)

func tokenCMD(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for the reports endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			tok, err := runtime.SignJWT(subject, secret, ttl, runtime.ScopeReportsRead)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "dashboard", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return token
}

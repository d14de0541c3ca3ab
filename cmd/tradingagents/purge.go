package main

import (
	"fmt"

	"github.com/mohammad-safakhou/tradingagents/internal/retention"
	"github.com/spf13/cobra"
)

func purgeCMD(a *app) *cobra.Command {
	var days int
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete sessions older than the retention window",
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

			rc := cfg.Retention
			if cmd.Flags().Changed("days") {
				if days < 1 {
					return fmt.Errorf("--days must be >= 1, got %d", days)
				}
				rc.Days = days
			}
			var locker retention.Locker
			if r := cfg.Storage.Redis; r.Enabled() {
				rdb, err := retention.NewRedisClient(cmd.Context(), r.Addr(), r.Password, r.DB, r.Timeout)
				if err != nil {
					return err
				}
				defer rdb.Close()
				locker = retention.RedisLocker{Client: rdb}
			}
			sw, err := retention.New(rc, st.Reports, locker, logger)
			if err != nil {
				return err
			}
			n, ran, err := sw.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), warnMark("Another instance holds the retention lock; nothing done"))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d session(s) older than %d day(s)\n", n, rc.Normalize().Days)
			return nil
		},
	}
	purge.Flags().IntVar(&days, "days", 0, "retention window in days (default retention.days)")
	return purge
}

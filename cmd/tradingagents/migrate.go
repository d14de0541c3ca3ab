package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mohammad-safakhou/tradingagents/internal/migrations"
	"github.com/spf13/cobra"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
)

func migrateCMD(a *app) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the report database schema",
	}

	var target string
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Starting database migration...")
			if target != "" {
				fmt.Fprintf(out, "Target version: %s\n", target)
			} else {
				fmt.Fprintln(out, "Target version: latest")
			}
			err := a.withRunner(cmd.Context(), func(r *migrations.Runner) error {
				return r.MigrateUp(cmd.Context(), target)
			})
			if err != nil {
				fmt.Fprintln(out, failMark("❌ Migration failed!"))
				return err
			}
			fmt.Fprintln(out, okMark("✅ Migration completed successfully!"))
			return nil
		},
	}
	up.Flags().StringVar(&target, "target", "", "apply up to and including this version")

	down := &cobra.Command{
		Use:   "down <version>",
		Short: "Roll back migrations newer than version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Starting database rollback to version %s...\n", args[0])
			err := a.withRunner(cmd.Context(), func(r *migrations.Runner) error {
				return r.MigrateDown(cmd.Context(), args[0])
			})
			if err != nil {
				fmt.Fprintln(out, failMark("❌ Rollback failed!"))
				return err
			}
			fmt.Fprintln(out, okMark("✅ Rollback completed successfully!"))
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied migrations and their integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRunner(cmd.Context(), func(r *migrations.Runner) error {
				st, err := r.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), st)
			})
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the live schema against the expected one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Validating database schema...")
			return a.withRunner(cmd.Context(), func(r *migrations.Runner) error {
				ok, issues := r.ValidateSchema(cmd.Context())
				if ok {
					fmt.Fprintln(out, okMark("✅ Schema validation passed!"))
					return nil
				}
				fmt.Fprintln(out, failMark("❌ Schema validation failed!"))
				fmt.Fprintln(out, "\nIssues found:")
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
				return errors.New("schema validation failed")
			})
		},
	}

	migrate.AddCommand(up, down, status, validate)
	return migrate
}

// withRunner opens a dedicated connection and runs fn against the embedded
// migration set.
func (a *app) withRunner(ctx context.Context, fn func(*migrations.Runner) error) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	st, err := a.newStore(cfg, logger)
	if err != nil {
		return err
	}
	reg, err := migrations.DefaultRegistry()
	if err != nil {
		return err
	}
	db, err := st.Pool.OpenDirect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(migrations.NewRunner(db, reg, logger))
}

func printStatus(w io.Writer, st []migrations.Status) error {
	fmt.Fprintln(w, "Migration Status:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED\tINTEGRITY")
	for _, s := range st {
		applied := warnMark("pending")
		if s.Applied {
			applied = okMark("applied")
		}
		integrity := okMark("ok")
		switch {
		case !s.Applied:
			integrity = "-"
		case !s.IntegrityOK:
			integrity = failMark("MISMATCH")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Version, s.Name, applied, integrity)
	}
	return tw.Flush()
}

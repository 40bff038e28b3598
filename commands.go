package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"carwatch/api"
	"carwatch/config"
	"carwatch/utils"
)

// commandContext loads configuration once per invocation.
type commandContext struct {
	cfg    *config.Config
	logger *utils.Logger
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) app() (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, c.logger), nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{logger: utils.NewLogger()}

	rootCmd := &cobra.Command{
		Use:           "carwatch",
		Short:         "Vehicle listing watcher and subscriber notifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newCredentialsCommand(ctx))
	rootCmd.AddCommand(newBenchmarkCommand(ctx))
	rootCmd.AddCommand(newRegionsCommand(ctx))
	return rootCmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scan scheduler and the control API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := ctx.app()
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.Scheduler(sigCtx)
			if err != nil {
				return err
			}
			var srv *api.Server
			if !noAPI {
				if srv, err = a.APIServer(sigCtx); err != nil {
					return err
				}
			}

			errc := make(chan error, 2)
			running := 1
			go func() { errc <- sched.Run(sigCtx) }()
			if srv != nil {
				running++
				go func() {
					err := srv.Run(sigCtx)
					if err != nil {
						cancel()
						err = fmt.Errorf("api: %w", err)
					}
					errc <- err
				}()
			}

			var firstErr error
			for range running {
				if err := <-errc; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
					firstErr = err
				}
			}
			ctx.logger.Info("[run] Stopped")
			return firstErr
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not start the control API")
	return cmd
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a single pass over all configured regions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := ctx.app()
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.Scheduler(sigCtx)
			if err != nil {
				return err
			}
			stats := sched.RunPass(sigCtx)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Pass", "Regions", "Failed", "Ingested", "Sent", "Purged", "Duration"},
				[][]string{{
					stats.ID,
					strconv.Itoa(stats.Regions),
					strconv.Itoa(stats.Failed),
					strconv.Itoa(stats.Ingested),
					strconv.Itoa(stats.Sent),
					strconv.FormatInt(stats.Purged, 10),
					stats.Duration.Round(time.Millisecond).String(),
				}},
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return sigCtx.Err()
		},
	}
}

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the contact-lookup credential pool",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pooled credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.app()
			if err != nil {
				return err
			}
			pool, err := a.CredentialPool()
			if err != nil {
				return err
			}
			creds, err := pool.List()
			if err != nil {
				return err
			}
			if len(creds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Credential pool is empty")
				return nil
			}
			rows := make([][]string, len(creds))
			for i, c := range creds {
				rows[i] = []string{strconv.Itoa(i + 1), c}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "Credential"}, rows, []columnAlignment{alignRight}))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <credential>...",
		Short: "Add credentials to the pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.app()
			if err != nil {
				return err
			}
			pool, err := a.CredentialPool()
			if err != nil {
				return err
			}
			var size int
			for _, c := range args {
				if size, err = pool.Add(c); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pool now holds %d credential(s)\n", size)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <credential>...",
		Short: "Evict credentials from the pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.app()
			if err != nil {
				return err
			}
			pool, err := a.CredentialPool()
			if err != nil {
				return err
			}
			var size int
			for _, c := range args {
				if size, err = pool.Evict(c); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pool now holds %d credential(s)\n", size)
			return nil
		},
	})
	return cmd
}

func newBenchmarkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "benchmark <brand-model> <year>",
		Short: "Show the rolling price benchmark for a model and year",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("year must be numeric: %q", args[1])
			}
			a, err := ctx.app()
			if err != nil {
				return err
			}
			defer a.Close()

			estimator, err := a.Estimator(cmd.Context())
			if err != nil {
				return err
			}
			b, err := estimator.Estimate(cmd.Context(), args[0], year)
			if err != nil {
				return err
			}
			avg, lo, hi := "-", "-", "-"
			if b.Available {
				avg = strconv.FormatInt(b.Average, 10)
				lo = strconv.FormatInt(b.Min, 10)
				hi = strconv.FormatInt(b.Max, 10)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Brand/model", "Year", "Samples", "Average", "Min", "Max"},
				[][]string{{args[0], args[1], strconv.Itoa(b.Count), avg, lo, hi}},
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newRegionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List the configured regions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows := make([][]string, len(cfg.Regions))
			for i, r := range cfg.Regions {
				rows[i] = []string{strconv.Itoa(r.ID), r.Slug, r.Name}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Slug", "Name"}, rows, []columnAlignment{alignRight}))
			return nil
		},
	}
}

// Package cli implements reportctl, the operator command line for report jobs.
//
//	reportctl migrate                        apply embedded schema migrations
//	reportctl enqueue --year 2024 --month 3  queue a monthly report
//	reportctl list                           show every report job
//	reportctl retry <id>                     re-arm a COMPLETE or ERROR job
//	reportctl run-once                       process at most one pending job
//
// Every command accepts --config/-c naming a YAML file layered under the
// environment.
package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"carbon-reports/internal/config"
	"carbon-reports/internal/logging"
	"carbon-reports/internal/models"
	"carbon-reports/internal/worker"
)

// Reports is the job manager surface the CLI uses.
type Reports interface {
	Enqueue(ctx context.Context, year, month int) (models.ReportJob, bool, error)
	List(ctx context.Context) ([]models.ReportJob, error)
	Requeue(ctx context.Context, id string) (models.ReportJob, error)
}

// Runner processes a single job.
type Runner interface {
	RunOnce(ctx context.Context) (worker.Outcome, error)
}

// Backend is what a command needs once configuration is loaded.
type Backend struct {
	Reports Reports
	Runner  Runner
	Migrate func(ctx context.Context) error
	Close   func()
}

// Opener connects a Backend for cfg.
type Opener func(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Backend, error)

type rootOptions struct {
	configFile string
	open       Opener
}

// BuildCLI returns the root command.
func BuildCLI(open Opener) *cobra.Command {
	opts := &rootOptions{open: open}
	rootCmd := &cobra.Command{
		Use:           "reportctl",
		Short:         "Manage monthly carbon report jobs",
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")

	rootCmd.AddCommand(
		buildMigrateCommand(opts),
		buildEnqueueCommand(opts),
		buildListCommand(opts),
		buildRetryCommand(opts),
		buildRunOnceCommand(opts),
	)
	return rootCmd
}

// withBackend loads config, opens the backend, runs fn and closes it.
func (o *rootOptions) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *Backend) error) error {
	var (
		cfg config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg, "reportctl")
	if cfg.LogFile == "" {
		// Keep stdout for command output.
		log.Logger.SetOutput(cmd.ErrOrStderr())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := o.open(ctx, cfg, log)
	if err != nil {
		return err
	}
	if b.Close != nil {
		defer b.Close()
	}
	return fn(ctx, b)
}

func buildMigrateCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if err := b.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func buildEnqueueCommand(o *rootOptions) *cobra.Command {
	var year, month int
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a report for a calendar month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				job, created, err := b.Reports.Enqueue(ctx, year, month)
				if err != nil {
					return err
				}
				verb := "queued"
				if !created {
					verb = "already exists"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s (%s)\n", job.Period(), verb, job.ID, job.Status)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "report year, e.g. 2024")
	cmd.Flags().IntVar(&month, "month", 0, "report month, 1-12")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func buildListCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List report jobs, newest period first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				list, err := b.Reports.List(ctx)
				if err != nil {
					return err
				}
				return printJobs(cmd.OutOrStdout(), list)
			})
		},
	}
}

func buildRetryCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Re-queue a COMPLETE or ERROR report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				job, err := b.Reports.Requeue(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s requeued %s (%s)\n", job.Period(), job.ID, job.Status)
				return nil
			})
		},
	}
}

func buildRunOnceCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Process at most one pending report and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				outcome, err := b.Runner.RunOnce(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), outcome)
				return err
			})
		},
	}
}

func printJobs(w io.Writer, list []models.ReportJob) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPERIOD\tSTATUS\tARTIFACT\tUPDATED")
	for _, j := range list {
		key := "-"
		if j.ArtifactKey != nil {
			key = *j.ArtifactKey
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Period(), j.Status, key, j.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"transcribeflow/internal/daemon"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Watch the inbox and process jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()
			return d.Run(cmd.Context())
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Execute the pipeline once for a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()
			if err := d.RunJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s processed\n", args[0])
			return nil
		},
	}
}

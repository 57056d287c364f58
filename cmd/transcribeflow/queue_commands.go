package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"transcribeflow/internal/config"
	"transcribeflow/internal/publisher"
	"transcribeflow/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueApproveCommand(ctx))
	queueCmd.AddCommand(newQueueRequestChangesCommand(ctx))
	queueCmd.AddCommand(newQueueRejectCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueLogsCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st store.Store) error {
				health, err := st.Health(cmd.Context())
				if err != nil {
					return err
				}
				if health.Total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := [][]string{
					{renderStatus(store.StatusPending, colorize), strconv.Itoa(health.Pending)},
					{renderStatus(store.StatusProcessing, colorize), strconv.Itoa(health.Processing)},
					{renderStatus(store.StatusAwaitingReview, colorize), strconv.Itoa(health.AwaitingReview)},
					{renderStatus(store.StatusApproved, colorize), strconv.Itoa(health.Approved)},
					{renderStatus(store.StatusFailed, colorize), strconv.Itoa(health.Failed)},
					{renderStatus(store.StatusRejected, colorize), strconv.Itoa(health.Rejected)},
					{"total", strconv.Itoa(health.Total)},
				}
				rendered := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), rendered)
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]store.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, ok := store.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(_ *config.Config, st store.Store) error {
				jobs, err := st.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						job.Filename,
						job.ProfileID,
						renderStatus(job.Status, colorize),
						strconv.Itoa(job.Version),
						job.UpdatedAt.Format(time.RFC3339),
					})
				}
				rendered := renderTable(
					[]string{"Job ID", "File", "Profile", "Status", "Version", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), rendered)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Requeue failed jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st store.Store) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					job, err := st.GetJob(cmd.Context(), id)
					if err != nil {
						return err
					}
					if job == nil {
						fmt.Fprintf(out, "Job %s not found\n", id)
						continue
					}
					if job.Status != store.StatusFailed && job.Status != store.StatusAdjustmentsRequired {
						fmt.Fprintf(out, "Job %s is not in a retryable state (%s)\n", id, job.Status)
						continue
					}
					job.Status = store.StatusPending
					job.Version++
					job.ErrorMessage = ""
					if err := st.UpdateJob(cmd.Context(), job); err != nil {
						return err
					}
					fmt.Fprintf(out, "Job %s requeued as version %d\n", id, job.Version)
				}
				return nil
			})
		},
	}
}

func newQueueApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <job-id>",
		Short: "Approve a job awaiting review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st store.Store) error {
				job, err := st.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				if job.Status != store.StatusAwaitingReview {
					return fmt.Errorf("job %s is not awaiting review (%s)", job.ID, job.Status)
				}
				job.Status = store.StatusApproved
				job.NeedsReview = false
				job.ReviewReason = ""
				if err := st.UpdateJob(cmd.Context(), job); err != nil {
					return err
				}
				packagePath := filepath.Join(cfg.Paths.OutputDir, job.ID)
				sheet := publisher.NewCSVSheet(cfg.Paths.CSVLogPath)
				if err := sheet.Register(cmd.Context(), job, packagePath); err != nil {
					return fmt.Errorf("record delivery: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s approved; delivery recorded at %s\n", job.ID, packagePath)
				return nil
			})
		},
	}
}

func newQueueRequestChangesCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "request-changes <job-id>",
		Short: "Send a job awaiting review back for adjustments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st store.Store) error {
				job, err := st.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				if job.Status != store.StatusAwaitingReview {
					return fmt.Errorf("job %s is not awaiting review (%s)", job.ID, job.Status)
				}
				job.Status = store.StatusAdjustmentsRequired
				job.NeedsReview = true
				if reason != "" {
					job.ReviewReason = reason
				}
				if err := st.UpdateJob(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s sent back for adjustments\n", job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the request")
	return cmd
}

func newQueueRejectCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <job-id>",
		Short: "Reject a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st store.Store) error {
				job, err := st.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				if err := store.ValidateTransition(job.Status, store.StatusRejected); err != nil {
					return fmt.Errorf("job %s: %w", job.ID, err)
				}
				job.Status = store.StatusRejected
				if reason != "" {
					job.ReviewReason = reason
				}
				if err := st.UpdateJob(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s rejected\n", job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the rejection")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearStatuses []string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]store.Status, 0, len(clearStatuses))
			for _, raw := range clearStatuses {
				status, ok := store.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}
			if len(statuses) == 0 {
				statuses = []store.Status{store.StatusApproved, store.StatusRejected}
			}

			return ctx.withStore(func(_ *config.Config, st store.Store) error {
				removed, err := st.DeleteJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d jobs\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&clearStatuses, "status", "s", nil, "Statuses to clear (default approved and rejected)")
	return cmd
}

func newQueueLogsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs [job-id]",
		Short: "Show recent log entries, optionally scoped to one job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st store.Store) error {
				var (
					entries []*store.LogEntry
					err     error
				)
				if len(args) == 1 {
					entries, err = st.LogsForJob(cmd.Context(), args[0], limit)
				} else {
					entries, err = st.RecentLogs(cmd.Context(), limit)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No log entries")
					return nil
				}
				for _, entry := range entries {
					fmt.Fprintf(out, "%s [%s] %s %s", entry.CreatedAt.Format(time.RFC3339), entry.Level, entry.JobID, entry.Event)
					if entry.Message != "" && entry.Message != entry.Event {
						fmt.Fprintf(out, " %s", entry.Message)
					}
					if len(entry.Payload) > 0 {
						fmt.Fprintf(out, " %v", entry.Payload)
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum log entries to show")
	return cmd
}

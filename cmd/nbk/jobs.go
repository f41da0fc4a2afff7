package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/ui"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and repair the pipeline job queue",
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats <notebook>",
	Short: "Show per-type job counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		stats, err := c.JobStats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}

		jobTypes := make([]types.JobType, 0, len(stats.Counts))
		for t := range stats.Counts {
			jobTypes = append(jobTypes, t)
		}
		// Pipeline order: upstream stages first.
		sort.Slice(jobTypes, func(i, j int) bool {
			return jobTypes[i].BasePriority() < jobTypes[j].BasePriority()
		})

		fmt.Printf("%-16s %8s %12s %10s %7s\n", "TYPE", "PENDING", "IN_PROGRESS", "COMPLETED", "FAILED")
		for _, t := range jobTypes {
			counts := stats.Counts[t]
			failed := fmt.Sprint(counts.Failed)
			if counts.Failed > 0 {
				failed = ui.Styled(ui.BadStyle, failed)
			}
			fmt.Printf("%-16s %8d %12d %10d %7s\n",
				t, counts.Pending, counts.InProgress, counts.Completed, failed)
		}
		return nil
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry-failed <notebook>",
	Short: "Return terminally failed jobs to the queue",
	Long: `Return terminally failed jobs to the queue.

Admin only. Every job that exhausted its retries goes back to pending
with a fresh retry budget; workers will pick them up on their next
poll.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		n, err := c.RetryFailedJobs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		fmt.Printf("Requeued %d failed job(s)\n", n)
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsStatsCmd, jobsRetryCmd)
	rootCmd.AddCommand(jobsCmd)
}

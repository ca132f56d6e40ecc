package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/platformbuilds/shiftgate/internal/api"
	"github.com/platformbuilds/shiftgate/internal/models"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [service]",
		Short: "Show migration run status from a running controller",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(adminURL, 10*time.Second)
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if len(args) == 1 {
				run, err := client.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				printRuns([]models.MigrationRun{run})
				return nil
			}

			runs, err := client.ListRuns(ctx)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no migration runs")
				return nil
			}
			printRuns(runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminURL, "admin-url", "http://localhost:8088", "base URL of the controller admin API")
	return cmd
}

func printRuns(runs []models.MigrationRun) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATUS\tSTAGE\tBLUE\tREASON\tSTARTED")
	for _, run := range runs {
		blue := "-"
		if run.CurrentStage >= 0 && run.CurrentStage < len(run.Stages) {
			blue = fmt.Sprintf("%d%%", run.Stages[run.CurrentStage])
		}
		reason := string(run.AbortReason)
		if run.Status == models.RunRolledBack && run.FailedTrigger != nil {
			reason = run.FailedTrigger.Signal
		}
		if reason == "" {
			reason = "-"
		}
		started := "-"
		if !run.StartedAt.IsZero() {
			started = run.StartedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			run.Service, run.Status, run.CurrentStage+1, len(run.Stages), blue, reason, started)
	}
	w.Flush()
}

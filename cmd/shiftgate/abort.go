package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platformbuilds/shiftgate/internal/api"
)

func newAbortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort <service>",
		Short: "Abort the in-flight migration for a service",
		Long:  "Asks a running controller to halt the service's migration and restore\n100% of traffic to blue. The run terminates Aborted, not RolledBack.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(adminURL, 10*time.Second)
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if err := client.Abort(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("abort accepted for %s, traffic restored to blue\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&adminURL, "admin-url", "http://localhost:8088", "base URL of the controller admin API")
	return cmd
}

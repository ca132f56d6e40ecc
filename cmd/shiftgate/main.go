package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/platformbuilds/shiftgate/internal/config"
	"github.com/platformbuilds/shiftgate/internal/engine"
)

var (
	configPath string
	adminURL   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shiftgate",
		Short:         "Progressive blue/green traffic migration controller",
		Long:          "shiftgate shifts traffic from blue to green in monotonic stages,\nwatching rollback triggers between stages and restoring 100% blue on violation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (or SHIFTGATE_CONFIG)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newAbortCmd())
	root.AddCommand(newValidateCmd())
	return root
}

// exitCode maps terminal run outcomes onto process exit codes so CI
// pipelines can branch on the result without parsing logs.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, engine.ErrRolledBack):
		return 2
	case errors.Is(err, engine.ErrOperatorAbort), errors.Is(err, engine.ErrInfrastructure):
		return 3
	case errors.Is(err, config.ErrInvalid), errors.Is(err, engine.ErrInvalidPlan), errors.Is(err, engine.ErrUnknownService):
		return 1
	default:
		return 1
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platformbuilds/shiftgate/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without starting a migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := cfg.Migration.TriggerList(); err != nil {
				return err
			}
			fmt.Printf("configuration valid: %d services, %d stages, %d triggers\n",
				len(cfg.Migration.Services), len(cfg.Migration.Stages), len(cfg.Migration.Triggers))
			return nil
		},
	}
}

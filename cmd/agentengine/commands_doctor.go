package main

import (
	"github.com/spf13/cobra"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and check storage connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default: $AGENTENGINE_CONFIG or agentengine.yaml)")
	return cmd
}

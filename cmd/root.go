package cmd

import (
	"github.com/spf13/cobra"
	"mimic-export/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mimic-export",
		Short: "practice session recording and export service",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	return rootCmd
}

package cmd

import (
	"github.com/spf13/cobra"
	"mimic-export/config"
	server2 "mimic-export/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server and export consumer",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}

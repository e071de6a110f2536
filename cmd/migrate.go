package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"mimic-export/config"
	server2 "mimic-export/server"
)

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(config)
			repo, err := server2.OpenRepository(config)
			if err != nil {
				return err
			}
			if err := repo.Migrate(ctx); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Str("driver", config.Database.Driver).Msg("schema migrated")
			return nil
		},
	}
}

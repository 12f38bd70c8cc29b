package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending goose migrations to the configured Postgres database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.DBConnection, log)
		if err != nil {
			return err
		}
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
		return nil
	},
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/newspipe/internal/database"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			log = log.WithComponent("migrate")

			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			applied, err := database.Migrate(cmd.Context(), store.db)
			if err != nil {
				return err
			}
			log.Info("migrations applied", "count", applied)

			return nil
		},
	}
}

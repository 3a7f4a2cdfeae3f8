package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/newspipe/internal/workqueue"
)

func coordinatorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "coordinator",
		Short: "Run the work queue coordinator",
		Long: `Runs the HTTP coordinator that hands out domain-exclusive leases to
extraction workers and enforces fleet-wide per-domain pacing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			log = log.WithComponent("coordinator")

			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			coordinator := workqueue.NewCoordinator(cfg, store.candidates, store.sources, log)
			go coordinator.Run(cmd.Context())

			server := workqueue.NewServer(coordinator, cfg.CoordinatorAddr, log)

			return server.Start(cmd.Context())
		},
	}
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/newspipe/internal/housekeeper"
)

func housekeepCommand() *cobra.Command {
	var (
		dryRun   bool
		schedule bool
	)

	cmd := &cobra.Command{
		Use:   "housekeep",
		Short: "Run the maintenance sweep",
		Long: `Expires stale article candidates, pauses null-text articles, and warns
about rows stuck mid-pipeline. Runs once by default; --schedule keeps the
process alive and sweeps daily.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			log = log.WithComponent("housekeeper")

			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			var opts []housekeeper.Option
			if dryRun {
				opts = append(opts, housekeeper.WithDryRun())
			}
			h := housekeeper.New(cfg, store.candidates, store.articles, log, opts...)

			if schedule {
				return h.Schedule(cmd.Context())
			}

			_, err = h.RunOnce(cmd.Context())

			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute sweep counts without writing")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "stay resident and sweep daily")

	return cmd
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/newspipe/internal/discovery"
	"github.com/jonesrussell/newspipe/internal/verify"
)

const defaultVerifyBatch = 100

func verifyCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify discovered candidate links",
		Long: `Probes candidates in discovered status with HEAD requests and promotes
each one to article, not_article, or verify_failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			log = log.WithComponent("verifier")

			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			verifier := verify.New(
				store.candidates,
				store.telemetry,
				discovery.NewURLShapeScorer(),
				log,
				verify.WithFetchTimeout(cfg.FetchTimeout()),
			)

			verified, err := verifier.RunBatch(cmd.Context(), limit)
			if err != nil {
				return err
			}
			log.Info("verification batch finished", "promoted_to_article", verified)

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultVerifyBatch, "max candidates to verify")

	return cmd
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/newspipe/internal/extract"
	"github.com/jonesrussell/newspipe/internal/index"
	"github.com/jonesrussell/newspipe/internal/worker"
	"github.com/jonesrussell/newspipe/internal/workqueue"
)

func workerCommand() *cobra.Command {
	var (
		workerID    string
		snapshotDir string
		headless    bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run an extraction worker",
		Long: `Runs an extraction worker that requests claimed candidates from the
coordinator, extracts article content, and persists articles. Degrades to
uncoordinated claims if the coordinator is unreachable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if workerID == "" {
				workerID = "worker-" + uuid.NewString()[:8]
			}
			log = log.WithComponent("worker")

			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			cache, err := extract.NewSnapshotCache(snapshotDir)
			if err != nil {
				return err
			}

			parser := extract.NewContentParser()
			client := &http.Client{Timeout: cfg.FetchTimeout()}
			extractors := []extract.Extractor{
				extract.NewSnapshotMethod(cache, parser),
				extract.NewReadabilityMethod(client, parser, cache, cfg.UserAgent),
			}
			if headless {
				headlessMethod := extract.NewHeadlessMethod(parser, cache)
				defer func() { _ = headlessMethod.Close() }()
				extractors = append(extractors, headlessMethod)
			}
			chain := extract.NewChain(log, extractors...)

			source := workqueue.NewFallbackSource(
				workqueue.NewClient(cfg.CoordinatorURL), store.candidates, log,
			)

			var opts []worker.Option
			if cfg.ElasticsearchURL != "" {
				indexer, indexErr := index.New(cfg.ElasticsearchURL, log)
				if indexErr != nil {
					return fmt.Errorf("connect elasticsearch: %w", indexErr)
				}
				opts = append(opts, worker.WithIndexer(indexer))
			}

			w := worker.New(
				workerID, cfg, source, chain,
				store.articles, store.candidates, log, opts...,
			)

			log.Info("worker starting", "worker_id", workerID)
			if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&workerID, "id", "", "stable worker ID (random when empty)")
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "snapshots", "page snapshot cache directory")
	cmd.Flags().BoolVar(&headless, "headless", false, "enable the headless-browser extraction method")

	return cmd
}

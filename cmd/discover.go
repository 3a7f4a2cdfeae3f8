package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/newspipe/internal/database"
	"github.com/jonesrussell/newspipe/internal/discovery"
	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/schedule"
)

// datasetLister narrows source listing to one dataset tag.
type datasetLister struct {
	sources *database.SourceRepository
	dataset string
}

func (l datasetLister) List(ctx context.Context) ([]*domain.Source, error) {
	return l.sources.ListByDataset(ctx, l.dataset)
}

func discoverCommand() *cobra.Command {
	var (
		forceAll bool
		dataset  string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run a discovery pass over due sources",
		Long: `Finds article URLs for sources whose cadence has elapsed, trying RSS
feeds, template parsing, and homepage classification in order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			log = log.WithComponent("discovery")

			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			singleDomain, err := store.candidates.SingleDomainDatasets(cmd.Context())
			if err != nil {
				log.Warn("single-domain dataset detection failed", "error", err.Error())
				singleDomain = map[string]bool{}
			}

			var lister schedule.SourceLister = store.sources
			if dataset != "" {
				lister = datasetLister{sources: store.sources, dataset: dataset}
			}

			scheduler := schedule.New(
				lister,
				schedule.WithRSSRetryWindow(cfg.RSSRetryWindow()),
				schedule.WithSingleDomainDatasets(singleDomain),
			)

			plans, err := scheduler.DueSources(cmd.Context(), time.Now(), forceAll)
			if err != nil {
				return err
			}
			log.Info("discovery pass starting", "due_sources", len(plans), "force_all", forceAll)

			client := &http.Client{Timeout: cfg.FetchTimeout()}
			fetcher := discovery.NewHTTPFetcher(client, cfg.UserAgent)

			methods := []discovery.Method{
				discovery.NewFeedMethod(fetcher),
				discovery.NewTemplateMethod(cfg.UserAgent, cfg.FetchTimeout()),
				discovery.NewHomepageMethod(fetcher),
			}

			bookkeeper := &discovery.RSSBookkeeper{
				MissingThreshold:   cfg.RSSMissingThreshold,
				TransientThreshold: cfg.RSSTransientThreshold,
				TransientWindow:    cfg.RSSTransientWindowDuration(),
			}

			engine := discovery.NewEngine(
				methods, store.candidates, store.sources, store.telemetry, bookkeeper, log,
			)

			return engine.Run(cmd.Context(), plans)
		},
	}

	cmd.Flags().BoolVar(&forceAll, "force-all", false, "ignore cadence and run every source")
	cmd.Flags().StringVar(&dataset, "dataset", "", "restrict the pass to sources tagged with this dataset")

	return cmd
}

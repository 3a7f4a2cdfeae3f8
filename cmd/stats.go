package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/newspipe/internal/workqueue"
)

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show work queue state",
		Long:  `Fetches the coordinator's lease, cooldown, and pause snapshot.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			client := workqueue.NewClient(cfg.CoordinatorURL)
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch coordinator stats: %w", err)
			}

			fmt.Printf("Pending candidates: %d\n", stats.TotalAvailable)
			fmt.Printf("Paused domains:     %d\n\n", stats.TotalPaused)

			renderWorkerTable(stats)
			renderDomainTable(stats)

			return nil
		},
	}
}

func renderWorkerTable(stats *workqueue.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Worker", "Leased Domains"})

	workers := make([]string, 0, len(stats.WorkerAssignments))
	for id := range stats.WorkerAssignments {
		workers = append(workers, id)
	}
	sort.Strings(workers)

	for _, id := range workers {
		t.AppendRow(table.Row{id, strings.Join(stats.WorkerAssignments[id], ", ")})
	}
	t.Render()
}

func renderDomainTable(stats *workqueue.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Domain", "State", "Cooldown (s)"})

	for _, host := range stats.DomainsAvailable {
		t.AppendRow(table.Row{host, "available", ""})
	}

	cooldowns := make([]string, 0, len(stats.DomainCooldowns))
	for host := range stats.DomainCooldowns {
		cooldowns = append(cooldowns, host)
	}
	sort.Strings(cooldowns)
	for _, host := range cooldowns {
		t.AppendRow(table.Row{host, "cooling down", fmt.Sprintf("%.0f", stats.DomainCooldowns[host])})
	}

	for _, host := range stats.DomainsPaused {
		t.AppendRow(table.Row{host, "paused", ""})
	}

	t.Render()
}

// Package app runs a one-shot scraping session and prints a per-adapter
// summary table.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gosuri/uitable"

	"github.com/printlot-io/printlot/cmd/printlot-scrape/app/options"
	"github.com/printlot-io/printlot/internal/config"
	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/ingest"
	"github.com/printlot-io/printlot/internal/scraper"
	"github.com/printlot-io/printlot/internal/scraper/adapters"
	"github.com/printlot-io/printlot/internal/store/memory"
	"github.com/printlot-io/printlot/internal/store/postgres"
	"github.com/printlot-io/printlot/pkg/app"
	"github.com/printlot-io/printlot/pkg/log"
)

const (
	commandName = "printlot-scrape"
	commandDesc = `Runs one scraping session against the configured store: pulls every
selected dealership's inventory, ingests it under a fresh import manifest
and activates the manifest when at least one adapter succeeds.`
)

// NewApp creates the printlot-scrape application.
func NewApp() *app.App {
	opts := options.NewScrapeOptions()
	return app.NewApp(
		commandName,
		"Run a one-shot inventory scraping session",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
	)
}

func run(opts *options.ScrapeOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		logger := log.Std()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openStore(ctx, opts, logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer closeStore()

		if opts.DealershipConfig != "" {
			loader := config.NewLoader(opts.DealershipConfig, store, logger)
			if _, err := loader.Load(ctx); err != nil {
				return err
			}
		}

		targets, err := selectTargets(ctx, store, opts.Dealerships)
		if err != nil {
			return err
		}

		factory := adapters.NewFactory(opts.FallbackDir, nil)
		adapterList := make([]scraper.Adapter, 0, len(targets))
		for _, cfg := range targets {
			adapterList = append(adapterList, factory(cfg))
		}

		orch := scraper.New(ingest.NewService(store, logger), scraper.Config{
			Concurrency:    opts.Scraper.EffectiveConcurrency(),
			AdapterTimeout: opts.Scraper.AdapterTimeout,
		}, logger)

		summary, err := orch.RunSession(ctx, adapterList)
		if summary != nil {
			printSummary(summary)
		}
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d adapters failed", summary.Failed, summary.Dealerships)
		}
		return nil
	}
}

func openStore(ctx context.Context, opts *options.ScrapeOptions, logger log.Logger) (core.Store, func(), error) {
	if opts.StoreBackend == options.StoreBackendMemory {
		logger.Warn("using the in-memory store; all data is lost on exit")
		return memory.New(), func() {}, nil
	}

	pg, err := postgres.Open(ctx, opts.Postgres, logger)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { pg.Close() }, nil
}

func selectTargets(ctx context.Context, store core.DealershipStore, names []string) ([]model.DealershipConfig, error) {
	if len(names) == 0 {
		all, err := store.ListDealerships(ctx)
		if err != nil {
			return nil, err
		}
		targets := make([]model.DealershipConfig, 0, len(all))
		for _, cfg := range all {
			if cfg.IsActive {
				targets = append(targets, cfg)
			}
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: no active dealerships configured", core.ErrInvalidInput)
		}
		return targets, nil
	}

	targets := make([]model.DealershipConfig, 0, len(names))
	for _, name := range names {
		cfg, err := store.GetDealership(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("dealership %q: %w", name, err)
		}
		targets = append(targets, *cfg)
	}
	return targets, nil
}

func printSummary(s *model.SessionSummary) {
	table := uitable.New()
	table.MaxColWidth = 60

	table.AddRow("SESSION", s.SessionID)
	table.AddRow("IMPORT", s.ImportID)
	table.AddRow("DURATION", s.Duration.Round(time.Millisecond).String())
	table.AddRow("VEHICLES", fmt.Sprintf("%d", s.TotalVehicles))
	table.AddRow("ADAPTERS", fmt.Sprintf("%d ok / %d failed", s.Succeeded, s.Failed))
	for source, count := range s.BySource {
		table.AddRow("SOURCE "+source, fmt.Sprintf("%d", count))
	}
	for adapter, msg := range s.AdapterErrors {
		table.AddRow("FAILED "+adapter, msg)
	}
	fmt.Fprintln(os.Stdout, table)
}

// Package app assembles and runs the printlot server: durable store,
// dealership config loader, scraper orchestrator, queue processor and the
// operator HTTP surface.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/printlot-io/printlot/cmd/printlot-server/app/options"
	"github.com/printlot-io/printlot/internal/archive"
	"github.com/printlot-io/printlot/internal/config"
	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/emitter"
	"github.com/printlot-io/printlot/internal/ingest"
	"github.com/printlot-io/printlot/internal/notifier"
	"github.com/printlot-io/printlot/internal/queue"
	"github.com/printlot-io/printlot/internal/resolver"
	"github.com/printlot-io/printlot/internal/scraper"
	"github.com/printlot-io/printlot/internal/scraper/adapters"
	serverhttp "github.com/printlot-io/printlot/internal/server/http"
	"github.com/printlot-io/printlot/internal/store/memory"
	"github.com/printlot-io/printlot/internal/store/postgres"
	"github.com/printlot-io/printlot/pkg/app"
	"github.com/printlot-io/printlot/pkg/log"
)

const (
	commandName = "printlot-server"
	commandDesc = `The printlot server hosts the dealership inventory pipeline: scraping
sessions, order resolution and emission, and the operator REST API.`
)

// NewApp creates the printlot-server application.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	return app.NewApp(
		commandName,
		"Run the printlot inventory and order server",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
	)
}

func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		logger := log.Std()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := newStore(ctx, opts, logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer closeStore()

		loader := newConfigLoader(ctx, opts, store, logger)

		ingestSvc := ingest.NewService(store, logger)

		loc, err := opts.Order.Location()
		if err != nil {
			return err
		}
		res := resolver.New(store, loc, logger)

		em := emitter.New(store, opts.Order.OutputRoot, logger)
		if opts.S3.Enabled {
			provider, err := archive.NewMinIOProvider(opts.S3, logger)
			if err != nil {
				return fmt.Errorf("create archive provider: %w", err)
			}
			if err := provider.CheckBucket(ctx); err != nil {
				return fmt.Errorf("check archive bucket: %w", err)
			}
			em = em.WithArchive(provider)
		}

		processor := queue.NewProcessor(store, res, em, opts.Order.QueueConcurrency, logger)

		hub := serverhttp.NewSessionHub()
		sinks := []core.EventSink{hub}
		if opts.Mqtt.Enabled {
			mq, err := notifier.NewMQTTNotifier(opts.Mqtt, logger)
			if err != nil {
				return fmt.Errorf("connect mqtt notifier: %w", err)
			}
			defer mq.Close(context.Background())
			sinks = append(sinks, mq)
		}

		orch := scraper.New(ingestSvc, scraper.Config{
			Concurrency:    opts.Scraper.EffectiveConcurrency(),
			AdapterTimeout: opts.Scraper.AdapterTimeout,
		}, logger, sinks...)

		factory := adapters.NewFactory(opts.FallbackDir, nil)
		srv := serverhttp.New(opts.Http, store, ingestSvc, processor, orch, factory, hub, logger)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(gctx) })
		if loader != nil {
			g.Go(func() error { return loader.Watch(gctx) })
		}
		return g.Wait()
	}
}

// newStore opens the configured store backend.
func newStore(ctx context.Context, opts *options.ServerOptions, logger log.Logger) (core.Store, func(), error) {
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

// newConfigLoader performs the initial dealership load. A broken file at
// startup is logged, not fatal; the watcher applies the next good edit.
func newConfigLoader(ctx context.Context, opts *options.ServerOptions, store core.Store, logger log.Logger) *config.Loader {
	if opts.DealershipConfig == "" {
		return nil
	}
	loader := config.NewLoader(opts.DealershipConfig, store, logger)
	n, err := loader.Load(ctx)
	if err != nil {
		logger.Error(err, "initial dealership config load failed", "path", opts.DealershipConfig)
		return loader
	}
	logger.Info("dealership config loaded", "path", opts.DealershipConfig, "dealerships", n)
	return loader
}

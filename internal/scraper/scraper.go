// Package scraper orchestrates dealership inventory adapters: it runs them
// under a bounded worker pool, streams their rows into one shared import,
// and emits ordered progress events through a single-writer fan-out.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/ingest"
	"github.com/printlot-io/printlot/internal/pkg/metrics"
	"github.com/printlot-io/printlot/pkg/log"
)

// Adapter produces raw inventory rows for one dealership. Concrete adapters
// live outside the core; anything satisfying this interface can join a
// session.
type Adapter interface {
	// Name identifies the adapter; by convention it is the dealership name.
	Name() string

	// ExpectedCountHint returns the rough inventory size, or 0 if unknown.
	// Used for progress reporting only.
	ExpectedCountHint() int

	// Produce scrapes the full inventory. It must honor ctx cancellation on
	// at least per-item granularity.
	Produce(ctx context.Context) ([]model.RawVehicle, error)

	// DataSource classifies the produced rows ("real", "fallback", ...).
	// The tag is adapter-defined and treated as opaque.
	DataSource() string
}

// Config tunes a session run.
type Config struct {
	// Concurrency bounds the adapter worker pool.
	Concurrency int

	// AdapterTimeout is the per-adapter soft deadline. On expiry the
	// adapter's partial output is discarded and the failure is recorded
	// with reason "deadline".
	AdapterTimeout time.Duration
}

// Orchestrator runs scraping sessions. Each session writes into a single
// fresh import manifest that is activated only after every adapter has
// finished ingesting.
type Orchestrator struct {
	ingest *ingest.Service
	sinks  []core.EventSink
	cfg    Config
	logger log.Logger
	now    func() time.Time
}

// New creates an orchestrator fanning events out to the given sinks.
func New(svc *ingest.Service, cfg Config, logger log.Logger, sinks ...core.EventSink) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 15 * time.Minute
	}
	if logger == nil {
		logger = log.Std()
	}
	return &Orchestrator{
		ingest: svc,
		sinks:  sinks,
		cfg:    cfg,
		logger: logger.WithName("scraper"),
		now:    time.Now,
	}
}

// adapterOutcome is the per-adapter result collected for the summary.
type adapterOutcome struct {
	name     string
	source   string
	vehicles int
	err      error
}

// RunSession scrapes all adapters into one import. Adapter failures never
// abort the session; they are aggregated into the summary. The session
// fails only when the import itself cannot be created or activated.
func (o *Orchestrator) RunSession(ctx context.Context, adapters []Adapter) (*model.SessionSummary, error) {
	return o.RunSessionWithID(ctx, uuid.NewString(), adapters)
}

// RunSessionWithID runs a session under a caller-chosen id, letting callers
// hand the id out before the session finishes.
func (o *Orchestrator) RunSessionWithID(ctx context.Context, sessionID string, adapters []Adapter) (*model.SessionSummary, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("%w: no adapters", core.ErrInvalidInput)
	}

	started := o.now()

	importID, err := o.ingest.BeginImport(ctx, model.ImportSourceScrape, "")
	if err != nil {
		return nil, err
	}

	// All events funnel through one channel so sinks observe a single
	// totally-ordered stream without needing their own locking.
	events := make(chan model.Event, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range events {
			for _, sink := range o.sinks {
				sink.Publish(ctx, ev)
			}
		}
	}()
	emit := func(ev model.Event) {
		ev.SessionID = sessionID
		ev.Time = o.now()
		events <- ev
	}

	emit(model.Event{Type: model.EventSessionStart, Total: len(adapters)})

	outcomes := make([]adapterOutcome, len(adapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, a := range adapters {
		g.Go(func() error {
			outcomes[i] = o.runAdapter(gctx, emit, importID, i, len(adapters), a)
			return nil
		})
	}
	g.Wait()

	summary := &model.SessionSummary{
		SessionID:   sessionID,
		ImportID:    importID,
		Dealerships: len(adapters),
		BySource:    map[string]int{},
	}
	for _, out := range outcomes {
		if out.err != nil {
			summary.Failed++
			if summary.AdapterErrors == nil {
				summary.AdapterErrors = map[string]string{}
			}
			summary.AdapterErrors[out.name] = out.err.Error()
			metrics.AdapterRunsTotal.WithLabelValues(out.name, "failed").Inc()
			continue
		}
		summary.Succeeded++
		summary.TotalVehicles += out.vehicles
		summary.BySource[out.source] += out.vehicles
		metrics.AdapterRunsTotal.WithLabelValues(out.name, "success").Inc()
		metrics.VehiclesIngestedTotal.WithLabelValues(out.name).Add(float64(out.vehicles))
	}
	metrics.ScrapeSessionsTotal.Inc()

	// The manifest goes live only when the session produced rows;
	// otherwise activating it would blank the live inventory view.
	var finalizeErr error
	if summary.TotalVehicles > 0 {
		finalizeErr = o.ingest.Activate(ctx, importID)
	} else {
		finalizeErr = o.ingest.Abort(ctx, importID)
	}

	summary.Duration = o.now().Sub(started)
	emit(model.Event{Type: model.EventSessionComplete, Summary: summary})
	close(events)
	<-writerDone

	if finalizeErr != nil {
		return summary, finalizeErr
	}
	o.logger.Info("session complete",
		"session_id", sessionID,
		"import_id", importID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"vehicles", summary.TotalVehicles)
	return summary, nil
}

func (o *Orchestrator) runAdapter(ctx context.Context, emit func(model.Event), importID string, idx, total int, a Adapter) adapterOutcome {
	out := adapterOutcome{name: a.Name(), source: a.DataSource()}

	emit(model.Event{
		Type:    model.EventScraperStart,
		Adapter: a.Name(),
		Index:   idx + 1,
		Total:   total,
		Status:  "running",
	})

	complete := func(success bool, vehicles int, reason string) {
		emit(model.Event{
			Type:       model.EventScraperComplete,
			Adapter:    a.Name(),
			Index:      idx + 1,
			Total:      total,
			Vehicles:   vehicles,
			Success:    success,
			Reason:     reason,
			DataSource: out.source,
		})
	}

	actx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()

	rows, err := a.Produce(actx)
	if err != nil {
		// Partial rows from a timed-out or failed adapter are discarded;
		// the import never sees them.
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "deadline"
			err = fmt.Errorf("%w: adapter %s", core.ErrDeadlineExceeded, a.Name())
		}
		out.err = err
		o.logger.Warn("adapter failed", "adapter", a.Name(), "reason", reason)
		complete(false, 0, reason)
		return out
	}

	// Progress events count items: Index is the last item scraped, Total the
	// adapter's size hint.
	hint := a.ExpectedCountHint()
	emit(model.Event{
		Type:     model.EventScraperProgress,
		Adapter:  a.Name(),
		Index:    len(rows),
		Total:    hint,
		Vehicles: len(rows),
		Status:   fmt.Sprintf("scraped %d of ~%d", len(rows), hint),
	})

	res, err := o.ingest.IngestRows(ctx, importID, a.Name(), rows)
	if err != nil {
		out.err = fmt.Errorf("ingest: %w", err)
		complete(false, 0, "ingest failed")
		return out
	}

	if len(res.Warnings) > 0 {
		emit(model.Event{
			Type:     model.EventScraperProgress,
			Adapter:  a.Name(),
			Index:    len(rows),
			Total:    hint,
			Vehicles: res.Ingested,
			Errors:   len(res.Warnings),
			Status:   fmt.Sprintf("ingested %d rows, %d warnings", res.Ingested, len(res.Warnings)),
		})
	}

	out.vehicles = res.Ingested
	complete(true, res.Ingested, "")
	return out
}

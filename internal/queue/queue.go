// Package queue runs operator-submitted order jobs through the resolver and
// emitter with bounded concurrency. It is the public entry point for order
// processing; it does not drive scrapers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/emitter"
	"github.com/printlot-io/printlot/internal/pkg/metrics"
	"github.com/printlot-io/printlot/internal/resolver"
	"github.com/printlot-io/printlot/pkg/log"
)

// Job states.
const (
	StatePending    = "PENDING"
	StateInProgress = "IN_PROGRESS"
	StateCompleted  = "COMPLETED"
	StateFailed     = "FAILED"
)

// fsm event names.
const (
	eventStart    = "start"
	eventComplete = "complete"
	eventFail     = "fail"
)

// Job is one queue entry.
type Job struct {
	Dealership   string             `json:"dealership"`
	Mode         model.OrderMode    `json:"mode"`
	TemplateType string             `json:"template_type,omitempty"`
	VINs         []string           `json:"vins,omitempty"`
	Items        []emitter.ItemSpec `json:"items,omitempty"`
}

// Options applies to a whole batch of jobs.
type Options struct {
	SkipVINLogging bool `json:"skip_vin_logging"`
}

// Result is the per-job outcome. Failed jobs never abort their peers.
type Result struct {
	Dealership string `json:"dealership"`
	Success    bool   `json:"success"`
	State      string `json:"state"`

	VehicleCount int      `json:"vehicle_count"`
	RowCount     int      `json:"row_count"`
	Missing      []string `json:"missing,omitempty"`
	CSVPath      string   `json:"csv_path,omitempty"`
	RunID        string   `json:"run_id,omitempty"`

	Error string `json:"error,omitempty"`
}

// Transition is an observable job state change.
type Transition struct {
	JobIndex   int       `json:"job_index"`
	Dealership string    `json:"dealership"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
}

// Processor owns the order worker pool. The scraper orchestrator has its own
// independent pool.
type Processor struct {
	dealerships core.DealershipStore
	resolver    *resolver.Resolver
	emitter     *emitter.Emitter
	concurrency int
	logger      log.Logger

	mu        sync.Mutex
	observers []func(Transition)
}

// NewProcessor creates a queue processor with the given worker bound.
func NewProcessor(dealerships core.DealershipStore, r *resolver.Resolver, e *emitter.Emitter, concurrency int, logger log.Logger) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.Std()
	}
	return &Processor{
		dealerships: dealerships,
		resolver:    r,
		emitter:     e,
		concurrency: concurrency,
		logger:      logger.WithName("queue"),
	}
}

// OnTransition registers an observer for job state changes. Observers run on
// the worker goroutine and must not block.
func (p *Processor) OnTransition(fn func(Transition)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Processor) notify(tr Transition) {
	p.mu.Lock()
	observers := p.observers
	p.mu.Unlock()
	for _, fn := range observers {
		fn(tr)
	}
}

func (p *Processor) newJobFSM(idx int, dealership string) *fsm.FSM {
	return fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: eventStart, Src: []string{StatePending}, Dst: StateInProgress},
			{Name: eventComplete, Src: []string{StateInProgress}, Dst: StateCompleted},
			{Name: eventFail, Src: []string{StatePending, StateInProgress}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				p.notify(Transition{
					JobIndex:   idx,
					Dealership: dealership,
					From:       e.Src,
					To:         e.Dst,
					At:         time.Now(),
				})
			},
		},
	)
}

// Process runs all jobs and returns one result per job, in input order.
// Cancelling ctx stops jobs that have not finished; completed peers keep
// their results.
func (p *Processor) Process(ctx context.Context, jobs []Job, opts Options) []Result {
	results := make([]Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i := range jobs {
		g.Go(func() error {
			results[i] = p.runJob(gctx, i, jobs[i], opts)
			return nil
		})
	}
	g.Wait()
	return results
}

func (p *Processor) runJob(ctx context.Context, idx int, job Job, opts Options) Result {
	started := time.Now()
	defer func() {
		metrics.QueueJobDuration.WithLabelValues(string(job.Mode)).Observe(time.Since(started).Seconds())
	}()

	res := Result{Dealership: job.Dealership}
	machine := p.newJobFSM(idx, job.Dealership)

	fail := func(err error) Result {
		// The transition must fire even when the job is failing because ctx
		// itself was cancelled; fsm refuses events on a dead context.
		machine.Event(context.WithoutCancel(ctx), eventFail)
		res.State = machine.Current()
		res.Error = err.Error()
		p.logger.Warn("job failed", "dealership", job.Dealership, "err", err)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %v", core.ErrCancelled, err))
	}
	if err := machine.Event(ctx, eventStart); err != nil {
		return fail(err)
	}

	cfg, err := p.dealerships.GetDealership(ctx, job.Dealership)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			err = fmt.Errorf("%w: unknown dealership %q", core.ErrInvalidInput, job.Dealership)
		}
		return fail(err)
	}
	if !cfg.IsActive {
		return fail(fmt.Errorf("%w: dealership %q is inactive", core.ErrInvalidInput, job.Dealership))
	}

	var resolution *resolver.Resolution
	switch job.Mode {
	case model.OrderModeCAO:
		resolution, err = p.resolver.ResolveCAO(ctx, cfg)
	case model.OrderModeList:
		if len(job.VINs) == 0 {
			err = fmt.Errorf("%w: LIST job without vins", core.ErrInvalidInput)
		} else {
			resolution, err = p.resolver.ResolveList(ctx, cfg, job.VINs)
		}
	default:
		err = fmt.Errorf("%w: unknown mode %q", core.ErrInvalidInput, job.Mode)
	}
	if err != nil {
		return fail(err)
	}
	res.Missing = resolution.Missing

	run, err := p.emitter.Emit(ctx, resolution, cfg, emitter.Options{
		TemplateType:   job.TemplateType,
		SkipVINLogging: opts.SkipVINLogging,
		Items:          job.Items,
	})
	if err != nil {
		if run != nil {
			// Files landed but the log did not; surface paths so the
			// operator can recover.
			res.CSVPath = run.CSVPath
			res.RunID = run.ID
		}
		return fail(err)
	}

	machine.Event(context.WithoutCancel(ctx), eventComplete)
	res.State = machine.Current()
	res.Success = true
	res.VehicleCount = run.VehicleCount
	res.RowCount = run.RowCount
	res.CSVPath = run.CSVPath
	res.RunID = run.ID
	return res
}

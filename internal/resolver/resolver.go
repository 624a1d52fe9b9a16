// Package resolver decides which vehicles need graphics for a dealership.
// CAO mode compares active inventory against processing history; LIST mode
// resolves an operator-supplied VIN set. The resolver never writes to the
// store; it produces a resolution object for the emitter.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/filter"
	"github.com/printlot-io/printlot/pkg/log"
)

// Action is the resolver's verdict for one candidate.
type Action string

const (
	ActionInclude Action = "include"
	ActionSkip    Action = "skip"
)

// Decision reasons. Filter rejections use the "filtered:<rule>" form instead.
const (
	ReasonBaseline     = "baseline"
	ReasonProcessed1d  = "processed_within_1_day"
	ReasonProcessed7d  = "processed_within_7_days"
	ReasonCrossMove    = "cross_dealership_move"
	ReasonStatusChange = "status_change"
	ReasonFirstTime    = "first_time"
	ReasonInvalidVIN   = "invalid_vin"
	ReasonListed       = "listed"
)

// Decision classifies one inventory row for the audit table.
type Decision struct {
	VIN     string        `json:"vin"`
	Action  Action        `json:"action"`
	Reason  string        `json:"reason"`
	Vehicle model.Vehicle `json:"-"`
}

// Resolution is the resolver's output, consumed by the emitter.
type Resolution struct {
	Dealership string          `json:"dealership"`
	Mode       model.OrderMode `json:"mode"`
	ResolvedAt time.Time       `json:"resolved_at"`

	// Included holds the vehicles needing graphics, sorted by VIN.
	Included []model.Vehicle `json:"included"`

	// Decisions covers every candidate, included or not.
	Decisions []Decision `json:"decisions"`

	// Missing lists LIST-mode VINs absent from current inventory.
	Missing []string `json:"missing,omitempty"`
}

// store is the read surface the resolver needs.
type store interface {
	ActiveInventory(ctx context.Context, dealership string) ([]model.Vehicle, error)
	VINLogForDealership(ctx context.Context, dealership string, vins []string) (map[string][]model.VINLogEntry, error)
	DealershipsHoldingVINs(ctx context.Context, excludeDealership string, vins []string) (map[string][]string, error)
}

// Resolver evaluates order resolution for dealerships. Day windows use
// calendar days in loc.
type Resolver struct {
	store  store
	loc    *time.Location
	logger log.Logger
	now    func() time.Time
}

// New creates a resolver. A nil loc means local time.
func New(s store, loc *time.Location, logger log.Logger) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.Std()
	}
	return &Resolver{
		store:  s,
		loc:    loc,
		logger: logger.WithName("resolver"),
		now:    time.Now,
	}
}

// withRetry retries a store read exactly once when the store reports a
// transient outage.
func (r *Resolver) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, core.ErrStoreUnavailable) {
		return err
	}
	r.logger.Warn("store unavailable, retrying once", "err", err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}
	return op()
}

// ResolveCAO computes the set of VINs needing graphics for the dealership
// right now. The result is reproducible given the same inventory and VIN log
// snapshots.
func (r *Resolver) ResolveCAO(ctx context.Context, cfg *model.DealershipConfig) (*Resolution, error) {
	var inventory []model.Vehicle
	err := r.withRetry(ctx, func() (opErr error) {
		inventory, opErr = r.store.ActiveInventory(ctx, cfg.Name)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("load inventory for %s: %w", cfg.Name, err)
	}

	now := r.now()
	res := &Resolution{
		Dealership: cfg.Name,
		Mode:       model.OrderModeCAO,
		ResolvedAt: now,
	}

	// Rows that never reach rules 1-6: bad VINs first, then filter rejects.
	var candidates []model.Vehicle
	for _, v := range inventory {
		if !v.HasValidVIN() {
			res.Decisions = append(res.Decisions, Decision{VIN: v.VIN, Action: ActionSkip, Reason: ReasonInvalidVIN, Vehicle: v})
			continue
		}
		if fr := filter.Evaluate(v, cfg.Filtering); !fr.Accepted {
			res.Decisions = append(res.Decisions, Decision{VIN: v.VIN, Action: ActionSkip, Reason: "filtered:" + fr.Rule, Vehicle: v})
			continue
		}
		candidates = append(candidates, v)
	}

	vins := make([]string, len(candidates))
	for i, v := range candidates {
		vins[i] = v.VIN
	}

	var localLog map[string][]model.VINLogEntry
	err = r.withRetry(ctx, func() (opErr error) {
		localLog, opErr = r.store.VINLogForDealership(ctx, cfg.Name, vins)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("load vin log for %s: %w", cfg.Name, err)
	}
	var crossHolders map[string][]string
	err = r.withRetry(ctx, func() (opErr error) {
		crossHolders, opErr = r.store.DealershipsHoldingVINs(ctx, cfg.Name, vins)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("load cross-dealership log: %w", err)
	}

	for _, v := range candidates {
		d := r.decide(v, localLog[v.VIN], crossHolders[v.VIN], now)
		res.Decisions = append(res.Decisions, d)
		if d.Action == ActionInclude {
			res.Included = append(res.Included, v)
		}
	}

	sort.Slice(res.Included, func(i, j int) bool { return res.Included[i].VIN < res.Included[j].VIN })
	r.logger.Info("cao resolved",
		"dealership", cfg.Name,
		"inventory", len(inventory),
		"included", len(res.Included))
	return res, nil
}

// decide applies the CAO decision rules in order; the first matching rule
// wins. localEntries arrive newest first.
func (r *Resolver) decide(v model.Vehicle, localEntries []model.VINLogEntry, holders []string, now time.Time) Decision {
	d := Decision{VIN: v.VIN, Vehicle: v}

	for _, e := range localEntries {
		if e.OrderType == model.OrderTypeBaseline {
			d.Action, d.Reason = ActionSkip, ReasonBaseline
			return d
		}
	}

	for _, e := range localEntries {
		if e.VehicleType != v.VehicleType {
			continue
		}
		days := r.calendarDaysAgo(e.ProcessedDate, now)
		if days <= 1 {
			d.Action, d.Reason = ActionSkip, ReasonProcessed1d
			return d
		}
		if days <= 7 {
			d.Action, d.Reason = ActionSkip, ReasonProcessed7d
			return d
		}
	}

	if len(localEntries) == 0 && len(holders) > 0 {
		d.Action, d.Reason = ActionInclude, ReasonCrossMove
		return d
	}

	if len(localEntries) > 0 && localEntries[0].VehicleType != v.VehicleType {
		d.Action, d.Reason = ActionInclude, ReasonStatusChange
		return d
	}

	d.Action, d.Reason = ActionInclude, ReasonFirstTime
	return d
}

// calendarDaysAgo measures whole calendar days between t and now in the
// resolver's timezone. Same day is 0.
func (r *Resolver) calendarDaysAgo(t, now time.Time) int {
	a := t.In(r.loc)
	b := now.In(r.loc)
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, r.loc)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, r.loc)
	return int(bd.Sub(ad).Hours() / 24)
}

// ResolveList resolves an explicit VIN set against current inventory. Filter
// rules and history are not consulted; unknown VINs come back under Missing.
func (r *Resolver) ResolveList(ctx context.Context, cfg *model.DealershipConfig, vinSet []string) (*Resolution, error) {
	var inventory []model.Vehicle
	err := r.withRetry(ctx, func() (opErr error) {
		inventory, opErr = r.store.ActiveInventory(ctx, cfg.Name)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("load inventory for %s: %w", cfg.Name, err)
	}

	byVIN := make(map[string]model.Vehicle, len(inventory))
	for _, v := range inventory {
		byVIN[v.VIN] = v
	}

	res := &Resolution{
		Dealership: cfg.Name,
		Mode:       model.OrderModeList,
		ResolvedAt: r.now(),
	}

	seen := map[string]bool{}
	for _, raw := range vinSet {
		vin := strings.ToUpper(strings.TrimSpace(raw))
		if vin == "" || seen[vin] {
			continue
		}
		seen[vin] = true

		v, ok := byVIN[vin]
		if !ok {
			res.Missing = append(res.Missing, vin)
			continue
		}
		res.Included = append(res.Included, v)
		res.Decisions = append(res.Decisions, Decision{VIN: vin, Action: ActionInclude, Reason: ReasonListed, Vehicle: v})
	}

	sort.Slice(res.Included, func(i, j int) bool { return res.Included[i].VIN < res.Included[j].VIN })
	sort.Strings(res.Missing)
	return res, nil
}

package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/store/memory"
	"github.com/printlot-io/printlot/pkg/log"
)

const (
	vinMoved    = "1HGCM82633A000001"
	vinStatus   = "5YJ3E1EA6KF000002"
	vinBaseline = "JH4KA7561PC000003"
	vinDup      = "WBA3A5C50DF000004"
)

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func dealerA() *model.DealershipConfig { return &model.DealershipConfig{Name: "Dealer A", IsActive: true} }
func dealerB() *model.DealershipConfig { return &model.DealershipConfig{Name: "Dealer B", IsActive: true} }

// seedInventory upserts vehicles under an activated manifest so they form
// the dealership's active inventory.
func seedInventory(t *testing.T, s *memory.Store, importID string, vehicles ...model.Vehicle) {
	t.Helper()
	ctx := context.Background()
	for _, v := range vehicles {
		v.ImportID = importID
		if v.TimeScraped.IsZero() {
			v.TimeScraped = time.Now()
		}
		require.NoError(t, s.UpsertVehicle(ctx, v))
	}
	require.NoError(t, s.CreateManifest(ctx, &model.ImportManifest{ID: importID}))
	require.NoError(t, s.ActivateManifest(ctx, importID))
}

func seedLog(t *testing.T, s *memory.Store, entries ...model.VINLogEntry) {
	t.Helper()
	require.NoError(t, s.AppendVINLogEntries(context.Background(), entries))
}

func newResolver(s *memory.Store, now time.Time) *Resolver {
	r := New(s, time.UTC, log.NewNopLogger())
	r.now = fixedNow(now)
	return r
}

func car(vin, location string, vt model.VehicleType) model.Vehicle {
	return model.Vehicle{VIN: vin, Location: location, VehicleType: vt, Stock: "S-" + vin[len(vin)-4:]}
}

func decisionFor(res *Resolution, vin string) *Decision {
	for i := range res.Decisions {
		if res.Decisions[i].VIN == vin {
			return &res.Decisions[i]
		}
	}
	return nil
}

func TestCAOCrossDealershipMove(t *testing.T) {
	// The VIN was processed at Dealer A and later shows up in Dealer B's
	// inventory with no Dealer B history.
	s := memory.New()
	now := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

	seedInventory(t, s, "imp-1", car(vinMoved, "Dealer B", model.VehicleTypeUsed))
	seedLog(t, s, model.VINLogEntry{
		Dealership:    "Dealer A",
		VIN:           vinMoved,
		OrderNumber:   "ORD-1",
		ProcessedDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		OrderType:     model.OrderTypeCAO,
		VehicleType:   model.VehicleTypeUsed,
	})

	res, err := newResolver(s, now).ResolveCAO(context.Background(), dealerB())
	require.NoError(t, err)
	require.Len(t, res.Included, 1)
	assert.Equal(t, vinMoved, res.Included[0].VIN)
	assert.Equal(t, ReasonCrossMove, decisionFor(res, vinMoved).Reason)
}

func TestCAOLocalWindowWinsOverCrossDealership(t *testing.T) {
	// The VIN is in another dealership's log, but it is also in our own log
	// within 7 days with unchanged type. The local skip wins.
	s := memory.New()
	now := time.Date(2025, 1, 12, 10, 0, 0, 0, time.UTC)

	seedInventory(t, s, "imp-1", car(vinMoved, "Dealer A", model.VehicleTypeUsed))
	seedLog(t, s,
		model.VINLogEntry{
			Dealership: "Dealer A", VIN: vinMoved,
			ProcessedDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
			OrderType:     model.OrderTypeCAO, VehicleType: model.VehicleTypeUsed,
		},
		model.VINLogEntry{
			Dealership: "Dealer B", VIN: vinMoved,
			ProcessedDate: time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC),
			OrderType:     model.OrderTypeCAO, VehicleType: model.VehicleTypeUsed,
		},
	)

	res, err := newResolver(s, now).ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	assert.Empty(t, res.Included)
	assert.Equal(t, ReasonProcessed7d, decisionFor(res, vinMoved).Reason)
}

func TestCAOStatusChangeIncludes(t *testing.T) {
	// Logged as new a week ago, listed as certified today.
	s := memory.New()
	now := time.Date(2025, 1, 22, 10, 0, 0, 0, time.UTC)

	seedInventory(t, s, "imp-1", car(vinStatus, "Dealer A", model.VehicleTypeCertified))
	seedLog(t, s, model.VINLogEntry{
		Dealership: "Dealer A", VIN: vinStatus, OrderNumber: "ORD-2",
		ProcessedDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		OrderType:     model.OrderTypeCAO, VehicleType: model.VehicleTypeNew,
	})

	res, err := newResolver(s, now).ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	require.Len(t, res.Included, 1)
	assert.Equal(t, ReasonStatusChange, decisionFor(res, vinStatus).Reason)
}

func TestCAOBaselineAlwaysSkips(t *testing.T) {
	s := memory.New()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Baseline from long ago and a current type differing from the logged
	// one. Baseline still wins.
	seedInventory(t, s, "imp-1", car(vinBaseline, "Dealer A", model.VehicleTypeCertified))
	seedLog(t, s, model.VINLogEntry{
		Dealership: "Dealer A", VIN: vinBaseline,
		ProcessedDate: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
		OrderType:     model.OrderTypeBaseline, VehicleType: model.VehicleTypeUsed,
	})

	res, err := newResolver(s, now).ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	assert.Empty(t, res.Included)
	assert.Equal(t, ReasonBaseline, decisionFor(res, vinBaseline).Reason)
}

func TestCAOSameDayDuplicatePrevention(t *testing.T) {
	s := memory.New()
	day := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	seedInventory(t, s, "imp-1", car(vinDup, "Dealer A", model.VehicleTypeUsed))
	r := newResolver(s, day)

	res, err := r.ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	require.Len(t, res.Included, 1)
	assert.Equal(t, ReasonFirstTime, decisionFor(res, vinDup).Reason)

	// Emitter appended the log entry; a second run before end of day
	// resolves empty.
	seedLog(t, s, model.VINLogEntry{
		Dealership: "Dealer A", VIN: vinDup, OrderNumber: "run-1",
		ProcessedDate: day, OrderType: model.OrderTypeCAO, VehicleType: model.VehicleTypeUsed,
	})

	r.now = fixedNow(day.Add(8 * time.Hour))
	res, err = r.ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	assert.Empty(t, res.Included)
	assert.Equal(t, ReasonProcessed1d, decisionFor(res, vinDup).Reason)
}

func TestCAOSevenDayWindowReopens(t *testing.T) {
	s := memory.New()
	logged := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	seedInventory(t, s, "imp-1", car(vinDup, "Dealer A", model.VehicleTypeUsed))
	seedLog(t, s, model.VINLogEntry{
		Dealership: "Dealer A", VIN: vinDup,
		ProcessedDate: logged, OrderType: model.OrderTypeCAO, VehicleType: model.VehicleTypeUsed,
	})

	// Day 7 still skips, day 8 includes again.
	r := newResolver(s, logged.AddDate(0, 0, 7))
	res, err := r.ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	assert.Empty(t, res.Included)

	r.now = fixedNow(logged.AddDate(0, 0, 8))
	res, err = r.ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	require.Len(t, res.Included, 1)
	assert.Equal(t, ReasonFirstTime, decisionFor(res, vinDup).Reason)
}

func TestCAOInvalidVINNeverIncluded(t *testing.T) {
	s := memory.New()
	seedInventory(t, s, "imp-1",
		car("TOOSHORT", "Dealer A", model.VehicleTypeUsed),
		car(vinDup, "Dealer A", model.VehicleTypeUsed),
	)

	res, err := newResolver(s, time.Now()).ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	require.Len(t, res.Included, 1)
	assert.Equal(t, vinDup, res.Included[0].VIN)
	assert.Equal(t, ReasonInvalidVIN, decisionFor(res, "TOOSHORT").Reason)
}

func TestCAOFilterRejectionPrecedesRules(t *testing.T) {
	s := memory.New()

	// Baseline entry exists, but the filter rejects first so the reason is
	// the filter rule, not baseline.
	v := car(vinBaseline, "Dealer A", model.VehicleTypeUsed)
	seedInventory(t, s, "imp-1", v)
	seedLog(t, s, model.VINLogEntry{
		Dealership: "Dealer A", VIN: vinBaseline,
		ProcessedDate: time.Now().AddDate(-1, 0, 0),
		OrderType:     model.OrderTypeBaseline, VehicleType: model.VehicleTypeUsed,
	})

	cfg := dealerA()
	cfg.Filtering = model.FilterRules{ExcludeConditions: []model.VehicleType{model.VehicleTypeUsed}}

	res, err := newResolver(s, time.Now()).ResolveCAO(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Included)
	assert.Equal(t, "filtered:exclude_conditions", decisionFor(res, vinBaseline).Reason)
}

func TestCAOIsReproducible(t *testing.T) {
	s := memory.New()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	seedInventory(t, s, "imp-1",
		car(vinMoved, "Dealer A", model.VehicleTypeUsed),
		car(vinStatus, "Dealer A", model.VehicleTypeNew),
	)

	r := newResolver(s, now)
	first, err := r.ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	second, err := r.ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)

	assert.Equal(t, first.Included, second.Included)
	assert.Equal(t, first.Decisions, second.Decisions)
}

func TestResolveListSubsetAndMissing(t *testing.T) {
	s := memory.New()
	seedInventory(t, s, "imp-1",
		car(vinMoved, "Dealer A", model.VehicleTypeUsed),
		car(vinStatus, "Dealer A", model.VehicleTypeNew),
	)

	res, err := newResolver(s, time.Now()).ResolveList(context.Background(), dealerA(),
		[]string{" " + vinMoved + " ", vinMoved, "VIN0000NOTINSTOCK"})
	require.NoError(t, err)

	require.Len(t, res.Included, 1, "duplicates collapse")
	assert.Equal(t, vinMoved, res.Included[0].VIN)
	assert.Equal(t, []string{"VIN0000NOTINSTOCK"}, res.Missing)
	assert.Equal(t, model.OrderModeList, res.Mode)
}

func TestResolveListIgnoresFilterRules(t *testing.T) {
	s := memory.New()
	seedInventory(t, s, "imp-1", car(vinMoved, "Dealer A", model.VehicleTypeUsed))

	cfg := dealerA()
	cfg.Filtering = model.FilterRules{ExcludeConditions: []model.VehicleType{model.VehicleTypeUsed}}

	res, err := newResolver(s, time.Now()).ResolveList(context.Background(), cfg, []string{vinMoved})
	require.NoError(t, err)
	assert.Len(t, res.Included, 1)
}

// flakyInventoryStore fails the first inventory read with a transient outage
// and serves the retry from the wrapped store.
type flakyInventoryStore struct {
	*memory.Store
	calls int
}

func (f *flakyInventoryStore) ActiveInventory(ctx context.Context, dealership string) ([]model.Vehicle, error) {
	f.calls++
	if f.calls == 1 {
		return nil, fmt.Errorf("%w: connection refused", core.ErrStoreUnavailable)
	}
	return f.Store.ActiveInventory(ctx, dealership)
}

func TestCAORetriesTransientStoreOutage(t *testing.T) {
	s := memory.New()
	seedInventory(t, s, "imp-1", car(vinMoved, "Dealer A", model.VehicleTypeUsed))

	f := &flakyInventoryStore{Store: s}
	r := New(f, time.UTC, log.NewNopLogger())

	res, err := r.ResolveCAO(context.Background(), dealerA())
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	require.Len(t, res.Included, 1)
	assert.Equal(t, vinMoved, res.Included[0].VIN)
}

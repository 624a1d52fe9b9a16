package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/emitter"
	"github.com/printlot-io/printlot/internal/resolver"
	"github.com/printlot-io/printlot/internal/store/memory"
	"github.com/printlot-io/printlot/pkg/log"
)

const (
	vinOne = "1HGCM82633A004352"
	vinTwo = "2HGCM82633A004353"
)

func fixture(t *testing.T) (*memory.Store, *Processor) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	for _, name := range []string{"Acme Honda", "Other Motors"} {
		require.NoError(t, s.UpsertDealership(ctx, &model.DealershipConfig{
			Name:     name,
			IsActive: true,
			Output: model.OutputRules{
				TemplateType:  "shortcut_pack",
				QRURLTemplate: "https://lot.example.com/v/{vin}",
				DefaultSize:   "Medium (STD)",
			},
			QROutputPath: t.TempDir(),
		}))
	}

	for vin, dealer := range map[string]string{vinOne: "Acme Honda", vinTwo: "Other Motors"} {
		require.NoError(t, s.UpsertVehicle(ctx, model.Vehicle{
			VIN:         vin,
			Location:    dealer,
			VehicleType: model.VehicleTypeUsed,
			ImportID:    "imp-1",
			TimeScraped: time.Now(),
		}))
	}
	require.NoError(t, s.CreateManifest(ctx, &model.ImportManifest{ID: "imp-1"}))
	require.NoError(t, s.ActivateManifest(ctx, "imp-1"))

	r := resolver.New(s, time.UTC, log.NewNopLogger())
	e := emitter.New(s, t.TempDir(), log.NewNopLogger())
	return s, NewProcessor(s, r, e, 2, log.NewNopLogger())
}

func TestProcessRunsJobsAndObservesTransitions(t *testing.T) {
	s, p := fixture(t)

	var mu sync.Mutex
	var seen []Transition
	p.OnTransition(func(tr Transition) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	})

	results := p.Process(context.Background(), []Job{
		{Dealership: "Acme Honda", Mode: model.OrderModeCAO},
		{Dealership: "Other Motors", Mode: model.OrderModeCAO},
	}, Options{})

	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Success, res.Error)
		assert.Equal(t, StateCompleted, res.State)
		assert.Equal(t, 1, res.VehicleCount)
		assert.NotEmpty(t, res.CSVPath)
	}
	assert.Equal(t, 2, s.VINLogLen("Acme Honda")+s.VINLogLen("Other Motors"))

	// Each job walked PENDING -> IN_PROGRESS -> COMPLETED.
	mu.Lock()
	defer mu.Unlock()
	perJob := map[int][]string{}
	for _, tr := range seen {
		perJob[tr.JobIndex] = append(perJob[tr.JobIndex], tr.To)
	}
	for _, states := range perJob {
		assert.Equal(t, []string{StateInProgress, StateCompleted}, states)
	}
}

func TestProcessIsolatesFailingPeers(t *testing.T) {
	_, p := fixture(t)

	results := p.Process(context.Background(), []Job{
		{Dealership: "Nowhere Autos", Mode: model.OrderModeCAO},
		{Dealership: "Acme Honda", Mode: model.OrderModeCAO},
	}, Options{})

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, StateFailed, results[0].State)
	assert.Contains(t, results[0].Error, "unknown dealership")
	assert.True(t, results[1].Success, results[1].Error)
}

func TestProcessRejectsInactiveDealership(t *testing.T) {
	s, p := fixture(t)
	cfg, err := s.GetDealership(context.Background(), "Acme Honda")
	require.NoError(t, err)
	cfg.IsActive = false
	require.NoError(t, s.UpsertDealership(context.Background(), cfg))

	results := p.Process(context.Background(), []Job{{Dealership: "Acme Honda", Mode: model.OrderModeCAO}}, Options{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "inactive")
}

func TestProcessListModeReportsMissing(t *testing.T) {
	_, p := fixture(t)

	results := p.Process(context.Background(), []Job{{
		Dealership: "Acme Honda",
		Mode:       model.OrderModeList,
		VINs:       []string{vinOne, "VIN0000NOTPRESENT"},
	}}, Options{})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Error)
	assert.Equal(t, 1, results[0].VehicleCount)
	assert.Equal(t, []string{"VIN0000NOTPRESENT"}, results[0].Missing)
}

func TestProcessListModeRequiresVINs(t *testing.T) {
	_, p := fixture(t)

	results := p.Process(context.Background(), []Job{{Dealership: "Acme Honda", Mode: model.OrderModeList}}, Options{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "without vins")
}

func TestProcessDryRunPersistsNothing(t *testing.T) {
	s, p := fixture(t)

	results := p.Process(context.Background(), []Job{{Dealership: "Acme Honda", Mode: model.OrderModeCAO}}, Options{SkipVINLogging: true})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Error)
	assert.Equal(t, 0, s.VINLogLen("Acme Honda"))

	runs, err := s.ListOrderRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestProcessCancelledContextFailsRemainingJobs(t *testing.T) {
	_, p := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := p.Process(ctx, []Job{{Dealership: "Acme Honda", Mode: model.OrderModeCAO}}, Options{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, StateFailed, results[0].State)
}

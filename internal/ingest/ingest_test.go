package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/store/memory"
	"github.com/printlot-io/printlot/pkg/log"
)

func rawRows() []model.RawVehicle {
	return []model.RawVehicle{
		{VIN: "1HGCM82633A004352", Stock: "A1", Year: "2022", Make: "Honda", Model: "Accord", Price: "$28,500", VehicleType: "used"},
		{VIN: "2HGCM82633A004353", Stock: "A2", Year: "2024", Make: "Honda", Model: "Civic", Price: "Call for price", VehicleType: "new"},
	}
}

func TestImportCSVFullLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(store, log.NewNopLogger())

	id, res, err := svc.ImportCSV(ctx, "Acme Honda", "inventory.csv", rawRows())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ingested)

	m, err := store.GetManifest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ManifestStatusActive, m.Status)
	assert.Equal(t, model.ImportSourceCSV, m.Source)
	assert.Equal(t, 2, m.VehicleCount)
	assert.Equal(t, 2, m.DealershipCounts["Acme Honda"])

	inv, err := store.ActiveInventory(ctx, "Acme Honda")
	require.NoError(t, err)
	assert.Len(t, inv, 2)
}

func TestImportCSVGroupsRowsByLocation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(store, log.NewNopLogger())

	rows := []model.RawVehicle{
		{VIN: "1HGCM82633A004352", Location: "Acme Honda", VehicleType: "used"},
		{VIN: "2HGCM82633A004353", Location: "Other Motors", VehicleType: "used"},
		{VIN: "3HGCM82633A004354", Location: "Acme Honda", VehicleType: "new"},
	}
	id, res, err := svc.ImportCSV(ctx, "", "combined.csv", rows)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ingested)

	m, err := store.GetManifest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, m.VehicleCount)
	assert.Equal(t, 2, m.DealershipCounts["Acme Honda"])
	assert.Equal(t, 1, m.DealershipCounts["Other Motors"])
}

func TestImportCSVWithoutDealershipNeedsRowLocations(t *testing.T) {
	svc := NewService(memory.New(), log.NewNopLogger())
	_, _, err := svc.ImportCSV(context.Background(), "", "no-location.csv",
		[]model.RawVehicle{{VIN: "1HGCM82633A004352"}})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestIngestRowsRejectsFinalizedManifest(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(store, log.NewNopLogger())

	id, err := svc.BeginImport(ctx, model.ImportSourceScrape, "")
	require.NoError(t, err)
	require.NoError(t, svc.Activate(ctx, id))

	_, err = svc.IngestRows(ctx, id, "Acme Honda", rawRows())
	assert.ErrorIs(t, err, core.ErrIngestConflict)
}

func TestIngestRowsStampsImportAndLocation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(store, log.NewNopLogger())

	id, err := svc.BeginImport(ctx, model.ImportSourceScrape, "")
	require.NoError(t, err)
	_, err = svc.IngestRows(ctx, id, "Acme Honda", rawRows())
	require.NoError(t, err)

	raw, err := store.RawRowsByImport(ctx, id)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	for _, r := range raw {
		assert.Equal(t, id, r.ImportID)
		assert.Equal(t, "Acme Honda", r.Location)
		assert.False(t, r.TimeScraped.IsZero())
	}
}

func TestIngestRowsSurfacesNormalizationWarnings(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.New(), log.NewNopLogger())

	id, err := svc.BeginImport(ctx, model.ImportSourceCSV, "bad.csv")
	require.NoError(t, err)

	res, err := svc.IngestRows(ctx, id, "Acme Honda", []model.RawVehicle{
		{VIN: "SHORT", Year: "banana", Price: "-5"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ingested, "bad rows are kept, not dropped")
	assert.NotEmpty(t, res.Warnings)
}

// flakyStore fails the first InsertRawVehicles call with a transient outage.
type flakyStore struct {
	*memory.Store
	failures int
}

func (f *flakyStore) InsertRawVehicles(ctx context.Context, rows []model.RawVehicle) error {
	if f.failures > 0 {
		f.failures--
		return core.ErrStoreUnavailable
	}
	return f.Store.InsertRawVehicles(ctx, rows)
}

func TestIngestRetriesOnceOnTransientOutage(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New(), failures: 1}
	svc := NewService(store, log.NewNopLogger())

	id, err := svc.BeginImport(ctx, model.ImportSourceCSV, "x.csv")
	require.NoError(t, err)

	res, err := svc.IngestRows(ctx, id, "Acme Honda", rawRows())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ingested)
}

func TestIngestGivesUpAfterSecondFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New(), failures: 2}
	svc := NewService(store, log.NewNopLogger())

	id, err := svc.BeginImport(ctx, model.ImportSourceCSV, "x.csv")
	require.NoError(t, err)

	_, err = svc.IngestRows(ctx, id, "Acme Honda", rawRows())
	assert.True(t, errors.Is(err, core.ErrStoreUnavailable))
}

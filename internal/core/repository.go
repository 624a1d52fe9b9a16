package core

import (
	"context"
	"time"

	"github.com/printlot-io/printlot/internal/core/model"
)

// SearchQuery narrows a bulk vehicle listing. Zero values mean "no filter".
type SearchQuery struct {
	Text        string
	Location    string
	Make        string
	Model       string
	Year        *int
	VehicleType model.VehicleType
	From        *time.Time
	To          *time.Time

	Page    int
	PerPage int
	Sort    string
}

// SearchResult is a page of normalized vehicles plus facet counts for the
// UI's filter dropdowns.
type SearchResult struct {
	Rows  []model.Vehicle
	Total int

	// FilterCounts maps facet name → value → row count, e.g.
	// "make" → {"Honda": 12}.
	FilterCounts map[string]map[string]int
}

// VINHistoryQuery pages through a dealership's VIN log.
type VINHistoryQuery struct {
	Dealership string
	Text       string
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}

// VINLogStats aggregates a dealership's VIN log by order type.
type VINLogStats struct {
	Total    int
	Baseline int
	CAO      int
	List     int
}

// VINHistoryResult is a page of VIN log entries plus aggregate stats.
type VINHistoryResult struct {
	Rows  []model.VINLogEntry
	Total int
	Stats VINLogStats
}

// VINLogImportOptions controls bulk VIN log imports.
type VINLogImportOptions struct {
	SkipDuplicates bool
	UpdateExisting bool
}

// VINLogImportCounts reports the outcome of a bulk VIN log import.
type VINLogImportCounts struct {
	Inserted int
	Updated  int
	Skipped  int
}

// VehicleStore persists raw snapshots and normalized vehicles.
type VehicleStore interface {
	// InsertRawVehicles appends snapshot rows under their import id.
	InsertRawVehicles(ctx context.Context, rows []model.RawVehicle) error

	// UpsertVehicle merges one normalized observation into the row keyed by
	// (VIN, Location): inserts set first/last scraped and scrape_count=1;
	// updates bump last_scraped and scrape_count and overwrite scalars with
	// the latest non-null values (a null observation never erases).
	UpsertVehicle(ctx context.Context, obs model.Vehicle) error

	// ActiveInventory returns the dealership's normalized rows whose most
	// recent ingest belongs to the active manifest.
	ActiveInventory(ctx context.Context, dealership string) ([]model.Vehicle, error)

	// SearchVehicles serves the operator's bulk listing.
	SearchVehicles(ctx context.Context, q SearchQuery) (*SearchResult, error)

	// VehicleScrapeHistory returns every raw snapshot of a VIN, newest first.
	VehicleScrapeHistory(ctx context.Context, vin string) ([]model.RawVehicle, error)

	// RawRowsByImport returns the raw rows of one import, for CSV export.
	RawRowsByImport(ctx context.Context, importID string) ([]model.RawVehicle, error)
}

// VINLogStore persists per-dealership processing history.
type VINLogStore interface {
	// AppendVINLogEntries appends entries in a single transaction.
	AppendVINLogEntries(ctx context.Context, entries []model.VINLogEntry) error

	// VINLogForDealership returns the dealership's log entries grouped by
	// VIN. A nil vins slice returns the full log.
	VINLogForDealership(ctx context.Context, dealership string, vins []string) (map[string][]model.VINLogEntry, error)

	// DealershipsHoldingVINs returns, for each given VIN, the other
	// dealerships whose logs contain it. Used for cross-dealership moves.
	DealershipsHoldingVINs(ctx context.Context, excludeDealership string, vins []string) (map[string][]string, error)

	// ImportVINLog bulk-appends entries to a dealership's log.
	ImportVINLog(ctx context.Context, dealership string, entries []model.VINLogEntry, opts VINLogImportOptions) (*VINLogImportCounts, error)

	// VINHistory pages through a dealership's log for the operator UI.
	VINHistory(ctx context.Context, q VINHistoryQuery) (*VINHistoryResult, error)
}

// ManifestStore persists import manifests and owns the active pointer.
type ManifestStore interface {
	// CreateManifest records a new pending manifest. ErrIngestConflict if
	// the id already exists.
	CreateManifest(ctx context.Context, m *model.ImportManifest) error

	GetManifest(ctx context.Context, id string) (*model.ImportManifest, error)

	// ActiveManifest returns the single active manifest, ErrNotFound when
	// none is active.
	ActiveManifest(ctx context.Context) (*model.ImportManifest, error)

	// ActivateManifest flips the manifest to active and archives the
	// previously active one in the same operation.
	ActivateManifest(ctx context.Context, id string) error

	// ArchiveManifest archives a manifest without activating another.
	ArchiveManifest(ctx context.Context, id string) error

	// UpdateManifestCounts stores the aggregate row counts for a manifest.
	UpdateManifestCounts(ctx context.Context, id string, total int, perDealership map[string]int) error
}

// DealershipStore persists dealership configurations.
type DealershipStore interface {
	ListDealerships(ctx context.Context) ([]model.DealershipConfig, error)
	GetDealership(ctx context.Context, name string) (*model.DealershipConfig, error)
	UpsertDealership(ctx context.Context, cfg *model.DealershipConfig) error
}

// OrderRunStore persists order run records.
type OrderRunStore interface {
	RecordOrderRun(ctx context.Context, run *model.OrderRun) error
	ListOrderRuns(ctx context.Context, dealership string, limit int) ([]model.OrderRun, error)
}

// Store is the combined durable persistence surface. It is the only shared
// mutable resource in the system; the VIN log and the active-manifest
// pointer require linearizable writes.
type Store interface {
	VehicleStore
	VINLogStore
	ManifestStore
	DealershipStore
	OrderRunStore
}

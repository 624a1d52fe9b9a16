package model

import (
	"time"
)

// ImportSource identifies how a batch of rows entered the system.
type ImportSource string

const (
	ImportSourceScrape ImportSource = "scrape"
	ImportSourceCSV    ImportSource = "csv_upload"
)

// ManifestStatus is the lifecycle state of an import manifest.
type ManifestStatus string

const (
	// ManifestStatusPending marks a manifest whose rows are still being
	// written. Pending rows are invisible to the resolver and bulk views.
	ManifestStatusPending ManifestStatus = "pending"

	// ManifestStatusActive marks the single manifest backing live queries.
	ManifestStatusActive ManifestStatus = "active"

	ManifestStatusArchived ManifestStatus = "archived"
)

// Finalized reports whether the manifest can no longer accept rows.
func (s ManifestStatus) Finalized() bool {
	return s == ManifestStatusActive || s == ManifestStatusArchived
}

// ImportManifest describes one import batch. At most one manifest is active
// at a time; activating a manifest archives the previously active one in the
// same store operation.
type ImportManifest struct {
	ID           string         `json:"import_id"`
	ImportDate   time.Time      `json:"import_date"`
	Source       ImportSource   `json:"import_source"`
	FileName     string         `json:"file_name,omitempty"`
	Status       ManifestStatus `json:"status"`
	VehicleCount int            `json:"vehicle_count"`

	// DealershipCounts aggregates ingested rows per dealership.
	DealershipCounts map[string]int `json:"dealership_counts,omitempty"`
}

package model

import (
	"time"
)

// OrderMode is the resolution mode that produced an order run.
type OrderMode string

const (
	OrderModeCAO  OrderMode = "CAO"
	OrderModeList OrderMode = "LIST"
)

// RunStatus is the final state of an order run record.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFilesEmittedNoLog marks the inconsistent state where
	// artifacts were renamed into place but the VIN log append failed.
	// Operator intervention is required; the files remain for recovery.
	RunStatusFilesEmittedNoLog RunStatus = "FILES_EMITTED_NO_LOG"

	RunStatusDryRun RunStatus = "DRY_RUN"
)

// OrderRun records one artifact emission. Immutable once recorded.
type OrderRun struct {
	ID           string    `json:"run_id"`
	Dealership   string    `json:"dealership"`
	Mode         OrderMode `json:"mode"`
	TemplateType string    `json:"template_type"`
	CreatedAt    time.Time `json:"created_at"`
	Status       RunStatus `json:"status"`

	VehicleCount int `json:"vehicle_count"`
	RowCount     int `json:"row_count"`

	CSVPath string `json:"csv_path"`
	QRDir   string `json:"qr_dir"`

	// Remediation carries the operator-facing note attached to runs that
	// ended in FILES_EMITTED_NO_LOG.
	Remediation string `json:"remediation,omitempty"`
}

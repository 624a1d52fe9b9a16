package model

import (
	"time"
)

// OrderType classifies a VIN log entry.
type OrderType string

const (
	// OrderTypeBaseline marks inventory that already carried graphics when
	// tracking began. Baseline VINs are never re-processed.
	OrderTypeBaseline OrderType = "BASELINE"

	OrderTypeCAO  OrderType = "CAO"
	OrderTypeList OrderType = "LIST"
)

// VINLogEntry records that a VIN was processed for a dealership on a given
// date. (Dealership, VIN, order date) is unique; the same VIN may recur
// across different dates. VehicleType records the sale condition at
// processing time, which status-change resolution compares against.
type VINLogEntry struct {
	Dealership    string      `json:"dealership"`
	VIN           string      `json:"vin"`
	OrderNumber   string      `json:"order_number"`
	ProcessedDate time.Time   `json:"processed_date"`
	OrderType     OrderType   `json:"order_type"`
	VehicleType   VehicleType `json:"vehicle_type"`
}

package model

import (
	"strings"
	"time"
)

// VehicleType is the normalized sale condition of a vehicle.
type VehicleType string

const (
	VehicleTypeNew       VehicleType = "new"
	VehicleTypeUsed      VehicleType = "used"
	VehicleTypeCertified VehicleType = "certified"
	VehicleTypeUnknown   VehicleType = "unknown"
)

// RawVehicle is a single snapshot row as produced by a dealership adapter or
// a CSV upload. Scalar fields are kept as scraped text; parsing happens in
// the normalizer so the raw table stays a faithful audit record.
type RawVehicle struct {
	VIN           string    `json:"vin"`
	Stock         string    `json:"stock"`
	Year          string    `json:"year"`
	Make          string    `json:"make"`
	Model         string    `json:"model"`
	Trim          string    `json:"trim"`
	Price         string    `json:"price"`
	Mileage       string    `json:"mileage"`
	VehicleType   string    `json:"vehicle_type"`
	ExteriorColor string    `json:"exterior_color"`
	Location      string    `json:"location"`
	VehicleURL    string    `json:"vehicle_url"`
	ImportID      string    `json:"import_id"`
	TimeScraped   time.Time `json:"time_scraped"`
}

// Vehicle is the canonical normalized representation, keyed by (VIN, Location).
type Vehicle struct {
	VIN           string      `json:"vin"`
	Stock         string      `json:"stock"`
	Year          *int        `json:"year"`
	Make          string      `json:"make"`
	Model         string      `json:"model"`
	Trim          string      `json:"trim"`
	Price         *float64    `json:"price"`
	Mileage       *int        `json:"mileage"`
	VehicleType   VehicleType `json:"vehicle_type"`
	ExteriorColor string      `json:"exterior_color"`
	Location      string      `json:"location"`
	VehicleURL    string      `json:"vehicle_url"`

	ImportID    string    `json:"import_id"`
	TimeScraped time.Time `json:"time_scraped"`

	FirstScraped time.Time `json:"first_scraped"`
	LastScraped  time.Time `json:"last_scraped"`
	ScrapeCount  int       `json:"scrape_count"`

	PriceFormatted   string `json:"price_formatted"`
	MileageFormatted string `json:"mileage_formatted"`

	// Incomplete marks rows whose VIN is not 17 characters. They are kept
	// for audit but never resolve into orders.
	Incomplete bool `json:"incomplete"`
}

// HasValidVIN reports whether the vehicle carries a complete 17-char VIN.
func (v *Vehicle) HasValidVIN() bool {
	return len(v.VIN) == 17
}

// Key identifies the normalized row.
func (v *Vehicle) Key() string {
	return v.VIN + "|" + strings.ToLower(v.Location)
}

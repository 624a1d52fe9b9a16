// Package csvio reads and writes the operator-facing CSV exchange formats:
// inventory uploads, VIN log imports and both export directions. Headers are
// matched case-insensitively; unknown columns are ignored.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
)

// Accepted processed_date layouts for VIN log imports.
var dateLayouts = []string{"2006-01-02", "01/02/2006", time.RFC3339}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func field(record []string, idx map[string]int, names ...string) string {
	for _, n := range names {
		if i, ok := idx[n]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
	}
	return ""
}

// ReadInventory parses an inventory upload. Only a vin column is mandatory;
// all other fields stay raw text for the normalizer.
func ReadInventory(r io.Reader) ([]model.RawVehicle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: empty csv", core.ErrInvalidInput)
	}
	idx := headerIndex(header)
	if _, ok := idx["vin"]; !ok {
		return nil, fmt.Errorf("%w: csv has no vin column", core.ErrInvalidInput)
	}

	var rows []model.RawVehicle
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
		}
		rows = append(rows, model.RawVehicle{
			VIN:           field(record, idx, "vin"),
			Stock:         field(record, idx, "stock", "stock_number"),
			Year:          field(record, idx, "year"),
			Make:          field(record, idx, "make"),
			Model:         field(record, idx, "model"),
			Trim:          field(record, idx, "trim"),
			Price:         field(record, idx, "price"),
			Mileage:       field(record, idx, "mileage", "odometer"),
			VehicleType:   field(record, idx, "vehicle_type", "type", "condition"),
			ExteriorColor: field(record, idx, "exterior_color", "color"),
			Location:      field(record, idx, "location", "dealership"),
			VehicleURL:    field(record, idx, "vehicle_url", "url"),
		})
	}
	return rows, nil
}

// WriteInventory exports raw snapshot rows, the reverse of ReadInventory.
func WriteInventory(w io.Writer, rows []model.RawVehicle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"vin", "stock", "year", "make", "model", "trim", "price", "mileage",
		"vehicle_type", "exterior_color", "location", "vehicle_url", "time_scraped",
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.VIN, r.Stock, r.Year, r.Make, r.Model, r.Trim, r.Price, r.Mileage,
			r.VehicleType, r.ExteriorColor, r.Location, r.VehicleURL,
			r.TimeScraped.Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadVINLog parses a VIN log import. Required columns: vin, processed_date.
// order_type defaults to BASELINE, matching the common "seed the log from a
// spreadsheet" workflow.
func ReadVINLog(r io.Reader, dealership string) ([]model.VINLogEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: empty csv", core.ErrInvalidInput)
	}
	idx := headerIndex(header)
	if _, ok := idx["vin"]; !ok {
		return nil, fmt.Errorf("%w: csv has no vin column", core.ErrInvalidInput)
	}

	var entries []model.VINLogEntry
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
		}
		line++

		vin := strings.ToUpper(field(record, idx, "vin"))
		if vin == "" {
			continue
		}

		processed, err := parseDate(field(record, idx, "processed_date", "order_date", "date"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", core.ErrInvalidInput, line, err)
		}

		orderType := model.OrderType(strings.ToUpper(field(record, idx, "order_type", "type")))
		switch orderType {
		case "":
			orderType = model.OrderTypeBaseline
		case model.OrderTypeBaseline, model.OrderTypeCAO, model.OrderTypeList:
		default:
			return nil, fmt.Errorf("%w: line %d: unknown order type %q", core.ErrInvalidInput, line, orderType)
		}

		entries = append(entries, model.VINLogEntry{
			Dealership:    dealership,
			VIN:           vin,
			OrderNumber:   field(record, idx, "order_number", "order"),
			ProcessedDate: processed,
			OrderType:     orderType,
			VehicleType:   model.VehicleType(strings.ToLower(field(record, idx, "vehicle_type", "condition"))),
		})
	}
	return entries, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing processed_date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// WriteVINLog exports a dealership's VIN log.
func WriteVINLog(w io.Writer, entries []model.VINLogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"vin", "order_number", "processed_date", "order_type", "vehicle_type"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{
			e.VIN, e.OrderNumber, e.ProcessedDate.Format("2006-01-02"),
			string(e.OrderType), string(e.VehicleType),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

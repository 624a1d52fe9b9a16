// Package normalizer converts raw snapshot rows into the canonical vehicle
// representation. The transform is total: problematic input yields null
// fields plus a companion warning list, never an error.
package normalizer

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/printlot-io/printlot/internal/core/model"
)

// Warning flags a field that could not be normalized cleanly.
type Warning struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

var printer = message.NewPrinter(language.English)

var vehicleTypeAliases = map[string]model.VehicleType{
	"new":                 model.VehicleTypeNew,
	"used":                model.VehicleTypeUsed,
	"pre-owned":           model.VehicleTypeUsed,
	"preowned":            model.VehicleTypeUsed,
	"po":                  model.VehicleTypeUsed,
	"certified":           model.VehicleTypeCertified,
	"cpo":                 model.VehicleTypeCertified,
	"certified pre-owned": model.VehicleTypeCertified,
}

// Normalize transforms one raw row. now anchors the year sanity bound.
func Normalize(raw model.RawVehicle, now time.Time) (model.Vehicle, []Warning) {
	var warnings []Warning
	warn := func(field, detail string) {
		warnings = append(warnings, Warning{Field: field, Detail: detail})
	}

	v := model.Vehicle{
		Stock:         strings.TrimSpace(raw.Stock),
		Make:          strings.TrimSpace(raw.Make),
		Model:         strings.TrimSpace(raw.Model),
		Trim:          strings.TrimSpace(raw.Trim),
		ExteriorColor: strings.TrimSpace(raw.ExteriorColor),
		Location:      strings.TrimSpace(raw.Location),
		VehicleURL:    strings.TrimSpace(raw.VehicleURL),
		ImportID:      raw.ImportID,
		TimeScraped:   raw.TimeScraped,
	}
	if v.TimeScraped.IsZero() {
		v.TimeScraped = now
	}

	v.VIN = strings.ToUpper(strings.TrimSpace(raw.VIN))
	if len(v.VIN) != 17 {
		v.Incomplete = true
		warn("vin", "length is not 17")
	}

	v.VehicleType = normalizeType(raw.VehicleType)
	if v.VehicleType == model.VehicleTypeUnknown && strings.TrimSpace(raw.VehicleType) != "" {
		warn("vehicle_type", "unrecognized condition "+strconv.Quote(raw.VehicleType))
	}

	v.Price = parsePrice(raw.Price, warn)
	v.Mileage = parseMileage(raw.Mileage, warn)
	if v.Mileage == nil && v.VehicleType == model.VehicleTypeNew {
		zero := 0
		v.Mileage = &zero
	}

	v.Year = parseYear(raw.Year, now, warn)

	v.PriceFormatted = FormatPrice(v.Price)
	v.MileageFormatted = FormatMileage(v.Mileage)

	return v, warnings
}

func normalizeType(s string) model.VehicleType {
	key := strings.ToLower(strings.TrimSpace(s))
	if t, ok := vehicleTypeAliases[key]; ok {
		return t
	}
	return model.VehicleTypeUnknown
}

func parsePrice(s string, warn func(field, detail string)) *float64 {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" || strings.Contains(trimmed, "call") || strings.Contains(trimmed, "contact") {
		return nil
	}

	cleaned := stripToNumber(trimmed)
	if cleaned == "" || cleaned == "-" {
		warn("price", "no digits in "+strconv.Quote(s))
		return nil
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		warn("price", "unparseable "+strconv.Quote(s))
		return nil
	}
	if f < 0 {
		warn("price", "negative")
		return nil
	}
	return &f
}

func parseMileage(s string, warn func(field, detail string)) *int {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}

	cleaned := stripToNumber(strings.ToLower(trimmed))
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		warn("mileage", "unparseable "+strconv.Quote(s))
		return nil
	}
	if f < 0 {
		warn("mileage", "negative")
		return nil
	}
	m := int(f)
	return &m
}

func parseYear(s string, now time.Time, warn func(field, detail string)) *int {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}

	y, err := strconv.Atoi(trimmed)
	if err != nil || y < 1900 || y > now.Year()+2 {
		warn("year", "outside [1900, current+2]: "+strconv.Quote(s))
		return nil
	}
	return &y
}

// stripToNumber removes currency symbols and separators, keeping digits,
// at most one leading minus and the decimal point.
func stripToNumber(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatPrice renders "$<thousands-separated>" or "N/A".
func FormatPrice(p *float64) string {
	if p == nil {
		return "N/A"
	}
	if *p == math.Trunc(*p) {
		return printer.Sprintf("$%d", int64(*p))
	}
	return printer.Sprintf("$%.2f", *p)
}

// FormatMileage renders "<thousands-separated> mi" or "N/A".
func FormatMileage(m *int) string {
	if m == nil {
		return "N/A"
	}
	return printer.Sprintf("%d mi", *m)
}

package emitter

import (
	"fmt"
	"strconv"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
)

// Template defines the CSV column set for one order layout. Column order is
// part of the printer contract and must not change between runs.
type Template struct {
	Type    string
	Columns []string
}

var templates = map[string]Template{
	"shortcut_pack": {
		Type:    "shortcut_pack",
		Columns: []string{"vin", "stock", "year", "make", "model", "trim", "price", "size", "quantity", "qr_file"},
	},
	"windshield": {
		Type:    "windshield",
		Columns: []string{"vin", "stock", "year", "make", "model", "size", "quantity", "qr_file"},
	},
}

// TemplateFor looks up a template by type name.
func TemplateFor(templateType string) (Template, error) {
	t, ok := templates[templateType]
	if !ok {
		return Template{}, fmt.Errorf("%w: unknown template type %q", core.ErrInvalidInput, templateType)
	}
	return t, nil
}

// columns returns the emitted column order: the template's full set, or the
// configured subset in template order. quantity and size always survive
// narrowing since the printer requires them.
func (t Template) columns(fields []string) []string {
	if len(fields) == 0 {
		return t.Columns
	}
	want := map[string]bool{"size": true, "quantity": true}
	for _, f := range fields {
		want[f] = true
	}
	var out []string
	for _, c := range t.Columns {
		if want[c] {
			out = append(out, c)
		}
	}
	return out
}

// cell renders one column value for an item.
func (t Template) cell(column string, it item) string {
	v := it.Vehicle
	switch column {
	case "vin":
		return v.VIN
	case "stock":
		return v.Stock
	case "year":
		if v.Year == nil {
			return ""
		}
		return strconv.Itoa(*v.Year)
	case "make":
		return v.Make
	case "model":
		return v.Model
	case "trim":
		return v.Trim
	case "price":
		return v.PriceFormatted
	case "size":
		return it.Size
	case "quantity":
		// Variable-data rule: every physical row carries quantity 1.
		return "1"
	case "qr_file":
		return v.VIN + ".png"
	default:
		return ""
	}
}

// item is one logical order line: a vehicle plus its print size and the
// operator's quantity, expanded into quantity rows at emission time.
type item struct {
	Vehicle  model.Vehicle
	Size     string
	Quantity int
}

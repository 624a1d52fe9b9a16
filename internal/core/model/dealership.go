package model

import (
	"encoding/json"
	"strings"
)

// DealershipConfig is the operator-maintained configuration for a single
// dealership: which vehicles qualify for graphics, what the output looks
// like, and where artifacts land.
type DealershipConfig struct {
	Name         string      `json:"name"`
	IsActive     bool        `json:"is_active"`
	Filtering    FilterRules `json:"filtering_rules"`
	Output       OutputRules `json:"output_rules"`
	QROutputPath string      `json:"qr_output_path"`

	// FeedURL is the dealership's inventory feed endpoint. Empty means no
	// live feed; the scrape CLI and server fall back to a local CSV drop
	// directory for such dealerships.
	FeedURL string `json:"feed_url,omitempty"`

	// ExpectedCount is the rough inventory size, used for scrape progress
	// reporting only. Zero means unknown.
	ExpectedCount int `json:"expected_count,omitempty"`
}

// Slug renders the dealership name as a filesystem-safe directory name.
func (d *DealershipConfig) Slug() string {
	s := strings.ToLower(strings.TrimSpace(d.Name))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// FilterRules is the closed set of per-dealership filter settings. All
// fields are optional; nil bounds mean unbounded. Unknown keys found in
// persisted configs are preserved in Extra and not acted upon.
type FilterRules struct {
	ExcludeConditions []VehicleType `json:"exclude_conditions,omitempty"`
	RequireStock      bool          `json:"require_stock,omitempty"`
	MinPrice          *float64      `json:"min_price,omitempty"`
	MaxPrice          *float64      `json:"max_price,omitempty"`
	MinYear           *int          `json:"min_year,omitempty"`
	MaxYear           *int          `json:"max_year,omitempty"`
	ExcludeMakes      []string      `json:"exclude_makes,omitempty"`
	IncludeOnlyMakes  []string      `json:"include_only_makes,omitempty"`
	ExcludeModels     []string      `json:"exclude_models,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type filterRulesAlias FilterRules

var filterRuleKeys = map[string]bool{
	"exclude_conditions": true,
	"require_stock":      true,
	"min_price":          true,
	"max_price":          true,
	"min_year":           true,
	"max_year":           true,
	"exclude_makes":      true,
	"include_only_makes": true,
	"exclude_models":     true,
}

// UnmarshalJSON decodes the known rule fields and stashes unknown keys in
// Extra so round-tripping a config never loses operator data.
func (r *FilterRules) UnmarshalJSON(data []byte) error {
	var alias filterRulesAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if filterRuleKeys[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		alias.Extra = raw
	}

	*r = FilterRules(alias)
	return nil
}

// MarshalJSON writes the known fields plus any preserved unknown keys.
func (r FilterRules) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(filterRulesAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = map[string]json.RawMessage{}
	}
	for k, v := range r.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// OutputRules describes the artifact layout for a dealership.
type OutputRules struct {
	// TemplateType selects the CSV column set, e.g. "shortcut_pack" or
	// "windshield".
	TemplateType string `json:"template_type"`

	// Fields optionally narrows the emitted CSV columns. Empty means the
	// template's full column set.
	Fields []string `json:"fields,omitempty"`

	// SortBy orders rows in the CSV. Supported keys: "vin", "stock",
	// "make", "model", "year".
	SortBy string `json:"sort_by,omitempty"`

	// QRURLTemplate is the payload template for QR codes; "{vin}" (or
	// "{stock}" when QRKeySource is "stock") is substituted per vehicle.
	QRURLTemplate string `json:"qr_url_template"`

	// QRKeySource is "vin" (default) or "stock".
	QRKeySource string `json:"qr_key_source,omitempty"`

	// DefaultSize is the size column value applied to items that do not
	// carry one explicitly. A variable-data CSV must be single-size.
	DefaultSize string `json:"default_size,omitempty"`

	// DefaultQuantity is the per-item quantity when the operator does not
	// specify one. Each logical quantity N expands to N CSV rows.
	DefaultQuantity int `json:"default_quantity,omitempty"`
}

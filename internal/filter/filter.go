// Package filter evaluates a dealership's configured filtering rules
// against a candidate vehicle. Evaluation is pure and deterministic: rules
// are checked in a fixed order and the first failing rule names the result.
package filter

import (
	"strings"

	"github.com/printlot-io/printlot/internal/core/model"
)

// Result is the outcome of a rule evaluation.
type Result struct {
	Accepted bool

	// Rule names the first failing rule when Accepted is false.
	Rule string
}

func accept() Result            { return Result{Accepted: true} }
func reject(rule string) Result { return Result{Rule: rule} }

// Evaluate applies the rule set to a vehicle. All configured rules combine
// by logical AND; a nil price/year bound means unbounded while a set bound
// (including zero) requires the field to be present.
func Evaluate(v model.Vehicle, rules model.FilterRules) Result {
	for _, t := range rules.ExcludeConditions {
		if v.VehicleType == t {
			return reject("exclude_conditions")
		}
	}

	if rules.RequireStock && strings.TrimSpace(v.Stock) == "" {
		return reject("require_stock")
	}

	if rules.MinPrice != nil && (v.Price == nil || *v.Price < *rules.MinPrice) {
		return reject("min_price")
	}
	if rules.MaxPrice != nil && (v.Price == nil || *v.Price > *rules.MaxPrice) {
		return reject("max_price")
	}

	if rules.MinYear != nil && (v.Year == nil || *v.Year < *rules.MinYear) {
		return reject("min_year")
	}
	if rules.MaxYear != nil && (v.Year == nil || *v.Year > *rules.MaxYear) {
		return reject("max_year")
	}

	// A non-empty include list wins over the exclude list.
	if len(rules.IncludeOnlyMakes) > 0 {
		if !containsFold(rules.IncludeOnlyMakes, v.Make) {
			return reject("include_only_makes")
		}
	} else if containsFold(rules.ExcludeMakes, v.Make) {
		return reject("exclude_makes")
	}

	for _, m := range rules.ExcludeModels {
		if m != "" && strings.Contains(strings.ToLower(v.Model), strings.ToLower(m)) {
			return reject("exclude_models")
		}
	}

	return accept()
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

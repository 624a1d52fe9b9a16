// Package memory provides an in-memory Store implementation with the same
// semantics as the Postgres store. It backs service-level tests and the
// development profile.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
)

// Store keeps all durable state in process memory guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	raw       []model.RawVehicle
	vehicles  map[string]*model.Vehicle
	vinLog    map[string][]model.VINLogEntry
	manifests map[string]*model.ImportManifest
	activeID  string
	dealers   map[string]*model.DealershipConfig
	runs      []model.OrderRun
}

var _ core.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		vehicles:  make(map[string]*model.Vehicle),
		vinLog:    make(map[string][]model.VINLogEntry),
		manifests: make(map[string]*model.ImportManifest),
		dealers:   make(map[string]*model.DealershipConfig),
	}
}

func vehicleKey(vin, location string) string {
	return vin + "|" + strings.ToLower(location)
}

func dealerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// sameOrderDate compares the calendar date portion of two timestamps in the
// timezone of the first.
func sameOrderDate(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.In(a.Location()).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// --- VehicleStore ---

func (s *Store) InsertRawVehicles(ctx context.Context, rows []model.RawVehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, rows...)
	return nil
}

func (s *Store) UpsertVehicle(ctx context.Context, obs model.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := vehicleKey(obs.VIN, obs.Location)
	existing, ok := s.vehicles[key]
	if !ok {
		v := obs
		v.FirstScraped = obs.TimeScraped
		v.LastScraped = obs.TimeScraped
		v.ScrapeCount = 1
		s.vehicles[key] = &v
		return nil
	}

	existing.LastScraped = obs.TimeScraped
	existing.ScrapeCount++
	existing.ImportID = obs.ImportID
	existing.TimeScraped = obs.TimeScraped
	mergeScalars(existing, &obs)
	return nil
}

// mergeScalars overwrites dst's scalar fields with src's latest non-null
// observations. Null never erases a prior value.
func mergeScalars(dst, src *model.Vehicle) {
	if src.Stock != "" {
		dst.Stock = src.Stock
	}
	if src.Year != nil {
		dst.Year = src.Year
	}
	if src.Make != "" {
		dst.Make = src.Make
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Trim != "" {
		dst.Trim = src.Trim
	}
	if src.Price != nil {
		dst.Price = src.Price
		dst.PriceFormatted = src.PriceFormatted
	}
	if src.Mileage != nil {
		dst.Mileage = src.Mileage
		dst.MileageFormatted = src.MileageFormatted
	}
	if src.VehicleType != model.VehicleTypeUnknown {
		dst.VehicleType = src.VehicleType
	}
	if src.ExteriorColor != "" {
		dst.ExteriorColor = src.ExteriorColor
	}
	if src.VehicleURL != "" {
		dst.VehicleURL = src.VehicleURL
	}
	dst.Incomplete = src.Incomplete
}

func (s *Store) ActiveInventory(ctx context.Context, dealership string) ([]model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return nil, nil
	}

	var out []model.Vehicle
	for _, v := range s.vehicles {
		if strings.EqualFold(v.Location, dealership) && v.ImportID == s.activeID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VIN < out[j].VIN })
	return out, nil
}

func (s *Store) SearchVehicles(ctx context.Context, q core.SearchQuery) (*core.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.Vehicle
	counts := map[string]map[string]int{
		"location":     {},
		"make":         {},
		"model":        {},
		"vehicle_type": {},
	}
	bump := func(facet, val string) {
		if val != "" {
			counts[facet][val]++
		}
	}

	for _, v := range s.vehicles {
		if !matchesQuery(v, q) {
			continue
		}
		matched = append(matched, *v)
		bump("location", v.Location)
		bump("make", v.Make)
		bump("model", v.Model)
		bump("vehicle_type", string(v.VehicleType))
	}

	sortVehicles(matched, q.Sort)

	total := len(matched)
	page, per := pageBounds(q.Page, q.PerPage)
	lo := (page - 1) * per
	if lo > total {
		lo = total
	}
	hi := lo + per
	if hi > total {
		hi = total
	}

	return &core.SearchResult{
		Rows:         matched[lo:hi],
		Total:        total,
		FilterCounts: counts,
	}, nil
}

func matchesQuery(v *model.Vehicle, q core.SearchQuery) bool {
	if q.Text != "" {
		t := strings.ToLower(q.Text)
		hay := strings.ToLower(v.VIN + " " + v.Stock + " " + v.Make + " " + v.Model)
		if !strings.Contains(hay, t) {
			return false
		}
	}
	if q.Location != "" && !strings.EqualFold(v.Location, q.Location) {
		return false
	}
	if q.Make != "" && !strings.EqualFold(v.Make, q.Make) {
		return false
	}
	if q.Model != "" && !strings.EqualFold(v.Model, q.Model) {
		return false
	}
	if q.Year != nil && (v.Year == nil || *v.Year != *q.Year) {
		return false
	}
	if q.VehicleType != "" && v.VehicleType != q.VehicleType {
		return false
	}
	if q.From != nil && v.LastScraped.Before(*q.From) {
		return false
	}
	if q.To != nil && v.LastScraped.After(*q.To) {
		return false
	}
	return true
}

func sortVehicles(rows []model.Vehicle, key string) {
	less := func(i, j int) bool { return rows[i].VIN < rows[j].VIN }
	switch key {
	case "make":
		less = func(i, j int) bool { return rows[i].Make < rows[j].Make }
	case "year":
		less = func(i, j int) bool {
			yi, yj := 0, 0
			if rows[i].Year != nil {
				yi = *rows[i].Year
			}
			if rows[j].Year != nil {
				yj = *rows[j].Year
			}
			return yi < yj
		}
	case "last_scraped":
		less = func(i, j int) bool { return rows[i].LastScraped.Before(rows[j].LastScraped) }
	}
	sort.SliceStable(rows, less)
}

func pageBounds(page, per int) (int, int) {
	if page < 1 {
		page = 1
	}
	if per < 1 {
		per = 50
	}
	return page, per
}

func (s *Store) VehicleScrapeHistory(ctx context.Context, vin string) ([]model.RawVehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RawVehicle
	for _, r := range s.raw {
		if strings.EqualFold(strings.TrimSpace(r.VIN), vin) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeScraped.After(out[j].TimeScraped) })
	return out, nil
}

func (s *Store) RawRowsByImport(ctx context.Context, importID string) ([]model.RawVehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RawVehicle
	for _, r := range s.raw {
		if r.ImportID == importID {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- VINLogStore ---

func (s *Store) AppendVINLogEntries(ctx context.Context, entries []model.VINLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		key := dealerKey(e.Dealership)
		log := s.vinLog[key]
		replaced := false
		for i, existing := range log {
			// (dealership, vin, order date) is unique; re-appending the
			// same key replaces the prior entry.
			if existing.VIN == e.VIN && sameOrderDate(existing.ProcessedDate, e.ProcessedDate) {
				log[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			log = append(log, e)
		}
		s.vinLog[key] = log
	}
	return nil
}

func (s *Store) VINLogForDealership(ctx context.Context, dealership string, vins []string) (map[string][]model.VINLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := map[string]bool{}
	for _, v := range vins {
		want[v] = true
	}

	out := make(map[string][]model.VINLogEntry)
	for _, e := range s.vinLog[dealerKey(dealership)] {
		if vins != nil && !want[e.VIN] {
			continue
		}
		out[e.VIN] = append(out[e.VIN], e)
	}
	for _, entries := range out {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].ProcessedDate.After(entries[j].ProcessedDate)
		})
	}
	return out, nil
}

func (s *Store) DealershipsHoldingVINs(ctx context.Context, excludeDealership string, vins []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := map[string]bool{}
	for _, v := range vins {
		want[v] = true
	}

	out := make(map[string][]string)
	for dealer, entries := range s.vinLog {
		if dealer == dealerKey(excludeDealership) {
			continue
		}
		seen := map[string]bool{}
		for _, e := range entries {
			if want[e.VIN] && !seen[e.VIN] {
				out[e.VIN] = append(out[e.VIN], e.Dealership)
				seen[e.VIN] = true
			}
		}
	}
	return out, nil
}

func (s *Store) ImportVINLog(ctx context.Context, dealership string, entries []model.VINLogEntry, opts core.VINLogImportOptions) (*core.VINLogImportCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dealerKey(dealership)
	log := s.vinLog[key]
	counts := &core.VINLogImportCounts{}

	for _, e := range entries {
		e.Dealership = dealership
		idx := -1
		for i, existing := range log {
			if existing.VIN == e.VIN && sameOrderDate(existing.ProcessedDate, e.ProcessedDate) {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			log = append(log, e)
			counts.Inserted++
		case opts.UpdateExisting:
			log[idx] = e
			counts.Updated++
		case opts.SkipDuplicates:
			counts.Skipped++
		default:
			return nil, fmt.Errorf("%w: duplicate vin log entry %s", core.ErrIngestConflict, e.VIN)
		}
	}

	s.vinLog[key] = log
	return counts, nil
}

func (s *Store) VINHistory(ctx context.Context, q core.VINHistoryQuery) (*core.VINHistoryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.VINLogEntry
	stats := core.VINLogStats{}
	for _, e := range s.vinLog[dealerKey(q.Dealership)] {
		stats.Total++
		switch e.OrderType {
		case model.OrderTypeBaseline:
			stats.Baseline++
		case model.OrderTypeCAO:
			stats.CAO++
		case model.OrderTypeList:
			stats.List++
		}

		if q.Text != "" {
			t := strings.ToLower(q.Text)
			if !strings.Contains(strings.ToLower(e.VIN), t) && !strings.Contains(strings.ToLower(e.OrderNumber), t) {
				continue
			}
		}
		if q.From != nil && e.ProcessedDate.Before(*q.From) {
			continue
		}
		if q.To != nil && e.ProcessedDate.After(*q.To) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ProcessedDate.After(matched[j].ProcessedDate)
	})

	total := len(matched)
	page, per := pageBounds(q.Page, q.PerPage)
	lo := (page - 1) * per
	if lo > total {
		lo = total
	}
	hi := lo + per
	if hi > total {
		hi = total
	}

	return &core.VINHistoryResult{Rows: matched[lo:hi], Total: total, Stats: stats}, nil
}

// --- ManifestStore ---

func (s *Store) CreateManifest(ctx context.Context, m *model.ImportManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.manifests[m.ID]; exists {
		return fmt.Errorf("%w: import %s already exists", core.ErrIngestConflict, m.ID)
	}
	cp := *m
	if cp.Status == "" {
		cp.Status = model.ManifestStatusPending
	}
	s.manifests[m.ID] = &cp
	return nil
}

func (s *Store) GetManifest(ctx context.Context, id string) (*model.ImportManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.manifests[id]
	if !ok {
		return nil, fmt.Errorf("%w: import %s", core.ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ActiveManifest(ctx context.Context) (*model.ImportManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return nil, fmt.Errorf("%w: no active manifest", core.ErrNotFound)
	}
	cp := *s.manifests[s.activeID]
	return &cp, nil
}

func (s *Store) ActivateManifest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.manifests[id]
	if !ok {
		return fmt.Errorf("%w: import %s", core.ErrNotFound, id)
	}
	if m.Status == model.ManifestStatusArchived {
		return fmt.Errorf("%w: import %s is archived", core.ErrIngestConflict, id)
	}

	if s.activeID != "" && s.activeID != id {
		s.manifests[s.activeID].Status = model.ManifestStatusArchived
	}
	m.Status = model.ManifestStatusActive
	s.activeID = id
	return nil
}

func (s *Store) ArchiveManifest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.manifests[id]
	if !ok {
		return fmt.Errorf("%w: import %s", core.ErrNotFound, id)
	}
	m.Status = model.ManifestStatusArchived
	if s.activeID == id {
		s.activeID = ""
	}
	return nil
}

func (s *Store) UpdateManifestCounts(ctx context.Context, id string, total int, perDealership map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.manifests[id]
	if !ok {
		return fmt.Errorf("%w: import %s", core.ErrNotFound, id)
	}
	m.VehicleCount = total
	m.DealershipCounts = perDealership
	return nil
}

// --- DealershipStore ---

func (s *Store) ListDealerships(ctx context.Context) ([]model.DealershipConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.DealershipConfig, 0, len(s.dealers))
	for _, d := range s.dealers {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetDealership(ctx context.Context, name string) (*model.DealershipConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.dealers[dealerKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: dealership %s", core.ErrNotFound, name)
	}
	cp := *d
	return &cp, nil
}

func (s *Store) UpsertDealership(ctx context.Context, cfg *model.DealershipConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cfg
	s.dealers[dealerKey(cfg.Name)] = &cp
	return nil
}

// --- OrderRunStore ---

func (s *Store) RecordOrderRun(ctx context.Context, run *model.OrderRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *Store) ListOrderRuns(ctx context.Context, dealership string, limit int) ([]model.OrderRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.OrderRun
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if dealership != "" && !strings.EqualFold(r.Dealership, dealership) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Snapshot helpers used by tests.

// VINLogLen returns the number of log entries for a dealership.
func (s *Store) VINLogLen(dealership string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vinLog[dealerKey(dealership)])
}

package http

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/csvio"
	"github.com/printlot-io/printlot/internal/queue"
	"github.com/printlot-io/printlot/internal/scraper"
)

// maxUploadBytes bounds CSV uploads.
const maxUploadBytes = 32 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.ListDealerships(ctx); err != nil {
		writeError(w, fmt.Errorf("%w: store not ready: %v", core.ErrStoreUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListDealerships(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListDealerships(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dealerships": configs})
}

func (s *Server) handleUpsertDealership(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var cfg model.DealershipConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	if cfg.Name != name {
		writeError(w, fmt.Errorf("%w: body name %q does not match path %q", core.ErrInvalidInput, cfg.Name, name))
		return
	}

	if err := s.store.UpsertDealership(r.Context(), &cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type startScrapingRequest struct {
	Dealerships []string `json:"dealerships,omitempty"`
}

// handleStartScraping kicks off a scraping session in the background and
// returns its id immediately. Progress is served from the session hub.
func (s *Server) handleStartScraping(w http.ResponseWriter, r *http.Request) {
	var req startScrapingRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
			return
		}
	}

	configs, err := s.scrapeTargets(r.Context(), req.Dealerships)
	if err != nil {
		writeError(w, err)
		return
	}

	adapters := make([]scraper.Adapter, 0, len(configs))
	for _, cfg := range configs {
		adapters = append(adapters, s.adapters(cfg))
	}

	sessionID := uuid.NewString()
	go func() {
		// The session outlives the request.
		if _, err := s.orchestrator.RunSessionWithID(context.Background(), sessionID, adapters); err != nil {
			s.logger.Error(err, "scraping session failed", "session_id", sessionID)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id":  sessionID,
		"dealerships": len(adapters),
	})
}

// scrapeTargets resolves the requested dealership names, or every active
// dealership when none are named.
func (s *Server) scrapeTargets(ctx context.Context, names []string) ([]model.DealershipConfig, error) {
	if len(names) == 0 {
		all, err := s.store.ListDealerships(ctx)
		if err != nil {
			return nil, err
		}
		active := make([]model.DealershipConfig, 0, len(all))
		for _, cfg := range all {
			if cfg.IsActive {
				active = append(active, cfg)
			}
		}
		if len(active) == 0 {
			return nil, fmt.Errorf("%w: no active dealerships", core.ErrInvalidInput)
		}
		return active, nil
	}

	configs := make([]model.DealershipConfig, 0, len(names))
	for _, name := range names {
		cfg, err := s.store.GetDealership(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("dealership %q: %w", name, err)
		}
		if !cfg.IsActive {
			return nil, fmt.Errorf("%w: dealership %q is inactive", core.ErrInvalidInput, name)
		}
		configs = append(configs, *cfg)
	}
	return configs, nil
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	events, ok := s.hub.Events(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: session %s", core.ErrNotFound, id))
		return
	}

	done := false
	for _, ev := range events {
		if ev.Type == model.EventSessionComplete {
			done = true
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"done":       done,
		"events":     events,
	})
}

type processQueueRequest struct {
	Jobs    []queue.Job   `json:"jobs"`
	Options queue.Options `json:"options"`
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	var req processQueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	if len(req.Jobs) == 0 {
		writeError(w, fmt.Errorf("%w: no jobs", core.ErrInvalidInput))
		return
	}

	results := s.queue.Process(r.Context(), req.Jobs, req.Options)

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

func (s *Server) handleListOrderRuns(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	runs, err := s.store.ListOrderRuns(r.Context(), r.URL.Query().Get("dealership"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleSearchVehicles(w http.ResponseWriter, r *http.Request) {
	q := core.SearchQuery{
		Text:        r.URL.Query().Get("q"),
		Location:    r.URL.Query().Get("location"),
		Make:        r.URL.Query().Get("make"),
		Model:       r.URL.Query().Get("model"),
		VehicleType: model.VehicleType(r.URL.Query().Get("vehicle_type")),
		Page:        intParam(r, "page", 1),
		PerPage:     intParam(r, "per_page", 50),
		Sort:        r.URL.Query().Get("sort"),
	}
	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: year %q", core.ErrInvalidInput, raw))
			return
		}
		q.Year = &year
	}
	var err error
	if q.From, err = timeParam(r, "from"); err != nil {
		writeError(w, err)
		return
	}
	if q.To, err = timeParam(r, "to"); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.store.SearchVehicles(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicles":      result.Rows,
		"total":         result.Total,
		"page":          q.Page,
		"per_page":      q.PerPage,
		"filter_counts": result.FilterCounts,
	})
}

func (s *Server) handleVehicleHistory(w http.ResponseWriter, r *http.Request) {
	vin := mux.Vars(r)["vin"]
	rows, err := s.store.VehicleScrapeHistory(r.Context(), vin)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, fmt.Errorf("%w: vin %s", core.ErrNotFound, vin))
		return
	}

	// Rows arrive newest first.
	writeJSON(w, http.StatusOK, map[string]any{
		"vin":           vin,
		"total_scrapes": len(rows),
		"first_scraped": rows[len(rows)-1].TimeScraped,
		"last_scraped":  rows[0].TimeScraped,
		"scrapes":       rows,
	})
}

func (s *Server) handleVINHistory(w http.ResponseWriter, r *http.Request) {
	q := core.VINHistoryQuery{
		Dealership: mux.Vars(r)["name"],
		Text:       r.URL.Query().Get("q"),
		Page:       intParam(r, "page", 1),
		PerPage:    intParam(r, "per_page", 50),
	}
	var err error
	if q.From, err = timeParam(r, "from"); err != nil {
		writeError(w, err)
		return
	}
	if q.To, err = timeParam(r, "to"); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.store.VINHistory(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  result.Rows,
		"total":    result.Total,
		"page":     q.Page,
		"per_page": q.PerPage,
		"stats": map[string]int{
			"total":    result.Stats.Total,
			"baseline": result.Stats.Baseline,
			"cao":      result.Stats.CAO,
			"list":     result.Stats.List,
		},
	})
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	// The dealership field is optional; without it every row must carry its
	// own location column.
	dealership := r.FormValue("dealership")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: file form field is required", core.ErrInvalidInput))
		return
	}
	defer file.Close()

	rows, err := csvio.ReadInventory(file)
	if err != nil {
		writeError(w, err)
		return
	}

	importID, batch, err := s.ingest.ImportCSV(r.Context(), dealership, header.Filename, rows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"import_id":     importID,
		"vehicle_count": batch.Ingested,
		"warnings":      batch.Warnings,
	})
}

type importStatusRequest struct {
	Status model.ManifestStatus `json:"status"`
}

func (s *Server) handleToggleImportStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req importStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}

	switch req.Status {
	case model.ManifestStatusActive:
		if err := s.store.ActivateManifest(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
	case model.ManifestStatusArchived:
		if err := s.store.ArchiveManifest(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
	default:
		writeError(w, fmt.Errorf("%w: status must be %q or %q", core.ErrInvalidInput, model.ManifestStatusActive, model.ManifestStatusArchived))
		return
	}

	manifest, err := s.store.GetManifest(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (s *Server) handleImportVINLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: file form field is required", core.ErrInvalidInput))
		return
	}
	defer file.Close()

	entries, err := csvio.ReadVINLog(file, name)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := core.VINLogImportOptions{
		SkipDuplicates: boolParam(r, "skip_duplicates"),
		UpdateExisting: boolParam(r, "update_existing"),
	}
	counts, err := s.store.ImportVINLog(r.Context(), name, entries, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"inserted": counts.Inserted,
		"updated":  counts.Updated,
		"skipped":  counts.Skipped,
	})
}

func (s *Server) handleExportVINLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	byVIN, err := s.store.VINLogForDealership(r.Context(), name, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]model.VINLogEntry, 0, len(byVIN))
	for _, list := range byVIN {
		entries = append(entries, list...)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].VIN != entries[j].VIN {
			return entries[i].VIN < entries[j].VIN
		}
		return entries[i].ProcessedDate.Before(entries[j].ProcessedDate)
	})

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"-vin-log.csv"))
	if err := csvio.WriteVINLog(w, entries); err != nil {
		s.logger.Error(err, "write vin log export", "dealership", name)
	}
}

func (s *Server) handleExportImport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetManifest(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.store.RawRowsByImport(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "import-"+id+".csv"))
	if err := csvio.WriteInventory(w, rows); err != nil {
		s.logger.Error(err, "write import export", "import_id", id)
	}
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// timeParam parses a query time as RFC 3339 or a bare date.
func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q is not a timestamp", core.ErrInvalidInput, name, raw)
}

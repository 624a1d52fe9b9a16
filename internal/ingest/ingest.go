// Package ingest writes raw snapshot batches into the store under an import
// manifest and keeps the normalized vehicle rows in step.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/normalizer"
	"github.com/printlot-io/printlot/pkg/log"
)

// BatchResult summarizes one ingested batch.
type BatchResult struct {
	Ingested int                  `json:"ingested"`
	Warnings []normalizer.Warning `json:"warnings,omitempty"`
}

// Service owns the import lifecycle: create a pending manifest, stream row
// batches into it, then activate. Activation is what makes the rows visible
// to resolution and bulk views.
type Service struct {
	store  core.Store
	logger log.Logger
	now    func() time.Time

	// mu serializes manifest count read-modify-write when adapters ingest
	// concurrently into one manifest.
	mu sync.Mutex
}

// NewService creates an ingest service over the given store.
func NewService(store core.Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Std()
	}
	return &Service{
		store:  store,
		logger: logger.WithName("ingest"),
		now:    time.Now,
	}
}

// BeginImport creates a pending manifest and returns its import id.
func (s *Service) BeginImport(ctx context.Context, source model.ImportSource, fileName string) (string, error) {
	id := uuid.NewString()
	m := &model.ImportManifest{
		ID:         id,
		ImportDate: s.now(),
		Source:     source,
		FileName:   fileName,
		Status:     model.ManifestStatusPending,
	}
	if err := s.withRetry(ctx, func() error { return s.store.CreateManifest(ctx, m) }); err != nil {
		return "", fmt.Errorf("create manifest: %w", err)
	}
	s.logger.Info("import started", "import_id", id, "source", source)
	return id, nil
}

// IngestRows writes one dealership's batch under the given manifest. The
// manifest must still be pending. Raw rows are stored verbatim and each row
// is also normalized and upserted into the vehicle table.
func (s *Service) IngestRows(ctx context.Context, importID, dealership string, rows []model.RawVehicle) (*BatchResult, error) {
	m, err := s.store.GetManifest(ctx, importID)
	if err != nil {
		return nil, err
	}
	if m.Status.Finalized() {
		return nil, fmt.Errorf("%w: import %s is %s", core.ErrIngestConflict, importID, m.Status)
	}

	now := s.now()
	stamped := make([]model.RawVehicle, len(rows))
	for i, r := range rows {
		r.ImportID = importID
		if r.Location == "" {
			r.Location = dealership
		}
		if r.TimeScraped.IsZero() {
			r.TimeScraped = now
		}
		stamped[i] = r
	}

	if err := s.withRetry(ctx, func() error { return s.store.InsertRawVehicles(ctx, stamped) }); err != nil {
		return nil, fmt.Errorf("insert raw rows: %w", err)
	}

	res := &BatchResult{}
	for _, r := range stamped {
		v, warns := normalizer.Normalize(r, now)
		res.Warnings = append(res.Warnings, warns...)
		if err := s.withRetry(ctx, func() error { return s.store.UpsertVehicle(ctx, v) }); err != nil {
			return nil, fmt.Errorf("upsert vehicle %s: %w", v.VIN, err)
		}
		res.Ingested++
	}

	if err := s.bumpCounts(ctx, importID, dealership, res.Ingested); err != nil {
		return nil, err
	}

	s.logger.Info("batch ingested",
		"import_id", importID,
		"dealership", dealership,
		"rows", res.Ingested,
		"warnings", len(res.Warnings))
	return res, nil
}

func (s *Service) bumpCounts(ctx context.Context, importID, dealership string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetManifest(ctx, importID)
	if err != nil {
		return err
	}
	counts := m.DealershipCounts
	if counts == nil {
		counts = map[string]int{}
	}
	counts[dealership] += n
	return s.withRetry(ctx, func() error {
		return s.store.UpdateManifestCounts(ctx, importID, m.VehicleCount+n, counts)
	})
}

// Activate flips the manifest to active, atomically archiving the prior
// active manifest.
func (s *Service) Activate(ctx context.Context, importID string) error {
	if err := s.withRetry(ctx, func() error { return s.store.ActivateManifest(ctx, importID) }); err != nil {
		return fmt.Errorf("activate import %s: %w", importID, err)
	}
	s.logger.Info("import activated", "import_id", importID)
	return nil
}

// Abort archives a manifest that will never be activated.
func (s *Service) Abort(ctx context.Context, importID string) error {
	return s.store.ArchiveManifest(ctx, importID)
}

// ImportCSV runs the full lifecycle for one uploaded file: new manifest, one
// batch per dealership, activate. An empty dealership means the file spans
// dealerships; every row must then carry its own location.
func (s *Service) ImportCSV(ctx context.Context, dealership, fileName string, rows []model.RawVehicle) (string, *BatchResult, error) {
	groups := map[string][]model.RawVehicle{}
	if dealership != "" {
		groups[dealership] = rows
	} else {
		for i, r := range rows {
			loc := strings.TrimSpace(r.Location)
			if loc == "" {
				return "", nil, fmt.Errorf("%w: row %d has no location and no dealership was given", core.ErrInvalidInput, i+1)
			}
			groups[loc] = append(groups[loc], r)
		}
	}

	id, err := s.BeginImport(ctx, model.ImportSourceCSV, fileName)
	if err != nil {
		return "", nil, err
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	total := &BatchResult{}
	for _, name := range names {
		res, err := s.IngestRows(ctx, id, name, groups[name])
		if err != nil {
			return "", nil, err
		}
		total.Ingested += res.Ingested
		total.Warnings = append(total.Warnings, res.Warnings...)
	}
	if err := s.Activate(ctx, id); err != nil {
		return "", nil, err
	}
	return id, total, nil
}

// withRetry retries a store write exactly once when the store reports a
// transient outage.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, core.ErrStoreUnavailable) {
		return err
	}
	s.logger.Warn("store unavailable, retrying once", "err", err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}
	return op()
}

// Package emitter turns a resolution into print artifacts: one QR PNG per
// vehicle plus a variable-data CSV, written atomically under the
// dealership's output directory, followed by the VIN log append and the
// order run record.
package emitter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/pkg/metrics"
	"github.com/printlot-io/printlot/internal/resolver"
	"github.com/printlot-io/printlot/pkg/log"
)

// ItemSpec carries operator overrides for one VIN in an order.
type ItemSpec struct {
	VIN      string `json:"vin"`
	Size     string `json:"size,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// Options adjusts one emission.
type Options struct {
	// TemplateType overrides the dealership's configured template.
	TemplateType string

	// SkipVINLogging runs the emitter dry: artifacts land under the /dry/
	// subtree and nothing is persisted.
	SkipVINLogging bool

	// Items carries per-VIN size and quantity overrides.
	Items []ItemSpec
}

// store is the write surface the emitter needs.
type store interface {
	AppendVINLogEntries(ctx context.Context, entries []model.VINLogEntry) error
	RecordOrderRun(ctx context.Context, run *model.OrderRun) error
}

// Emitter writes order artifacts. Safe for concurrent use across
// dealerships; runs for the same dealership land in distinct run
// directories.
type Emitter struct {
	store   store
	archive core.ArchiveProvider
	root    string
	logger  log.Logger
	now     func() time.Time
}

// New creates an emitter. root is the fallback output directory for
// dealerships without a configured qr_output_path.
func New(s store, root string, logger log.Logger) *Emitter {
	if logger == nil {
		logger = log.Std()
	}
	return &Emitter{
		store:  s,
		root:   root,
		logger: logger.WithName("emitter"),
		now:    time.Now,
	}
}

// WithArchive mirrors completed run directories to object storage. Upload
// failures are logged, never fatal to the run.
func (e *Emitter) WithArchive(p core.ArchiveProvider) *Emitter {
	e.archive = p
	return e
}

// Emit produces the artifacts for one resolution. Files are staged in a
// temp directory and renamed into place; any failure before the rename
// leaves no trace on disk and nothing in the store.
func (e *Emitter) Emit(ctx context.Context, res *resolver.Resolution, cfg *model.DealershipConfig, opts Options) (*model.OrderRun, error) {
	templateType := opts.TemplateType
	if templateType == "" {
		templateType = cfg.Output.TemplateType
	}
	tpl, err := TemplateFor(templateType)
	if err != nil {
		return nil, err
	}

	items, err := e.buildItems(res, cfg, opts)
	if err != nil {
		return nil, err
	}

	now := e.now()
	runID := uuid.NewString()
	run := &model.OrderRun{
		ID:           runID,
		Dealership:   cfg.Name,
		Mode:         res.Mode,
		TemplateType: templateType,
		CreatedAt:    now,
		VehicleCount: len(res.Included),
	}

	parent := e.runParent(cfg, opts.SkipVINLogging)
	finalDir := filepath.Join(parent, fmt.Sprintf("%s_%s", now.Format("2006-01-02_150405"), runID[:8]))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	// Stage under the same parent so the final rename stays on one
	// filesystem.
	tmpDir, err := os.MkdirTemp(parent, ".staging-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	staged := false
	defer func() {
		if !staged {
			os.RemoveAll(tmpDir)
		}
	}()

	for _, it := range items {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", core.ErrCancelled, context.Cause(ctx))
		default:
		}
		if err := writeQR(tmpDir, it.Vehicle, cfg.Output); err != nil {
			return nil, err
		}
	}

	rows, err := e.writeCSV(tmpDir, tpl, cfg.Output.Fields, items)
	if err != nil {
		return nil, err
	}
	run.RowCount = rows

	if err := os.Rename(tmpDir, finalDir); err != nil {
		return nil, fmt.Errorf("finalize run dir: %w", err)
	}
	staged = true
	run.CSVPath = filepath.Join(finalDir, "order.csv")
	run.QRDir = finalDir

	if opts.SkipVINLogging {
		run.Status = model.RunStatusDryRun
		metrics.OrderRunsTotal.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
		e.logger.Info("dry run emitted", "dealership", cfg.Name, "dir", finalDir, "rows", rows)
		return run, nil
	}

	entries := make([]model.VINLogEntry, len(res.Included))
	for i, v := range res.Included {
		entries[i] = model.VINLogEntry{
			Dealership:    cfg.Name,
			VIN:           v.VIN,
			OrderNumber:   runID,
			ProcessedDate: now,
			OrderType:     model.OrderType(res.Mode),
			VehicleType:   v.VehicleType,
		}
	}
	if err := e.withRetry(ctx, func() error { return e.store.AppendVINLogEntries(ctx, entries) }); err != nil {
		run.Status = model.RunStatusFilesEmittedNoLog
		run.Remediation = fmt.Sprintf("vin log append failed: %v; files remain at %s", err, finalDir)
		if recErr := e.withRetry(ctx, func() error { return e.store.RecordOrderRun(ctx, run) }); recErr != nil {
			e.logger.Error(recErr, "record partial run", "run_id", runID)
		}
		metrics.OrderRunsTotal.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
		e.logger.Error(err, "vin log append failed after emission",
			"dealership", cfg.Name, "run_id", runID, "dir", finalDir)
		return run, fmt.Errorf("%w: run %s", core.ErrPartialEmission, runID)
	}

	metrics.VINLogAppendsTotal.WithLabelValues(string(model.OrderType(res.Mode))).Add(float64(len(entries)))

	run.Status = model.RunStatusCompleted
	metrics.OrderRunsTotal.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
	if err := e.withRetry(ctx, func() error { return e.store.RecordOrderRun(ctx, run) }); err != nil {
		return nil, fmt.Errorf("record order run: %w", err)
	}

	if e.archive != nil {
		key := cfg.Name + "/" + filepath.Base(finalDir)
		if err := e.archive.UploadRunDir(ctx, key, finalDir); err != nil {
			e.logger.Error(err, "archive upload failed", "run_id", runID)
		}
	}

	e.logger.Info("run emitted",
		"dealership", cfg.Name,
		"run_id", runID,
		"mode", res.Mode,
		"vehicles", run.VehicleCount,
		"rows", rows)
	return run, nil
}

// withRetry retries a store call exactly once when the store reports a
// transient outage.
func (e *Emitter) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, core.ErrStoreUnavailable) {
		return err
	}
	e.logger.Warn("store unavailable, retrying once", "err", err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}
	return op()
}

// runParent returns the directory run dirs are created under. Dry runs use
// a sibling dry/ subtree so operators can discard them wholesale.
func (e *Emitter) runParent(cfg *model.DealershipConfig, dry bool) string {
	root := cfg.QROutputPath
	if root == "" {
		root = filepath.Join(e.root, cfg.Slug())
	}
	if dry {
		return filepath.Join(root, "dry")
	}
	return root
}

// buildItems pairs each included vehicle with its size and quantity and
// enforces the static-size constraint before any file is touched.
func (e *Emitter) buildItems(res *resolver.Resolution, cfg *model.DealershipConfig, opts Options) ([]item, error) {
	overrides := make(map[string]ItemSpec, len(opts.Items))
	for _, s := range opts.Items {
		overrides[strings.ToUpper(strings.TrimSpace(s.VIN))] = s
	}

	defaultQty := cfg.Output.DefaultQuantity
	if defaultQty < 1 {
		defaultQty = 1
	}

	items := make([]item, 0, len(res.Included))
	for _, v := range res.Included {
		it := item{Vehicle: v, Size: cfg.Output.DefaultSize, Quantity: defaultQty}
		if o, ok := overrides[v.VIN]; ok {
			if o.Size != "" {
				it.Size = o.Size
			}
			if o.Quantity > 0 {
				it.Quantity = o.Quantity
			}
		}
		items = append(items, it)
	}

	for i := 1; i < len(items); i++ {
		if items[i].Size != items[0].Size {
			return nil, fmt.Errorf("%w: %q and %q in one order", core.ErrMixedSizeRejected, items[0].Size, items[i].Size)
		}
	}

	sortItems(items, cfg.Output.SortBy)
	return items, nil
}

func sortItems(items []item, key string) {
	less := func(i, j int) bool { return items[i].Vehicle.VIN < items[j].Vehicle.VIN }
	switch key {
	case "stock":
		less = func(i, j int) bool { return items[i].Vehicle.Stock < items[j].Vehicle.Stock }
	case "make":
		less = func(i, j int) bool { return items[i].Vehicle.Make < items[j].Vehicle.Make }
	case "model":
		less = func(i, j int) bool { return items[i].Vehicle.Model < items[j].Vehicle.Model }
	case "year":
		less = func(i, j int) bool {
			yi, yj := 0, 0
			if items[i].Vehicle.Year != nil {
				yi = *items[i].Vehicle.Year
			}
			if items[j].Vehicle.Year != nil {
				yj = *items[j].Vehicle.Year
			}
			return yi < yj
		}
	}
	sort.SliceStable(items, less)
}

// writeCSV emits order.csv in the printer's variable-data dialect: UTF-8,
// CRLF, every field double-quoted, one physical row per unit quantity.
// Returns the number of data rows written.
func (e *Emitter) writeCSV(dir string, tpl Template, fields []string, items []item) (int, error) {
	f, err := os.Create(filepath.Join(dir, "order.csv"))
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f)

	cols := tpl.columns(fields)
	writeRecord(w, cols)

	rows := 0
	for _, it := range items {
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = tpl.cell(c, it)
		}
		for n := 0; n < it.Quantity; n++ {
			writeRecord(w, record)
			rows++
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return 0, err
	}
	return rows, f.Close()
}

// writeRecord writes one all-quoted CRLF-terminated CSV record. The
// encoding/csv writer cannot force-quote every field, which this dialect
// requires.
func writeRecord(w *bufio.Writer, record []string) {
	for i, field := range record {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(field, `"`, `""`))
		w.WriteByte('"')
	}
	w.WriteString("\r\n")
}

package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/csvio"
	"github.com/printlot-io/printlot/internal/scraper"
)

var _ scraper.Adapter = (*FileAdapter)(nil)

// FileAdapter reads a dealership's inventory from a CSV drop directory.
// Rows are tagged as fallback data since they were not scraped live.
type FileAdapter struct {
	cfg model.DealershipConfig
	dir string
}

// NewFileAdapter creates a file adapter reading <dir>/<slug>.csv.
func NewFileAdapter(cfg model.DealershipConfig, dir string) *FileAdapter {
	return &FileAdapter{cfg: cfg, dir: dir}
}

func (a *FileAdapter) Name() string           { return a.cfg.Name }
func (a *FileAdapter) ExpectedCountHint() int { return a.cfg.ExpectedCount }
func (a *FileAdapter) DataSource() string     { return "fallback" }

// Path returns the CSV file the adapter reads.
func (a *FileAdapter) Path() string {
	return filepath.Join(a.dir, a.cfg.Slug()+".csv")
}

func (a *FileAdapter) Produce(ctx context.Context) ([]model.RawVehicle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCancelled, err)
	}

	f, err := os.Open(a.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no inventory drop for %s at %s", core.ErrNotFound, a.cfg.Name, a.Path())
		}
		return nil, fmt.Errorf("open inventory drop: %w", err)
	}
	defer f.Close()

	return csvio.ReadInventory(f)
}

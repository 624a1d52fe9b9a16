// Package config loads dealership configurations from a YAML file into the
// store at startup and keeps them refreshed while the server runs, so
// operators can edit filter and output rules without a restart.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"sigs.k8s.io/yaml"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/pkg/log"
)

// dealershipFile is the on-disk YAML shape. Decoding goes through the JSON
// tags so unknown filter-rule keys survive the round trip.
type dealershipFile struct {
	Dealerships []model.DealershipConfig `json:"dealerships"`
}

// Loader syncs the dealership config file into the store.
type Loader struct {
	path   string
	store  core.DealershipStore
	logger log.Logger
}

// NewLoader creates a loader for the given YAML file.
func NewLoader(path string, store core.DealershipStore, logger log.Logger) *Loader {
	if logger == nil {
		logger = log.Std()
	}
	return &Loader{path: path, store: store, logger: logger.WithName("config")}
}

// Load reads the file once and upserts every dealership.
func (l *Loader) Load(ctx context.Context) (int, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return 0, fmt.Errorf("read dealership config: %w", err)
	}

	var file dealershipFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("%w: parse dealership config: %v", core.ErrInvalidInput, err)
	}

	for i := range file.Dealerships {
		cfg := &file.Dealerships[i]
		if cfg.Name == "" {
			return 0, fmt.Errorf("%w: dealership entry %d has no name", core.ErrInvalidInput, i)
		}
		if err := l.store.UpsertDealership(ctx, cfg); err != nil {
			return 0, fmt.Errorf("upsert dealership %s: %w", cfg.Name, err)
		}
	}
	return len(file.Dealerships), nil
}

// Watch reloads the file on every change until ctx is cancelled. Editors
// replace files via rename, so the parent directory is watched and events
// are filtered by name. A broken edit keeps the last good configuration.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(l.path), err)
	}

	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			n, err := l.Load(ctx)
			if err != nil {
				l.logger.Error(err, "reload dealership config", "path", l.path)
				continue
			}
			l.logger.Info("dealership config reloaded", "path", l.path, "dealerships", n)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error(err, "config watcher error")
		}
	}
}

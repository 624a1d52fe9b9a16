// Package adapters provides the stock scraper adapters: an HTTP JSON feed
// client for dealerships that expose one, and a local CSV drop directory
// for those that do not.
package adapters

import (
	"net/http"
	"time"

	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/scraper"
)

// NewFactory returns the default adapter selection: dealerships with a
// configured feed URL get the HTTP feed adapter, everything else reads
// from <fallbackDir>/<slug>.csv.
func NewFactory(fallbackDir string, client *http.Client) func(model.DealershipConfig) scraper.Adapter {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return func(cfg model.DealershipConfig) scraper.Adapter {
		if cfg.FeedURL != "" {
			return NewFeedAdapter(cfg, client)
		}
		return NewFileAdapter(cfg, fallbackDir)
	}
}

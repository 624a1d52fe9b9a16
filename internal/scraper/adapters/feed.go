package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/scraper"
)

var _ scraper.Adapter = (*FeedAdapter)(nil)

// FeedAdapter pulls a dealership's inventory from its HTTP JSON feed. The
// feed is either a bare array of rows or an object with a "vehicles" key.
type FeedAdapter struct {
	cfg    model.DealershipConfig
	client *http.Client
}

// NewFeedAdapter creates a feed adapter for one dealership.
func NewFeedAdapter(cfg model.DealershipConfig, client *http.Client) *FeedAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeedAdapter{cfg: cfg, client: client}
}

func (a *FeedAdapter) Name() string           { return a.cfg.Name }
func (a *FeedAdapter) ExpectedCountHint() int { return a.cfg.ExpectedCount }
func (a *FeedAdapter) DataSource() string     { return "real" }

// Produce fetches and decodes the full feed.
func (a *FeedAdapter) Produce(ctx context.Context) ([]model.RawVehicle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: feed url %q: %v", core.ErrInvalidInput, a.cfg.FeedURL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed for %s: %w", a.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("feed for %s returned %s", a.cfg.Name, resp.Status)
	}

	return decodeFeed(resp.Body)
}

func decodeFeed(r io.Reader) ([]model.RawVehicle, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	var rows []model.RawVehicle
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}

	var wrapped struct {
		Vehicles []model.RawVehicle `json:"vehicles"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: feed is neither a row array nor a vehicles object: %v", core.ErrInvalidInput, err)
	}
	return wrapped.Vehicles, nil
}

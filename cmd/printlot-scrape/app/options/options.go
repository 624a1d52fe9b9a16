package options

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/printlot-io/printlot/pkg/app"
	"github.com/printlot-io/printlot/pkg/log"
	"github.com/printlot-io/printlot/pkg/options"
)

// Store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

var _ app.Options = (*ScrapeOptions)(nil)

// ScrapeOptions configures a one-shot scraping run.
type ScrapeOptions struct {
	Log      *log.Options             `json:"log" mapstructure:"log"`
	Postgres *options.PostgresOptions `json:"postgres" mapstructure:"postgres"`
	Scraper  *options.ScraperOptions  `json:"scraper" mapstructure:"scraper"`

	// StoreBackend selects the durable store: "postgres" or "memory".
	StoreBackend string `json:"store-backend" mapstructure:"store-backend"`

	// DealershipConfig is the path to the dealership YAML file, loaded
	// before the session starts.
	DealershipConfig string `json:"dealership-config" mapstructure:"dealership-config"`

	// FallbackDir is the CSV drop directory for dealerships without a
	// live feed.
	FallbackDir string `json:"fallback-dir" mapstructure:"fallback-dir"`

	// Dealerships names the dealerships to scrape. Empty means every
	// active one.
	Dealerships []string `json:"dealerships" mapstructure:"dealerships"`
}

// NewScrapeOptions creates a ScrapeOptions object with default parameters.
func NewScrapeOptions() *ScrapeOptions {
	return &ScrapeOptions{
		Log:          log.NewOptions(),
		Postgres:     options.NewPostgresOptions(),
		Scraper:      options.NewScraperOptions(),
		StoreBackend: StoreBackendPostgres,
		FallbackDir:  "./drops",
	}
}

// AddFlags registers the option groups on the command's flag set.
func (o *ScrapeOptions) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Postgres.AddFlags(fs)
	o.Scraper.AddFlags(fs)

	fs.StringVar(&o.StoreBackend, "store.backend", o.StoreBackend, "Durable store backend: postgres or memory.")
	fs.StringVar(&o.DealershipConfig, "dealerships.config", o.DealershipConfig, "Path to the dealership configuration YAML file.")
	fs.StringVar(&o.FallbackDir, "scraper.fallback-dir", o.FallbackDir, "CSV drop directory for dealerships without a live feed.")
	fs.StringSliceVar(&o.Dealerships, "dealerships.names", o.Dealerships, "Dealerships to scrape (default: every active one).")
}

// Complete fills in fields not set directly by flags.
func (o *ScrapeOptions) Complete() error {
	return nil
}

// Validate checks the final option values.
func (o *ScrapeOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.Scraper.Validate()...)

	switch o.StoreBackend {
	case StoreBackendPostgres:
		errs = append(errs, o.Postgres.Validate()...)
	case StoreBackendMemory:
		if o.DealershipConfig == "" {
			errs = append(errs, fmt.Errorf("the memory backend requires --dealerships.config"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", o.StoreBackend))
	}

	return errors.Join(errs...)
}

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

var _ app.Options = (*ServerOptions)(nil)

// ServerOptions aggregates every option group of the printlot server.
type ServerOptions struct {
	Log      *log.Options             `json:"log" mapstructure:"log"`
	Http     *options.HttpOptions     `json:"http" mapstructure:"http"`
	Postgres *options.PostgresOptions `json:"postgres" mapstructure:"postgres"`
	Mqtt     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	S3       *options.S3Options       `json:"s3" mapstructure:"s3"`
	Order    *options.OrderOptions    `json:"order" mapstructure:"order"`
	Scraper  *options.ScraperOptions  `json:"scraper" mapstructure:"scraper"`

	// StoreBackend selects the durable store: "postgres" or "memory". The
	// memory backend is for development and demos only.
	StoreBackend string `json:"store-backend" mapstructure:"store-backend"`

	// DealershipConfig is the path to the dealership YAML file. Empty
	// disables the loader; dealerships can still be managed over the API.
	DealershipConfig string `json:"dealership-config" mapstructure:"dealership-config"`

	// FallbackDir is the CSV drop directory for dealerships without a
	// live feed.
	FallbackDir string `json:"fallback-dir" mapstructure:"fallback-dir"`
}

// NewServerOptions creates a ServerOptions object with default parameters.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		Log:          log.NewOptions(),
		Http:         options.NewHttpOptions(),
		Postgres:     options.NewPostgresOptions(),
		Mqtt:         options.NewMqttOptions(),
		S3:           options.NewS3Options(),
		Order:        options.NewOrderOptions(),
		Scraper:      options.NewScraperOptions(),
		StoreBackend: StoreBackendPostgres,
		FallbackDir:  "./drops",
	}
}

// AddFlags registers every option group on the command's flag set.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Http.AddFlags(fs)
	o.Postgres.AddFlags(fs)
	o.Mqtt.AddFlags(fs)
	o.S3.AddFlags(fs)
	o.Order.AddFlags(fs)
	o.Scraper.AddFlags(fs)

	fs.StringVar(&o.StoreBackend, "store.backend", o.StoreBackend, "Durable store backend: postgres or memory.")
	fs.StringVar(&o.DealershipConfig, "dealerships.config", o.DealershipConfig, "Path to the dealership configuration YAML file.")
	fs.StringVar(&o.FallbackDir, "scraper.fallback-dir", o.FallbackDir, "CSV drop directory for dealerships without a live feed.")
}

// Complete fills in fields not set directly by flags.
func (o *ServerOptions) Complete() error {
	return nil
}

// Validate checks the final option values.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.S3.Validate()...)
	errs = append(errs, o.Order.Validate()...)
	errs = append(errs, o.Scraper.Validate()...)

	switch o.StoreBackend {
	case StoreBackendPostgres:
		errs = append(errs, o.Postgres.Validate()...)
	case StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", o.StoreBackend))
	}

	return errors.Join(errs...)
}

package options

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*OrderOptions)(nil)

// OrderOptions contains configuration for order resolution and emission.
type OrderOptions struct {
	// OutputRoot is the directory order runs are written under.
	OutputRoot string `json:"output-root" mapstructure:"output-root"`

	// Timezone is the IANA name of the service timezone. The resolver's
	// calendar-day windows are measured in this zone. Empty means the
	// process-local zone.
	Timezone string `json:"timezone" mapstructure:"timezone"`

	// QueueConcurrency bounds how many queued jobs run at once.
	QueueConcurrency int `json:"queue-concurrency" mapstructure:"queue-concurrency"`
}

// NewOrderOptions creates an OrderOptions object with default parameters.
func NewOrderOptions() *OrderOptions {
	return &OrderOptions{
		OutputRoot:       "./orders",
		QueueConcurrency: 2,
	}
}

// Location resolves the configured timezone.
func (o *OrderOptions) Location() (*time.Location, error) {
	if o.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(o.Timezone)
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *OrderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.OutputRoot == "" {
		errors = append(errors, fmt.Errorf("order output root is required"))
	}
	if o.QueueConcurrency < 1 {
		errors = append(errors, fmt.Errorf("queue concurrency must be at least 1"))
	}
	if _, err := o.Location(); err != nil {
		errors = append(errors, fmt.Errorf("invalid timezone %q: %w", o.Timezone, err))
	}

	return errors
}

// AddFlags adds flags for OrderOptions to the specified FlagSet.
func (o *OrderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.OutputRoot, "order.output-root", o.OutputRoot, "Directory order artifacts are written under.")
	fs.StringVar(&o.Timezone, "order.timezone", o.Timezone, "IANA timezone for calendar-day windows (defaults to the local zone).")
	fs.IntVar(&o.QueueConcurrency, "order.queue-concurrency", o.QueueConcurrency, "Number of queued order jobs processed concurrently.")
}

var _ IOptions = (*ScraperOptions)(nil)

// ScraperOptions contains configuration for the scraper orchestrator.
type ScraperOptions struct {
	// Concurrency caps how many dealership adapters run in parallel.
	// Zero means min(max(NumCPU, 2), 16).
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`

	// AdapterTimeout is the soft deadline for a single adapter.
	AdapterTimeout time.Duration `json:"adapter-timeout" mapstructure:"adapter-timeout"`
}

// NewScraperOptions creates a ScraperOptions object with default parameters.
func NewScraperOptions() *ScraperOptions {
	return &ScraperOptions{
		AdapterTimeout: 15 * time.Minute,
	}
}

// EffectiveConcurrency resolves the adapter concurrency cap.
func (o *ScraperOptions) EffectiveConcurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	n := runtime.NumCPU()
	if n < 2 {
		n = 2
	}
	if n > 16 {
		n = 16
	}
	return n
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *ScraperOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Concurrency < 0 {
		errors = append(errors, fmt.Errorf("scraper concurrency must not be negative"))
	}
	if o.AdapterTimeout <= 0 {
		errors = append(errors, fmt.Errorf("adapter timeout must be positive"))
	}

	return errors
}

// AddFlags adds flags for ScraperOptions to the specified FlagSet.
func (o *ScraperOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.Concurrency, "scraper.concurrency", o.Concurrency, "Adapter concurrency cap (0 = derive from CPU count).")
	fs.DurationVar(&o.AdapterTimeout, "scraper.adapter-timeout", o.AdapterTimeout, "Soft deadline for a single dealership adapter.")
}

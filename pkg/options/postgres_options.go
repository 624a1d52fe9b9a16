package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PostgresOptions)(nil)

// PostgresOptions contains configuration for the durable store connection.
type PostgresOptions struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"ssl-mode" mapstructure:"ssl-mode"`

	MaxOpenConns    int           `json:"max-open-conns" mapstructure:"max-open-conns"`
	MaxIdleConns    int           `json:"max-idle-conns" mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `json:"conn-max-lifetime" mapstructure:"conn-max-lifetime"`

	// OpTimeout bounds individual store round-trips. One retry is attempted
	// on transient failure before the error surfaces.
	OpTimeout time.Duration `json:"op-timeout" mapstructure:"op-timeout"`
}

// NewPostgresOptions creates a PostgresOptions object with default parameters.
func NewPostgresOptions() *PostgresOptions {
	return &PostgresOptions{
		Host:            "127.0.0.1",
		Port:            5432,
		Username:        "printlot",
		Database:        "printlot",
		SSLMode:         "disable",
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
		OpTimeout:       30 * time.Second,
	}
}

// DSN renders the options as a lib/pq connection string.
func (o *PostgresOptions) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, o.Port, o.Username, o.Password, o.Database, o.SSLMode)
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *PostgresOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Database == "" {
		errors = append(errors, fmt.Errorf("postgres database name is required"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errors = append(errors, fmt.Errorf("invalid postgres port: %d", o.Port))
	}

	return errors
}

// AddFlags adds flags for PostgresOptions to the specified FlagSet.
func (o *PostgresOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Host, "postgres.host", o.Host, "PostgreSQL server host.")
	fs.IntVar(&o.Port, "postgres.port", o.Port, "PostgreSQL server port.")
	fs.StringVar(&o.Username, "postgres.username", o.Username, "PostgreSQL username.")
	fs.StringVar(&o.Password, "postgres.password", o.Password, "PostgreSQL password.")
	fs.StringVar(&o.Database, "postgres.database", o.Database, "PostgreSQL database name.")
	fs.StringVar(&o.SSLMode, "postgres.ssl-mode", o.SSLMode, "PostgreSQL sslmode setting.")
	fs.IntVar(&o.MaxOpenConns, "postgres.max-open-conns", o.MaxOpenConns, "Maximum number of open connections.")
	fs.IntVar(&o.MaxIdleConns, "postgres.max-idle-conns", o.MaxIdleConns, "Maximum number of idle connections.")
	fs.DurationVar(&o.ConnMaxLifetime, "postgres.conn-max-lifetime", o.ConnMaxLifetime, "Maximum lifetime of a connection.")
	fs.DurationVar(&o.OpTimeout, "postgres.op-timeout", o.OpTimeout, "Timeout for individual store operations.")
}

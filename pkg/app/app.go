package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RunFunc defines the application's startup callback function.
type RunFunc func() error

// Options abstracts the configuration options for an application. Option
// groups register their flags, then are completed and validated after flag
// and config-file parsing.
type Options interface {
	// AddFlags registers the option group's flags on the given flag set.
	AddFlags(fs *pflag.FlagSet)

	// Complete fills in any fields not set directly by flags.
	Complete() error

	// Validate checks the final option values.
	Validate() error
}

// App is the main structure of a printlot CLI application.
type App struct {
	name        string
	short       string
	description string
	options     Options
	run         RunFunc
	silence     bool

	cmd *cobra.Command
}

// Option defines optional parameters for initializing the application.
type Option func(*App)

// WithOptions opens the application's function to read from the command line
// or read parameters from the configuration file.
func WithOptions(opts Options) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the application startup callback function.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.run = run
	}
}

// WithDescription sets the long description of the application.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithSilence silences usage and error printing on failures; errors are
// still returned to the caller.
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// NewApp creates a new application instance.
func NewApp(name string, short string, opts ...Option) *App {
	a := &App{
		name:  name,
		short: short,
	}

	for _, o := range opts {
		o(a)
	}

	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.short,
		Long:          a.description,
		SilenceUsage:  a.silence,
		SilenceErrors: a.silence,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCommand(cmd)
		},
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = false

	if a.options != nil {
		a.options.AddFlags(cmd.Flags())
	}
	addConfigFlag(cmd.Flags())

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command) error {
	if a.options != nil {
		if err := bindConfig(cmd.Flags(), a.options); err != nil {
			return err
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if a.run != nil {
		return a.run()
	}
	return nil
}

// Command returns the underlying cobra command, for composition in tests.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run launches the application.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

const configFlagName = "config"

func addConfigFlag(fs *pflag.FlagSet) {
	fs.String(configFlagName, "", "Path to a YAML configuration file. Flags take precedence over file values.")
}

// bindConfig layers an optional YAML config file under the parsed flags:
// values set explicitly on the command line win, everything else may come
// from the file.
func bindConfig(fs *pflag.FlagSet, opts Options) error {
	cfgFile, _ := fs.GetString(configFlagName)
	if cfgFile == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
	}

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == configFlagName || f.Changed {
			return
		}
		// Flag names use dots as group separators, matching the YAML nesting.
		if !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("failed to apply config value for --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

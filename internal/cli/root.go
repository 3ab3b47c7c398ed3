package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/labelcache/internal/app"
	"github.com/roach88/labelcache/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string   // "json" | "text"
	ConfigPath string   // explicit config file; empty searches ./labelcache.yaml
	Set        []string // key=value overrides
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the labelcache CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "labelcache",
		Short: "labelcache - content-addressed image classification",
		Long: `Classify uploaded images once per distinct content.

Every upload event is resolved to a content fingerprint; a stored
classification for that fingerprint is reused, otherwise the labeling
service is called and the answer is recorded with a conditional insert.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./labelcache.yaml)")
	cmd.PersistentFlags().StringArrayVar(&opts.Set, "set", nil, "override a config value (key=value, repeatable)")

	cmd.AddCommand(NewProcessCommand(opts))
	cmd.AddCommand(NewFingerprintCommand(opts))
	cmd.AddCommand(NewLookupCommand(opts))
	cmd.AddCommand(NewPresignCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Execute runs the root command with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter returns an output formatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig loads configuration with --set overrides applied.
// --verbose raises the log level to debug.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	overrides, err := parseOverrides(o.Set)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --set", err)
	}
	if o.Verbose {
		overrides["log.level"] = "debug"
	}
	cfg, err := config.Load(o.ConfigPath, config.WithOverrides(overrides))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// buildRuntime loads configuration and assembles the pipeline. Logs go to
// stderr so stdout stays machine-readable.
func (o *RootOptions) buildRuntime(cmd *cobra.Command) (*app.Runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log configuration", err)
	}
	rt, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialise runtime", err)
	}
	return rt, nil
}

// parseOverrides turns key=value pairs into config overrides.
func parseOverrides(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%q: want key=value", p)
		}
		out[key] = val
	}
	return out, nil
}

package cli

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/labelcache/internal/config"
)

const redacted = "********"

// secretKeys are never printed.
var secretKeys = []string{
	"store.dsn",
	"store.redis_password",
	"aws.secret_access_key",
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Load and validate the configuration, then print every effective value.

Values come from built-in defaults, the config file, LABELCACHE_*
environment variables and --set flags, in increasing precedence.
Secrets are redacted. Validation errors exit with code 2.

Examples:
  labelcache config
  labelcache config --config labelcache.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			values := flattenConfig(cfg)
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(values)
			}

			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			w := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintf(w, "%s = %v\n", k, values[k])
			}
			return nil
		},
	}
}

// flattenConfig maps dotted config keys to display values.
func flattenConfig(cfg *config.Config) map[string]any {
	out := make(map[string]any)
	flatten(out, "", reflect.ValueOf(cfg).Elem())
	for _, k := range secretKeys {
		if s, ok := out[k].(string); ok && s != "" {
			out[k] = redacted
		}
	}
	return out
}

func flatten(out map[string]any, prefix string, v reflect.Value) {
	t := v.Type()
	for i := range t.NumField() {
		name := t.Field(i).Tag.Get("mapstructure")
		if name == "" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		fv := v.Field(i)
		switch val := fv.Interface().(type) {
		case time.Duration:
			out[key] = val.String()
		default:
			if fv.Kind() == reflect.Struct {
				flatten(out, key, fv)
				continue
			}
			out[key] = val
		}
	}
}


package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/labelcache/internal/model"
)

// FingerprintResult is the JSON payload of the fingerprint command.
type FingerprintResult struct {
	Locator     string            `json:"locator"`
	Fingerprint model.Fingerprint `json:"fingerprint"`
}

// NewFingerprintCommand creates the fingerprint command.
func NewFingerprintCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <bucket/key>",
		Short: "Resolve the content fingerprint of an object",
		Long: `Resolve the content fingerprint of an object without classifying it.

The fingerprint mode (etag or sha256) comes from
storage.fingerprint_mode.

Examples:
  labelcache fingerprint uploads/cat1.jpg
  labelcache fingerprint s3://uploads/cat1.jpg --set storage.fingerprint_mode=sha256`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid locator", err)
			}

			rt, err := rootOpts.buildRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			f := rootOpts.formatter(cmd)
			fp, err := rt.Resolver.Resolve(cmd.Context(), loc)
			if err != nil {
				return reportError(f, fmt.Sprintf("cannot fingerprint %s", loc), model.Classify("cli.fingerprint", err))
			}

			if rootOpts.Format == "json" {
				return f.Success(FingerprintResult{Locator: loc.String(), Fingerprint: fp})
			}
			return f.Success(fp.String())
		},
	}
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/labelcache/internal/model"
)

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <fingerprint>",
		Short: "Show the stored classification for a fingerprint",
		Long: `Show the stored classification record for a content fingerprint.

Exit codes:
  0 - Record found
  1 - No record for the fingerprint
  3 - Store unavailable

Examples:
  labelcache lookup etag:9b2cf535f27731c974343645a3985328
  labelcache lookup sha256:0f343b0931126a20f133d67c2b018a3b --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := model.Fingerprint(args[0])
			if fp.IsZero() {
				return NewExitError(ExitCommandError, "empty fingerprint")
			}

			rt, err := rootOpts.buildRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			f := rootOpts.formatter(cmd)
			rec, found, err := rt.Store.Lookup(cmd.Context(), fp)
			if err != nil {
				return reportError(f, "lookup failed", model.Classify("cli.lookup", err))
			}
			if !found {
				return reportError(f, fmt.Sprintf("no record for %s", fp),
					model.NotFound("cli.lookup", model.Locator{}, fmt.Errorf("fingerprint %s", fp)))
			}

			if rootOpts.Format == "json" {
				return f.Success(rec)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "fingerprint: %s\n", rec.Fingerprint)
			fmt.Fprintf(w, "source:      %s\n", rec.SourceLocator)
			fmt.Fprintf(w, "match:       %t\n", rec.IsMatch)
			fmt.Fprintf(w, "created:     %s\n", rec.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

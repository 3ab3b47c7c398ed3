package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/labelcache/internal/presign"
)

// NewPresignCommand creates the presign command.
func NewPresignCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presign [filename]",
		Short: "Issue a presigned upload URL",
		Long: `Issue a presigned PUT URL for uploading an image to the watched bucket.

Requires storage.backend=s3. Without a filename the object is named
"unknown". Uploads must send an x-amz-checksum-sha256 header.

Examples:
  labelcache presign cat1.jpg
  labelcache presign cat1.jpg --set presign.expiry=5m --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := rootOpts.buildRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.Presign == nil {
				return NewExitError(ExitCommandError, "presign requires storage.backend=s3")
			}

			f := rootOpts.formatter(cmd)
			var req presign.Request
			if len(args) == 1 {
				req.Filename = args[0]
			}
			resp, err := rt.Presign.Issue(cmd.Context(), req)
			if errors.Is(err, presign.ErrInvalidFilename) {
				return WrapExitError(ExitCommandError, "invalid filename", err)
			}
			if err != nil {
				return reportError(f, "presign failed", err)
			}

			if rootOpts.Format == "json" {
				return f.Success(resp)
			}
			return f.Success(resp.PutPresignedURL)
		},
	}
}

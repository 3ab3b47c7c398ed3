package cli

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/labelcache/internal/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the upload, notification webhook, result and metrics endpoints.

  POST /upload                 presigned upload URL (s3 storage only)
  POST /events                 S3 event notification webhook
  GET  /results/{fingerprint}  stored classification
  GET  /healthz                liveness
  GET  /metrics                Prometheus metrics

The server shuts down gracefully on SIGINT or SIGTERM.

Examples:
  labelcache serve
  labelcache serve --addr 127.0.0.1:9090 --config labelcache.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default http.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	rt, err := opts.buildRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := opts.Addr
	if addr == "" {
		addr = rt.Config.HTTP.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	deps := httpapi.Deps{
		Processor: rt.Coordinator,
		Results:   rt.Store,
		Gatherer:  rt.Registry,
		Logger:    rt.Logger,
	}
	if rt.Presign != nil {
		deps.Uploader = rt.Presign
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.formatter(cmd).VerboseLog("Listening on %s", ln.Addr())
	return httpapi.Serve(ctx, ln, httpapi.NewRouter(deps), rt.Logger)
}

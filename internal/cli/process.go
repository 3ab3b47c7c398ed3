package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/labelcache/internal/coordinator"
	"github.com/roach88/labelcache/internal/event"
	"github.com/roach88/labelcache/internal/harness"
	"github.com/roach88/labelcache/internal/model"
)

// ProcessOptions holds flags for the process command.
type ProcessOptions struct {
	*RootOptions
	EventFile string // S3 notification document
}

// ProcessResult is the JSON payload of the process command.
type ProcessResult struct {
	Action  string                `json:"action"`
	Records []coordinator.Summary `json:"records"`
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process [bucket/key...]",
		Short: "Process upload events",
		Long: `Run upload events through the classification pipeline.

Events come either from locators on the command line (bucket/key or
s3://bucket/key) or from an S3 event notification file.

Exit codes:
  0 - Every event acknowledged
  1 - Content rejected
  2 - Command error (bad arguments, configuration)
  3 - Retryable failure; process the events again

Examples:
  labelcache process uploads/cat1.jpg
  labelcache process s3://uploads/cat1.jpg s3://uploads/dog1.jpg --format json
  labelcache process --event notification.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.EventFile, "event", "", "S3 event notification file (- for stdin)")

	return cmd
}

func runProcess(cmd *cobra.Command, opts *ProcessOptions, args []string) error {
	events, err := collectEvents(cmd, opts.EventFile, args)
	if err != nil {
		return err
	}

	rt, err := opts.buildRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	f := opts.formatter(cmd)
	f.VerboseLog("Processing %d event(s)", len(events))

	reports := rt.Coordinator.ProcessBatch(cmd.Context(), events)
	action := coordinator.Overall(reports)
	result := ProcessResult{
		Action:  action.String(),
		Records: make([]coordinator.Summary, len(reports)),
	}
	var failed []string
	for i, r := range reports {
		result.Records[i] = r.Summarize()
		if r.Err != nil {
			failed = append(failed, r.Outcome.Event.Locator.String())
		}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if action > coordinator.Ack {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    actionCode(action),
				Message: fmt.Sprintf("%d event(s) not acknowledged", len(failed)),
				Details: failed,
			}
		}
		if err := f.JSON(resp); err != nil {
			return err
		}
	} else {
		writeProcessText(cmd, result)
	}

	switch action {
	case coordinator.Ack:
		return nil
	case coordinator.Drop:
		return &ExitError{Code: ExitFailure, Message: "content rejected", Reported: true}
	default:
		return &ExitError{Code: ExitRetryable, Message: fmt.Sprintf("action %s", action), Reported: true}
	}
}

// collectEvents reads events from the notification file or the locator
// arguments, but not both.
func collectEvents(cmd *cobra.Command, eventFile string, args []string) ([]model.UploadEvent, error) {
	switch {
	case eventFile != "" && len(args) > 0:
		return nil, NewExitError(ExitCommandError, "use either --event or locator arguments")
	case eventFile != "":
		data, err := readInput(cmd, eventFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read event file", err)
		}
		batch, err := event.Decode(data)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid event notification", err)
		}
		for _, s := range batch.Skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipping %v\n", s)
		}
		return batch.Events, nil
	case len(args) == 0:
		return nil, NewExitError(ExitCommandError, "no events: give locators or --event")
	}

	events := make([]model.UploadEvent, 0, len(args))
	for _, arg := range args {
		loc, err := parseLocator(arg)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid locator", err)
		}
		events = append(events, event.Synthetic(loc))
	}
	return events, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// parseLocator accepts bucket/key and s3://bucket/key.
func parseLocator(s string) (model.Locator, error) {
	return harness.ParseLocator(strings.TrimPrefix(s, "s3://"))
}

func actionCode(a coordinator.Action) string {
	switch a {
	case coordinator.Drop:
		return "E_REJECTED"
	case coordinator.Escalate:
		return "E_INVARIANT"
	default:
		return "E_RETRYABLE"
	}
}

func writeProcessText(cmd *cobra.Command, result ProcessResult) {
	w := cmd.OutOrStdout()
	for _, s := range result.Records {
		switch {
		case s.Result != nil:
			fmt.Fprintf(w, "✓ %s  %s  match=%t\n", s.Locator, s.Status, s.Result.IsMatch)
		case s.Error == "":
			fmt.Fprintf(w, "✓ %s  %s\n", s.Locator, s.Status)
		default:
			fmt.Fprintf(w, "✗ %s  %s\n", s.Locator, s.Status)
			fmt.Fprintf(w, "  %s: %s\n", s.ErrorKind, s.Error)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Action: %s\n", result.Action)
}

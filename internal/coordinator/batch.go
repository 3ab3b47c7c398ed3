package coordinator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/labelcache/internal/model"
)

// Report is the result of one event in a batch.
type Report struct {
	Outcome Outcome
	Err     error
	Action  Action
}

// ProcessBatch processes the records of one notification concurrently,
// bounded by Options.Concurrency. Reports are returned in input order.
// One event failing never cancels the others.
func (c *Coordinator) ProcessBatch(ctx context.Context, events []model.UploadEvent) []Report {
	reports := make([]Report, len(events))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for i, ev := range events {
		g.Go(func() error {
			out, err := c.Process(ctx, ev)
			reports[i] = Report{Outcome: out, Err: err, Action: Disposition(err)}
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

// Overall returns the most severe action across reports
// (Escalate > Retry > Drop > Ack). An empty batch is acknowledged.
func Overall(reports []Report) Action {
	action := Ack
	for _, r := range reports {
		if r.Action > action {
			action = r.Action
		}
	}
	return action
}

// Summary is the serialisable view of a Report used by the HTTP surface and
// the CLI.
type Summary struct {
	Locator     string                  `json:"locator"`
	AttemptID   string                  `json:"attemptId"`
	Fingerprint model.Fingerprint       `json:"fingerprint,omitempty"`
	Status      Status                  `json:"status"`
	Result      *model.ProcessingResult `json:"result,omitempty"`
	Action      string                  `json:"action"`
	ErrorKind   model.ErrorKind         `json:"errorKind,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Summarize flattens r.
func (r Report) Summarize() Summary {
	s := Summary{
		Locator:     r.Outcome.Event.Locator.String(),
		AttemptID:   r.Outcome.AttemptID,
		Fingerprint: r.Outcome.Fingerprint,
		Status:      r.Outcome.Status,
		Action:      r.Action.String(),
	}
	if r.Outcome.HasResult() {
		res := r.Outcome.Result
		s.Result = &res
	}
	if r.Err != nil {
		s.ErrorKind = model.KindOf(r.Err)
		s.Error = r.Err.Error()
	}
	return s
}

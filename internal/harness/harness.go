package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/labelcache/internal/coordinator"
	"github.com/roach88/labelcache/internal/event"
	"github.com/roach88/labelcache/internal/labeler"
	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/store"
	"github.com/roach88/labelcache/internal/testutil"
)

// Option configures a scenario run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
}

// WithLogger routes coordinator logs to logger. Runs are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runOptions) { o.logger = logger }
}

// Harness holds the collaborators of one scenario run.
type Harness struct {
	bucket *testutil.FakeBucket
	store  *testutil.FaultStore
	coord  *coordinator.Coordinator
	seen   map[model.Fingerprint]struct{}
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh bucket and store. A returned error means the
// scenario could not be executed; expectation and assertion failures are
// reported through Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	ro := runOptions{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&ro)
	}

	st, cleanup, err := openStore(scenario.Store)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	h := &Harness{
		bucket: testutil.NewFakeBucket(),
		store:  testutil.NewFaultStore(st),
		seen:   make(map[model.Fingerprint]struct{}),
	}
	h.seed(scenario)

	policy := labeler.Policy{Target: labeler.DefaultTarget, MaxLabels: labeler.DefaultMaxLabels}
	if scenario.Target != "" {
		policy.Target = scenario.Target
	}
	h.coord = coordinator.New(h.bucket, h.store, labeler.NewInvoker(h.bucket, labeler.WithPolicy(policy)), coordinator.Options{
		Logger:      ro.logger,
		Clock:       testutil.NewStepClock(testutil.Epoch, time.Second),
		IDs:         testutil.NewSequentialIDs(""),
		Concurrency: 1,
	})

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.collectState(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func openStore(kind string) (store.Store, func(), error) {
	if kind != "sqlite" {
		return store.NewMemoryStore(), func() {}, nil
	}
	dir, err := os.MkdirTemp("", "labelcache-scenario-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	st, err := store.OpenSQLite(filepath.Join(dir, "records.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to open scenario store: %w", err)
	}
	return st, func() {
		st.Close()
		os.RemoveAll(dir)
	}, nil
}

func (h *Harness) seed(s *Scenario) {
	for _, o := range s.Objects {
		h.put(o)
	}
	for fp, labels := range s.Labels {
		h.bucket.SetLabels(fp, labels...)
	}
	for _, f := range s.Faults {
		h.seen[f.Fingerprint] = struct{}{}
		switch f.Op {
		case testutil.OpLookup, testutil.OpInsert:
			h.store.InjectFault(f)
		default:
			h.bucket.InjectFault(f)
		}
	}
}

func (h *Harness) put(o Object) {
	h.bucket.Put(o.Locator(), o.Fingerprint)
	h.seen[o.Fingerprint] = struct{}{}
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	switch {
	case step.Put != nil:
		h.put(*step.Put)
		return nil
	case step.Delete != "":
		loc, err := ParseLocator(step.Delete)
		if err != nil {
			return err
		}
		h.bucket.Delete(loc)
		return nil
	}

	events := make([]model.UploadEvent, 0, len(step.Deliver))
	for _, s := range step.Deliver {
		// Invalid locators are delivered as-is and rejected by the coordinator.
		loc, _ := ParseLocator(s)
		events = append(events, event.Synthetic(loc))
	}

	reports := h.coord.ProcessBatch(ctx, events)
	statuses := make([]string, 0, len(reports))
	for _, r := range reports {
		result.Trace = append(result.Trace, traceEvent(index, r))
		statuses = append(statuses, string(r.Outcome.Status))
	}

	if step.Expect == nil {
		return nil
	}
	if want := step.Expect.Action; want != "" {
		if got := coordinator.Overall(reports).String(); got != want {
			result.AddError(fmt.Sprintf("step %d: action = %s, want %s", index, got, want))
		}
	}
	if want := step.Expect.Statuses; len(want) > 0 && !slices.Equal(statuses, want) {
		result.AddError(fmt.Sprintf("step %d: statuses = %v, want %v", index, statuses, want))
	}
	return nil
}

func traceEvent(step int, r coordinator.Report) TraceEvent {
	path := make([]string, len(r.Outcome.Path))
	for i, s := range r.Outcome.Path {
		path[i] = string(s)
	}
	ev := TraceEvent{
		Step:        step,
		AttemptID:   r.Outcome.AttemptID,
		Locator:     r.Outcome.Event.Locator.String(),
		Fingerprint: r.Outcome.Fingerprint.String(),
		Path:        strings.Join(path, ", "),
		Status:      string(r.Outcome.Status),
		Action:      r.Action.String(),
	}
	if r.Outcome.HasResult() {
		isMatch := r.Outcome.Result.IsMatch
		ev.IsMatch = &isMatch
	}
	if r.Err != nil {
		ev.ErrorKind = string(model.KindOf(r.Err))
	}
	return ev
}

// collectState reads back every record the scenario could have written.
func (h *Harness) collectState(ctx context.Context, result *Result) error {
	for _, ev := range result.Trace {
		if ev.Fingerprint != "" {
			h.seen[model.Fingerprint(ev.Fingerprint)] = struct{}{}
		}
	}
	fps := make([]model.Fingerprint, 0, len(h.seen))
	for fp := range h.seen {
		fps = append(fps, fp)
	}
	slices.Sort(fps)

	// Read through the wrapped store so injected lookup faults don't fire.
	for _, fp := range fps {
		rec, found, err := h.store.Store.Lookup(ctx, fp)
		if err != nil {
			return fmt.Errorf("read back %s: %w", fp, err)
		}
		if found {
			result.Records = append(result.Records, rec)
		}
	}
	result.LabelCalls = append(result.LabelCalls, h.bucket.LabelCallCounts()...)
	return nil
}

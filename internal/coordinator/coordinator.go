package coordinator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/labelcache/internal/fingerprint"
	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/store"
)

const tracerName = "github.com/roach88/labelcache/internal/coordinator"

// Default per-call timeouts and batch concurrency.
const (
	DefaultMetadataTimeout = 5 * time.Second
	DefaultStoreTimeout    = 5 * time.Second
	DefaultClassifyTimeout = 30 * time.Second
	DefaultConcurrency     = 8
)

// Classifier decides whether the object at a locator matches the target.
// *labeler.Invoker implements it.
type Classifier interface {
	Classify(ctx context.Context, loc model.Locator) (bool, error)
}

// Observer receives coordinator telemetry.
// *observe.PrometheusObserver implements it.
type Observer interface {
	RecordOutcome(status string, duration time.Duration)
	RecordStep(step string, duration time.Duration, err error)
	RecordLabelingCall()
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Logger         *slog.Logger
	Observer       Observer
	TracerProvider trace.TracerProvider
	Clock          Clock
	IDs            IDGenerator

	MetadataTimeout time.Duration
	StoreTimeout    time.Duration
	ClassifyTimeout time.Duration

	// Concurrency bounds ProcessBatch fan-out.
	Concurrency int
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.IDs == nil {
		o.IDs = UUIDv7Generator{}
	}
	if o.MetadataTimeout <= 0 {
		o.MetadataTimeout = DefaultMetadataTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.ClassifyTimeout <= 0 {
		o.ClassifyTimeout = DefaultClassifyTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
}

// Coordinator runs upload events through resolve, lookup, classify and
// conditional insert. It holds no per-event state and is safe for
// concurrent use.
type Coordinator struct {
	resolver   fingerprint.Resolver
	store      store.Store
	classifier Classifier

	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	flights singleflight.Group
}

// New creates a Coordinator. The collaborators are process-scoped and
// shared by every event.
func New(resolver fingerprint.Resolver, st store.Store, classifier Classifier, opts Options) *Coordinator {
	opts.defaults()
	return &Coordinator{
		resolver:   resolver,
		store:      st,
		classifier: classifier,
		opts:       opts,
		logger:     opts.Logger.With("component", "coordinator"),
		tracer:     opts.TracerProvider.Tracer(tracerName),
	}
}

// Outcome describes one processed event.
type Outcome struct {
	Event       model.UploadEvent
	AttemptID   string
	Fingerprint model.Fingerprint

	// Record is the canonical stored record. Zero when none was read or written.
	Record model.ClassificationRecord

	// Result is what the event surfaces: the event's own locator and the
	// canonical match value. Zero unless Status is classified, cache_hit
	// or converged.
	Result model.ProcessingResult

	Status Status
	Path   []State

	// Shared is true when the stored answer was computed once for several
	// concurrent events with the same fingerprint in this process.
	Shared bool
}

// HasResult reports whether the outcome carries a classification.
func (o Outcome) HasResult() bool {
	switch o.Status {
	case StatusClassified, StatusCacheHit, StatusConverged:
		return true
	}
	return false
}

// flight is the fingerprint-scoped part of an event, shared through singleflight.
type flight struct {
	record model.ClassificationRecord
	status Status
	path   []State
}

// Process runs one event through the state machine.
//
// A nil error means the event can be acknowledged: it was classified,
// answered from the store, or its object no longer exists. A non-nil error
// is a classified *model.Error; use Disposition to decide what to do.
func (c *Coordinator) Process(ctx context.Context, ev model.UploadEvent) (Outcome, error) {
	started := time.Now()
	out := Outcome{Event: ev, AttemptID: c.opts.IDs.Generate()}
	logger := c.logger.With("attempt_id", out.AttemptID, "locator", ev.Locator.String())

	ctx, span := c.tracer.Start(ctx, "coordinator.process", trace.WithAttributes(
		attribute.String("labelcache.attempt_id", out.AttemptID),
		attribute.String("labelcache.locator", ev.Locator.String()),
	))
	defer span.End()

	err := c.process(ctx, &out, logger)
	if err != nil {
		out.Status = statusFor(err)
		out.Path = append(out.Path, StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if out.HasResult() {
		out.Result = model.ProcessingResult{
			SourceLocator: ev.Locator.URL(),
			IsMatch:       out.Record.IsMatch,
		}
	}

	span.SetAttributes(
		attribute.String("labelcache.status", string(out.Status)),
		attribute.String("labelcache.fingerprint", out.Fingerprint.String()),
	)
	c.opts.Observer.RecordOutcome(string(out.Status), time.Since(started))
	c.logOutcome(logger, out, err)
	return out, err
}

func (c *Coordinator) process(ctx context.Context, out *Outcome, logger *slog.Logger) error {
	loc := out.Event.Locator
	out.Path = append(out.Path, StateResolving)
	if err := loc.Validate(); err != nil {
		return model.Malformed("coordinator.validate", loc, err)
	}

	var fp model.Fingerprint
	err := c.step(ctx, "resolve", c.opts.MetadataTimeout, func(ctx context.Context) error {
		var err error
		fp, err = c.resolver.Resolve(ctx, loc)
		return err
	})
	if model.IsNotFound(err) {
		out.Status = StatusVanished
		out.Path = append(out.Path, StateDone)
		return nil
	}
	if err != nil {
		return err
	}
	out.Fingerprint = fp

	// The flight outlives any one caller: it runs detached from the
	// leader's cancellation and each caller waits on its own context.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(string(fp), func() (any, error) {
		return c.settle(flightCtx, loc, fp, logger.With("fingerprint", fp.String()))
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return model.Classify("coordinator.settle", ctx.Err())
	}
	f := res.Val.(flight)
	out.Path = append(out.Path, f.path...)
	out.Shared = res.Shared
	if err := res.Err; err != nil {
		return err
	}
	out.Record = f.record
	out.Status = f.status
	return nil
}

// settle produces the canonical record for fp: a stored one if present,
// otherwise a fresh classification written with TryInsert.
func (c *Coordinator) settle(ctx context.Context, loc model.Locator, fp model.Fingerprint, logger *slog.Logger) (flight, error) {
	f := flight{path: []State{StateChecking}}

	var (
		existing model.ClassificationRecord
		found    bool
	)
	err := c.step(ctx, "lookup", c.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		existing, found, err = c.store.Lookup(ctx, fp)
		return err
	})
	if err != nil {
		return f, err
	}
	if found {
		f.path = append(f.path, StateCacheHit)
		f.record = existing
		f.status = StatusCacheHit
		return f, nil
	}

	f.path = append(f.path, StateClassifying)
	var isMatch bool
	err = c.step(ctx, "classify", c.opts.ClassifyTimeout, func(ctx context.Context) error {
		c.opts.Observer.RecordLabelingCall()
		var err error
		isMatch, err = c.classifier.Classify(ctx, loc)
		return err
	})
	if model.IsNotFound(err) {
		f.path = append(f.path, StateDone)
		f.status = StatusVanished
		return f, nil
	}
	if err != nil {
		return f, err
	}

	f.path = append(f.path, StatePersisting)
	rec := model.ClassificationRecord{
		Fingerprint:   fp,
		SourceLocator: loc.URL(),
		IsMatch:       isMatch,
		CreatedAt:     c.opts.Clock.Now().UTC(),
	}
	var res store.InsertResult
	err = c.step(ctx, "insert", c.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		res, err = c.store.TryInsert(ctx, rec)
		return err
	})
	if err != nil {
		return f, err
	}

	f.path = append(f.path, StateDone)
	f.record = res.Record
	switch res.Outcome {
	case store.InsertedNew:
		f.status = StatusClassified
	default:
		f.status = StatusConverged
		if res.Record.IsMatch != isMatch {
			logger.Warn("classification disagrees with stored record, adopting stored value",
				"local_is_match", isMatch,
				"stored_is_match", res.Record.IsMatch,
				"stored_locator", res.Record.SourceLocator)
		}
	}
	return f, nil
}

// step runs one remote call under its own span and timeout and classifies
// the error.
func (c *Coordinator) step(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "coordinator."+name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := model.Classify("coordinator."+name, fn(ctx))
	c.opts.Observer.RecordStep(name, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(model.KindOf(err)))
	}
	return err
}

func (c *Coordinator) logOutcome(logger *slog.Logger, out Outcome, err error) {
	attrs := []any{"status", out.Status, "fingerprint", out.Fingerprint.String()}
	switch {
	case err == nil && out.HasResult():
		logger.Info("event processed", append(attrs, "is_match", out.Record.IsMatch, "shared", out.Shared)...)
	case err == nil:
		logger.Info("object no longer exists, acknowledging", attrs...)
	case model.IsInvariant(err):
		logger.Error("invariant violation", append(attrs, "error", err)...)
	case model.IsMalformed(err):
		logger.Warn("content rejected", append(attrs, "error", err)...)
	default:
		logger.Warn("event failed, redelivery required", append(attrs, "error", err)...)
	}
}

type nopObserver struct{}

func (nopObserver) RecordOutcome(string, time.Duration) {}

func (nopObserver) RecordStep(string, time.Duration, error) {}

func (nopObserver) RecordLabelingCall() {}

// Package labeler wraps the external labeling service and turns its label
// list into a single match decision.
//
// The Invoker makes exactly one labeling call per Classify with no retries;
// retry policy belongs to the event source.
package labeler

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/roach88/labelcache/internal/model"
)

// Defaults for the match policy.
const (
	DefaultTarget    = "Cat"
	DefaultMaxLabels = 10
)

// Labeler is one labeling backend.
// Labels are returned in the service's ranking order.
type Labeler interface {
	DetectLabels(ctx context.Context, loc model.Locator, maxLabels int) ([]model.Label, error)
}

// Policy decides which labels count as a match.
type Policy struct {
	Target    string
	MaxLabels int
}

// Invoker classifies stored objects against a target label.
type Invoker struct {
	labeler Labeler
	policy  Policy
	limiter *rate.Limiter
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithPolicy overrides the target and label budget. Zero fields keep defaults.
func WithPolicy(p Policy) Option {
	return func(i *Invoker) {
		if p.Target != "" {
			i.policy.Target = p.Target
		}
		if p.MaxLabels > 0 {
			i.policy.MaxLabels = p.MaxLabels
		}
	}
}

// WithRateLimit caps labeling calls per second for this worker.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(i *Invoker) {
		if rps <= 0 {
			i.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		i.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewInvoker creates an Invoker over l.
func NewInvoker(l Labeler, opts ...Option) *Invoker {
	i := &Invoker{
		labeler: l,
		policy:  Policy{Target: DefaultTarget, MaxLabels: DefaultMaxLabels},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Policy returns the effective match policy.
func (i *Invoker) Policy() Policy {
	return i.policy
}

// Classify reports whether the object at loc carries the target label.
func (i *Invoker) Classify(ctx context.Context, loc model.Locator) (bool, error) {
	const op = "labeler.classify"

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return false, model.Transient(op, fmt.Errorf("rate limiter: %w", err))
		}
	}

	labels, err := i.labeler.DetectLabels(ctx, loc, i.policy.MaxLabels)
	if err != nil {
		return false, model.Classify(op, err)
	}
	return MatchesTarget(labels, i.policy.Target), nil
}

// MatchesTarget reports whether any label name equals target under Unicode
// case folding after NFC normalization. Confidence is ignored.
func MatchesTarget(labels []model.Label, target string) bool {
	want := foldName(target)
	if want == "" {
		return false
	}
	for _, l := range labels {
		if foldName(l.Name) == want {
			return true
		}
	}
	return false
}

func foldName(s string) string {
	// A Caser keeps state and must not be shared across goroutines.
	return cases.Fold().String(norm.NFC.String(s))
}

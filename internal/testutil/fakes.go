package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/store"
)

// Op names an injectable operation.
type Op string

const (
	OpResolve Op = "resolve"
	OpLabel   Op = "label"
	OpLookup  Op = "lookup"
	OpInsert  Op = "insert"
)

// FaultKind selects the error a fault produces.
type FaultKind string

const (
	FaultTransient FaultKind = "transient"
	FaultTimeout   FaultKind = "timeout"
	FaultMalformed FaultKind = "malformed"
	FaultNotFound  FaultKind = "not_found"
	FaultInvariant FaultKind = "invariant"
)

// Fault makes the next Times calls of Op for Fingerprint fail with Kind.
// Times <= 0 means every call fails.
type Fault struct {
	Fingerprint model.Fingerprint `yaml:"fingerprint"`
	Op          Op                `yaml:"op"`
	Kind        FaultKind         `yaml:"kind"`
	Times       int               `yaml:"times,omitempty"`
}

// Validate checks the fault names a known op and kind.
func (f Fault) Validate() error {
	switch f.Op {
	case OpResolve, OpLabel, OpLookup, OpInsert:
	default:
		return fmt.Errorf("unknown fault op %q", f.Op)
	}
	switch f.Kind {
	case FaultTransient, FaultTimeout, FaultMalformed, FaultNotFound, FaultInvariant:
	default:
		return fmt.Errorf("unknown fault kind %q", f.Kind)
	}
	return nil
}

// faultSet tracks remaining fault firings. Callers hold their own lock.
type faultSet struct {
	faults []*Fault
}

func (s *faultSet) add(f Fault) {
	s.faults = append(s.faults, &f)
}

// fire returns the error for the first matching fault, consuming one firing.
func (s *faultSet) fire(op Op, fp model.Fingerprint, loc model.Locator) error {
	for _, f := range s.faults {
		if f.Op != op || f.Fingerprint != fp {
			continue
		}
		if f.Times < 0 {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				f.Times = -1
			}
		}
		return faultError(f.Kind, "fake."+string(op), fp, loc)
	}
	return nil
}

func faultError(kind FaultKind, op string, fp model.Fingerprint, loc model.Locator) error {
	cause := errors.New("injected fault")
	switch kind {
	case FaultTimeout:
		return context.DeadlineExceeded
	case FaultMalformed:
		return model.Malformed(op, loc, cause)
	case FaultNotFound:
		return model.NotFound(op, loc, cause)
	case FaultInvariant:
		return model.Invariant(op, fp, cause)
	default:
		return model.Transient(op, cause)
	}
}

// FakeBucket is an in-memory object store and labeling service.
// It implements fingerprint.Resolver and labeler.Labeler so pipelines can
// run without network access, and counts labeling calls per fingerprint.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeBucket struct {
	mu      sync.Mutex
	objects map[model.Locator]model.Fingerprint
	labels  map[model.Fingerprint][]model.Label
	faults  faultSet
	calls   map[model.Fingerprint]int
	onLabel func(model.Fingerprint)
}

// NewFakeBucket creates an empty bucket.
func NewFakeBucket() *FakeBucket {
	return &FakeBucket{
		objects: make(map[model.Locator]model.Fingerprint),
		labels:  make(map[model.Fingerprint][]model.Label),
		calls:   make(map[model.Fingerprint]int),
	}
}

// Put stores an object whose content has fingerprint fp.
func (b *FakeBucket) Put(loc model.Locator, fp model.Fingerprint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[loc] = fp
}

// Delete removes an object.
func (b *FakeBucket) Delete(loc model.Locator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, loc)
}

// SetLabels sets the labels returned for content with fingerprint fp.
func (b *FakeBucket) SetLabels(fp model.Fingerprint, labels ...model.Label) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.labels[fp] = labels
}

// InjectFault registers a resolve or label fault.
func (b *FakeBucket) InjectFault(f Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults.add(f)
}

// OnLabel registers a hook called, without the lock held, at the start of
// every labeling call. Race tests use it as a barrier.
func (b *FakeBucket) OnLabel(fn func(model.Fingerprint)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLabel = fn
}

// Resolve implements fingerprint.Resolver.
func (b *FakeBucket) Resolve(_ context.Context, loc model.Locator) (model.Fingerprint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fp, ok := b.objects[loc]
	if !ok {
		return "", model.NotFound("fake.resolve", loc, errors.New("no such object"))
	}
	if err := b.faults.fire(OpResolve, fp, loc); err != nil {
		return "", err
	}
	return fp, nil
}

// DetectLabels implements labeler.Labeler.
func (b *FakeBucket) DetectLabels(ctx context.Context, loc model.Locator, maxLabels int) ([]model.Label, error) {
	b.mu.Lock()
	fp, ok := b.objects[loc]
	hook := b.onLabel
	b.mu.Unlock()

	if !ok {
		return nil, model.NotFound("fake.label", loc, errors.New("no such object"))
	}
	if hook != nil {
		hook(fp)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[fp]++
	if err := b.faults.fire(OpLabel, fp, loc); err != nil {
		return nil, err
	}
	labels := b.labels[fp]
	if maxLabels > 0 && len(labels) > maxLabels {
		labels = labels[:maxLabels]
	}
	return append([]model.Label(nil), labels...), nil
}

// LabelCalls returns the number of labeling calls for fp.
func (b *FakeBucket) LabelCalls(fp model.Fingerprint) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[fp]
}

// TotalLabelCalls returns the number of labeling calls across all content.
func (b *FakeBucket) TotalLabelCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// LabelCallCounts returns a copy of the per-fingerprint call counts, ordered
// by fingerprint for stable output.
func (b *FakeBucket) LabelCallCounts() []FingerprintCount {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]FingerprintCount, 0, len(b.calls))
	for fp, n := range b.calls {
		out = append(out, FingerprintCount{Fingerprint: fp, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// FingerprintCount pairs a fingerprint with a counter value.
type FingerprintCount struct {
	Fingerprint model.Fingerprint `json:"fingerprint"`
	Count       int               `json:"count"`
}

// FaultStore wraps a store.Store and injects lookup/insert faults.
type FaultStore struct {
	store.Store

	mu     sync.Mutex
	faults faultSet
}

// NewFaultStore wraps s.
func NewFaultStore(s store.Store) *FaultStore {
	return &FaultStore{Store: s}
}

// InjectFault registers a lookup or insert fault.
func (s *FaultStore) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.add(f)
}

// Lookup implements store.Store.
func (s *FaultStore) Lookup(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, bool, error) {
	s.mu.Lock()
	err := s.faults.fire(OpLookup, fp, model.Locator{})
	s.mu.Unlock()
	if err != nil {
		return model.ClassificationRecord{}, false, err
	}
	return s.Store.Lookup(ctx, fp)
}

// TryInsert implements store.Store. An insert fault fires after the
// wrapped insert, modelling a write that took effect but whose
// acknowledgment was lost.
func (s *FaultStore) TryInsert(ctx context.Context, rec model.ClassificationRecord) (store.InsertResult, error) {
	res, err := s.Store.TryInsert(ctx, rec)
	if err != nil {
		return res, err
	}
	s.mu.Lock()
	ferr := s.faults.fire(OpInsert, rec.Fingerprint, model.Locator{})
	s.mu.Unlock()
	if ferr != nil {
		return store.InsertResult{}, ferr
	}
	return res, nil
}

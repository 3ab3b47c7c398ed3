package harness

import (
	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/testutil"
)

// TraceEvent is one processed event of a delivery step.
type TraceEvent struct {
	Step        int    `json:"step"`
	AttemptID   string `json:"attempt_id"`
	Locator     string `json:"locator"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Path        string `json:"path"`
	Status      string `json:"status"`
	Action      string `json:"action"`
	IsMatch     *bool  `json:"is_match,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every processed event in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Records is the final store content ordered by fingerprint.
	Records []model.ClassificationRecord `json:"records"`

	// LabelCalls counts labeling calls per fingerprint.
	LabelCalls []testutil.FingerprintCount `json:"label_calls"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Records:    []model.ClassificationRecord{},
		LabelCalls: []testutil.FingerprintCount{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record returns the stored record for fp.
func (r *Result) record(fp string) (model.ClassificationRecord, bool) {
	for _, rec := range r.Records {
		if string(rec.Fingerprint) == fp {
			return rec, true
		}
	}
	return model.ClassificationRecord{}, false
}

// labelCalls returns the labeling calls for fp, or the total when fp is empty.
func (r *Result) labelCalls(fp string) int {
	n := 0
	for _, c := range r.LabelCalls {
		if fp == "" || string(c.Fingerprint) == fp {
			n += c.Count
		}
	}
	return n
}

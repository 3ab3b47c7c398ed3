package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/testutil"
)

// Scenario is a scripted sequence of deliveries with expected outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Store selects the result store: "memory" (default) or "sqlite".
	Store string `yaml:"store,omitempty"`

	// Target overrides the label the classifier looks for.
	Target string `yaml:"target,omitempty"`

	// Objects are present in the bucket before the first step.
	Objects []Object `yaml:"objects,omitempty"`

	// Labels are what the labeling service returns per fingerprint.
	Labels map[model.Fingerprint][]model.Label `yaml:"labels,omitempty"`

	// Faults are injected before the first step.
	Faults []testutil.Fault `yaml:"faults,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and store.
	Assertions []Assertion `yaml:"assertions"`
}

// Object is a stored object identified by its content fingerprint.
type Object struct {
	Bucket      string            `yaml:"bucket"`
	Key         string            `yaml:"key"`
	Fingerprint model.Fingerprint `yaml:"fingerprint"`
}

// Locator returns the object's locator.
func (o Object) Locator() model.Locator {
	return model.Locator{Bucket: o.Bucket, Key: o.Key}
}

// Step is exactly one of a delivery, an upload or a deletion.
type Step struct {
	// Deliver lists "bucket/key" locators sent as one notification.
	Deliver []string `yaml:"deliver,omitempty"`

	// Put uploads an object.
	Put *Object `yaml:"put,omitempty"`

	// Delete removes the object at a "bucket/key" locator.
	Delete string `yaml:"delete,omitempty"`

	// Expect checks a delivery's outcome. Only valid with Deliver.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect is the expected outcome of one delivery.
type StepExpect struct {
	// Action is the notification-level action (ack, drop, retry, escalate).
	Action string `yaml:"action,omitempty"`

	// Statuses are the per-record statuses, in delivery order.
	Statuses []string `yaml:"statuses,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Locator filters trace assertions to one "bucket/key".
	Locator string `yaml:"locator,omitempty"`

	// Status is used by trace_contains and trace_count.
	Status string `yaml:"status,omitempty"`

	// Statuses is the expected order for trace_order.
	Statuses []string `yaml:"statuses,omitempty"`

	// Fingerprint selects a record (final_state) or counter (label_calls).
	Fingerprint string `yaml:"fingerprint,omitempty"`

	// Count is used by trace_count, label_calls and record_count.
	Count int `yaml:"count,omitempty"`

	// Expect holds expected record fields for final_state:
	// is_match, source_locator, created_at.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts that no record exists (final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertLabelCalls    = "label_calls"
	AssertFinalState    = "final_state"
	AssertRecordCount   = "record_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject typos like "assertion:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ParseLocator splits "bucket/key". The key may contain further slashes.
func ParseLocator(s string) (model.Locator, error) {
	bucket, key, ok := strings.Cut(s, "/")
	loc := model.Locator{Bucket: bucket, Key: key}
	if !ok {
		return loc, fmt.Errorf("locator %q: want bucket/key", s)
	}
	if err := loc.Validate(); err != nil {
		return loc, fmt.Errorf("locator %q: %w", s, err)
	}
	return loc, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Store {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store %q", s.Store)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, o := range s.Objects {
		if err := validateObject(o); err != nil {
			return fmt.Errorf("objects[%d]: %w", i, err)
		}
	}
	for i, f := range s.Faults {
		if f.Fingerprint.IsZero() {
			return fmt.Errorf("faults[%d]: fingerprint is required", i)
		}
		if err := f.Validate(); err != nil {
			return fmt.Errorf("faults[%d]: %w", i, err)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateObject(o Object) error {
	if err := o.Locator().Validate(); err != nil {
		return err
	}
	if o.Fingerprint.IsZero() {
		return fmt.Errorf("fingerprint is required")
	}
	return nil
}

func validateStep(step Step) error {
	kinds := 0
	if len(step.Deliver) > 0 {
		kinds++
	}
	if step.Put != nil {
		kinds++
	}
	if step.Delete != "" {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("exactly one of deliver, put or delete is required")
	}
	if step.Expect != nil && len(step.Deliver) == 0 {
		return fmt.Errorf("expect is only valid with deliver")
	}
	if step.Expect != nil && len(step.Expect.Statuses) > 0 && len(step.Expect.Statuses) != len(step.Deliver) {
		return fmt.Errorf("expect.statuses has %d entries for %d deliveries", len(step.Expect.Statuses), len(step.Deliver))
	}
	// Deliveries may name invalid locators on purpose; they are exercised
	// as malformed events.
	if step.Put != nil {
		if err := validateObject(*step.Put); err != nil {
			return fmt.Errorf("put: %w", err)
		}
	}
	if step.Delete != "" {
		if _, err := ParseLocator(step.Delete); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Locator == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: locator and status are required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Statuses) == 0 {
			return fmt.Errorf("assertions[%d]: statuses list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertLabelCalls, AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFinalState:
		if a.Fingerprint == "" {
			return fmt.Errorf("assertions[%d]: fingerprint is required for final_state", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

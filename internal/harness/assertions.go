package harness

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/labelcache/internal/model"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s\n", i+1, ev.Step, ev.Locator, ev.Status)
		}
	}
	return buf.String()
}

// filterTrace returns the events for locator, or all events when locator is empty.
func filterTrace(trace []TraceEvent, locator string) []TraceEvent {
	if locator == "" {
		return trace
	}
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Locator == locator {
			out = append(out, ev)
		}
	}
	return out
}

// assertTraceContains checks that some event for the locator ended with status.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range filterTrace(trace, a.Locator) {
		if ev.Status == a.Status {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s with status %s", a.Locator, a.Status),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that statuses appear in the specified order.
// Statuses don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	events := filterTrace(trace, a.Locator)
	next := 0
	for _, ev := range events {
		if next < len(a.Statuses) && ev.Status == a.Statuses[next] {
			next++
		}
	}
	if next == len(a.Statuses) {
		return nil
	}

	actual := make([]string, len(events))
	for i, ev := range events {
		actual[i] = ev.Status
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("statuses in order: %v", a.Statuses),
		Actual:   fmt.Sprintf("%v (missing %s)", actual, a.Statuses[next]),
		Trace:    trace,
	}
}

// assertTraceCount checks that status appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range filterTrace(trace, a.Locator) {
		if ev.Status == a.Status {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Status),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertLabelCalls(result *Result, a Assertion) error {
	got := result.labelCalls(a.Fingerprint)
	if got == a.Count {
		return nil
	}
	subject := "all content"
	if a.Fingerprint != "" {
		subject = a.Fingerprint
	}
	return &AssertionError{
		Type:     AssertLabelCalls,
		Expected: fmt.Sprintf("%d labeling calls for %s", a.Count, subject),
		Actual:   fmt.Sprintf("%d calls", got),
	}
}

func assertRecordCount(result *Result, a Assertion) error {
	if len(result.Records) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRecordCount,
		Expected: fmt.Sprintf("%d records", a.Count),
		Actual:   fmt.Sprintf("%d records", len(result.Records)),
	}
}

// assertFinalState checks the stored record for a fingerprint using subset
// semantics: only fields named in Expect are compared.
func assertFinalState(result *Result, a Assertion) error {
	rec, found := result.record(a.Fingerprint)
	if a.Absent {
		if !found {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("no record for %s", a.Fingerprint),
			Actual:   fmt.Sprintf("record from %s", rec.SourceLocator),
		}
	}
	if !found {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record for %s", a.Fingerprint),
			Actual:   "record not found",
		}
	}

	actual := recordFields(rec)
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actualValue, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("record fields: %s", strings.Join(sortedKeys(actual), ", ")),
			}
		}
		if !stateValuesEqual(a.Expect[key], actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, a.Expect[key], a.Expect[key]),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

func recordFields(rec model.ClassificationRecord) map[string]any {
	return map[string]any{
		"fingerprint":    string(rec.Fingerprint),
		"source_locator": rec.SourceLocator,
		"is_match":       rec.IsMatch,
		"created_at":     rec.CreatedAt.UTC(),
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares a YAML-decoded expected value with a record field.
// Timestamps may be given as time values or RFC 3339 strings.
func stateValuesEqual(expected, actual any) bool {
	switch act := actual.(type) {
	case time.Time:
		switch exp := expected.(type) {
		case time.Time:
			return exp.Equal(act)
		case string:
			t, err := time.Parse(time.RFC3339Nano, exp)
			return err == nil && t.Equal(act)
		}
		return false
	case bool:
		exp, ok := expected.(bool)
		return ok && exp == act
	case string:
		exp, ok := expected.(string)
		return ok && exp == act
	}
	return false
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertLabelCalls:
			err = assertLabelCalls(result, a)
		case AssertRecordCount:
			err = assertRecordCount(result, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

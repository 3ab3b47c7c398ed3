// Package harness runs scripted delivery scenarios against the coordinator.
//
// A scenario seeds an in-memory bucket with objects and labels, then plays a
// sequence of steps: deliveries of S3-style notifications, object uploads and
// deletions. Each delivery runs through a real Coordinator and result store,
// so the trace records what the pipeline actually did.
//
// # Scenario Format
//
//	name: cat_redelivery
//	description: "A redelivered event is answered from the store"
//	store: memory            # memory (default) or sqlite
//	objects:
//	  - bucket: uploads
//	    key: cat1.jpg
//	    fingerprint: abc123
//	labels:
//	  abc123:
//	    - { name: Cat, confidence: 98 }
//	faults:
//	  - { fingerprint: abc123, op: label, kind: transient, times: 1 }
//	steps:
//	  - deliver: [uploads/cat1.jpg]
//	    expect: { action: retry, statuses: [failed] }
//	  - delete: uploads/cat1.jpg
//	assertions:
//	  - type: label_calls
//	    fingerprint: abc123
//	    count: 1
//
// # Assertion Types
//
//   - trace_contains: an event for locator finished with status
//   - trace_order: statuses appear in order (optionally for one locator)
//   - trace_count: status appears exactly count times
//   - label_calls: labeling calls for fingerprint (all content when empty)
//   - final_state: the stored record for fingerprint matches expect,
//     or is absent when absent is true
//   - record_count: number of stored records
//
// # Deterministic Testing
//
// Scenarios run with sequential attempt IDs, a step clock starting at
// testutil.Epoch and a batch concurrency of one, so the same scenario always
// produces the same trace. Golden traces live in testdata/golden.
package harness

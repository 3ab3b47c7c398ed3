// Package coordinator implements the idempotent classification pipeline.
//
// For each upload event the Coordinator walks a fixed state machine:
//
//	RESOLVING_FINGERPRINT -> CHECKING_CACHE -> CACHE_HIT
//	                                        -> CLASSIFYING -> PERSISTING -> DONE
//	any state -> FAILED
//
// Cross-worker coordination relies entirely on the store's conditional
// insert: the first TryInsert for a fingerprint wins and every later writer
// adopts the stored record. Within one process, concurrent events for the
// same fingerprint are collapsed with singleflight so the labeling service
// is called once.
//
// The Coordinator never retries. Each remote call gets one attempt with a
// bounded timeout; failures are classified and handed back to the caller,
// which maps them to an Action via Disposition.
package coordinator

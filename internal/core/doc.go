// Package core provides the business logic for CSV export operations.
//
// This package is the heart of the exporter, containing all domain logic
// independent of any transport layer. It can be used by web handlers,
// CLI tools, or tests without modification.
//
// # Architecture
//
//   - Registry: in-memory job records keyed by export ID. The only shared
//     mutable state; every access is mutex-guarded and callers receive
//     snapshots.
//   - Admission: a semaphore bounding how many jobs process at once.
//   - Pipeline: count, then page through matching rows in ascending id
//     order, writing each page through the CSVWriter.
//   - Delivery: open a completed artifact and stream it whole, as a byte
//     range, or gzip-compressed.
//   - RetentionSweeper: cron-scheduled removal of old exports.
//
// # Job Lifecycle
//
//	pending -> processing -> completed | failed | cancelled
//
// A pending job may also go straight to cancelled (cancelled while queued)
// or failed (service stopped before admission). Terminal states are final
// and completedAt is stamped exactly once, on entry.
//
// # Cancellation
//
// Cancellation is cooperative. [Service.RequestCancel] only sets a flag;
// the running job checks it before every page fetch, so latency is bounded
// by one page. A job still waiting for admission is woken immediately.
//
// # Error Handling
//
// Synchronous calls return sentinel errors ([ErrNotFound], [ErrNotReady],
// [ErrArtifactMissing]) or a [*ValidationError]. Failures inside a running
// job are never returned to a caller: they are recorded on the job and
// exposed through [Service.GetStatus]. Use [MapError] for user-facing text.
package core

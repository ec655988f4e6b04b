// Package engine implements the Chronicle transaction applier and
// snapshot reader.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Submissions are validated and stamped synchronously, then applied one at
// a time by a single goroutine. This ensures:
//   - a total order of transactions equal to their id order
//   - one log record per accepted submission, committed or aborted
//   - an index that replay reproduces exactly
//
// Transaction Flow:
//  1. Submit validates the ops, then under the submit mutex assigns the
//     next tx id, a strictly increasing tx time and a submission id, and
//     enqueues the submission.
//  2. Run dequeues in FIFO order and stages effects in an index.Batch.
//     Matches are evaluated against the view as of the previous
//     transaction; invokes expand in place.
//  3. Exactly one record is appended to the log. On commit the batch is
//     then published to the index and waiters are woken.
//
// Aborts are data, not errors: a failed match or transaction function
// produces an aborted record and leaves the index untouched.
//
// Readers never block the writer. A View pins a transaction id and a
// valid time and resolves through the index read lock only.
//
// The index is derived state. Recover rebuilds it on startup from the
// latest checkpoint plus the log records after it.
package engine

// Package harness runs YAML scenarios against a real engine.
//
// A scenario is a list of transactions in the operation wire format, each
// optionally with an expected outcome, followed by assertions about the
// resulting database. Every run gets a fresh in-memory store, a stepping
// clock and fixed submission ids, so the same scenario always produces a
// byte-identical log.
//
// # Scenario format
//
//	name: pablo_versions
//	description: A bounded put restores the earlier content.
//	start: "2024-01-01T00:00:00Z"   # first transaction time
//	step: 1s                        # clock advance per transaction
//	setup:                          # must all commit
//	  - tx:
//	      - put: {id: pablo, doc: {version: 1}, valid_from: "2020-01-01T00:00:00Z"}
//	flow:
//	  - tx:
//	      - match: {id: pablo, doc: {version: 2}}
//	    expect: {outcome: aborted, reason: match-failed}
//	assertions:
//	  - {type: entity, id: pablo, expect: {version: 1}}
//	  - {type: entity, id: pablo, as_of_tx: 1, at: "2020-06-01T00:00:00Z", expect: {version: 1}}
//	  - {type: absent, id: ivan}
//	  - {type: history_count, id: pablo, count: 1}
//	  - {type: log_count, outcome: aborted, count: 1}
//
// # Traces
//
// The trace of a run is the final log: one event per transaction with its
// ops (documents inline, or "redacted" once evicted) and effects.
// RunWithGolden compares the canonical JSON of the trace against
// testdata/golden/<name>.golden.
package harness

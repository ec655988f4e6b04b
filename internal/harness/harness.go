package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/engine"
	"github.com/roach88/chronicle/internal/store"
	"github.com/roach88/chronicle/internal/testutil"
)

// stepTimeout bounds the wait for each transaction.
const stepTimeout = 10 * time.Second

// Harness is the test execution engine for one scenario run.
type Harness struct {
	engine *engine.Engine
	logger *slog.Logger
}

// Option configures a run.
type Option func(*options)

type options struct {
	engineOpts []engine.Option
}

// WithEngineOptions passes extra options to the engine, typically
// engine.WithTxFunc registrations the scenario invokes.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Open the store and an engine with deterministic helpers
//  2. Execute setup transactions (each must commit)
//  3. Execute flow transactions and check their expect clauses
//  4. Build the trace from the final log
//  5. Evaluate assertions
//
// An error is returned when the scenario could not run at all; failed
// expectations are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	clock := testutil.NewSteppingClock(scenario.start, scenario.Step)
	engineOpts := append([]engine.Option{
		engine.WithTimeSource(clock),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator("tx")),
		engine.WithSyncTimeout(stepTimeout),
	}, o.engineOpts...)

	eng, err := engine.New(ctx, st, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()
	defer func() {
		eng.Stop()
		<-done
		cancel()
	}()

	h := &Harness{
		engine: eng,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	trace, err := h.buildTrace(ctx, len(scenario.Setup))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace: %w", err)
	}
	result.Trace = trace

	for _, msg := range EvaluateAssertions(ctx, eng, trace, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup runs the setup transactions. Setup establishes state the
// flow relies on, so anything but a commit is an error.
func (h *Harness) executeSetup(ctx context.Context, setup []Step) error {
	for i, step := range setup {
		rec, err := h.engine.Transact(ctx, step.Ops())
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if !rec.Committed() {
			return fmt.Errorf("setup[%d]: tx %d aborted: %s: %s", i, rec.TxID, rec.AbortReason, rec.AbortDetail)
		}
		h.logger.Info("setup step committed", "step", i, "tx_id", rec.TxID)
	}
	return nil
}

// executeFlow runs the flow transactions and checks each expect clause.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) error {
	for i, step := range flow {
		rec, err := h.engine.Transact(ctx, step.Ops())
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}

		h.logger.Info("flow step completed",
			"step", i,
			"tx_id", rec.TxID,
			"outcome", rec.Outcome,
			"abort_reason", rec.AbortReason,
		)

		if step.Expect == nil {
			continue
		}
		if rec.Outcome != step.Expect.Outcome {
			result.AddError(fmt.Sprintf("flow[%d]: tx %d: expected %s, got %s %s",
				i, rec.TxID, step.Expect.Outcome, rec.Outcome, detail(rec)))
			continue
		}
		if step.Expect.Reason != "" && rec.AbortReason != step.Expect.Reason {
			result.AddError(fmt.Sprintf("flow[%d]: tx %d: expected abort reason %s, got %s",
				i, rec.TxID, step.Expect.Reason, detail(rec)))
		}
	}
	return nil
}

func detail(rec doc.TxRecord) string {
	if rec.Committed() {
		return ""
	}
	return fmt.Sprintf("(%s: %s)", rec.AbortReason, rec.AbortDetail)
}

// buildTrace reads the whole log with operations. The first setupCount
// records belong to setup.
func (h *Harness) buildTrace(ctx context.Context, setupCount int) ([]TraceEvent, error) {
	cur := h.engine.OpenLog(ctx, 0, true)
	defer cur.Close()

	trace := []TraceEvent{}
	for cur.Next() {
		rec := cur.Record()
		ops, err := doc.EncodeOps(rec.Ops)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", rec.TxID, err)
		}
		effects, err := doc.EncodeEffects(rec.Effects)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", rec.TxID, err)
		}
		phase := PhaseFlow
		if len(trace) < setupCount {
			phase = PhaseSetup
		}
		trace = append(trace, TraceEvent{
			Phase:        phase,
			TxID:         rec.TxID,
			TxTime:       rec.TxTime,
			SubmissionID: rec.SubmissionID,
			Outcome:      rec.Outcome,
			AbortReason:  rec.AbortReason,
			Ops:          ops,
			Effects:      effects,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return trace, nil
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/chronicle/internal/checkpoint"
	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/docstore"
	"github.com/roach88/chronicle/internal/index"
	"github.com/roach88/chronicle/internal/metrics"
	"github.com/roach88/chronicle/internal/store"
)

// DefaultSyncTimeout bounds Transact's wait for its record.
const DefaultSyncTimeout = 10 * time.Second

// Receipt acknowledges an accepted submission. The record itself is
// produced asynchronously by the Run loop.
type Receipt struct {
	TxID         int64     `json:"tx_id"`
	TxTime       time.Time `json:"tx_time"`
	SubmissionID string    `json:"submission_id"`
}

// TxFunc is a transaction function implemented in Go. It reads the view as
// of the previous transaction at this transaction's time and returns the
// operations to apply in place of the invoke. Returning an error aborts
// the transaction with AbortFnFailed.
type TxFunc func(ctx context.Context, db *View, args doc.Array) ([]doc.Op, error)

// Engine is the single-writer transaction applier.
//
// Thread-safety model:
//   - Submit, Sync, AwaitTx, Transact, DB, OpenLog: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// INVARIANTS:
//   - tx ids are assigned and enqueued under submitMu, so queue order is
//     id order
//   - only the Run goroutine appends to the log and commits to the index
//   - processed only grows; every id at or below it has been handled
type Engine struct {
	store       *store.Store
	index       *index.Index
	docs        *docstore.Store
	clock       *Clock
	times       *txClock
	queue       *submissionQueue
	idGen       IDGenerator
	timeSource  TimeSource
	txFuncs     map[doc.EntityID]TxFunc
	metrics     *metrics.Metrics
	checkpoints *checkpoint.Store

	maxOps          int
	maxDepth        int
	cacheSize       int
	syncTimeout     time.Duration
	checkpointEvery int
	sinceCheckpoint int

	submitMu sync.Mutex

	mu        sync.Mutex
	processed int64
	stamps    []store.TxStamp // every logged record, ascending
	advanced  chan struct{}   // closed and replaced whenever processed moves
}

// Option configures an Engine.
type Option func(*Engine)

// WithTxFunc registers a Go transaction function under id. Registered
// functions take precedence over function documents with the same id.
func WithTxFunc(id doc.EntityID, fn TxFunc) Option {
	return func(e *Engine) {
		e.txFuncs[id] = fn
	}
}

// WithMaxOpsPerTx sets the per-transaction effect limit.
// Default: DefaultMaxOpsPerTx.
func WithMaxOpsPerTx(n int) Option {
	return func(e *Engine) {
		e.maxOps = n
	}
}

// WithMaxInvokeDepth sets the transaction function nesting limit.
// Default: DefaultMaxInvokeDepth.
func WithMaxInvokeDepth(n int) Option {
	return func(e *Engine) {
		e.maxDepth = n
	}
}

// WithMetrics records engine metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithCheckpointer loads the index from cp on startup and saves a new
// checkpoint every `every` committed transactions. every <= 0 disables
// automatic saves; Checkpoint still works.
func WithCheckpointer(cp *checkpoint.Store, every int) Option {
	return func(e *Engine) {
		e.checkpoints = cp
		e.checkpointEvery = every
	}
}

// WithTimeSource replaces the system clock. Tests use a stepping source
// for reproducible tx times.
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) {
		e.timeSource = ts
	}
}

// WithIDGenerator replaces the UUIDv7 submission id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.idGen = g
	}
}

// WithCacheSize sets the document cache size.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// WithSyncTimeout sets the wait used by Transact.
func WithSyncTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.syncTimeout = d
	}
}

// New opens an engine over s. The index is recovered from the checkpoint
// (if configured) and the log; the clocks resume after the last record.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:       s,
		queue:       newSubmissionQueue(),
		idGen:       UUIDv7Generator{},
		timeSource:  SystemTime{},
		txFuncs:     make(map[doc.EntityID]TxFunc),
		maxOps:      DefaultMaxOpsPerTx,
		maxDepth:    DefaultMaxInvokeDepth,
		cacheSize:   docstore.DefaultCacheSize,
		syncTimeout: DefaultSyncTimeout,
		advanced:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	head, headTime, err := s.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	stamps, err := s.ReadTxStamps(ctx)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	ix, err := Recover(ctx, s, e.checkpoints)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	docs, err := docstore.New(s, e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	e.index = ix
	e.docs = docs
	e.clock = NewClockAt(head)
	e.times = newTxClock(e.timeSource, headTime)
	e.processed = head
	e.stamps = stamps
	e.metrics.SetLastTxID(head)

	slog.Info("engine opened",
		"last_tx_id", head,
		"index_tx_id", ix.LastTxID(),
		"entities", len(ix.Entities()),
	)
	return e, nil
}

// Submit validates ops and enqueues them as one transaction.
//
// Validation failures return *ValidationError; no id is assigned and
// nothing is logged. Otherwise the receipt's transaction will produce
// exactly one log record. The ops slice is copied.
func (e *Engine) Submit(ctx context.Context, ops []doc.Op) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := validateSubmission(ops); err != nil {
		return Receipt{}, &ValidationError{Err: err}
	}
	ops = slices.Clone(ops)

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if e.queue.Closed() {
		return Receipt{}, errStopped()
	}
	r := Receipt{
		TxID:         e.clock.Next(),
		TxTime:       e.times.Next(),
		SubmissionID: e.idGen.Generate(),
	}
	e.queue.Enqueue(submission{receipt: r, ops: ops})

	slog.Debug("transaction submitted",
		"tx_id", r.TxID,
		"submission_id", r.SubmissionID,
		"ops", len(ops),
	)
	return r, nil
}

// validateSubmission checks ops for submission. Redacted ops only come
// out of the log and cannot go back in.
func validateSubmission(ops []doc.Op) error {
	if err := doc.ValidateOps(ops); err != nil {
		return err
	}
	for i, op := range ops {
		switch o := op.(type) {
		case doc.PutOp:
			if o.Redacted {
				return fmt.Errorf("op[%d] put: redacted operations cannot be submitted", i)
			}
		case doc.MatchOp:
			if o.Redacted {
				return fmt.Errorf("op[%d] match: redacted operations cannot be submitted", i)
			}
		}
	}
	return nil
}

// Run starts the single-writer loop.
// Blocks until the context is cancelled or Stop is called and the queue
// has drained.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: If a transaction cannot be logged (storage failure), the
// error is logged with the submission's context and the loop continues.
// The transaction has no record; AwaitTx reports it as NOT_RECORDED.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "last_tx_id", e.Processed())

	for {
		if sub, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, sub)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.Stop()
			e.dropPending()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so this fires
			// immediately once stopped; keep draining until empty.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop stops accepting submissions. Run returns after the queued ones are
// processed.
func (e *Engine) Stop() {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()
	e.queue.Close()
}

// dropPending releases waiters on submissions that will never run.
func (e *Engine) dropPending() {
	for {
		sub, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		slog.Warn("submission dropped: engine stopped",
			"tx_id", sub.receipt.TxID,
			"submission_id", sub.receipt.SubmissionID,
		)
		e.advance(sub.receipt.TxID, nil)
	}
}

// process applies one submission. Metrics and checkpoints are updated
// before waiters are woken, so a returned Transact observes both.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (e *Engine) process(ctx context.Context, sub submission) {
	start := time.Now()

	rec, logged, err := e.apply(ctx, sub)
	if err != nil {
		slog.Error("transaction processing failed",
			"error", err,
			"tx_id", sub.receipt.TxID,
			"submission_id", sub.receipt.SubmissionID,
			"ops", len(sub.ops),
			"logged", logged,
		)
	}
	if !logged {
		e.advance(sub.receipt.TxID, nil)
		return
	}

	e.metrics.ObserveTransaction(string(rec.Outcome), rec.TxID, time.Since(start))
	if err == nil && rec.Committed() {
		e.maybeCheckpoint()
	}
	e.advance(rec.TxID, &store.TxStamp{TxID: rec.TxID, TxTime: rec.TxTime})
}

// advance marks txID processed and wakes waiters.
func (e *Engine) advance(txID int64, stamp *store.TxStamp) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stamp != nil {
		e.stamps = append(e.stamps, *stamp)
	}
	if txID > e.processed {
		e.processed = txID
	}
	close(e.advanced)
	e.advanced = make(chan struct{})
}

// Processed returns the id of the last processed transaction.
func (e *Engine) Processed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed
}

// Sync blocks until every transaction submitted before the call has been
// processed. It returns the id it waited for. On timeout it returns
// *SyncTimeoutError.
func (e *Engine) Sync(ctx context.Context, timeout time.Duration) (int64, error) {
	target := e.clock.Current()
	if err := e.waitFor(ctx, target, timeout); err != nil {
		return 0, err
	}
	return target, nil
}

// AwaitTx waits for txID to be processed and returns its record with ops.
func (e *Engine) AwaitTx(ctx context.Context, txID int64, timeout time.Duration) (doc.TxRecord, error) {
	if txID <= 0 || txID > e.clock.Current() {
		return doc.TxRecord{}, fmt.Errorf("await tx %d: no such transaction", txID)
	}
	if err := e.waitFor(ctx, txID, timeout); err != nil {
		return doc.TxRecord{}, err
	}
	rec, err := e.store.ReadTransaction(ctx, txID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return doc.TxRecord{}, &Error{
			Code:    ErrCodeNotRecorded,
			Message: "transaction was accepted but has no log record",
			TxID:    txID,
		}
	}
	if err != nil {
		return doc.TxRecord{}, fmt.Errorf("await tx %d: %w", txID, err)
	}
	return rec, nil
}

// Transact submits ops and waits for the record.
func (e *Engine) Transact(ctx context.Context, ops []doc.Op) (doc.TxRecord, error) {
	r, err := e.Submit(ctx, ops)
	if err != nil {
		return doc.TxRecord{}, err
	}
	return e.AwaitTx(ctx, r.TxID, e.syncTimeout)
}

func (e *Engine) waitFor(ctx context.Context, txID int64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e.mu.Lock()
		processed := e.processed
		ch := e.advanced
		e.mu.Unlock()

		if processed >= txID {
			return nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			e.metrics.ObserveSyncTimeout()
			return &SyncTimeoutError{TxID: txID, Processed: e.Processed(), Timeout: timeout}
		}
	}
}

// OpenLog opens a cursor over log records with tx_id > afterTxID.
// Callers must Close it.
func (e *Engine) OpenLog(ctx context.Context, afterTxID int64, withOps bool) *store.LogCursor {
	return e.store.OpenLog(ctx, afterTxID, withOps)
}

// Checkpoint saves the current index to the configured checkpoint store.
func (e *Engine) Checkpoint() error {
	if e.checkpoints == nil {
		return fmt.Errorf("checkpoint: no checkpoint store configured")
	}
	snap := e.index.Snapshot()
	if err := e.checkpoints.Save(snap); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	slog.Info("checkpoint saved", "index_tx_id", snap.LastTxID, "entities", len(snap.Entities))
	return nil
}

func (e *Engine) maybeCheckpoint() {
	if e.checkpoints == nil || e.checkpointEvery <= 0 {
		return
	}
	e.sinceCheckpoint++
	if e.sinceCheckpoint < e.checkpointEvery {
		return
	}
	e.sinceCheckpoint = 0
	if err := e.Checkpoint(); err != nil {
		slog.Error("automatic checkpoint failed", "error", err)
	}
}

// Fingerprint hashes the committed index state.
func (e *Engine) Fingerprint() (string, error) {
	return e.index.Fingerprint()
}

// Entities returns every entity id the index knows, sorted. Entities whose
// timelines are entirely deleted are included.
func (e *Engine) Entities() []doc.EntityID {
	return e.index.Entities()
}

// QueueLen returns the number of submissions waiting for Run.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Clock returns the transaction id clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

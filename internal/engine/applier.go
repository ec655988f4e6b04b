package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/index"
)

// apply evaluates one submission, appends its record and publishes the
// index changes. logged reports whether the record reached the log; once
// it has, the transaction counts as processed even if a later step fails.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (e *Engine) apply(ctx context.Context, sub submission) (rec doc.TxRecord, logged bool, err error) {
	r := sub.receipt
	rec = doc.TxRecord{
		TxID:         r.TxID,
		TxTime:       r.TxTime,
		SubmissionID: r.SubmissionID,
		Ops:          sub.ops,
	}

	b := e.index.NewBatch(r.TxID)
	ap := &applier{
		ctx:    ctx,
		e:      e,
		batch:  b,
		txID:   r.TxID,
		txTime: r.TxTime,
		pre:    &View{e: e, txID: r.TxID - 1, txTime: r.TxTime, validTime: r.TxTime},
		quota:  NewQuotaEnforcer(r.TxID, e.maxOps),
		guard:  newInvokeGuard(e.maxDepth),
		docs:   make(map[string]doc.Document),
	}

	var abort *abortError
	switch err := ap.run(sub.ops); {
	case errors.As(err, &abort):
		rec.Outcome = doc.OutcomeAborted
		rec.AbortReason = abort.reason
		rec.AbortDetail = abort.detail
	case err != nil:
		return rec, false, fmt.Errorf("apply tx %d: %w", r.TxID, err)
	default:
		rec.Outcome = doc.OutcomeCommitted
		rec.Effects = b.Effects()
	}

	var hashes []string
	var docs []doc.Document
	if rec.Committed() {
		hashes, docs = ap.survivingDocs(rec.Effects)
	}
	if err := e.store.AppendTransaction(ctx, rec, docs); err != nil {
		return rec, false, err
	}

	if !rec.Committed() {
		slog.Info("transaction aborted",
			"tx_id", rec.TxID,
			"submission_id", rec.SubmissionID,
			"reason", rec.AbortReason,
			"detail", rec.AbortDetail,
		)
		return rec, true, nil
	}

	// Cached versions of evicted entities go before the index changes, so
	// no reader can resolve an evicted hash and still find it cached.
	for _, ef := range rec.Effects {
		if ef.Kind == doc.OpEvict {
			e.docs.EvictEntity(ef.ID)
		}
		e.metrics.ObserveOperation(string(ef.Kind))
	}
	if err := e.index.Commit(b); err != nil {
		return rec, true, err
	}
	for i, d := range docs {
		e.docs.Add(hashes[i], d)
	}

	slog.Info("transaction committed",
		"tx_id", rec.TxID,
		"submission_id", rec.SubmissionID,
		"effects", len(rec.Effects),
	)
	return rec, true, nil
}

// applier stages one transaction's operations.
type applier struct {
	ctx    context.Context
	e      *Engine
	batch  *index.Batch
	txID   int64
	txTime time.Time
	pre    *View // as of the previous transaction, at this tx's time
	quota  *QuotaEnforcer
	guard  *invokeGuard
	docs   map[string]doc.Document // put documents by hash
}

func (a *applier) run(ops []doc.Op) error {
	for _, op := range ops {
		if err := a.applyOp(op); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) applyOp(op doc.Op) error {
	switch o := op.(type) {
	case doc.MatchOp:
		return a.match(o)

	case doc.PutOp:
		from, to, err := a.interval(o.ValidFrom, o.ValidTo)
		if err != nil {
			return err
		}
		hash, err := doc.DocumentHash(o.Doc)
		if err != nil {
			return err
		}
		if err := a.count(); err != nil {
			return err
		}
		a.docs[hash] = o.Doc
		a.batch.Put(o.Doc.ID, hash, from, to)
		slog.Debug("put staged", "tx_id", a.txID, "id", o.Doc.ID, "hash", hash)
		return nil

	case doc.DeleteOp:
		from, to, err := a.interval(o.ValidFrom, o.ValidTo)
		if err != nil {
			return err
		}
		if err := a.count(); err != nil {
			return err
		}
		a.batch.Delete(o.ID, from, to)
		slog.Debug("delete staged", "tx_id", a.txID, "id", o.ID)
		return nil

	case doc.EvictOp:
		if err := a.count(); err != nil {
			return err
		}
		a.batch.Evict(o.ID)
		slog.Debug("evict staged", "tx_id", a.txID, "id", o.ID)
		return nil

	case doc.InvokeOp:
		return a.invoke(o)

	default:
		return fmt.Errorf("unknown operation %T", op)
	}
}

// match checks the entity's state as of the previous transaction.
func (a *applier) match(o doc.MatchOp) error {
	at := a.txTime
	if o.AtValidTime != nil {
		at = o.AtValidTime.UTC()
	}
	got, exists := a.pre.resolve(o.ID, at)

	if o.Doc == nil {
		if exists {
			return abortf(doc.AbortMatchFailed,
				"match on %q failed: expected no document at %s", o.ID, doc.FormatTime(at))
		}
		return nil
	}

	want, err := doc.DocumentHash(*o.Doc)
	if err != nil {
		return err
	}
	switch {
	case !exists:
		return abortf(doc.AbortMatchFailed,
			"match on %q failed: no document at %s", o.ID, doc.FormatTime(at))
	case got != want:
		return abortf(doc.AbortMatchFailed,
			"match on %q failed: document at %s differs", o.ID, doc.FormatTime(at))
	}
	return nil
}

// interval resolves a missing start to the tx time and checks ordering.
func (a *applier) interval(from, to *time.Time) (time.Time, *time.Time, error) {
	start := a.txTime
	if from != nil {
		start = from.UTC()
	}
	if to != nil && !start.Before(*to) {
		return time.Time{}, nil, abortf(doc.AbortInvalidInterval,
			"valid_from %s is not before valid_to %s", doc.FormatTime(start), doc.FormatTime(*to))
	}
	return start, to, nil
}

func (a *applier) count() error {
	if err := a.quota.Check(); err != nil {
		return abortf(doc.AbortQuotaExceeded, "%v", err)
	}
	return nil
}

// invoke expands a transaction function call in place.
func (a *applier) invoke(o doc.InvokeOp) error {
	args := o.Args
	if args == nil {
		args = doc.Array{}
	}

	leave, abort := a.guard.enter(o.Fn, args)
	if abort != nil {
		return abort
	}
	defer leave()

	ops, err := a.call(o.Fn, args)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	if err := validateSubmission(ops); err != nil {
		return abortf(doc.AbortInvalidFnResult, "function %q returned invalid operations: %v", o.Fn, err)
	}

	slog.Debug("function expanded",
		"tx_id", a.txID,
		"fn", o.Fn,
		"ops", len(ops),
		"depth", a.guard.Depth(),
	)
	return a.run(ops)
}

// call runs the function registered in Go under fn, or else the CUE
// source stored in the fn attribute of the function document visible
// before this transaction.
func (a *applier) call(fn doc.EntityID, args doc.Array) ([]doc.Op, error) {
	if goFn, ok := a.e.txFuncs[fn]; ok {
		ops, err := callGo(a.ctx, goFn, a.pre, args)
		if err != nil {
			return nil, abortf(doc.AbortFnFailed, "function %q: %v", fn, err)
		}
		return ops, nil
	}

	fnDoc, found, err := a.pre.Entity(a.ctx, fn)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, abortf(doc.AbortFnFailed, "function %q not found", fn)
	}
	src, ok := fnDoc.Attrs[FnAttr].(doc.String)
	if !ok {
		return nil, abortf(doc.AbortFnFailed, "function %q has no %s source", fn, FnAttr)
	}
	ops, abort := evalCUEFunction(fn, string(src), args)
	if abort != nil {
		return nil, abort
	}
	return ops, nil
}

// callGo runs a Go function, turning a panic into an error.
func callGo(ctx context.Context, fn TxFunc, db *View, args doc.Array) (ops []doc.Op, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, db, args)
}

// survivingDocs returns the put documents still referenced once the whole
// transaction has applied, in first-put order. A document put before an
// eviction of its entity in the same transaction does not survive.
func (a *applier) survivingDocs(effects []doc.Effect) ([]string, []doc.Document) {
	var hashes []string
	seen := make(map[string]bool)
	for _, ef := range effects {
		switch ef.Kind {
		case doc.OpPut:
			if !seen[ef.Hash] {
				seen[ef.Hash] = true
				hashes = append(hashes, ef.Hash)
			}
		case doc.OpEvict:
			kept := hashes[:0]
			for _, h := range hashes {
				if a.docs[h].ID == ef.ID {
					delete(seen, h)
					continue
				}
				kept = append(kept, h)
			}
			hashes = kept
		}
	}

	docs := make([]doc.Document, len(hashes))
	for i, h := range hashes {
		docs[i] = a.docs[h]
	}
	return hashes, docs
}

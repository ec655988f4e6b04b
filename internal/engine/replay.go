package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/chronicle/internal/checkpoint"
	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/index"
	"github.com/roach88/chronicle/internal/store"
)

// Replay
//
// The index is derived state: every committed record carries its effects,
// and applying those effects in tx order through the same Batch code the
// applier uses reproduces the index exactly. Replay never re-evaluates
// matches or transaction functions, so it does not depend on function
// documents or registered Go functions.
//
// Eviction purges documents from the store. A logged put whose document is
// gone belongs to an entity evicted later in the log; replay skips it but
// still consumes its ordinal, and the eviction itself removes every other
// entry for the entity. The result matches what the live index held.

// Rebuild reconstructs the index from the full log.
func Rebuild(ctx context.Context, s *store.Store) (*index.Index, error) {
	ix := index.New()
	if err := replayInto(ctx, s, ix); err != nil {
		return nil, err
	}
	return ix, nil
}

// Recover loads the index from cp, if given and usable, and replays the
// log records after it. A checkpoint in an older format, or one ahead of
// the log, is ignored and the index is rebuilt from scratch.
func Recover(ctx context.Context, s *store.Store, cp *checkpoint.Store) (*index.Index, error) {
	if cp == nil {
		return Rebuild(ctx, s)
	}

	snap, found, err := cp.Load()
	switch {
	case errors.Is(err, checkpoint.ErrFormatMismatch):
		slog.Warn("checkpoint ignored: format mismatch", "path", cp.Path())
		return Rebuild(ctx, s)
	case err != nil:
		return nil, fmt.Errorf("recover: %w", err)
	case !found:
		return Rebuild(ctx, s)
	}

	head, _, err := s.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	if snap.LastTxID > head {
		slog.Warn("checkpoint ignored: ahead of log",
			"path", cp.Path(),
			"checkpoint_tx_id", snap.LastTxID,
			"log_tx_id", head,
		)
		return Rebuild(ctx, s)
	}

	ix := index.FromSnapshot(snap)
	if err := replayInto(ctx, s, ix); err != nil {
		return nil, err
	}
	slog.Info("index recovered",
		"checkpoint_tx_id", snap.LastTxID,
		"index_tx_id", ix.LastTxID(),
	)
	return ix, nil
}

// replayInto applies the committed records after ix.LastTxID().
func replayInto(ctx context.Context, s *store.Store, ix *index.Index) error {
	cur := s.OpenLog(ctx, ix.LastTxID(), false)
	defer cur.Close()

	present := make(map[string]bool)
	hasDoc := func(hash string) (bool, error) {
		if ok, seen := present[hash]; seen {
			return ok, nil
		}
		ok, err := s.HasDocument(ctx, hash)
		if err != nil {
			return false, err
		}
		present[hash] = ok
		return ok, nil
	}

	replayed := 0
	for cur.Next() {
		rec := cur.Record()
		if !rec.Committed() {
			continue
		}

		b := ix.NewBatch(rec.TxID)
		for _, ef := range rec.Effects {
			if ef.Kind == doc.OpPut {
				ok, err := hasDoc(ef.Hash)
				if err != nil {
					return fmt.Errorf("replay tx %d: %w", rec.TxID, err)
				}
				if !ok {
					b.Skip()
					continue
				}
			}
			b.Apply(ef)
		}
		if err := ix.Commit(b); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		replayed++
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	slog.Debug("log replayed", "records", replayed, "index_tx_id", ix.LastTxID())
	return nil
}

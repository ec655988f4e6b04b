package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/chronicle/internal/doc"
)

// AppendTransaction appends one record to the log.
//
// In a single SQL transaction it:
//  1. inserts the record (tx_id must be new)
//  2. deletes the document rows of every entity the record evicts and
//     notes the eviction
//  3. stores the documents referenced by the record's ops, except those of
//     entities the record evicts, and then docs
//
// An aborted record skips op documents an earlier eviction purged, so a
// failed resubmission cannot un-redact older records.
//
// docs carries the documents the record's put effects need, including
// those produced by transaction functions and puts made after an eviction
// in the same transaction. Documents are content-addressed, so writing one
// twice is a no-op.
func (s *Store) AppendTransaction(ctx context.Context, rec doc.TxRecord, docs []doc.Document) error {
	opsJSON, opDocs, err := marshalOps(rec.Ops)
	if err != nil {
		return fmt.Errorf("append tx %d: %w", rec.TxID, err)
	}
	effectsJSON, err := marshalEffects(rec.Effects)
	if err != nil {
		return fmt.Errorf("append tx %d: %w", rec.TxID, err)
	}

	evicted := evictedEntities(rec.Effects)
	keep := make([]doc.Document, 0, len(opDocs)+len(docs))
	for _, d := range opDocs {
		if !evicted[d.ID] {
			keep = append(keep, d)
		}
	}
	keep = append(keep, docs...)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append tx %d: begin: %w", rec.TxID, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(tx_id, tx_time, submission_id, outcome, abort_reason, abort_detail, ops, effects, format)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.TxID,
		rec.TxTime.UTC().UnixNano(),
		rec.SubmissionID,
		string(rec.Outcome),
		string(rec.AbortReason),
		rec.AbortDetail,
		opsJSON,
		effectsJSON,
		doc.LogFormatVersion,
	)
	if err != nil {
		return fmt.Errorf("append tx %d: %w", rec.TxID, err)
	}

	for _, e := range rec.Effects {
		if e.Kind != doc.OpEvict {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO redactions (hash, entity_id, tx_id)
			SELECT hash, entity_id, ? FROM documents WHERE entity_id = ?
		`, rec.TxID, string(e.ID)); err != nil {
			return fmt.Errorf("append tx %d: note redactions of %q: %w", rec.TxID, e.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE entity_id = ?`, string(e.ID)); err != nil {
			return fmt.Errorf("append tx %d: purge %q: %w", rec.TxID, e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO evictions (entity_id, tx_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, string(e.ID), rec.TxID); err != nil {
			return fmt.Errorf("append tx %d: record eviction of %q: %w", rec.TxID, e.ID, err)
		}
	}

	for _, d := range keep {
		hash, err := doc.DocumentHash(d)
		if err != nil {
			return fmt.Errorf("append tx %d: %w", rec.TxID, err)
		}
		if !rec.Committed() {
			redacted, err := isRedacted(ctx, tx, hash)
			if err != nil {
				return fmt.Errorf("append tx %d: %w", rec.TxID, err)
			}
			if redacted {
				continue
			}
		}
		body, err := d.Canonical()
		if err != nil {
			return fmt.Errorf("append tx %d: %w", rec.TxID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (hash, entity_id, body) VALUES (?, ?, ?)
			ON CONFLICT(hash) DO NOTHING
		`, hash, string(d.ID), string(body)); err != nil {
			return fmt.Errorf("append tx %d: write document %q: %w", rec.TxID, d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append tx %d: commit: %w", rec.TxID, err)
	}
	return nil
}

func isRedacted(ctx context.Context, tx *sql.Tx, hash string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM redactions WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check redaction of %s: %w", hash, err)
	}
	return n > 0, nil
}

func evictedEntities(effects []doc.Effect) map[doc.EntityID]bool {
	out := make(map[doc.EntityID]bool)
	for _, e := range effects {
		if e.Kind == doc.OpEvict {
			out[e.ID] = true
		}
	}
	return out
}

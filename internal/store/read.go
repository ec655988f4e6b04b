package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

// ReadDocument retrieves a document body by content hash.
// found is false when no such document is stored, for example after its
// entity was evicted.
func (s *Store) ReadDocument(ctx context.Context, hash string) (d doc.Document, found bool, err error) {
	var body string
	err = s.db.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE hash = ?
	`, hash).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return doc.Document{}, false, nil
	}
	if err != nil {
		return doc.Document{}, false, fmt.Errorf("read document: %w", err)
	}

	d, err = doc.ParseDocument([]byte(body))
	if err != nil {
		return doc.Document{}, false, fmt.Errorf("read document %s: %w", hash, err)
	}
	return d, true, nil
}

// HasDocument reports whether a document body is stored.
func (s *Store) HasDocument(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE hash = ?
	`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has document: %w", err)
	}
	return n > 0, nil
}

// ReadTransaction retrieves a single log record.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadTransaction(ctx context.Context, txID int64, withOps bool) (doc.TxRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tx_id, tx_time, submission_id, outcome, abort_reason, abort_detail, ops, effects
		FROM transactions
		WHERE tx_id = ?
	`, txID)

	raw, err := scanRecord(row)
	if err != nil {
		return doc.TxRecord{}, err
	}
	return s.hydrate(ctx, raw, withOps)
}

// Head returns the id and time of the last appended record, or zeros for an
// empty log. Used on startup to resume the transaction clock.
func (s *Store) Head(ctx context.Context) (lastID int64, lastTime time.Time, err error) {
	var nanos int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(tx_id), 0), COALESCE(MAX(tx_time), 0) FROM transactions
	`).Scan(&lastID, &nanos)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read head: %w", err)
	}
	if lastID == 0 {
		return 0, time.Time{}, nil
	}
	return lastID, txTime(nanos), nil
}

// TxStamp pairs a transaction id with its transaction time.
type TxStamp struct {
	TxID   int64
	TxTime time.Time
}

// ReadTxStamps returns the (id, time) of every record, ascending.
// Returns an empty slice (not nil) for an empty log.
func (s *Store) ReadTxStamps(ctx context.Context) ([]TxStamp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_id, tx_time FROM transactions ORDER BY tx_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tx stamps: %w", err)
	}
	defer rows.Close()

	stamps := []TxStamp{}
	for rows.Next() {
		var st TxStamp
		var nanos int64
		if err := rows.Scan(&st.TxID, &nanos); err != nil {
			return nil, fmt.Errorf("scan tx stamp: %w", err)
		}
		st.TxTime = txTime(nanos)
		stamps = append(stamps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx stamps: %w", err)
	}
	return stamps, nil
}

// Eviction records which transaction evicted an entity.
type Eviction struct {
	EntityID doc.EntityID `json:"entity_id"`
	TxID     int64        `json:"tx_id"`
}

// ListEvictions returns every eviction ordered by tx_id, then entity id.
func (s *Store) ListEvictions(ctx context.Context) ([]Eviction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, tx_id FROM evictions
		ORDER BY tx_id ASC, entity_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query evictions: %w", err)
	}
	defer rows.Close()

	out := []Eviction{}
	for rows.Next() {
		var ev Eviction
		var id string
		if err := rows.Scan(&id, &ev.TxID); err != nil {
			return nil, fmt.Errorf("scan eviction: %w", err)
		}
		ev.EntityID = doc.EntityID(id)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evictions: %w", err)
	}
	return out, nil
}

// CountTransactions returns the number of records with each outcome.
func (s *Store) CountTransactions(ctx context.Context) (map[doc.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM transactions GROUP BY outcome ORDER BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	defer rows.Close()

	counts := map[doc.Outcome]int{
		doc.OutcomeCommitted: 0,
		doc.OutcomeAborted:   0,
	}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[doc.Outcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// rawRecord is a transactions row before its JSON columns are decoded.
type rawRecord struct {
	rec     doc.TxRecord
	ops     string
	effects string
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (rawRecord, error) {
	var raw rawRecord
	var nanos int64
	var outcome, reason string
	err := row.Scan(
		&raw.rec.TxID,
		&nanos,
		&raw.rec.SubmissionID,
		&outcome,
		&reason,
		&raw.rec.AbortDetail,
		&raw.ops,
		&raw.effects,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rawRecord{}, err
		}
		return rawRecord{}, fmt.Errorf("scan transaction: %w", err)
	}
	raw.rec.TxTime = txTime(nanos)
	raw.rec.Outcome = doc.Outcome(outcome)
	raw.rec.AbortReason = doc.AbortReason(reason)
	return raw, nil
}

// hydrate decodes the JSON columns. Effects are always decoded; ops only
// when asked, with their documents read back from the store.
func (s *Store) hydrate(ctx context.Context, raw rawRecord, withOps bool) (doc.TxRecord, error) {
	rec := raw.rec

	effects, err := unmarshalEffects(raw.effects)
	if err != nil {
		return doc.TxRecord{}, fmt.Errorf("tx %d: %w", rec.TxID, err)
	}
	rec.Effects = effects

	if !withOps {
		return rec, nil
	}

	arr, err := unmarshalArray(raw.ops)
	if err != nil {
		return doc.TxRecord{}, fmt.Errorf("tx %d: unmarshal ops: %w", rec.TxID, err)
	}
	ops, err := doc.DecodeLogOps(arr, func(hash string) (doc.Document, bool, error) {
		return s.ReadDocument(ctx, hash)
	})
	if err != nil {
		return doc.TxRecord{}, fmt.Errorf("tx %d: %w", rec.TxID, err)
	}
	rec.Ops = ops
	return rec, nil
}

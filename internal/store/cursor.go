package store

import (
	"context"
	"fmt"

	"github.com/roach88/chronicle/internal/doc"
)

// DefaultPageSize is the number of records a LogCursor loads per query.
const DefaultPageSize = 256

// LogCursor iterates the log forward in tx_id order.
//
// The cursor loads one page at a time and releases the connection between
// pages, so a slow consumer never blocks the single SQLite connection that
// the writer also needs. Records appended while the cursor is between
// pages are picked up by the next page.
//
// Usage:
//
//	cur := s.OpenLog(ctx, 0, true)
//	defer cur.Close()
//	for cur.Next() {
//		rec := cur.Record()
//	}
//	if err := cur.Err(); err != nil { ... }
type LogCursor struct {
	s        *Store
	ctx      context.Context
	after    int64
	withOps  bool
	pageSize int

	page   []doc.TxRecord
	pos    int
	cur    doc.TxRecord
	err    error
	done   bool
	closed bool
}

// OpenLog opens a cursor over records with tx_id strictly greater than
// afterTxID. With withOps the submitted operations are hydrated with their
// documents; documents of evicted entities come back redacted.
func (s *Store) OpenLog(ctx context.Context, afterTxID int64, withOps bool) *LogCursor {
	return s.OpenLogPaged(ctx, afterTxID, withOps, DefaultPageSize)
}

// OpenLogPaged is OpenLog with an explicit page size.
func (s *Store) OpenLogPaged(ctx context.Context, afterTxID int64, withOps bool, pageSize int) *LogCursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &LogCursor{
		s:        s,
		ctx:      ctx,
		after:    afterTxID,
		withOps:  withOps,
		pageSize: pageSize,
	}
}

// Next advances to the next record. It returns false at the end of the
// log, after an error, or once the cursor is closed.
func (c *LogCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.pos >= len(c.page) {
		if c.done {
			return false
		}
		if err := c.load(); err != nil {
			c.err = err
			return false
		}
		if len(c.page) == 0 {
			return false
		}
	}
	c.cur = c.page[c.pos]
	c.page[c.pos] = doc.TxRecord{}
	c.pos++
	return true
}

// Record returns the current record.
func (c *LogCursor) Record() doc.TxRecord {
	return c.cur
}

// Err returns the error that stopped iteration, if any.
func (c *LogCursor) Err() error {
	return c.err
}

// Close releases the cursor. It is safe to call more than once.
func (c *LogCursor) Close() error {
	c.closed = true
	c.page = nil
	return nil
}

// load fetches the next page. The rows are fully drained and closed before
// hydration so no query is open while documents are read.
func (c *LogCursor) load() error {
	if err := c.ctx.Err(); err != nil {
		return err
	}

	rows, err := c.s.db.QueryContext(c.ctx, `
		SELECT tx_id, tx_time, submission_id, outcome, abort_reason, abort_detail, ops, effects
		FROM transactions
		WHERE tx_id > ?
		ORDER BY tx_id ASC
		LIMIT ?
	`, c.after, c.pageSize)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	var raws []rawRecord
	for rows.Next() {
		raw, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return err
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate log: %w", err)
	}
	rows.Close()

	c.page = c.page[:0]
	c.pos = 0
	for _, raw := range raws {
		rec, err := c.s.hydrate(c.ctx, raw, c.withOps)
		if err != nil {
			return err
		}
		c.page = append(c.page, rec)
	}
	if len(raws) < c.pageSize {
		c.done = true
	}
	if len(raws) > 0 {
		c.after = raws[len(raws)-1].rec.TxID
	}
	return nil
}

// ReadLog collects every record after afterTxID. Convenient for small logs
// and tests; use OpenLog to stream.
func (s *Store) ReadLog(ctx context.Context, afterTxID int64, withOps bool) ([]doc.TxRecord, error) {
	cur := s.OpenLog(ctx, afterTxID, withOps)
	defer cur.Close()

	out := []doc.TxRecord{}
	for cur.Next() {
		out = append(out, cur.Record())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/store"
)

// View is an immutable point-in-time reader. It pins a transaction id and
// a valid time; the same view answers the same way every time, whatever
// the writer does meanwhile.
type View struct {
	e         *Engine
	txID      int64
	txTime    time.Time
	validTime time.Time
}

// DBOption selects the point a View reads at.
type DBOption func(*dbOptions)

type dbOptions struct {
	txID      *int64
	txTime    *time.Time
	validTime *time.Time
}

// AsOfTx pins the view to transaction txID. It takes precedence over
// AsOfTxTime.
func AsOfTx(txID int64) DBOption {
	return func(o *dbOptions) {
		o.txID = &txID
	}
}

// AsOfTxTime pins the view to the last transaction with tx time <= t.
func AsOfTxTime(t time.Time) DBOption {
	return func(o *dbOptions) {
		u := t.UTC()
		o.txTime = &u
	}
}

// AtValidTime reads entity state as of valid time t.
func AtValidTime(t time.Time) DBOption {
	return func(o *dbOptions) {
		u := t.UTC()
		o.validTime = &u
	}
}

// DB returns a view. Without a transaction bound the view pins the last
// processed transaction; without a valid time it reads at the later of now
// and the pinned transaction's time.
func (e *Engine) DB(opts ...DBOption) (*View, error) {
	var o dbOptions
	for _, opt := range opts {
		opt(&o)
	}

	e.mu.Lock()
	processed := e.processed
	stamps := e.stamps
	e.mu.Unlock()

	txID := processed
	switch {
	case o.txID != nil:
		if *o.txID < 0 {
			return nil, fmt.Errorf("db: invalid tx id %d", *o.txID)
		}
		if *o.txID > processed {
			return nil, fmt.Errorf("db: tx %d has not been processed (last processed is %d)", *o.txID, processed)
		}
		txID = *o.txID
	case o.txTime != nil:
		txID = txAtTime(stamps, *o.txTime)
	}

	txTime := timeOfTx(stamps, txID)
	validTime := e.timeSource.Now().UTC()
	if txTime.After(validTime) {
		validTime = txTime
	}
	if o.validTime != nil {
		validTime = *o.validTime
	}

	return &View{e: e, txID: txID, txTime: txTime, validTime: validTime}, nil
}

// txAtTime returns the id of the last record with tx time <= t, or 0.
func txAtTime(stamps []store.TxStamp, t time.Time) int64 {
	i := sort.Search(len(stamps), func(i int) bool {
		return stamps[i].TxTime.After(t)
	})
	if i == 0 {
		return 0
	}
	return stamps[i-1].TxID
}

// timeOfTx returns the tx time of the last record with id <= txID.
func timeOfTx(stamps []store.TxStamp, txID int64) time.Time {
	i := sort.Search(len(stamps), func(i int) bool {
		return stamps[i].TxID > txID
	})
	if i == 0 {
		return time.Time{}
	}
	return stamps[i-1].TxTime
}

// TxID returns the pinned transaction id.
func (v *View) TxID() int64 { return v.txID }

// TxTime returns the pinned transaction's time.
func (v *View) TxTime() time.Time { return v.txTime }

// ValidTime returns the valid time the view reads at.
func (v *View) ValidTime() time.Time { return v.validTime }

// resolve returns the content hash of id at validTime.
func (v *View) resolve(id doc.EntityID, validTime time.Time) (string, bool) {
	return v.e.index.Resolve(id, validTime, v.txID)
}

// Entity returns the document of id visible in this view. Absence, for an
// entity never written, deleted or evicted, is found == false, not an error.
func (v *View) Entity(ctx context.Context, id doc.EntityID) (d doc.Document, found bool, err error) {
	return v.EntityAt(ctx, id, v.validTime)
}

// EntityAt is Entity at another valid time, same transaction bound.
func (v *View) EntityAt(ctx context.Context, id doc.EntityID, validTime time.Time) (doc.Document, bool, error) {
	hash, ok := v.resolve(id, validTime.UTC())
	if !ok {
		return doc.Document{}, false, nil
	}
	d, found, err := v.e.docs.Get(ctx, hash)
	if err != nil {
		return doc.Document{}, false, fmt.Errorf("entity %q: %w", id, err)
	}
	return d, found, nil
}

// Version is one stretch of an entity's valid-time timeline.
type Version struct {
	Doc       doc.Document `json:"doc"`
	Hash      string       `json:"hash"`
	ValidFrom time.Time    `json:"valid_from"`
	ValidTo   *time.Time   `json:"valid_to,omitempty"` // nil: open-ended
	TxID      int64        `json:"tx_id"`              // transaction that wrote ValidFrom
}

// History returns the entity's versions along valid time as seen by this
// view, ascending. Consecutive stretches with the same content merge into
// one version; deleted stretches end a version and are not listed.
func (v *View) History(ctx context.Context, id doc.EntityID) ([]Version, error) {
	entries := v.e.index.History(id, v.txID)

	out := []Version{}
	var cur *Version
	for _, en := range entries {
		if cur != nil && en.Hash == cur.Hash {
			continue
		}
		if cur != nil {
			end := en.ValidTime
			cur.ValidTo = &end
			out = append(out, *cur)
			cur = nil
		}
		if en.Tombstone() {
			continue
		}
		d, found, err := v.e.docs.Get(ctx, en.Hash)
		if err != nil {
			return nil, fmt.Errorf("history %q: %w", id, err)
		}
		if !found {
			continue
		}
		cur = &Version{Doc: d, Hash: en.Hash, ValidFrom: en.ValidTime, TxID: en.TxID}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out, nil
}

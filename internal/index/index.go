// Package index implements the bitemporal valid-time index.
//
// For every entity the index keeps an ordered list of entries. An entry says
// "from ValidTime onward, as written by transaction TxID, the entity's
// content is Hash" (or nothing, for a tombstone). Entries are never
// rewritten; later transactions shadow earlier ones by adding entries with a
// higher TxID. Eviction is the only operation that removes entries.
//
// The index is derived state. Everything in it can be rebuilt by replaying
// the effects recorded in the transaction log.
package index

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

// Entry is one point on an entity's valid-time axis.
type Entry struct {
	ValidTime time.Time
	TxID      int64
	Ord       int    // effect ordinal within the transaction
	Hash      string // document hash; empty for a tombstone
}

// Tombstone reports whether the entry marks absence.
func (e Entry) Tombstone() bool {
	return e.Hash == ""
}

// compareEntries orders entries by (ValidTime, TxID, Ord).
func compareEntries(a, b Entry) int {
	if c := a.ValidTime.Compare(b.ValidTime); c != 0 {
		return c
	}
	switch {
	case a.TxID < b.TxID:
		return -1
	case a.TxID > b.TxID:
		return 1
	}
	return a.Ord - b.Ord
}

// Index is the in-memory valid-time index.
//
// Thread-safety: readers share a read lock for the duration of a single
// resolve; Commit takes the write lock. Batches are built without holding
// any lock beyond the reads they make.
type Index struct {
	mu       sync.RWMutex
	entities map[doc.EntityID][]Entry
	lastTxID int64
}

// New creates an empty index.
func New() *Index {
	return &Index{entities: make(map[doc.EntityID][]Entry)}
}

// LastTxID returns the id of the last committed batch.
func (ix *Index) LastTxID() int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.lastTxID
}

// Resolve returns the document hash visible for id at validTime, counting
// only entries written at or before txID. ok is false when the entity is
// absent: never written, deleted, or evicted.
func (ix *Index) Resolve(id doc.EntityID, validTime time.Time, txID int64) (hash string, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, found := resolveEntry(ix.entities[id], validTime, txID)
	if !found || e.Tombstone() {
		return "", false
	}
	return e.Hash, true
}

// resolveEntry finds the governing entry: the greatest (ValidTime, TxID,
// Ord) among entries with ValidTime <= validTime and TxID <= txID.
// entries must be sorted.
func resolveEntry(entries []Entry, validTime time.Time, txID int64) (Entry, bool) {
	// First entry strictly after validTime.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].ValidTime.After(validTime)
	})
	for i--; i >= 0; i-- {
		if entries[i].TxID <= txID {
			return entries[i], true
		}
	}
	return Entry{}, false
}

// History returns the entity's timeline as of txID: one governing entry per
// distinct valid time, ascending. Tombstones are included so callers can
// see where the entity stops existing.
func (ix *Index) History(id doc.EntityID, txID int64) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := []Entry{}
	for _, e := range ix.entities[id] {
		if e.TxID > txID {
			continue
		}
		if n := len(out); n > 0 && out[n-1].ValidTime.Equal(e.ValidTime) {
			out[n-1] = e // later entry at the same instant governs
			continue
		}
		out = append(out, e)
	}
	return out
}

// Entities returns the ids with at least one entry, sorted.
func (ix *Index) Entities() []doc.EntityID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids := make([]doc.EntityID, 0, len(ix.entities))
	for id := range ix.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Commit publishes a batch. Batches must be committed in ascending
// transaction order.
func (ix *Index) Commit(b *Batch) error {
	if b.ix != ix {
		return fmt.Errorf("commit tx %d: batch belongs to another index", b.txID)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if b.txID <= ix.lastTxID {
		return fmt.Errorf("commit tx %d: index already at tx %d", b.txID, ix.lastTxID)
	}

	for id := range b.evicted {
		delete(ix.entities, id)
	}
	for id, pending := range b.pending {
		merged := append(slices.Clone(ix.entities[id]), pending...)
		slices.SortFunc(merged, compareEntries)
		ix.entities[id] = merged
	}
	ix.lastTxID = b.txID
	return nil
}

// entriesFor returns a copy-free view of the committed entries for id.
// Callers must hold at least the read lock.
func (ix *Index) entriesFor(id doc.EntityID) []Entry {
	return ix.entities[id]
}

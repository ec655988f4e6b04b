package index

import (
	"slices"
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

// Batch stages the effects of one transaction. Reads through a batch see
// the committed index plus everything staged so far, so later operations in
// a transaction observe earlier ones.
//
// A batch is used by a single goroutine and published with Index.Commit.
// Discarding a batch leaves the index untouched.
type Batch struct {
	ix      *Index
	txID    int64
	ord     int
	pending map[doc.EntityID][]Entry
	evicted map[doc.EntityID]bool
	effects []doc.Effect
}

// NewBatch starts a batch for transaction txID.
func (ix *Index) NewBatch(txID int64) *Batch {
	return &Batch{
		ix:      ix,
		txID:    txID,
		pending: make(map[doc.EntityID][]Entry),
		evicted: make(map[doc.EntityID]bool),
	}
}

// TxID returns the transaction the batch belongs to.
func (b *Batch) TxID() int64 {
	return b.txID
}

// Effects returns the staged effects in order.
func (b *Batch) Effects() []doc.Effect {
	return slices.Clone(b.effects)
}

// Put stages hash for id over [validFrom, validTo). A nil validTo means
// the content holds until the next existing change point.
func (b *Batch) Put(id doc.EntityID, hash string, validFrom time.Time, validTo *time.Time) {
	validFrom, validTo = normalize(validFrom, validTo)
	b.effects = append(b.effects, doc.Effect{
		Kind: doc.OpPut, ID: id, Hash: hash, ValidFrom: validFrom, ValidTo: validTo,
	})
	b.write(id, hash, validFrom, validTo)
}

// Delete stages a tombstone for id over [validFrom, validTo).
func (b *Batch) Delete(id doc.EntityID, validFrom time.Time, validTo *time.Time) {
	validFrom, validTo = normalize(validFrom, validTo)
	b.effects = append(b.effects, doc.Effect{
		Kind: doc.OpDelete, ID: id, ValidFrom: validFrom, ValidTo: validTo,
	})
	b.write(id, "", validFrom, validTo)
}

// Evict stages removal of every entry for id, committed or staged.
// Evicting an unknown id is a no-op that is still recorded as an effect.
func (b *Batch) Evict(id doc.EntityID) {
	b.effects = append(b.effects, doc.Effect{Kind: doc.OpEvict, ID: id})
	b.ord++
	b.evicted[id] = true
	delete(b.pending, id)
}

// Skip consumes an effect ordinal without staging anything. Replay uses it
// for puts whose document was evicted, so the remaining entries keep the
// ordinals they had when the transaction first ran.
func (b *Batch) Skip() {
	b.ord++
}

// Apply stages a logged effect.
func (b *Batch) Apply(e doc.Effect) {
	switch e.Kind {
	case doc.OpPut:
		b.Put(e.ID, e.Hash, e.ValidFrom, e.ValidTo)
	case doc.OpDelete:
		b.Delete(e.ID, e.ValidFrom, e.ValidTo)
	case doc.OpEvict:
		b.Evict(e.ID)
	}
}

// Resolve is Index.Resolve over the committed index plus staged entries.
func (b *Batch) Resolve(id doc.EntityID, validTime time.Time) (hash string, ok bool) {
	e, found := b.resolveEntry(id, validTime)
	if !found || e.Tombstone() {
		return "", false
	}
	return e.Hash, true
}

func (b *Batch) write(id doc.EntityID, hash string, from time.Time, to *time.Time) {
	ord := b.ord
	b.ord++

	if to == nil {
		b.add(id, Entry{ValidTime: from, TxID: b.txID, Ord: ord, Hash: hash})
		return
	}

	// What was visible at the end must reappear there, and every change
	// point inside the interval must be shadowed by the new content.
	restore, _ := b.resolveEntry(id, *to)
	points := b.changePoints(id, from, *to)

	b.add(id, Entry{ValidTime: from, TxID: b.txID, Ord: ord, Hash: hash})
	for _, p := range points {
		b.add(id, Entry{ValidTime: p, TxID: b.txID, Ord: ord, Hash: hash})
	}
	b.add(id, Entry{ValidTime: *to, TxID: b.txID, Ord: ord, Hash: restore.Hash})
}

func (b *Batch) add(id doc.EntityID, e Entry) {
	entries := b.pending[id]
	i, _ := slices.BinarySearchFunc(entries, e, compareEntries)
	b.pending[id] = slices.Insert(entries, i, e)
}

func (b *Batch) resolveEntry(id doc.EntityID, validTime time.Time) (Entry, bool) {
	staged, stagedOK := resolveEntry(b.pending[id], validTime, b.txID)
	if b.evicted[id] {
		return staged, stagedOK
	}

	b.ix.mu.RLock()
	committed, committedOK := resolveEntry(b.ix.entriesFor(id), validTime, b.txID)
	b.ix.mu.RUnlock()

	switch {
	case !stagedOK:
		return committed, committedOK
	case !committedOK:
		return staged, true
	case compareEntries(staged, committed) > 0:
		return staged, true
	default:
		return committed, true
	}
}

// changePoints returns the distinct valid times strictly inside (from, to)
// at which the entity's visible content may change, ascending.
func (b *Batch) changePoints(id doc.EntityID, from, to time.Time) []time.Time {
	var points []time.Time
	collect := func(entries []Entry) {
		for _, e := range entries {
			if e.TxID <= b.txID && e.ValidTime.After(from) && e.ValidTime.Before(to) {
				points = append(points, e.ValidTime)
			}
		}
	}

	collect(b.pending[id])
	if !b.evicted[id] {
		b.ix.mu.RLock()
		collect(b.ix.entriesFor(id))
		b.ix.mu.RUnlock()
	}

	slices.SortFunc(points, func(x, y time.Time) int { return x.Compare(y) })
	return slices.CompactFunc(points, func(x, y time.Time) bool { return x.Equal(y) })
}

func normalize(from time.Time, to *time.Time) (time.Time, *time.Time) {
	if to == nil {
		return from.UTC(), nil
	}
	end := to.UTC()
	return from.UTC(), &end
}

package index

import (
	"fmt"
	"slices"

	"github.com/roach88/chronicle/internal/doc"
)

// Snapshot is a point-in-time copy of the index, used for checkpoints.
type Snapshot struct {
	LastTxID int64
	Entities map[doc.EntityID][]Entry
}

// Snapshot copies the committed index.
func (ix *Index) Snapshot() Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	s := Snapshot{
		LastTxID: ix.lastTxID,
		Entities: make(map[doc.EntityID][]Entry, len(ix.entities)),
	}
	for id, entries := range ix.entities {
		s.Entities[id] = slices.Clone(entries)
	}
	return s
}

// FromSnapshot rebuilds an index from a snapshot. Entries are re-sorted, so
// a snapshot decoded from any source yields a well-formed index.
func FromSnapshot(s Snapshot) *Index {
	ix := New()
	ix.lastTxID = s.LastTxID
	for id, entries := range s.Entities {
		if len(entries) == 0 {
			continue
		}
		sorted := slices.Clone(entries)
		for i := range sorted {
			sorted[i].ValidTime = sorted[i].ValidTime.UTC()
		}
		slices.SortFunc(sorted, compareEntries)
		ix.entities[id] = sorted
	}
	return ix
}

// Fingerprint hashes the full committed state. Two indexes with the same
// fingerprint answer every query identically; replay uses it to prove the
// log reconstructs the index exactly.
func (ix *Index) Fingerprint() (string, error) {
	s := ix.Snapshot()

	entities := make(doc.Object, len(s.Entities))
	for id, entries := range s.Entities {
		arr := make(doc.Array, len(entries))
		for i, e := range entries {
			arr[i] = doc.Object{
				"valid_time": doc.NewTime(e.ValidTime),
				"tx_id":      doc.Int(e.TxID),
				"ord":        doc.Int(int64(e.Ord)),
				"hash":       doc.String(e.Hash),
			}
		}
		entities[string(id)] = arr
	}

	data, err := doc.MarshalCanonical(doc.Object{
		"last_tx_id": doc.Int(s.LastTxID),
		"entities":   entities,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return doc.HashBytes(doc.DomainIndex, data), nil
}

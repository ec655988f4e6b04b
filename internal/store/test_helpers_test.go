package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pabloDoc(version int64) doc.Document {
	return doc.NewDocument("pablo",
		doc.O("person/name", doc.String("Pablo")),
		doc.O("person/version", doc.Int(version)),
	)
}

// committedPut builds a committed record putting d from the tx time.
func committedPut(txID int64, d doc.Document) doc.TxRecord {
	at := epoch.Add(time.Duration(txID) * time.Second)
	return doc.TxRecord{
		TxID:         txID,
		TxTime:       at,
		SubmissionID: fmt.Sprintf("sub-%d", txID),
		Outcome:      doc.OutcomeCommitted,
		Ops:          []doc.Op{doc.Put(d)},
		Effects: []doc.Effect{
			{Kind: doc.OpPut, ID: d.ID, Hash: doc.MustDocumentHash(d), ValidFrom: at},
		},
	}
}

func mustAppend(t *testing.T, s *Store, rec doc.TxRecord, docs ...doc.Document) {
	t.Helper()
	if err := s.AppendTransaction(context.Background(), rec, docs); err != nil {
		t.Fatalf("AppendTransaction(%d) failed: %v", rec.TxID, err)
	}
}

package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

func TestAppendTransaction_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := committedPut(1, pabloDoc(0))
	mustAppend(t, s, rec)

	var outcome, ops, effects, format string
	var nanos int64
	err := s.db.QueryRow(`
		SELECT outcome, ops, effects, format, tx_time FROM transactions WHERE tx_id = 1
	`).Scan(&outcome, &ops, &effects, &format, &nanos)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if outcome != "committed" {
		t.Errorf("outcome = %q, want committed", outcome)
	}
	if format != doc.LogFormatVersion {
		t.Errorf("format = %q, want %q", format, doc.LogFormatVersion)
	}
	if !time.Unix(0, nanos).Equal(rec.TxTime) {
		t.Errorf("tx_time = %v, want %v", time.Unix(0, nanos), rec.TxTime)
	}

	hash := doc.MustDocumentHash(pabloDoc(0))
	if !strings.Contains(ops, hash) {
		t.Errorf("ops %s does not reference document hash %s", ops, hash)
	}
	if strings.Contains(ops, "Pablo") {
		t.Errorf("ops %s embeds document content", ops)
	}
	if !strings.Contains(effects, hash) {
		t.Errorf("effects %s does not reference document hash", effects)
	}

	d, found, err := s.ReadDocument(ctx, hash)
	if err != nil || !found {
		t.Fatalf("ReadDocument() = %v, %v", found, err)
	}
	if !d.Equal(pabloDoc(0)) {
		t.Errorf("ReadDocument() = %+v, want pablo v0", d)
	}
}

func TestAppendTransaction_CanonicalJSON(t *testing.T) {
	s := createTestStore(t)

	rec := committedPut(1, pabloDoc(0))
	rec.Ops = []doc.Op{doc.PutBetween(pabloDoc(0), epoch, epoch.Add(time.Hour))}
	mustAppend(t, s, rec)

	var ops string
	if err := s.db.QueryRow(`SELECT ops FROM transactions WHERE tx_id = 1`).Scan(&ops); err != nil {
		t.Fatalf("query failed: %v", err)
	}

	want := `[{"put":{"hash":"` + doc.MustDocumentHash(pabloDoc(0)) + `","id":"pablo",` +
		`"valid_from":{"$time":"2000-01-01T00:00:00Z"},"valid_to":{"$time":"2000-01-01T01:00:00Z"}}}]`
	if ops != want {
		t.Errorf("ops =\n%s\nwant\n%s", ops, want)
	}
}

func TestAppendTransaction_DuplicateTxIDFails(t *testing.T) {
	s := createTestStore(t)

	mustAppend(t, s, committedPut(1, pabloDoc(0)))

	dup := committedPut(1, pabloDoc(1))
	dup.SubmissionID = "other"
	dup.TxTime = dup.TxTime.Add(time.Minute)
	if err := s.AppendTransaction(context.Background(), dup, nil); err == nil {
		t.Fatal("second append of tx 1 succeeded, want error")
	}

	// The failed append left nothing behind.
	_, found, err := s.ReadDocument(context.Background(), doc.MustDocumentHash(pabloDoc(1)))
	if err != nil {
		t.Fatalf("ReadDocument() failed: %v", err)
	}
	if found {
		t.Error("document of the failed append was stored")
	}
}

func TestAppendTransaction_Aborted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := doc.TxRecord{
		TxID:         1,
		TxTime:       epoch,
		SubmissionID: "sub-1",
		Outcome:      doc.OutcomeAborted,
		AbortReason:  doc.AbortMatchFailed,
		AbortDetail:  `match on "pablo" failed`,
		Ops:          []doc.Op{doc.Match(pabloDoc(0)), doc.Put(pabloDoc(1))},
	}
	mustAppend(t, s, rec)

	got, err := s.ReadTransaction(ctx, 1, true)
	if err != nil {
		t.Fatalf("ReadTransaction() failed: %v", err)
	}
	if got.Outcome != doc.OutcomeAborted || got.AbortReason != doc.AbortMatchFailed {
		t.Errorf("outcome = %s/%s, want aborted/match-failed", got.Outcome, got.AbortReason)
	}
	if len(got.Effects) != 0 {
		t.Errorf("len(Effects) = %d, want 0", len(got.Effects))
	}
	if len(got.Ops) != 2 {
		t.Fatalf("len(Ops) = %d, want 2", len(got.Ops))
	}
	// Submitted documents are kept for audit.
	put, ok := got.Ops[1].(doc.PutOp)
	if !ok || put.Redacted || !put.Doc.Equal(pabloDoc(1)) {
		t.Errorf("Ops[1] = %+v, want hydrated put of pablo v1", got.Ops[1])
	}
}

func TestAppendTransaction_EvictionPurgesDocuments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, committedPut(1, pabloDoc(0)))
	mustAppend(t, s, committedPut(2, pabloDoc(1)))

	evict := doc.TxRecord{
		TxID:         3,
		TxTime:       epoch.Add(3 * time.Second),
		SubmissionID: "sub-3",
		Outcome:      doc.OutcomeCommitted,
		Ops:          []doc.Op{doc.Evict("pablo")},
		Effects:      []doc.Effect{{Kind: doc.OpEvict, ID: "pablo"}},
	}
	mustAppend(t, s, evict)

	for _, v := range []int64{0, 1} {
		_, found, err := s.ReadDocument(ctx, doc.MustDocumentHash(pabloDoc(v)))
		if err != nil {
			t.Fatalf("ReadDocument() failed: %v", err)
		}
		if found {
			t.Errorf("pablo v%d still stored after eviction", v)
		}
	}

	evictions, err := s.ListEvictions(ctx)
	if err != nil {
		t.Fatalf("ListEvictions() failed: %v", err)
	}
	if len(evictions) != 1 || evictions[0].EntityID != "pablo" || evictions[0].TxID != 3 {
		t.Errorf("ListEvictions() = %+v, want pablo@3", evictions)
	}

	// The log keeps every record; ops come back redacted.
	rec, err := s.ReadTransaction(ctx, 1, true)
	if err != nil {
		t.Fatalf("ReadTransaction() failed: %v", err)
	}
	put := rec.Ops[0].(doc.PutOp)
	if !put.Redacted || put.Doc.ID != "pablo" || put.Doc.Attrs != nil {
		t.Errorf("Ops[0] = %+v, want redacted put of pablo", put)
	}
	if rec.Effects[0].Hash != doc.MustDocumentHash(pabloDoc(0)) {
		t.Error("effect lost its document hash")
	}
}

func TestAppendTransaction_AbortedResubmissionStaysRedacted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, committedPut(1, pabloDoc(0)))
	mustAppend(t, s, doc.TxRecord{
		TxID:         2,
		TxTime:       epoch.Add(2 * time.Second),
		SubmissionID: "sub-2",
		Outcome:      doc.OutcomeCommitted,
		Ops:          []doc.Op{doc.Evict("pablo")},
		Effects:      []doc.Effect{{Kind: doc.OpEvict, ID: "pablo"}},
	})
	mustAppend(t, s, doc.TxRecord{
		TxID:         3,
		TxTime:       epoch.Add(3 * time.Second),
		SubmissionID: "sub-3",
		Outcome:      doc.OutcomeAborted,
		AbortReason:  doc.AbortMatchFailed,
		Ops:          []doc.Op{doc.MatchNotExists("pablo"), doc.Put(pabloDoc(0)), doc.Put(pabloDoc(7))},
	})

	if _, found, _ := s.ReadDocument(ctx, doc.MustDocumentHash(pabloDoc(0))); found {
		t.Error("aborted record restored evicted content")
	}
	first, err := s.ReadTransaction(ctx, 1, true)
	if err != nil {
		t.Fatalf("ReadTransaction(1) failed: %v", err)
	}
	if put := first.Ops[0].(doc.PutOp); !put.Redacted {
		t.Errorf("tx 1 Ops[0] = %+v, want redacted", put)
	}

	// Content never evicted is still kept for audit.
	aborted, err := s.ReadTransaction(ctx, 3, true)
	if err != nil {
		t.Fatalf("ReadTransaction(3) failed: %v", err)
	}
	if put := aborted.Ops[2].(doc.PutOp); put.Redacted || !put.Doc.Equal(pabloDoc(7)) {
		t.Errorf("tx 3 Ops[2] = %+v, want hydrated put of pablo v7", put)
	}

	// A committed put brings the content back.
	mustAppend(t, s, committedPut(4, pabloDoc(0)), pabloDoc(0))
	if _, found, _ := s.ReadDocument(ctx, doc.MustDocumentHash(pabloDoc(0))); !found {
		t.Error("committed put of previously evicted content was not stored")
	}
}

func TestAppendTransaction_PutAfterEvictSurvives(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, committedPut(1, pabloDoc(0)))

	at := epoch.Add(2 * time.Second)
	rec := doc.TxRecord{
		TxID:         2,
		TxTime:       at,
		SubmissionID: "sub-2",
		Outcome:      doc.OutcomeCommitted,
		Ops:          []doc.Op{doc.Evict("pablo"), doc.Put(pabloDoc(5))},
		Effects: []doc.Effect{
			{Kind: doc.OpEvict, ID: "pablo"},
			{Kind: doc.OpPut, ID: "pablo", Hash: doc.MustDocumentHash(pabloDoc(5)), ValidFrom: at},
		},
	}
	mustAppend(t, s, rec, pabloDoc(5))

	if _, found, _ := s.ReadDocument(ctx, doc.MustDocumentHash(pabloDoc(0))); found {
		t.Error("pablo v0 survived eviction")
	}
	if _, found, _ := s.ReadDocument(ctx, doc.MustDocumentHash(pabloDoc(5))); !found {
		t.Error("pablo v5 put after the eviction was not stored")
	}
}

func TestAppendTransaction_RejectsRedactedOps(t *testing.T) {
	s := createTestStore(t)

	rec := committedPut(1, pabloDoc(0))
	rec.Ops = []doc.Op{doc.PutOp{Doc: doc.Document{ID: "pablo"}, Redacted: true}}
	if err := s.AppendTransaction(context.Background(), rec, nil); err == nil {
		t.Fatal("append of a redacted op succeeded, want error")
	}
}

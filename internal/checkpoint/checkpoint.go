// Package checkpoint persists valid-time index snapshots in a bbolt file.
//
// A checkpoint lets the engine start without replaying the whole log: it
// loads the snapshot and replays only the records after its last_tx_id.
// Checkpoints are a cache of derived state. Deleting the file is always
// safe; the index is rebuilt from the log.
//
// Layout:
//
//	meta      last_tx_id -> 8-byte big-endian tx id
//	          format     -> checkpoint format version
//	entities  <entity id> -> msgpack list of entries
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/index"
)

// FormatVersion is bumped whenever the entry encoding changes.
const FormatVersion = "1"

var (
	bucketMeta     = []byte("meta")
	bucketEntities = []byte("entities")

	keyLastTxID = []byte("last_tx_id")
	keyFormat   = []byte("format")
)

// ErrFormatMismatch is returned by Load for a checkpoint written in
// another format. Callers discard it and rebuild from the log.
var ErrFormatMismatch = errors.New("checkpoint format mismatch")

// entry is the stored form of an index.Entry.
type entry struct {
	ValidTime time.Time `msgpack:"v"`
	TxID      int64     `msgpack:"t"`
	Ord       int       `msgpack:"o"`
	Hash      string    `msgpack:"h,omitempty"`
}

// Store is a checkpoint file.
type Store struct {
	db *bbolt.DB
}

// Options tunes the underlying bbolt file.
type Options struct {
	// NoSync skips fsync on save. Only for tests.
	NoSync bool
}

// Open opens or creates the checkpoint file at path.
func Open(path string, opt Options) (*Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 5 * time.Second
	bopt.FreelistType = bbolt.FreelistMapType
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	}

	db, err := bbolt.Open(path, 0o600, bopt)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Save replaces the stored checkpoint with snap in one bbolt transaction.
func (s *Store) Save(snap index.Snapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketEntities); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("clear entities: %w", err)
		}
		ents, err := tx.CreateBucket(bucketEntities)
		if err != nil {
			return fmt.Errorf("create entities: %w", err)
		}
		for id, entries := range snap.Entities {
			val, err := encodeEntries(entries)
			if err != nil {
				return fmt.Errorf("encode %q: %w", id, err)
			}
			if err := ents.Put([]byte(id), val); err != nil {
				return fmt.Errorf("put %q: %w", id, err)
			}
		}

		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("create meta: %w", err)
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(snap.LastTxID))
		if err := meta.Put(keyLastTxID, buf[:]); err != nil {
			return err
		}
		return meta.Put(keyFormat, []byte(FormatVersion))
	})
}

// Load reads the stored checkpoint. found is false when nothing has been
// saved yet.
func (s *Store) Load() (snap index.Snapshot, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		if f := meta.Get(keyFormat); !bytes.Equal(f, []byte(FormatVersion)) {
			return fmt.Errorf("%w: have %q, want %q", ErrFormatMismatch, f, FormatVersion)
		}
		raw := meta.Get(keyLastTxID)
		if len(raw) != 8 {
			return fmt.Errorf("corrupt last_tx_id")
		}

		snap.LastTxID = int64(binary.BigEndian.Uint64(raw))
		snap.Entities = make(map[doc.EntityID][]index.Entry)
		found = true

		ents := tx.Bucket(bucketEntities)
		if ents == nil {
			return nil
		}
		return ents.ForEach(func(k, v []byte) error {
			entries, err := decodeEntries(v)
			if err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			snap.Entities[doc.EntityID(k)] = entries
			return nil
		})
	})
	if err != nil {
		return index.Snapshot{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return snap, found, nil
}

// LastTxID returns the tx id of the stored checkpoint, or 0.
func (s *Store) LastTxID() (int64, error) {
	var id int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		if raw := meta.Get(keyLastTxID); len(raw) == 8 {
			id = int64(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	return id, err
}

func encodeEntries(entries []index.Entry) ([]byte, error) {
	out := make([]entry, len(entries))
	for i, e := range entries {
		out[i] = entry{
			ValidTime: e.ValidTime.UTC(),
			TxID:      e.TxID,
			Ord:       e.Ord,
			Hash:      e.Hash,
		}
	}
	return msgpack.Marshal(out)
}

func decodeEntries(data []byte) ([]index.Entry, error) {
	var stored []entry
	if err := msgpack.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	out := make([]index.Entry, len(stored))
	for i, e := range stored {
		out[i] = index.Entry{
			ValidTime: e.ValidTime.UTC(),
			TxID:      e.TxID,
			Ord:       e.Ord,
			Hash:      e.Hash,
		}
	}
	return out, nil
}

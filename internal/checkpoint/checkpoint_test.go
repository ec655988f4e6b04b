package checkpoint

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/index"
)

var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoint.db"), Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// buildIndex commits a small history: pablo over two versions with a
// bounded correction, frida put then deleted.
func buildIndex(t *testing.T) *index.Index {
	t.Helper()
	ix := index.New()

	b := ix.NewBatch(1)
	b.Put("pablo", "h-pablo-1", epoch, nil)
	b.Put("frida", "h-frida-1", epoch, nil)
	require.NoError(t, ix.Commit(b))

	b = ix.NewBatch(2)
	end := epoch.Add(2 * time.Hour)
	b.Put("pablo", "h-pablo-2", epoch.Add(time.Hour), &end)
	b.Delete("frida", epoch.Add(3*time.Hour), nil)
	require.NoError(t, ix.Commit(b))
	return ix
}

func TestStore_LoadEmpty(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.Load()
	require.NoError(t, err)
	assert.False(t, found)

	id, err := s.LastTxID()
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
}

func TestStore_SaveLoadPreservesFingerprint(t *testing.T) {
	s := openTestStore(t)
	ix := buildIndex(t)

	require.NoError(t, s.Save(ix.Snapshot()))

	snap, found, err := s.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), snap.LastTxID)

	restored := index.FromSnapshot(snap)
	want, err := ix.Fingerprint()
	require.NoError(t, err)
	got, err := restored.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	hash, ok := restored.Resolve("pablo", epoch.Add(90*time.Minute), 2)
	assert.True(t, ok)
	assert.Equal(t, "h-pablo-2", hash)
	_, ok = restored.Resolve("frida", epoch.Add(4*time.Hour), 2)
	assert.False(t, ok, "frida is deleted from 03:00")
}

func TestStore_SaveReplacesPrevious(t *testing.T) {
	s := openTestStore(t)
	ix := buildIndex(t)
	require.NoError(t, s.Save(ix.Snapshot()))

	b := ix.NewBatch(3)
	b.Evict("frida")
	require.NoError(t, ix.Commit(b))
	require.NoError(t, s.Save(ix.Snapshot()))

	snap, found, err := s.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3), snap.LastTxID)
	assert.NotContains(t, snap.Entities, doc.EntityID("frida"), "evicted entity must not survive in the checkpoint")
	assert.Contains(t, snap.Entities, doc.EntityID("pablo"))
}

func TestStore_ReopenKeepsCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Save(buildIndex(t).Snapshot()))
	require.NoError(t, s.Close())

	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	id, err := s.LastTxID()
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, path, s.Path())
}

func TestStore_FormatMismatch(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(buildIndex(t).Snapshot()))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyFormat, []byte("0"))
	})
	require.NoError(t, err)

	_, found, err := s.Load()
	assert.False(t, found)
	assert.True(t, errors.Is(err, ErrFormatMismatch), "got %v", err)
}

func TestClose_Nil(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}

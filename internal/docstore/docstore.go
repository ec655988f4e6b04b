// Package docstore is the content-addressed document store read path.
//
// Documents live in the SQLite documents table, keyed by content hash.
// Store fronts that table with a bounded LRU so hot versions are decoded
// once. Documents are immutable, so a cached entry never goes stale; the
// only way one disappears is eviction of its entity, which drops it from
// the cache as well.
package docstore

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/chronicle/internal/doc"
)

// DefaultCacheSize is the number of documents cached when no size is given.
const DefaultCacheSize = 4096

// Backend reads document bodies by content hash.
// Implemented by *store.Store.
type Backend interface {
	ReadDocument(ctx context.Context, hash string) (doc.Document, bool, error)
}

// Store resolves content hashes to documents through an LRU cache.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	backend Backend
	cache   *lru.Cache[string, doc.Document]

	mu       sync.Mutex
	byEntity map[doc.EntityID]map[string]struct{} // cached hashes per entity

	// evictGen counts EvictEntity calls; evictedAt holds the count at each
	// entity's latest eviction. A read started before an eviction of its
	// entity must not populate the cache.
	evictGen  uint64
	evictedAt map[doc.EntityID]uint64

	hits   int64
	misses int64
}

// New creates a store over backend caching up to size documents.
func New(backend Backend, size int) (*Store, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	s := &Store{
		backend:   backend,
		byEntity:  make(map[doc.EntityID]map[string]struct{}),
		evictedAt: make(map[doc.EntityID]uint64),
	}
	cache, err := lru.NewWithEvict[string, doc.Document](size, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("docstore: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Get returns the document with the given content hash. found is false
// when the document is not stored, which for a hash taken from the index
// means its entity was evicted concurrently.
func (s *Store) Get(ctx context.Context, hash string) (d doc.Document, found bool, err error) {
	if d, ok := s.cache.Get(hash); ok {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		return d, true, nil
	}

	s.mu.Lock()
	s.misses++
	gen := s.evictGen
	s.mu.Unlock()

	d, found, err = s.backend.ReadDocument(ctx, hash)
	if err != nil || !found {
		return doc.Document{}, false, err
	}
	s.addSince(hash, d, gen)
	return d, true, nil
}

// addSince caches d unless its entity was evicted after generation gen.
// The check is repeated after the insert because EvictEntity may run
// between the two.
func (s *Store) addSince(hash string, d doc.Document, gen uint64) {
	s.mu.Lock()
	if s.evictedAt[d.ID] > gen {
		s.mu.Unlock()
		return
	}
	s.track(hash, d.ID)
	s.mu.Unlock()

	s.cache.Add(hash, d)

	s.mu.Lock()
	stale := s.evictedAt[d.ID] > gen
	s.mu.Unlock()
	if stale {
		s.cache.Remove(hash)
	}
}

// Add caches a document known to be stored under hash. The applier calls
// it after a commit so fresh versions are served without a read.
func (s *Store) Add(hash string, d doc.Document) {
	s.mu.Lock()
	s.track(hash, d.ID)
	s.mu.Unlock()

	s.cache.Add(hash, d)
}

// track records hash under id. Caller holds s.mu.
func (s *Store) track(hash string, id doc.EntityID) {
	hashes := s.byEntity[id]
	if hashes == nil {
		hashes = make(map[string]struct{})
		s.byEntity[id] = hashes
	}
	hashes[hash] = struct{}{}
}

// EvictEntity drops every cached version of id. Reads of id already in
// flight do not cache what they return.
func (s *Store) EvictEntity(id doc.EntityID) {
	s.mu.Lock()
	s.evictGen++
	s.evictedAt[id] = s.evictGen
	hashes := s.byEntity[id]
	delete(s.byEntity, id)
	s.mu.Unlock()

	// Remove runs onEvict, which takes s.mu, so the lock is released first.
	for hash := range hashes {
		s.cache.Remove(hash)
	}
}

// Len returns the number of cached documents.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Stats returns cache hit and miss counts.
func (s *Store) Stats() (hits, misses int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

func (s *Store) onEvict(hash string, d doc.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := s.byEntity[d.ID]
	if hashes == nil {
		return
	}
	delete(hashes, hash)
	if len(hashes) == 0 {
		delete(s.byEntity, d.ID)
	}
}

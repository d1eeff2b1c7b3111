package store

import (
	"slices"
	"sync"

	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/pkg/errors"
)

type blobKey struct {
	snapshotID int64
	module     Module
	shardID    int
}

// MemoryStore is a thread-safe in-memory SnapshotStore and Catalog, used
// when no data directory is configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	blobs     map[blobKey][]byte
	manifests map[int64]Manifest
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:     make(map[blobKey][]byte),
		manifests: make(map[int64]Manifest),
	}
}

// Store saves a copy of data.
func (s *MemoryStore) Store(snapshotID int64, module Module, shardID int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[blobKey{snapshotID, module, shardID}] = slices.Clone(data)
	return nil
}

// Load returns a copy of the stored blob, or domain.ErrSnapshotNotFound.
func (s *MemoryStore) Load(snapshotID int64, module Module, shardID int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[blobKey{snapshotID, module, shardID}]
	if !ok {
		return nil, errors.Wrapf(domain.ErrSnapshotNotFound, "%s shard %d of snapshot %d", module, shardID, snapshotID)
	}
	return slices.Clone(data), nil
}

// SaveManifest records a completed checkpoint.
func (s *MemoryStore) SaveManifest(m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manifests[m.SnapshotID] = m
	return nil
}

// LatestManifest returns the manifest with the highest snapshot id.
func (s *MemoryStore) LatestManifest() (Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest Manifest
		found  bool
	)
	for id, m := range s.manifests {
		if !found || id > latest.SnapshotID {
			latest, found = m, true
		}
	}
	if !found {
		return Manifest{}, domain.ErrSnapshotNotFound
	}
	return latest, nil
}

package store

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/pkg/errors"
)

const (
	blobPrefix     = "snap/"
	manifestPrefix = "manifest/"
)

// PebbleStore keeps snapshot blobs and manifests in a pebble database.
// Every write is synced before it returns.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens or creates the database in dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open snapshot store at %s", dir)
	}
	return &PebbleStore{db: db}, nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) Store(snapshotID int64, module Module, shardID int, data []byte) error {
	if err := s.db.Set(blobKeyFor(snapshotID, module, shardID), data, pebble.Sync); err != nil {
		return errors.Wrapf(err, "store %s shard %d of snapshot %d", module, shardID, snapshotID)
	}
	return nil
}

func (s *PebbleStore) Load(snapshotID int64, module Module, shardID int) ([]byte, error) {
	val, closer, err := s.db.Get(blobKeyFor(snapshotID, module, shardID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrapf(domain.ErrSnapshotNotFound, "%s shard %d of snapshot %d", module, shardID, snapshotID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s shard %d of snapshot %d", module, shardID, snapshotID)
	}
	defer closer.Close()

	// val is only valid until closer.Close.
	return slices.Clone(val), nil
}

func (s *PebbleStore) SaveManifest(m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	if err := s.db.Set(manifestKeyFor(m.SnapshotID), data, pebble.Sync); err != nil {
		return errors.Wrapf(err, "store manifest of snapshot %d", m.SnapshotID)
	}
	return nil
}

// LatestManifest returns the manifest with the highest snapshot id. Keys
// are zero-padded so byte order matches numeric order for ids >= 0.
func (s *PebbleStore) LatestManifest() (Manifest, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(manifestPrefix),
		UpperBound: []byte(manifestPrefix + "~"),
	})
	if err != nil {
		return Manifest{}, errors.Wrap(err, "open manifest iterator")
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return Manifest{}, errors.Wrap(err, "scan manifests")
		}
		return Manifest{}, domain.ErrSnapshotNotFound
	}
	var m Manifest
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return Manifest{}, errors.Wrapf(err, "decode manifest %s", iter.Key())
	}
	return m, nil
}

func blobKeyFor(snapshotID int64, module Module, shardID int) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s/%04d", blobPrefix, snapshotID, module, shardID))
}

func manifestKeyFor(snapshotID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", manifestPrefix, snapshotID))
}

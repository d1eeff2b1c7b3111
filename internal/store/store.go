package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Module identifies which engine a snapshot blob belongs to.
type Module uint8

const (
	ModuleRisk Module = iota + 1
	ModuleMatching
)

func (m Module) String() string {
	switch m {
	case ModuleRisk:
		return "risk"
	case ModuleMatching:
		return "matching"
	}
	return fmt.Sprintf("module-%d", uint8(m))
}

//go:generate go run github.com/golang/mock/mockgen -destination mocks/snapshot_store_mock.go -package mocks github.com/efreitasn/exchangecore/internal/store SnapshotStore

// SnapshotStore persists one blob per (snapshot id, module, shard). Engines
// call it synchronously when they observe a persistence barrier.
type SnapshotStore interface {
	Store(snapshotID int64, module Module, shardID int, data []byte) error
	Load(snapshotID int64, module Module, shardID int) ([]byte, error)
}

// Manifest describes a completed checkpoint.
type Manifest struct {
	SnapshotID     int64     `json:"snapshotId"`
	InstanceID     uuid.UUID `json:"instanceId"`
	Seq            int64     `json:"seq"`
	RiskShards     int       `json:"riskShards"`
	MatchingShards int       `json:"matchingShards"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Catalog records which checkpoints are complete. A manifest is written
// only after every shard blob of the snapshot was stored.
type Catalog interface {
	SaveManifest(m Manifest) error
	LatestManifest() (Manifest, error)
}

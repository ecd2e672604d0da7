package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"newsrag/internal/domain"
)

// CurrentSchemaVersion is the current snapshot schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion = []byte("schema_version")
	keyInfo          = []byte("info")
)

// SchemaInfo is what a snapshot says about itself.
type SchemaInfo struct {
	Version int
	Info    domain.IndexInfo
}

func writeSchemaInfo(tx *bbolt.Tx, info domain.IndexInfo) error {
	b := tx.Bucket(bucketMeta)

	versionData, err := json.Marshal(CurrentSchemaVersion)
	if err != nil {
		return err
	}
	if err := b.Put(keySchemaVersion, versionData); err != nil {
		return err
	}

	infoData, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return b.Put(keyInfo, infoData)
}

func readSchemaInfo(tx *bbolt.Tx) (*SchemaInfo, error) {
	b := tx.Bucket(bucketMeta)
	if b == nil {
		return nil, fmt.Errorf("snapshot has no %s bucket", bucketMeta)
	}

	var si SchemaInfo
	versionData := b.Get(keySchemaVersion)
	if versionData == nil {
		return nil, fmt.Errorf("snapshot has no schema version")
	}
	if err := json.Unmarshal(versionData, &si.Version); err != nil {
		return nil, fmt.Errorf("decode schema version: %w", err)
	}
	if err := checkSchemaVersion(si.Version); err != nil {
		return nil, err
	}

	infoData := b.Get(keyInfo)
	if infoData == nil {
		return nil, fmt.Errorf("snapshot has no build info")
	}
	if err := json.Unmarshal(infoData, &si.Info); err != nil {
		return nil, fmt.Errorf("decode build info: %w", err)
	}
	return &si, nil
}

func checkSchemaVersion(v int) error {
	switch {
	case v == CurrentSchemaVersion:
		return nil
	case v > CurrentSchemaVersion:
		return fmt.Errorf("snapshot created by newer version (schema v%d > v%d): rebuild required", v, CurrentSchemaVersion)
	default:
		return fmt.Errorf("unsupported snapshot schema v%d: rebuild required", v)
	}
}

// StaleResult describes whether a snapshot still matches the current
// configuration.
type StaleResult struct {
	Stale  bool
	Reason string
}

// CheckStale compares a loaded snapshot with the configured embedding model
// and chunk size. A mismatch does not prevent querying.
func CheckStale(info domain.IndexInfo, model string, chunkSize int) StaleResult {
	switch {
	case model != "" && info.Model != "" && info.Model != model:
		return StaleResult{Stale: true, Reason: fmt.Sprintf("built with embedding model %q, configured %q", info.Model, model)}
	case chunkSize > 0 && info.ChunkSize > 0 && info.ChunkSize != chunkSize:
		return StaleResult{Stale: true, Reason: fmt.Sprintf("built with chunk size %d, configured %d", info.ChunkSize, chunkSize)}
	default:
		return StaleResult{}
	}
}

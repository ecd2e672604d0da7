package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"newsrag/internal/domain"
)

// SnapshotFile is the name of the index database inside a snapshot directory.
const SnapshotFile = "index.db"

var (
	bucketMeta    = []byte("meta")
	bucketChunks  = []byte("chunks")
	bucketVectors = []byte("vectors")
)

// SnapshotPath returns the index database path inside dir.
func SnapshotPath(dir string) string {
	return filepath.Join(dir, SnapshotFile)
}

// Save writes x to dir/index.db. The database is written to a temporary
// file in dir, synced, and renamed over the previous snapshot, so readers
// see either the old snapshot or the new one.
func Save(dir string, x *Index) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.db.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if err := writeSnapshot(tmpPath, x); err != nil {
		return err
	}
	if err := syncFile(tmpPath); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, SnapshotPath(dir)); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return syncDir(dir)
}

func writeSnapshot(path string, x *Index) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open temp snapshot: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketChunks, bucketVectors} {
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		if err := writeSchemaInfo(tx, x.info); err != nil {
			return err
		}

		chunks := tx.Bucket(bucketChunks)
		vectors := tx.Bucket(bucketVectors)
		for i, e := range x.entries {
			key := seqKey(uint64(i))
			data, err := json.Marshal(e.Chunk)
			if err != nil {
				return err
			}
			if err := chunks.Put(key, data); err != nil {
				return err
			}
			if err := vectors.Put(key, encodeVector(e.Vector)); err != nil {
				return err
			}
		}
		return nil
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load opens dir/index.db read-only and validates it before returning an
// index. expectDim of 0 accepts any dimension.
func Load(dir string, expectDim int) (*Index, error) {
	path := SnapshotPath(dir)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.NoIndexError{Path: dir}
		}
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	var x *Index
	err = db.View(func(tx *bbolt.Tx) error {
		si, err := readSchemaInfo(tx)
		if err != nil {
			return err
		}
		if expectDim > 0 && si.Info.Chunks > 0 && si.Info.Dimension != expectDim {
			return &domain.DimensionMismatchError{Expected: expectDim, Actual: si.Info.Dimension}
		}

		chunks := tx.Bucket(bucketChunks)
		vectors := tx.Bucket(bucketVectors)
		if chunks == nil || vectors == nil {
			return errors.New("snapshot is missing chunk or vector data")
		}

		entries := make([]domain.IndexEntry, 0, si.Info.Chunks)
		c := chunks.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var chunk domain.Chunk
			if err := json.Unmarshal(v, &chunk); err != nil {
				return fmt.Errorf("decode chunk %d: %w", binary.BigEndian.Uint64(k), err)
			}
			vec, err := decodeVector(vectors.Get(k))
			if err != nil {
				return fmt.Errorf("decode vector %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if len(vec) != si.Info.Dimension {
				return &domain.DimensionMismatchError{Expected: si.Info.Dimension, Actual: len(vec)}
			}
			entries = append(entries, domain.IndexEntry{Vector: vec, Chunk: chunk})
		}
		if len(entries) != si.Info.Chunks {
			return fmt.Errorf("snapshot holds %d chunks, metadata says %d", len(entries), si.Info.Chunks)
		}

		x = newIndex(si.Info, entries)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return x, nil
}

// seqKey encodes insertion order so cursor iteration restores it.
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if data == nil {
		return nil, errors.New("missing vector")
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector length %d is not a multiple of 4", len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse to fsync a directory; the rename already
	// happened, so that is not fatal.
	_ = d.Sync()
	return nil
}

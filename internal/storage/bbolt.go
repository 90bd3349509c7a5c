// Package storage provides the coordinator's optional restart-rehydration
// snapshot: a bbolt-backed store of each server's last known
// DualHealthResult and CircuitState, read once at startup and written after
// every cycle. Per spec.md §4.5's Non-goals, this is never a query path —
// the in-memory registry is the sole source of truth while the process is
// running; this store only shortens the "UNKNOWN" gap right after a restart.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.etcd.io/bbolt/errors"
	"go.uber.org/zap"

	"github.com/nestymook/healthcoord/internal/healthtypes"
)

const (
	// SnapshotBucket holds the latest DualHealthResult per server, keyed by
	// server name.
	SnapshotBucket = "health_snapshots"
	// CircuitBucket holds the latest CircuitState per server, keyed by
	// server name.
	CircuitBucket = "circuit_snapshots"
	// MetaBucket holds schema bookkeeping.
	MetaBucket = "meta"

	SchemaVersionKey     = "schema_version"
	CurrentSchemaVersion = uint64(1)
)

// BoltDB wraps the coordinator's bbolt snapshot database.
//
// Grounded on the teacher's internal/storage/bbolt.go BoltDB: the
// open-with-timeout-then-recover-from-lock sequence and the bucket/schema
// bootstrap are kept verbatim in shape; the bucket set and record types are
// replaced (UpstreamRecord/ToolStats -> per-server health/circuit snapshots).
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltDB opens (creating if needed) the snapshot database under dataDir.
func NewBoltDB(dataDir string, logger *zap.Logger) (*BoltDB, error) {
	dbPath := filepath.Join(dataDir, "healthcoord.db")

	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		logger.Warn("failed to open snapshot database on first attempt", zap.Error(err))

		if err == errors.ErrTimeout {
			logger.Info("snapshot database timeout detected, attempting recovery")
			if _, statErr := os.Stat(dbPath); statErr == nil {
				backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
				if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
					logger.Warn("failed to back up locked database", zap.Error(cpErr))
				}
				if rmErr := os.Remove(dbPath); rmErr != nil {
					logger.Warn("failed to remove locked database file", zap.Error(rmErr))
				}
			}
			db, err = bbolt.Open(dbPath, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
		}
		if err != nil {
			return nil, fmt.Errorf("open bolt database after recovery attempt: %w", err)
		}
	}

	boltDB := &BoltDB{db: db, logger: logger}
	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize buckets: %w", err)
	}
	return boltDB, nil
}

// Close closes the underlying database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{SnapshotBucket, CircuitBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		meta := tx.Bucket([]byte(MetaBucket))
		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return meta.Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the stored schema version, 0 if unset.
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		raw := bucket.Get([]byte(SchemaVersionKey))
		if raw == nil {
			return nil
		}
		version = binary.LittleEndian.Uint64(raw)
		return nil
	})
	return version, err
}

// SaveHealthSnapshot persists the latest DualHealthResult for one server.
func (b *BoltDB) SaveHealthSnapshot(result *healthtypes.DualHealthResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal health snapshot: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SnapshotBucket)).Put([]byte(result.ServerName), data)
	})
}

// LoadHealthSnapshots returns every persisted DualHealthResult, keyed by
// server name, read once at startup to seed the in-memory registry.
func (b *BoltDB) LoadHealthSnapshots() (map[string]*healthtypes.DualHealthResult, error) {
	out := make(map[string]*healthtypes.DualHealthResult)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SnapshotBucket)).ForEach(func(k, v []byte) error {
			var result healthtypes.DualHealthResult
			if err := json.Unmarshal(v, &result); err != nil {
				return fmt.Errorf("unmarshal snapshot for %s: %w", k, err)
			}
			out[string(k)] = &result
			return nil
		})
	})
	return out, err
}

// SaveCircuitState persists the latest CircuitState for one server.
func (b *BoltDB) SaveCircuitState(state healthtypes.CircuitState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal circuit state: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(CircuitBucket)).Put([]byte(state.ServerName), data)
	})
}

// LoadCircuitStates returns every persisted CircuitState, keyed by server name.
func (b *BoltDB) LoadCircuitStates() (map[string]healthtypes.CircuitState, error) {
	out := make(map[string]healthtypes.CircuitState)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(CircuitBucket)).ForEach(func(k, v []byte) error {
			var state healthtypes.CircuitState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("unmarshal circuit state for %s: %w", k, err)
			}
			out[string(k)] = state
			return nil
		})
	})
	return out, err
}

// Stats returns database statistics for diagnostics.
func (b *BoltDB) Stats() bbolt.Stats {
	return b.db.Stats()
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package media_cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

const (
	dbSubDir = "db"
)

// cacheDB wraps BadgerDB with the cache's record persistence operations.
// Writes are applied to the in-memory bookkeeping first and persisted here
// with value-log sync disabled, so disk durability is eventually consistent:
// a crash may lose the last few seconds of bookkeeping, and the affected
// bytes are simply re-downloaded.
type cacheDB struct {
	db        *badger.DB
	closeOnce sync.Once
}

// newCacheDB opens the record database under baseDir.  An empty baseDir
// opens an in-memory database (ephemeral mode, used by tests and the
// memory-store backend).
func newCacheDB(baseDir string) (*cacheDB, error) {
	var opts badger.Options
	if baseDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbPath := filepath.Join(baseDir, dbSubDir)
		if err := os.MkdirAll(dbPath, 0750); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
		opts = badger.DefaultOptions(dbPath)
	}

	// Bookkeeping records are small and rewritten often; keep them in the
	// LSM tree and skip synchronous writes (the cache is self-healing).
	opts.SyncWrites = false
	opts.ValueThreshold = 4096
	opts.Logger = &badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BadgerDB")
	}

	if baseDir != "" {
		log.Infof("Cache database initialized at %s", filepath.Join(baseDir, dbSubDir))
	}
	return &cacheDB{db: db}, nil
}

// Close closes the database
func (cdb *cacheDB) Close() error {
	var closeErr error
	cdb.closeOnce.Do(func() {
		closeErr = cdb.db.Close()
	})
	return closeErr
}

// StartGC starts the background value-log garbage collection goroutine
func (cdb *cacheDB) StartGC(ctx context.Context, egrp *errgroup.Group) {
	egrp.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				err := cdb.db.RunValueLogGC(0.5)
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					log.Warnf("BadgerDB GC error: %v", err)
				}
			}
		}
	})
}

// GetRecord retrieves the persisted cache record for a resource.  A missing
// record returns (nil, nil).  A record that fails to parse returns a
// CacheCorruptionError; the caller treats it as a miss and re-primes.
func (cdb *cacheDB) GetRecord(key ResourceKey) (*resourceRecord, error) {
	var rec resourceRecord

	err := cdb.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := msgpack.Unmarshal(val, &rec); err != nil {
				return &CacheCorruptionError{Key: key, Err: err}
			}
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		var corrupt *CacheCorruptionError
		if errors.As(err, &corrupt) {
			return nil, corrupt
		}
		return nil, errors.Wrap(err, "failed to get cache record")
	}

	return &rec, nil
}

// SetRecord stores the cache record for a resource
func (cdb *cacheDB) SetRecord(key ResourceKey, rec *resourceRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal cache record")
	}

	return cdb.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(key), data)
	})
}

// DeleteRecord removes the cache record for a resource
func (cdb *cacheDB) DeleteRecord(key ResourceKey) error {
	return cdb.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(key))
	})
}

// ScanRecords iterates over all persisted cache records.  Records that fail
// to parse are logged and skipped rather than aborting the scan.
func (cdb *cacheDB) ScanRecords(fn func(key ResourceKey, rec *resourceRecord) error) error {
	return cdb.db.View(func(txn *badger.Txn) error {
		prefix := []byte(PrefixRecord)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := ResourceKey(item.Key()[len(prefix):])

			var rec resourceRecord
			err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			})
			if err != nil {
				log.Warnf("Failed to unmarshal cache record for %s: %v", key, err)
				continue
			}

			if err := fn(key, &rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct{}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	log.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	log.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	log.Tracef("[BadgerDB] "+format, args...)
}

// Verify badgerLogger satisfies the interface
var _ badger.Logger = (*badgerLogger)(nil)

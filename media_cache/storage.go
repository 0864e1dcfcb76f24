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
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
)

// ByteStore is the durable byte storage backing the cache, addressed in
// content coordinates.  Implementations must allow concurrent WriteAt/ReadAt
// calls at disjoint offsets without extra locking, since byte I/O is
// deliberately dispatched outside the per-record bookkeeping lock.
type ByteStore interface {
	WriteAt(key ResourceKey, offset int64, data []byte) error
	ReadAt(key ResourceKey, offset, length int64) ([]byte, error)
	Delete(key ResourceKey) error
	Close() error
}

// statingStore is optionally implemented by stores that can report whether
// backing data exists for a key; used by the startup consistency check.
type statingStore interface {
	Stat(key ResourceKey) (bool, error)
}

const (
	objectsSubDir = "objects"
	dataFileExt   = ".data"

	// openFileTTL is how long an idle cached file descriptor lives before
	// being closed and evicted.
	openFileTTL = 2 * time.Minute

	// defaultFDCacheSize caps the open-descriptor pool when no explicit
	// size is configured.
	defaultFDCacheSize = 256
)

// refCountedFile wraps an *os.File with atomic reference counting.  The file
// is only closed when the last reference is released, so TTL-cache eviction
// cannot close a descriptor while I/O is in progress on another goroutine.
//
// refCountedFile must not be copied after first use (contains atomic.Int32).
type refCountedFile struct {
	_    noCopy
	f    *os.File
	refs atomic.Int32
}

// noCopy may be added to structs which must not be copied after the first
// use.  go vet's -copylocks checker flags copies of types with a Lock method.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// newRefCountedFile wraps f with an initial reference count of 1.
func newRefCountedFile(f *os.File) *refCountedFile {
	rc := &refCountedFile{f: f}
	rc.refs.Store(1)
	return rc
}

// Acquire increments the reference count.  Callers must pair every
// successful Acquire with exactly one Release.  Returns false (and does not
// increment) if the file has already been fully released.
func (rc *refCountedFile) Acquire() bool {
	for {
		n := rc.refs.Load()
		if n <= 0 {
			return false
		}
		if rc.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release decrements the reference count and closes the file when it reaches
// zero.  Safe to call concurrently.
func (rc *refCountedFile) Release() {
	if n := rc.refs.Add(-1); n == 0 {
		rc.f.Close()
	}
}

// File returns the underlying *os.File for I/O.  The caller must hold a
// reference for the entire duration of the operation.
func (rc *refCountedFile) File() *os.File {
	return rc.f
}

// diskStore stores each resource as one sparse file under a two-level hashed
// directory tree ("ab/cd/<rest>.data").  File descriptors are pooled in a
// TTL cache and reference-counted so eviction never interrupts in-flight
// reads or writes.
type diskStore struct {
	baseDir string

	// openFiles caches reference-counted descriptors.  Each cache hit calls
	// Acquire(); callers Release() when done.  Eviction also calls Release,
	// but the *os.File only closes once the last reference is gone.
	openFiles *ttlcache.Cache[ResourceKey, *refCountedFile]

	closeOnce sync.Once
}

// NewDiskStore creates a disk-backed byte store rooted at baseDir.
// fdCacheSize caps the descriptor pool; 0 uses a default.
func NewDiskStore(baseDir string, fdCacheSize int) (ByteStore, error) {
	objDir := filepath.Join(baseDir, objectsSubDir)
	if err := os.MkdirAll(objDir, 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create objects directory")
	}

	capacity := uint64(defaultFDCacheSize)
	if fdCacheSize > 0 {
		capacity = uint64(fdCacheSize)
	}

	ds := &diskStore{
		baseDir: objDir,
		openFiles: ttlcache.New[ResourceKey, *refCountedFile](
			ttlcache.WithTTL[ResourceKey, *refCountedFile](openFileTTL),
			ttlcache.WithCapacity[ResourceKey, *refCountedFile](capacity),
		),
	}

	// Release the cache's reference on eviction; in-flight I/O keeps its
	// own reference so the descriptor survives until the last Release.
	ds.openFiles.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[ResourceKey, *refCountedFile]) {
		if rc := item.Value(); rc != nil {
			rc.Release()
		}
	})
	go ds.openFiles.Start()

	return ds, nil
}

func (ds *diskStore) dataPath(key ResourceKey) string {
	return filepath.Join(ds.baseDir, filepath.FromSlash(storagePath(key))+dataFileExt)
}

// getFile returns a reference-counted descriptor for the resource's data
// file, creating the file (and parent directories) on first use.  The caller
// must Release() the returned handle.
func (ds *diskStore) getFile(key ResourceKey) (*refCountedFile, error) {
	if item := ds.openFiles.Get(key); item != nil {
		if rc := item.Value(); rc != nil && rc.Acquire() {
			return rc, nil
		}
		// Fully released between Get and Acquire; drop the stale entry.
		ds.openFiles.Delete(key)
	}

	name := ds.dataPath(key)
	fp, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if mkdirErr := os.MkdirAll(filepath.Dir(name), 0750); mkdirErr != nil {
			return nil, mkdirErr
		}
		if fp, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0640); err != nil {
			return nil, err
		}
	}

	rc := newRefCountedFile(fp)
	// One extra reference for the pool itself.
	rc.Acquire()
	ds.openFiles.Set(key, rc, ttlcache.DefaultTTL)
	return rc, nil
}

func (ds *diskStore) WriteAt(key ResourceKey, offset int64, data []byte) error {
	rc, err := ds.getFile(key)
	if err != nil {
		return errors.Wrap(err, "failed to open data file")
	}
	defer rc.Release()

	if _, err := rc.File().WriteAt(data, offset); err != nil {
		return errors.Wrap(err, "failed to write data file")
	}
	return nil
}

func (ds *diskStore) ReadAt(key ResourceKey, offset, length int64) ([]byte, error) {
	rc, err := ds.getFile(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open data file")
	}
	defer rc.Release()

	buf := make([]byte, length)
	if _, err := rc.File().ReadAt(buf, offset); err != nil {
		return nil, errors.Wrap(err, "failed to read data file")
	}
	return buf, nil
}

func (ds *diskStore) Delete(key ResourceKey) error {
	ds.openFiles.Delete(key)
	err := os.Remove(ds.dataPath(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove data file")
	}
	return nil
}

func (ds *diskStore) Stat(key ResourceKey) (bool, error) {
	_, err := os.Stat(ds.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (ds *diskStore) Close() error {
	ds.closeOnce.Do(func() {
		ds.openFiles.Stop()
		ds.openFiles.DeleteAll()
	})
	return nil
}

var _ statingStore = (*diskStore)(nil)

// memStore keeps resource bytes in per-key grown slices.  Used by tests and
// the ephemeral storage mode.
type memStore struct {
	mu   sync.RWMutex
	data map[ResourceKey][]byte
}

// NewMemStore creates an in-memory byte store.
func NewMemStore() ByteStore {
	return &memStore{data: make(map[ResourceKey][]byte)}
}

func (ms *memStore) WriteAt(key ResourceKey, offset int64, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	buf := ms.data[key]
	need := offset + int64(len(data))
	if int64(len(buf)) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	ms.data[key] = buf
	return nil
}

func (ms *memStore) ReadAt(key ResourceKey, offset, length int64) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	buf, ok := ms.data[key]
	if !ok || offset+length > int64(len(buf)) {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "read past stored bytes")
	}
	out := make([]byte, length)
	copy(out, buf[offset:offset+length])
	return out, nil
}

func (ms *memStore) Delete(key ResourceKey) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.data, key)
	return nil
}

func (ms *memStore) Stat(key ResourceKey) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.data[key]
	return ok, nil
}

func (ms *memStore) Close() error { return nil }

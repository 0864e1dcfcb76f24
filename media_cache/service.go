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
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/streamcache/metrics"
)

// HitKind classifies the outcome of probing the cache for a span.
type HitKind int

const (
	HitMiss HitKind = iota
	HitPartial
	HitFull
)

func (k HitKind) String() string {
	switch k {
	case HitFull:
		return "full"
	case HitPartial:
		return "partial"
	}
	return "miss"
}

// CacheHit is the result of a cache probe.  Full carries the entire
// requested span; Partial carries the covered prefix plus the offset at
// which an origin fetch should resume; Miss carries nothing.
type CacheHit struct {
	Kind         HitKind
	Bytes        []byte
	ResumeOffset int64
}

// ResourceStatus is a point-in-time snapshot of a resource's cache state.
type ResourceStatus struct {
	ContentLength int64   `json:"contentLength"`
	ContentType   string  `json:"contentType,omitempty"`
	CachedBytes   int64   `json:"cachedBytes"`
	PercentCached float64 `json:"percentCached"`
	IsFullyCached bool    `json:"isFullyCached"`
	RangeCount    int     `json:"rangeCount"`
}

// CacheService owns the per-resource cache records and exposes the
// cache-first query/serve operations.  Records are created lazily on first
// touch, loaded from the record database, and persisted write-through after
// each mutation (in-memory state is authoritative immediately; disk is
// eventually consistent).
type CacheService struct {
	mu      sync.RWMutex
	records map[ResourceKey]*cacheRecord
	db      *cacheDB
	store   ByteStore
}

func newCacheService(db *cacheDB, store ByteStore) *CacheService {
	return &CacheService{
		records: make(map[ResourceKey]*cacheRecord),
		db:      db,
		store:   store,
	}
}

// record returns the in-memory record for key, lazily loading it from the
// database on first touch.  A corrupt persisted record is dropped with a
// warning and the resource is re-primed from scratch.
func (cs *CacheService) record(key ResourceKey) *cacheRecord {
	cs.mu.RLock()
	rec, ok := cs.records[key]
	cs.mu.RUnlock()
	if ok {
		return rec
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if rec, ok = cs.records[key]; ok {
		return rec
	}

	rec = newCacheRecord(key)
	persisted, err := cs.db.GetRecord(key)
	if err != nil {
		var corrupt *CacheCorruptionError
		if errors.As(err, &corrupt) {
			log.Warnf("Dropping corrupt cache record for %s; resource will be re-primed: %v", key, corrupt.Err)
			if delErr := cs.db.DeleteRecord(key); delErr != nil {
				log.Warnf("Failed to delete corrupt cache record for %s: %v", key, delErr)
			}
		} else {
			log.Warnf("Failed to load cache record for %s; treating as miss: %v", key, err)
		}
	} else if persisted != nil {
		rec.restore(persisted)
	}
	cs.records[key] = rec
	return rec
}

// consistencyCheck drops persisted records whose byte-store backing has gone
// missing, so the range index never claims coverage unbacked by chunk bytes.
func (cs *CacheService) consistencyCheck() {
	stating, ok := cs.store.(statingStore)
	if !ok {
		return
	}
	var orphans []ResourceKey
	err := cs.db.ScanRecords(func(key ResourceKey, rec *resourceRecord) error {
		if len(rec.Chunks) == 0 {
			return nil
		}
		exists, err := stating.Stat(key)
		if err != nil {
			log.Warnf("Consistency check could not stat backing data for %s: %v", key, err)
			return nil
		}
		if !exists {
			orphans = append(orphans, key)
		}
		return nil
	})
	if err != nil {
		log.Warnf("Cache consistency scan failed: %v", err)
		return
	}
	for _, key := range orphans {
		log.Warnf("Cache record for %s has no backing data; dropping", key)
		if err := cs.db.DeleteRecord(key); err != nil {
			log.Warnf("Failed to drop orphaned cache record for %s: %v", key, err)
		}
	}
}

// IsFullyCached reports whether every content byte of the resource is cached.
func (cs *CacheService) IsFullyCached(key ResourceKey) bool {
	rec := cs.record(key)
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.fullyCachedLocked()
}

// PercentCached returns min(100, 100 * cachedBytes / contentLength), or 0
// when the content length is not yet known.
func (cs *CacheService) PercentCached(key ResourceKey) float64 {
	rec := cs.record(key)
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if rec.meta.ContentLength <= 0 {
		return 0.0
	}
	pct := 100.0 * float64(rec.ranges.CachedBytes()) / float64(rec.meta.ContentLength)
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// IsRangeCached reports whether the full span is cached, short-circuiting
// true for any in-bounds request against a fully cached resource.
func (cs *CacheService) IsRangeCached(key ResourceKey, offset, length int64) bool {
	if length <= 0 {
		return false
	}
	rec := cs.record(key)
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if rec.fullyCachedLocked() && offset+length <= rec.meta.ContentLength {
		return true
	}
	return rec.ranges.Contains(offset, length)
}

// Metadata returns a copy of the resource's content metadata.
func (cs *CacheService) Metadata(key ResourceKey) ContentMetadata {
	rec := cs.record(key)
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.meta
}

// MergeMetadata merges newly learned metadata into the record and persists
// the result.
func (cs *CacheService) MergeMetadata(key ResourceKey, meta ContentMetadata) {
	rec := cs.record(key)
	rec.mu.Lock()
	rec.meta.Merge(meta)
	snap := rec.snapshotLocked()
	rec.mu.Unlock()

	if err := cs.db.SetRecord(key, snap); err != nil {
		log.Warnf("Failed to persist metadata for %s: %v", key, err)
	}
}

// Status returns a snapshot of the resource's cache state.
func (cs *CacheService) Status(key ResourceKey) ResourceStatus {
	rec := cs.record(key)
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	status := ResourceStatus{
		ContentLength: rec.meta.ContentLength,
		ContentType:   rec.meta.ContentType,
		CachedBytes:   rec.ranges.CachedBytes(),
		IsFullyCached: rec.fullyCachedLocked(),
		RangeCount:    len(rec.ranges.Ranges()),
	}
	if rec.meta.ContentLength > 0 {
		status.PercentCached = 100.0 * float64(status.CachedBytes) / float64(rec.meta.ContentLength)
		if status.PercentCached > 100.0 {
			status.PercentCached = 100.0
		}
	}
	return status
}

// CoveredPrefix returns the length of the contiguous cached run starting
// exactly at offset.
func (cs *CacheService) CoveredPrefix(key ResourceKey, offset int64) int64 {
	rec := cs.record(key)
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.ranges.CoveredPrefix(offset)
}

// NextCachedStart returns the offset of the first cached byte at or after
// offset, or -1 when nothing beyond offset is cached.
func (cs *CacheService) NextCachedStart(key ResourceKey, offset int64) int64 {
	rec := cs.record(key)
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.ranges.NextCachedStart(offset)
}

// ReadRange reassembles [offset, offset+length) from stored chunks.  It
// walks the actual tracked chunk spans intersecting the query — never
// recomputing boundaries from the merged ranges — reads each contribution
// from the byte store, and concatenates.  A mid-span gap yields (nil, nil):
// a miss, not an error.
func (cs *CacheService) ReadRange(key ResourceKey, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, errors.New("requested length must be positive")
	}

	rec := cs.record(key)
	rec.mu.RLock()
	parts, ok := rec.chunks.contributions(offset, length)
	rec.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	// Byte I/O happens outside the record lock.
	out := make([]byte, 0, length)
	for _, part := range parts {
		data, err := cs.store.ReadAt(key, part.Offset, part.Length)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read chunk at offset %d", part.Offset)
		}
		out = append(out, data...)
	}
	return out, nil
}

// Probe classifies a requested span as Full, Partial, or Miss.  A Full
// answer is only given once the bytes have actually been reassembled, so a
// false full-hit is impossible; Partial carries the covered prefix bytes and
// the resume offset for the remainder.
func (cs *CacheService) Probe(key ResourceKey, offset, length int64) (CacheHit, error) {
	if length <= 0 {
		return CacheHit{}, errors.New("requested length must be positive")
	}

	rec := cs.record(key)
	rec.mu.RLock()
	fullHit := rec.ranges.Contains(offset, length)
	prefix := rec.ranges.CoveredPrefix(offset)
	rec.mu.RUnlock()

	if fullHit {
		data, err := cs.ReadRange(key, offset, length)
		if err != nil {
			return CacheHit{}, err
		}
		if data != nil {
			metrics.CacheHitsTotal.WithLabelValues("full").Inc()
			metrics.BytesFromCacheTotal.Add(float64(len(data)))
			return CacheHit{Kind: HitFull, Bytes: data}, nil
		}
		// The range index claimed coverage the chunk table cannot back;
		// fall through to the partial/miss paths rather than lie.
		log.Warnf("Range index for %s claims [%d, %d) but chunk reassembly found a gap", key, offset, offset+length)
	}

	if prefix > 0 {
		if prefix > length {
			prefix = length
		}
		data, err := cs.ReadRange(key, offset, prefix)
		if err != nil {
			return CacheHit{}, err
		}
		if data != nil {
			metrics.CacheHitsTotal.WithLabelValues("partial").Inc()
			metrics.BytesFromCacheTotal.Add(float64(len(data)))
			return CacheHit{Kind: HitPartial, Bytes: data, ResumeOffset: offset + int64(len(data))}, nil
		}
	}

	metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
	return CacheHit{Kind: HitMiss, ResumeOffset: offset}, nil
}

// WriteChunk is the exactly-once commit path for downloaded bytes: the byte
// store write happens first, and only after it durably returns are the chunk
// table, range index, and persisted record advanced.  A failed store write
// leaves bookkeeping untouched and surfaces as a StorageWriteError.
func (cs *CacheService) WriteChunk(key ResourceKey, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if err := cs.store.WriteAt(key, offset, data); err != nil {
		return &StorageWriteError{Key: key, Err: err}
	}

	rec := cs.record(key)
	rec.mu.Lock()
	rec.chunks.add(offset, int64(len(data)))
	rec.ranges.Insert(offset, int64(len(data)))
	snap := rec.snapshotLocked()
	rec.mu.Unlock()

	if err := cs.db.SetRecord(key, snap); err != nil {
		// In-memory bookkeeping is authoritative; losing the async persist
		// only costs a re-download after a crash.
		log.Warnf("Failed to persist cache record for %s: %v", key, err)
	}
	return nil
}

// Clear atomically removes a resource's metadata, range index, and stored
// bytes.  In-flight readers either see the old state consistently or a clean
// miss afterward; never a torn mix, because the reset happens under the
// record's write lock.
func (cs *CacheService) Clear(key ResourceKey) error {
	cs.mu.Lock()
	rec, ok := cs.records[key]
	delete(cs.records, key)
	cs.mu.Unlock()

	if !ok {
		rec = newCacheRecord(key)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.meta = NewContentMetadata()
	rec.ranges = RangeIndex{}
	rec.chunks = chunkSet{}

	if err := cs.db.DeleteRecord(key); err != nil {
		return errors.Wrap(err, "failed to delete cache record")
	}
	if err := cs.store.Delete(key); err != nil {
		return errors.Wrap(err, "failed to delete stored bytes")
	}
	return nil
}

// ClearAll removes every cached resource, including records persisted by
// prior runs.
func (cs *CacheService) ClearAll() error {
	keys := make(map[ResourceKey]struct{})

	cs.mu.RLock()
	for key := range cs.records {
		keys[key] = struct{}{}
	}
	cs.mu.RUnlock()

	if err := cs.db.ScanRecords(func(key ResourceKey, _ *resourceRecord) error {
		keys[key] = struct{}{}
		return nil
	}); err != nil {
		return errors.Wrap(err, "failed to enumerate cache records")
	}

	for key := range keys {
		if err := cs.Clear(key); err != nil {
			return err
		}
	}
	return nil
}

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
)

// cacheRecord is the per-resource aggregate: content metadata, the merged
// range index, and the physical chunk table.  Its RWMutex is the single
// exclusive owner of the resource's bookkeeping — every mutation of metadata,
// ranges, or chunks happens under the write lock, so no two fetches can
// interleave a merge and corrupt the interval set.  Raw byte-store I/O is
// deliberately *not* serialized through this lock.
type cacheRecord struct {
	mu     sync.RWMutex
	key    ResourceKey
	meta   ContentMetadata
	ranges RangeIndex
	chunks chunkSet
}

func newCacheRecord(key ResourceKey) *cacheRecord {
	return &cacheRecord{key: key, meta: NewContentMetadata()}
}

// restore populates the record from its persisted form.
func (cr *cacheRecord) restore(rec *resourceRecord) {
	cr.meta = rec.Meta
	if cr.meta.ContentLength == 0 && len(rec.Ranges) == 0 {
		// A zero-valued persisted length with no coverage means unknown.
		cr.meta.ContentLength = ContentLengthUnknown
	}
	cr.ranges.restore(rec.Ranges)
	cr.chunks.restore(rec.Chunks)
}

// snapshotLocked captures the persisted form.  The caller holds cr.mu.
func (cr *cacheRecord) snapshotLocked() *resourceRecord {
	return &resourceRecord{
		Meta:   cr.meta,
		Ranges: cr.ranges.Ranges(),
		Chunks: cr.chunks.list(),
	}
}

// fullyCachedLocked recomputes whether every content byte is covered.  The
// value is always derived, never stored, so it cannot drift from the range
// index.  The caller holds cr.mu (read or write).
func (cr *cacheRecord) fullyCachedLocked() bool {
	return cr.meta.ContentLength >= 0 && cr.ranges.CachedBytes() == cr.meta.ContentLength
}

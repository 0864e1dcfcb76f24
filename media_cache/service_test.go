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
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *CacheService {
	t.Helper()
	db, err := newCacheDB("")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	return newCacheService(db, NewMemStore())
}

// testPattern produces deterministic content for [offset, offset+length).
func testPattern(offset, length int64) []byte {
	out := make([]byte, length)
	for i := range out {
		out[i] = byte((offset + int64(i)) % 251)
	}
	return out
}

func TestWriteChunkAndReadRange(t *testing.T) {
	cs := newTestService(t)
	key := ResourceKeyForURL("https://example.com/media/movie.mp4")

	// Out-of-order writes that eventually cover [0, 200)
	require.NoError(t, cs.WriteChunk(key, 0, testPattern(0, 100)))
	require.NoError(t, cs.WriteChunk(key, 150, testPattern(150, 50)))
	require.NoError(t, cs.WriteChunk(key, 100, testPattern(100, 50)))

	// The merged index collapses to a single range while the chunk table
	// keeps the three physical writes
	status := cs.Status(key)
	assert.Equal(t, 1, status.RangeCount)
	assert.Equal(t, int64(200), status.CachedBytes)

	data, err := cs.ReadRange(key, 0, 200)
	require.NoError(t, err)
	require.Equal(t, testPattern(0, 200), data)

	// Reads crossing chunk boundaries reassemble correctly
	data, err = cs.ReadRange(key, 90, 70)
	require.NoError(t, err)
	assert.Equal(t, testPattern(90, 70), data)

	// A read past the cached span is a miss, not an error
	data, err = cs.ReadRange(key, 100, 200)
	require.NoError(t, err)
	assert.Nil(t, data)
}

// failingStore rejects every write while delegating everything else to the
// wrapped store.
type failingStore struct {
	ByteStore
}

func (failingStore) WriteAt(ResourceKey, int64, []byte) error {
	return errors.New("disk full")
}

func TestWriteChunkFailureLeavesBookkeepingUntouched(t *testing.T) {
	db, err := newCacheDB("")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	cs := newCacheService(db, failingStore{NewMemStore()})
	key := ResourceKeyForURL("https://example.com/media/full-disk.mp4")

	err = cs.WriteChunk(key, 0, testPattern(0, 100))
	var storeErr *StorageWriteError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, key, storeErr.Key)

	// Neither the in-memory bookkeeping nor the persisted record may advance
	// past the failed write
	status := cs.Status(key)
	assert.Zero(t, status.CachedBytes)
	assert.Zero(t, status.RangeCount)

	hit, err := cs.Probe(key, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, HitMiss, hit.Kind)

	rec, err := db.GetRecord(key)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPercentCachedMonotonic(t *testing.T) {
	cs := newTestService(t)
	key := ResourceKeyForURL("https://example.com/media/clip.mp4")

	assert.Equal(t, 0.0, cs.PercentCached(key))

	cs.MergeMetadata(key, ContentMetadata{ContentLength: 1000, ContentType: "video/mp4"})
	require.NoError(t, cs.WriteChunk(key, 0, testPattern(0, 400)))
	require.NoError(t, cs.WriteChunk(key, 600, testPattern(600, 400)))
	assert.InDelta(t, 80.0, cs.PercentCached(key), 1e-9)
	assert.False(t, cs.IsFullyCached(key))

	require.NoError(t, cs.WriteChunk(key, 400, testPattern(400, 200)))
	assert.InDelta(t, 100.0, cs.PercentCached(key), 1e-9)
	assert.True(t, cs.IsFullyCached(key))

	// Rewriting an already-cached span never pushes the percentage past 100
	require.NoError(t, cs.WriteChunk(key, 0, testPattern(0, 400)))
	assert.InDelta(t, 100.0, cs.PercentCached(key), 1e-9)

	// Any in-bounds span of a fully cached resource reports cached
	assert.True(t, cs.IsRangeCached(key, 123, 456))
	assert.False(t, cs.IsRangeCached(key, 900, 200))
}

func TestProbeOutcomes(t *testing.T) {
	cs := newTestService(t)
	key := ResourceKeyForURL("https://example.com/media/song.flac")
	require.NoError(t, cs.WriteChunk(key, 0, testPattern(0, 100)))

	hit, err := cs.Probe(key, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, HitFull, hit.Kind)
	assert.Equal(t, testPattern(0, 100), hit.Bytes)

	// A span running past the cached bytes yields the covered prefix and the
	// offset to resume from
	hit, err = cs.Probe(key, 50, 100)
	require.NoError(t, err)
	assert.Equal(t, HitPartial, hit.Kind)
	assert.Equal(t, testPattern(50, 50), hit.Bytes)
	assert.Equal(t, int64(100), hit.ResumeOffset)

	hit, err = cs.Probe(key, 200, 50)
	require.NoError(t, err)
	assert.Equal(t, HitMiss, hit.Kind)
	assert.Empty(t, hit.Bytes)
	assert.Equal(t, int64(200), hit.ResumeOffset)

	_, err = cs.Probe(key, 0, 0)
	assert.Error(t, err)
}

func TestProbeNoFalseFullHit(t *testing.T) {
	cs := newTestService(t)
	key := ResourceKeyForURL("https://example.com/media/broken.mp4")

	// Force the logical index to claim coverage with no chunk backing it;
	// the probe must not answer Full with bytes it cannot produce
	rec := cs.record(key)
	rec.mu.Lock()
	rec.ranges.Insert(0, 100)
	rec.mu.Unlock()

	hit, err := cs.Probe(key, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, HitMiss, hit.Kind)
	assert.Empty(t, hit.Bytes)
}

func TestCorruptRecordReprimed(t *testing.T) {
	cs := newTestService(t)
	key := ResourceKeyForURL("https://example.com/media/corrupt.mp4")

	// Plant an undecodable record on disk (0xc1 is never valid MessagePack)
	require.NoError(t, cs.db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(key), []byte{0xc1, 0xde, 0xad})
	}))

	// First touch treats the resource as a miss
	hit, err := cs.Probe(key, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, HitMiss, hit.Kind)

	// The corrupt row was dropped, so the resource re-primes cleanly
	require.NoError(t, cs.WriteChunk(key, 0, testPattern(0, 100)))
	rec, err := cs.db.GetRecord(key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []ByteRange{{Offset: 0, Length: 100}}, rec.Ranges)
}

func TestRecordPersistenceRoundTrip(t *testing.T) {
	db, err := newCacheDB("")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	store := NewMemStore()
	key := ResourceKeyForURL("https://example.com/media/persist.mp4")

	cs := newCacheService(db, store)
	cs.MergeMetadata(key, ContentMetadata{ContentLength: 300, ContentType: "video/mp4"})
	require.NoError(t, cs.WriteChunk(key, 0, testPattern(0, 100)))
	require.NoError(t, cs.WriteChunk(key, 200, testPattern(200, 100)))

	// A fresh service over the same database and store sees the same state
	cs2 := newCacheService(db, store)
	cs2.consistencyCheck()
	status := cs2.Status(key)
	assert.Equal(t, int64(300), status.ContentLength)
	assert.Equal(t, int64(200), status.CachedBytes)
	assert.Equal(t, 2, status.RangeCount)

	data, err := cs2.ReadRange(key, 200, 100)
	require.NoError(t, err)
	assert.Equal(t, testPattern(200, 100), data)
}

func TestConsistencyCheckDropsOrphans(t *testing.T) {
	db, err := newCacheDB("")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	key := ResourceKeyForURL("https://example.com/media/orphan.mp4")

	cs := newCacheService(db, NewMemStore())
	require.NoError(t, cs.WriteChunk(key, 0, testPattern(0, 100)))

	// A fresh store has no backing bytes for the persisted record; the index
	// must not survive to claim coverage it cannot serve
	cs2 := newCacheService(db, NewMemStore())
	cs2.consistencyCheck()

	rec, err := db.GetRecord(key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	hit, err := cs2.Probe(key, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, HitMiss, hit.Kind)
}

func TestClear(t *testing.T) {
	cs := newTestService(t)
	keyA := ResourceKeyForURL("https://example.com/media/a.mp4")
	keyB := ResourceKeyForURL("https://example.com/media/b.mp4")
	require.NoError(t, cs.WriteChunk(keyA, 0, testPattern(0, 100)))
	require.NoError(t, cs.WriteChunk(keyB, 0, testPattern(0, 100)))

	require.NoError(t, cs.Clear(keyA))
	hit, err := cs.Probe(keyA, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, HitMiss, hit.Kind)

	// The other resource is untouched
	hit, err = cs.Probe(keyB, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, HitFull, hit.Kind)

	require.NoError(t, cs.ClearAll())
	hit, err = cs.Probe(keyB, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, HitMiss, hit.Kind)
}

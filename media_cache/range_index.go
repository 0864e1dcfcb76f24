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
	"sort"
)

// ByteRange is a half-open interval [Offset, Offset+Length) of content bytes.
type ByteRange struct {
	Offset int64 `msgpack:"o"`
	Length int64 `msgpack:"l"`
}

// End returns the exclusive end offset of the range.
func (br ByteRange) End() int64 {
	return br.Offset + br.Length
}

// RangeIndex tracks the merged logical coverage of a cached resource: a
// sorted set of pairwise non-overlapping, non-adjacent byte ranges.  Any
// insertion that would overlap or touch an existing entry is merged into it,
// so the invariant holds after every mutation.
//
// RangeIndex is not safe for concurrent use; callers hold the owning
// record's lock.
type RangeIndex struct {
	ranges []ByteRange
}

// Insert adds [offset, offset+length) to the covered set, merging with every
// overlapping or adjacent existing entry.  A zero-length insert is a no-op,
// and re-inserting an already-covered span leaves the set unchanged.
func (ri *RangeIndex) Insert(offset, length int64) {
	if length <= 0 {
		return
	}
	ri.ranges = append(ri.ranges, ByteRange{Offset: offset, Length: length})
	sort.Slice(ri.ranges, func(i, j int) bool {
		return ri.ranges[i].Offset < ri.ranges[j].Offset
	})

	// Single sweep: fold any entry that starts at or before the current
	// entry's end into it.  Adjacency (next.Offset == cur.End) merges too.
	merged := ri.ranges[:1]
	for _, next := range ri.ranges[1:] {
		cur := &merged[len(merged)-1]
		if next.Offset <= cur.End() {
			if next.End() > cur.End() {
				cur.Length = next.End() - cur.Offset
			}
		} else {
			merged = append(merged, next)
		}
	}
	ri.ranges = merged
}

// Contains reports whether a single merged entry fully covers
// [offset, offset+length).
func (ri *RangeIndex) Contains(offset, length int64) bool {
	if length <= 0 {
		return false
	}
	for _, r := range ri.ranges {
		if r.Offset > offset {
			return false
		}
		if r.End() >= offset+length {
			return true
		}
	}
	return false
}

// CoveredPrefix returns the length of the contiguous cached run beginning
// exactly at offset, or 0 when offset itself is uncached.
func (ri *RangeIndex) CoveredPrefix(offset int64) int64 {
	for _, r := range ri.ranges {
		if r.Offset > offset {
			return 0
		}
		if r.End() > offset {
			return r.End() - offset
		}
	}
	return 0
}

// NextCachedStart returns the offset of the first cached byte at or after
// offset, or -1 when nothing beyond offset is cached.
func (ri *RangeIndex) NextCachedStart(offset int64) int64 {
	for _, r := range ri.ranges {
		if r.End() > offset {
			if r.Offset > offset {
				return r.Offset
			}
			return offset
		}
	}
	return -1
}

// Gaps returns the maximal uncached sub-spans within [offset, offset+length),
// in offset order.  An empty result means the span is fully covered.
func (ri *RangeIndex) Gaps(offset, length int64) []ByteRange {
	if length <= 0 {
		return nil
	}
	end := offset + length
	var gaps []ByteRange
	cursor := offset
	for _, r := range ri.ranges {
		if r.End() <= cursor {
			continue
		}
		if r.Offset >= end {
			break
		}
		if r.Offset > cursor {
			gaps = append(gaps, ByteRange{Offset: cursor, Length: r.Offset - cursor})
		}
		cursor = r.End()
		if cursor >= end {
			break
		}
	}
	if cursor < end {
		gaps = append(gaps, ByteRange{Offset: cursor, Length: end - cursor})
	}
	return gaps
}

// CachedBytes returns the total number of covered bytes.
func (ri *RangeIndex) CachedBytes() (total int64) {
	for _, r := range ri.ranges {
		total += r.Length
	}
	return
}

// Ranges returns a defensive copy of the merged entries.
func (ri *RangeIndex) Ranges() []ByteRange {
	out := make([]ByteRange, len(ri.ranges))
	copy(out, ri.ranges)
	return out
}

// restore replaces the index contents with a persisted range list,
// re-normalizing in case the stored form predates a merge fix.
func (ri *RangeIndex) restore(ranges []ByteRange) {
	ri.ranges = nil
	for _, r := range ranges {
		ri.Insert(r.Offset, r.Length)
	}
}

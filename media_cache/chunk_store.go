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

// chunkSet tracks the physical chunk writes backing a cached resource, one
// entry per surviving write.  Chunks are kept independently of the merged
// RangeIndex: a merged logical range may be backed by several non-contiguous
// physical writes, so readers must walk this table rather than recompute
// chunk boundaries from the logical ranges.
//
// chunkSet is not safe for concurrent use; callers hold the owning record's
// lock.
type chunkSet struct {
	chunks []ByteRange
}

// add records a chunk write at [offset, offset+length).  The last write wins
// at every byte: older entries overlapped by the new write are trimmed (or
// split, when the new write lands in their middle) so the table stays sorted
// and non-overlapping.  An exact-offset rewrite therefore replaces the older
// entry, which keeps replayed checkpoint flushes safe.
func (cs *chunkSet) add(offset, length int64) {
	if length <= 0 {
		return
	}
	end := offset + length
	updated := make([]ByteRange, 0, len(cs.chunks)+1)
	for _, c := range cs.chunks {
		if c.End() <= offset || c.Offset >= end {
			updated = append(updated, c)
			continue
		}
		// Keep any portion of the older chunk outside the new write.
		if c.Offset < offset {
			updated = append(updated, ByteRange{Offset: c.Offset, Length: offset - c.Offset})
		}
		if c.End() > end {
			updated = append(updated, ByteRange{Offset: end, Length: c.End() - end})
		}
	}
	updated = append(updated, ByteRange{Offset: offset, Length: length})
	sort.Slice(updated, func(i, j int) bool {
		return updated[i].Offset < updated[j].Offset
	})
	cs.chunks = updated
}

// contributions walks the chunk entries intersecting [offset, offset+length)
// in offset order, clamps each to the query span, and returns the resulting
// sub-ranges.  The boolean result is false when a gap is found mid-span,
// meaning some byte of the query is not backed by any chunk write.
func (cs *chunkSet) contributions(offset, length int64) ([]ByteRange, bool) {
	if length <= 0 {
		return nil, false
	}
	end := offset + length
	cursor := offset
	var parts []ByteRange
	for _, c := range cs.chunks {
		if c.End() <= cursor {
			continue
		}
		if c.Offset >= end {
			break
		}
		if c.Offset > cursor {
			return nil, false
		}
		partEnd := c.End()
		if partEnd > end {
			partEnd = end
		}
		parts = append(parts, ByteRange{Offset: cursor, Length: partEnd - cursor})
		cursor = partEnd
		if cursor >= end {
			break
		}
	}
	if cursor < end {
		return nil, false
	}
	return parts, true
}

// list returns a defensive copy of the chunk table.
func (cs *chunkSet) list() []ByteRange {
	out := make([]ByteRange, len(cs.chunks))
	copy(out, cs.chunks)
	return out
}

// restore replaces the chunk table with persisted entries.
func (cs *chunkSet) restore(chunks []ByteRange) {
	cs.chunks = nil
	for _, c := range chunks {
		cs.add(c.Offset, c.Length)
	}
}

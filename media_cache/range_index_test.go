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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeIndexMerge(t *testing.T) {
	var ri RangeIndex
	ri.Insert(0, 100)
	ri.Insert(150, 50)
	require.Equal(t, []ByteRange{{Offset: 0, Length: 100}, {Offset: 150, Length: 50}}, ri.Ranges())

	// Filling the hole collapses everything into a single range
	ri.Insert(100, 50)
	require.Equal(t, []ByteRange{{Offset: 0, Length: 200}}, ri.Ranges())
	assert.Equal(t, int64(200), ri.CachedBytes())

	// Re-inserting a covered span is a no-op
	ri.Insert(20, 50)
	assert.Equal(t, []ByteRange{{Offset: 0, Length: 200}}, ri.Ranges())

	// Adjacent ranges merge even without overlap
	ri.Insert(200, 100)
	assert.Equal(t, []ByteRange{{Offset: 0, Length: 300}}, ri.Ranges())
}

func TestRangeIndexMergeOverlapping(t *testing.T) {
	var ri RangeIndex
	ri.Insert(100, 100)
	ri.Insert(50, 100)
	ri.Insert(180, 100)
	assert.Equal(t, []ByteRange{{Offset: 50, Length: 230}}, ri.Ranges())

	// An insert spanning several entries folds them all
	var ri2 RangeIndex
	ri2.Insert(0, 10)
	ri2.Insert(20, 10)
	ri2.Insert(40, 10)
	ri2.Insert(5, 40)
	assert.Equal(t, []ByteRange{{Offset: 0, Length: 50}}, ri2.Ranges())
}

func TestRangeIndexContains(t *testing.T) {
	var ri RangeIndex
	ri.Insert(100, 100)

	assert.True(t, ri.Contains(100, 100))
	assert.True(t, ri.Contains(150, 50))
	assert.False(t, ri.Contains(150, 51))
	assert.False(t, ri.Contains(99, 2))
	assert.False(t, ri.Contains(0, 10))
	assert.False(t, ri.Contains(100, 0))
}

func TestRangeIndexCoveredPrefix(t *testing.T) {
	var ri RangeIndex
	ri.Insert(0, 100)
	ri.Insert(200, 100)

	assert.Equal(t, int64(100), ri.CoveredPrefix(0))
	assert.Equal(t, int64(60), ri.CoveredPrefix(40))
	assert.Equal(t, int64(0), ri.CoveredPrefix(100))
	assert.Equal(t, int64(0), ri.CoveredPrefix(150))
	assert.Equal(t, int64(100), ri.CoveredPrefix(200))
	assert.Equal(t, int64(0), ri.CoveredPrefix(500))
}

func TestRangeIndexNextCachedStart(t *testing.T) {
	var ri RangeIndex
	ri.Insert(100, 100)
	ri.Insert(400, 100)

	assert.Equal(t, int64(100), ri.NextCachedStart(0))
	assert.Equal(t, int64(150), ri.NextCachedStart(150))
	assert.Equal(t, int64(400), ri.NextCachedStart(200))
	assert.Equal(t, int64(-1), ri.NextCachedStart(500))
}

func TestRangeIndexGaps(t *testing.T) {
	var ri RangeIndex
	ri.Insert(100, 100)
	ri.Insert(400, 100)

	gaps := ri.Gaps(0, 600)
	require.Equal(t, []ByteRange{
		{Offset: 0, Length: 100},
		{Offset: 200, Length: 200},
		{Offset: 500, Length: 100},
	}, gaps)

	assert.Empty(t, ri.Gaps(120, 50))
	assert.Equal(t, []ByteRange{{Offset: 250, Length: 50}}, ri.Gaps(250, 50))
}

func TestRangeIndexRestoreNormalizes(t *testing.T) {
	var ri RangeIndex
	ri.restore([]ByteRange{
		{Offset: 100, Length: 100},
		{Offset: 0, Length: 150},
	})
	assert.Equal(t, []ByteRange{{Offset: 0, Length: 200}}, ri.Ranges())
}

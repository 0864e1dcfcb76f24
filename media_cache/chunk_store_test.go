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

func TestChunkSetLastWriteWins(t *testing.T) {
	var cs chunkSet
	cs.add(0, 100)
	cs.add(200, 100)
	require.Equal(t, []ByteRange{{Offset: 0, Length: 100}, {Offset: 200, Length: 100}}, cs.list())

	// A new write overlapping the tail of an older chunk trims it
	cs.add(50, 100)
	assert.Equal(t, []ByteRange{
		{Offset: 0, Length: 50},
		{Offset: 50, Length: 100},
		{Offset: 200, Length: 100},
	}, cs.list())

	// A rewrite at the exact same offset replaces the older entry
	cs.add(50, 100)
	assert.Equal(t, []ByteRange{
		{Offset: 0, Length: 50},
		{Offset: 50, Length: 100},
		{Offset: 200, Length: 100},
	}, cs.list())
}

func TestChunkSetSplit(t *testing.T) {
	var cs chunkSet
	cs.add(0, 300)
	// A write in the middle splits the surrounding chunk
	cs.add(100, 100)
	assert.Equal(t, []ByteRange{
		{Offset: 0, Length: 100},
		{Offset: 100, Length: 100},
		{Offset: 200, Length: 100},
	}, cs.list())
}

func TestChunkContributions(t *testing.T) {
	var cs chunkSet
	cs.add(0, 100)
	cs.add(100, 50)
	cs.add(150, 50)

	// Contiguous chunks back the whole query
	parts, ok := cs.contributions(0, 200)
	require.True(t, ok)
	assert.Equal(t, []ByteRange{
		{Offset: 0, Length: 100},
		{Offset: 100, Length: 50},
		{Offset: 150, Length: 50},
	}, parts)

	// A query clamped inside a single chunk
	parts, ok = cs.contributions(20, 50)
	require.True(t, ok)
	assert.Equal(t, []ByteRange{{Offset: 20, Length: 50}}, parts)

	// A query straddling a chunk boundary is clamped on both sides
	parts, ok = cs.contributions(90, 20)
	require.True(t, ok)
	assert.Equal(t, []ByteRange{{Offset: 90, Length: 10}, {Offset: 100, Length: 10}}, parts)
}

func TestChunkContributionsGap(t *testing.T) {
	var cs chunkSet
	cs.add(0, 100)
	cs.add(200, 100)

	// A mid-span gap is a miss, not a short read
	parts, ok := cs.contributions(0, 300)
	assert.False(t, ok)
	assert.Nil(t, parts)

	// A query starting inside the gap misses as well
	_, ok = cs.contributions(150, 10)
	assert.False(t, ok)

	// A query running past the last chunk misses
	_, ok = cs.contributions(250, 100)
	assert.False(t, ok)
}

func TestChunkSetRestore(t *testing.T) {
	var cs chunkSet
	cs.restore([]ByteRange{
		{Offset: 200, Length: 100},
		{Offset: 0, Length: 100},
	})
	assert.Equal(t, []ByteRange{{Offset: 0, Length: 100}, {Offset: 200, Length: 100}}, cs.list())
}

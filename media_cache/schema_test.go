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

func TestResourceKeyCaseSensitivePath(t *testing.T) {
	// Paths are case-sensitive; two resources differing only in path case
	// must never share a record or a byte file.
	upper := ResourceKeyForURL("https://example.com/media/Movie.MP4")
	lower := ResourceKeyForURL("https://example.com/media/movie.mp4")
	require.NotEqual(t, upper, lower)
}

func TestResourceKeyCaseInsensitiveSchemeHost(t *testing.T) {
	base := ResourceKeyForURL("https://example.com/media/movie.mp4")
	assert.Equal(t, base, ResourceKeyForURL("HTTPS://example.com/media/movie.mp4"))
	assert.Equal(t, base, ResourceKeyForURL("https://EXAMPLE.COM/media/movie.mp4"))
}

func TestResourceKeyIgnoresQuery(t *testing.T) {
	base := ResourceKeyForURL("https://example.com/media/movie.mp4")
	assert.Equal(t, base, ResourceKeyForURL("https://example.com/media/movie.mp4?token=abc123"))
}

func TestResourceKeyCleansPath(t *testing.T) {
	base := ResourceKeyForURL("https://example.com/media/movie.mp4")
	assert.Equal(t, base, ResourceKeyForURL("https://example.com/media//movie.mp4"))
	assert.Equal(t, base, ResourceKeyForURL("https://example.com/media/extra/../movie.mp4"))
}

func TestStoragePathLayout(t *testing.T) {
	assert.Equal(t, "42/56/1abfe", storagePath(ResourceKey("42561abfe")))
	assert.Equal(t, "ab", storagePath(ResourceKey("ab")))
}

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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// ContentLengthUnknown is the sentinel for a resource whose total size has
// not been learned from the origin yet.
const ContentLengthUnknown int64 = -1

// Key prefixes for BadgerDB
const (
	// PrefixRecord stores the per-resource cache record (metadata + merged
	// ranges + physical chunk table), serialized with MessagePack.
	PrefixRecord = "r:"
)

// ResourceKey is the stable cache identity of a remote resource, derived
// from its canonical URL.
type ResourceKey string

// ContentMetadata stores what the cache knows about the remote resource.
// ContentLength is ContentLengthUnknown until a response reveals the total
// size; for partial responses the size comes from the Content-Range
// denominator, never the Content-Length of the remaining bytes.
type ContentMetadata struct {
	ContentLength int64     `msgpack:"cl"`
	ContentType   string    `msgpack:"ct"`
	AcceptsRanges bool      `msgpack:"ar"`
	ETag          string    `msgpack:"etag,omitempty"`
	LastModified  time.Time `msgpack:"lm,omitempty"`
}

// NewContentMetadata returns metadata for a resource nothing is known about.
func NewContentMetadata() ContentMetadata {
	return ContentMetadata{ContentLength: ContentLengthUnknown}
}

// Merge fills unknown fields from other.  A known content length is never
// replaced by an unknown one, so a later partial response cannot erase what
// an earlier response established.
func (m *ContentMetadata) Merge(other ContentMetadata) {
	if other.ContentLength >= 0 {
		m.ContentLength = other.ContentLength
	}
	if other.ContentType != "" {
		m.ContentType = other.ContentType
	}
	if other.AcceptsRanges {
		m.AcceptsRanges = true
	}
	if other.ETag != "" {
		m.ETag = other.ETag
	}
	if !other.LastModified.IsZero() {
		m.LastModified = other.LastModified
	}
}

// resourceRecord is the persisted form of a cache record.
type resourceRecord struct {
	Meta   ContentMetadata `msgpack:"meta"`
	Ranges []ByteRange     `msgpack:"rg"`
	Chunks []ByteRange     `msgpack:"ch"`
}

// ResourceKeyForURL computes the cache key for a resource URL: the SHA256
// hash of the normalized URL, hex-encoded.
func ResourceKeyForURL(resourceURL string) ResourceKey {
	normalized := normalizeURL(resourceURL)
	hash := sha256.Sum256([]byte(normalized))
	return ResourceKey(hex.EncodeToString(hash[:]))
}

// normalizeURL normalizes a resource URL for consistent hashing.  Scheme and
// host are case-insensitive per RFC 3986 and get lowercased; the path is
// case-sensitive and is only cleaned, never case-folded.
func normalizeURL(resourceURL string) string {
	u, err := url.Parse(resourceURL)
	if err != nil {
		return path.Clean(resourceURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path.Clean(u.Path)
}

// storagePath returns the 2-level directory path for a resource's data file.
// Given key "42561abfe18be...", returns "42/56/1abfe18be...".
func storagePath(key ResourceKey) string {
	hash := string(key)
	if len(hash) < 4 {
		return hash
	}
	return fmt.Sprintf("%s/%s/%s", hash[0:2], hash[2:4], hash[4:])
}

// recordKey returns the BadgerDB key for a resource's cache record
func recordKey(key ResourceKey) []byte {
	return []byte(PrefixRecord + string(key))
}

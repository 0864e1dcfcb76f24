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
	"fmt"
)

// NetworkError indicates a transport-level failure while talking to the
// origin: connect/timeout errors, unexpected status codes, or a truncated
// body.  Partial data received before the failure is still flushed; retry
// policy belongs to the caller.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RangeMismatchError indicates the origin's response contradicts either the
// requested byte range or the previously recorded content length.  The fetch
// fails, but already-cached ranges for other spans remain valid.
type RangeMismatchError struct {
	URL      string
	Expected int64
	Actual   int64
}

func (e *RangeMismatchError) Error() string {
	return fmt.Sprintf("range mismatch for %s: expected total %d, response declared %d",
		e.URL, e.Expected, e.Actual)
}

// StorageWriteError indicates a durable byte-store write failed.  In-memory
// bookkeeping is never advanced past the failed write, so each byte is still
// written at most once when the caller retries.
type StorageWriteError struct {
	Key ResourceKey
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write failed for %s: %v", e.Key, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// CacheCorruptionError indicates persisted metadata for a resource failed to
// parse.  The resource is treated as a cache miss and re-primed from the
// origin rather than crashing the process.
type CacheCorruptionError struct {
	Key ResourceKey
	Err error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache record for %s: %v", e.Key, e.Err)
}

func (e *CacheCorruptionError) Unwrap() error { return e.Err }

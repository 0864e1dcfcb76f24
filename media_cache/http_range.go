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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RangeRequest is one parsed Range header spec.  Start is -1 for the suffix
// form ("bytes=-N"); End is -1 (inclusive otherwise) for the open-ended form
// ("bytes=N-").
type RangeRequest struct {
	Start int64
	End   int64
}

// ErrUnsatisfiableRange indicates a syntactically valid range that lies
// beyond the resource; HTTP handlers map it to a 416.
var ErrUnsatisfiableRange = errors.New("requested range not satisfiable")

// ParseRangeHeader parses a single-range "bytes=" header value.  Multi-range
// requests are rejected; a progressive playback client issues one span at a
// time.
func ParseRangeHeader(hdr string) (RangeRequest, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(hdr, prefix) {
		return RangeRequest{}, errors.Errorf("unsupported range unit in header %q", hdr)
	}
	spec := strings.TrimPrefix(hdr, prefix)
	if strings.Contains(spec, ",") {
		return RangeRequest{}, errors.New("multi-range requests are not supported")
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return RangeRequest{}, errors.Errorf("invalid range spec %q", spec)
	}

	req := RangeRequest{Start: -1, End: -1}
	if startStr == "" {
		// Suffix form: the end field carries the suffix length.
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return RangeRequest{}, errors.Errorf("invalid suffix length in range spec %q", spec)
		}
		req.End = suffix
		return req, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return RangeRequest{}, errors.Errorf("invalid range start in spec %q", spec)
	}
	req.Start = start
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return RangeRequest{}, errors.Errorf("invalid range end in spec %q", spec)
		}
		req.End = end
	}
	return req, nil
}

// Resolve converts the parsed spec into an absolute (offset, length) pair
// given the resource's content length.  Open-ended and suffix forms require
// a known length; spans starting past the end are unsatisfiable.
func (r RangeRequest) Resolve(contentLength int64) (offset, length int64, err error) {
	if r.Start < 0 {
		// Suffix form.
		if contentLength < 0 {
			return 0, 0, errors.New("suffix range requires a known content length")
		}
		offset = contentLength - r.End
		if offset < 0 {
			offset = 0
		}
		if contentLength-offset == 0 {
			// A suffix of an empty resource selects no bytes.
			return 0, 0, ErrUnsatisfiableRange
		}
		return offset, contentLength - offset, nil
	}

	if contentLength >= 0 && r.Start >= contentLength {
		return 0, 0, ErrUnsatisfiableRange
	}

	if r.End < 0 {
		// Open-ended form.
		if contentLength < 0 {
			return 0, 0, errors.New("open-ended range requires a known content length")
		}
		return r.Start, contentLength - r.Start, nil
	}

	end := r.End
	if contentLength >= 0 && end >= contentLength {
		end = contentLength - 1
	}
	return r.Start, end - r.Start + 1, nil
}

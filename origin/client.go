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

// Package origin talks to the remote source of truth: byte-range HTTP
// requests against the content's origin server.
package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Info describes what a single origin response revealed about the resource.
// TotalSize is -1 when the origin did not disclose the object size; for 206
// responses it comes from the Content-Range denominator, since the
// Content-Length of a resumed fetch covers only the remaining bytes.
type Info struct {
	TotalSize     int64
	ContentType   string
	AcceptsRanges bool
	ETag          string
	LastModified  time.Time
}

// Client issues byte-range requests against origin servers.
type Client struct {
	http      *http.Client
	userAgent string
	statGroup singleflight.Group
}

// NewClient wraps an *http.Client for origin access.  A nil argument uses
// http.DefaultClient.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, userAgent: "streamcache/1"}
}

// Stat learns the resource's size, content type, and range support without
// downloading the body.  It issues a HEAD request, falling back to a 1-byte
// range GET for origins that reject HEAD.  Concurrent stats for the same URL
// are deduplicated.
func (c *Client) Stat(ctx context.Context, resourceURL string) (Info, error) {
	result, err, _ := c.statGroup.Do(resourceURL, func() (interface{}, error) {
		info, err := c.statHead(ctx, resourceURL)
		if err == nil {
			return info, nil
		}
		log.Debugln("HEAD stat failed, retrying with a 1-byte range GET:", err)

		info, body, err := c.Fetch(ctx, resourceURL, 0, 1)
		if err != nil {
			return Info{}, err
		}
		// Drain the single byte so the connection can be reused.
		_, _ = io.Copy(io.Discard, body)
		body.Close()
		return info, nil
	})
	if err != nil {
		return Info{}, err
	}
	return result.(Info), nil
}

func (c *Client) statHead(ctx context.Context, resourceURL string) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, resourceURL, nil)
	if err != nil {
		return Info{}, errors.Wrap(err, "invalid origin URL")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, errors.Wrap(err, "HEAD request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, errors.Errorf("unexpected status %d for HEAD request", resp.StatusCode)
	}
	return infoFromResponse(resp), nil
}

// Fetch issues a ranged GET for [start, end) and returns the validated
// response info plus the streaming body.  end <= 0 requests everything from
// start onward.  A 200 response is accepted only when start is 0 (the origin
// ignored the range header); any other disagreement between the requested
// range and the response is an error.
func (c *Client) Fetch(ctx context.Context, resourceURL string, start, end int64) (Info, io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return Info{}, nil, errors.Wrap(err, "invalid origin URL")
	}
	req.Header.Set("User-Agent", c.userAgent)
	if start > 0 || end > 0 {
		if end > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, nil, errors.Wrap(err, "origin request failed")
	}

	info := infoFromResponse(resp)
	switch resp.StatusCode {
	case http.StatusPartialContent:
		respStart, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return Info{}, nil, errors.Wrap(err, "failed to parse Content-Range header")
		}
		if respStart != start {
			resp.Body.Close()
			return Info{}, nil, errors.Errorf("origin returned range starting at %d, requested %d", respStart, start)
		}
		info.TotalSize = total
		info.AcceptsRanges = true
	case http.StatusOK:
		if start != 0 {
			resp.Body.Close()
			return Info{}, nil, errors.Errorf("origin ignored range request starting at %d", start)
		}
		if resp.ContentLength >= 0 {
			info.TotalSize = resp.ContentLength
		}
	default:
		resp.Body.Close()
		return Info{}, nil, errors.Errorf("unexpected status %d from origin", resp.StatusCode)
	}

	return info, resp.Body, nil
}

func infoFromResponse(resp *http.Response) Info {
	info := Info{
		TotalSize:   -1,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
	}
	if resp.ContentLength >= 0 && resp.StatusCode == http.StatusOK {
		info.TotalSize = resp.ContentLength
	}
	for _, unit := range resp.Header.Values("Accept-Ranges") {
		if strings.Contains(unit, "bytes") {
			info.AcceptsRanges = true
		}
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	return info
}

// parseContentRange parses "bytes S-E/T" (or "bytes S-E/*") and returns the
// inclusive start/end offsets plus the declared total, -1 when unknown.
func parseContentRange(header string) (start, end, total int64, err error) {
	if header == "" {
		return 0, 0, 0, errors.New("Content-Range header is missing")
	}
	value := strings.TrimSpace(strings.TrimPrefix(header, "bytes"))
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, errors.Errorf("malformed Content-Range header: %s", header)
	}

	span := strings.SplitN(strings.TrimSpace(parts[0]), "-", 2)
	if len(span) != 2 {
		return 0, 0, 0, errors.Errorf("malformed Content-Range span: %s", header)
	}
	if start, err = strconv.ParseInt(span[0], 10, 64); err != nil {
		return 0, 0, 0, errors.Wrap(err, "invalid Content-Range start")
	}
	if end, err = strconv.ParseInt(span[1], 10, 64); err != nil {
		return 0, 0, 0, errors.Wrap(err, "invalid Content-Range end")
	}

	totalStr := strings.TrimSpace(parts[1])
	if totalStr == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(totalStr, 10, 64); err != nil {
		return 0, 0, 0, errors.Wrap(err, "invalid Content-Range total")
	}
	return start, end, total, nil
}

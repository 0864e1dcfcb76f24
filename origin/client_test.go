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

package origin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatViaHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "12345")
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	info, err := client.Stat(context.Background(), srv.URL+"/movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), info.TotalSize)
	assert.Equal(t, "video/mp4", info.ContentType)
	assert.True(t, info.AcceptsRanges)
	assert.Equal(t, `"abc123"`, info.ETag)
}

func TestStatFallsBackToRangeGet(t *testing.T) {
	data := []byte("hello, progressive world")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		http.ServeContent(w, r, "object.bin", time.Unix(1700000000, 0), bytes.NewReader(data))
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	info, err := client.Stat(context.Background(), srv.URL+"/object.bin")
	require.NoError(t, err)
	// The size comes from the Content-Range denominator of the 1-byte probe
	assert.Equal(t, int64(len(data)), info.TotalSize)
	assert.True(t, info.AcceptsRanges)
}

func TestFetchPartialContent(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=100-299", r.Header.Get("Range"))
		http.ServeContent(w, r, "object.bin", time.Unix(1700000000, 0), bytes.NewReader(data))
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	info, body, err := client.Fetch(context.Background(), srv.URL+"/object.bin", 100, 300)
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, int64(1000), info.TotalSize)
	assert.True(t, info.AcceptsRanges)

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, data[100:300], got)
}

func TestFetchAcceptsFullResponseAtZero(t *testing.T) {
	data := []byte("origin that ignores the range header entirely")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	client := NewClient(srv.Client())

	// A 200 to a range starting at zero still yields every needed byte
	info, body, err := client.Fetch(context.Background(), srv.URL+"/object.bin", 0, 10)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(len(data)), info.TotalSize)
	assert.False(t, info.AcceptsRanges)

	// A 200 to a mid-object range cannot be used
	_, _, err = client.Fetch(context.Background(), srv.URL+"/object.bin", 100, 200)
	assert.Error(t, err)
}

func TestFetchRejectsWrongRangeStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-99/1000")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	_, _, err := client.Fetch(context.Background(), srv.URL+"/object.bin", 100, 200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "range starting at 0")
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	_, _, err := client.Fetch(context.Background(), srv.URL+"/missing.bin", 0, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestParseContentRange(t *testing.T) {
	start, end, total, err := parseContentRange("bytes 100-299/1000")
	require.NoError(t, err)
	assert.Equal(t, int64(100), start)
	assert.Equal(t, int64(299), end)
	assert.Equal(t, int64(1000), total)

	// An unknown total is reported as -1, not an error
	start, _, total, err = parseContentRange("bytes 0-99/*")
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(-1), total)

	for _, bad := range []string{"", "bytes 100-299", "bytes abc-299/1000", "items 0-99/1000"} {
		_, _, _, err := parseContentRange(bad)
		assert.Error(t, err, "header %q should be rejected", bad)
	}
}

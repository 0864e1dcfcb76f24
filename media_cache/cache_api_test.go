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
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataRequest(t *testing.T, resourceURL, rangeHdr string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/?url="+url.QueryEscape(resourceURL), nil)
	if rangeHdr != "" {
		req.Header.Set("Range", rangeHdr)
	}
	return req
}

func TestServeDataZeroLengthObject(t *testing.T) {
	o := newTestOrigin(t, nil)
	sc := newTestEngine(t, o.srv.Client())
	objURL := o.srv.URL + "/object.bin"

	// Any range against an empty object is unsatisfiable; no 206 headers may
	// leak before the rejection
	rec := httptest.NewRecorder()
	sc.serveData(rec, dataRequest(t, objURL, "bytes=-500"))
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */0", rec.Header().Get("Content-Range"))

	rec = httptest.NewRecorder()
	sc.serveData(rec, dataRequest(t, objURL, "bytes=0-"))
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)

	// A plain GET answers 200 with an empty body
	rec = httptest.NewRecorder()
	sc.serveData(rec, dataRequest(t, objURL, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.Bytes())
}

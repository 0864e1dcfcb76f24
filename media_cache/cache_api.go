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
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/streamcache/param"
)

type apiResp struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

const (
	respOK     = "success"
	respFailed = "error"
)

// LaunchListener starts the data-plane listener on the configured unix
// socket as a separate goroutine.  Playback clients issue GET/HEAD requests
// with the resource URL in the "url" query parameter and an optional Range
// header.
func (sc *StreamCache) LaunchListener(ctx context.Context, egrp *errgroup.Group) (err error) {
	socketName := param.StreamCache_Socket.GetString()
	socketDir := filepath.Dir(socketName)

	if err = os.MkdirAll(socketDir, fs.FileMode(0755)); err != nil {
		err = errors.Wrap(err, "failed to create socket directory")
		return
	}

	var startupDir string
	// Listen on a socket inside a temporary directory, then rename it into
	// place.  This avoids outages if multiple processes race to create the
	// socket, or if a stale socket survived an unclean shutdown.
	//
	// Note: Linux has relatively short limits on the name length of a Unix
	// socket.  We use the terse "sc-*" prefix to avoid exceeding the limit.
	if startupDir, err = os.MkdirTemp(socketDir, "sc-*"); err != nil {
		err = errors.Wrap(err, "failed to create temporary directory for launching cache socket")
		return
	}
	// Allow other users to access the socket
	if err = os.Chmod(startupDir, 0755); err != nil {
		err = errors.Wrap(err, "failed to set permissions on temporary directory for cache socket")
		return
	}
	defer func() {
		matches, err2 := filepath.Glob(filepath.Join(socketDir, "sc-*"))
		if err2 != nil {
			err2 = errors.Wrap(err2, "failed to list temporary directories for cleaning up cache socket")
			if err == nil {
				err = err2
			}
			return
		}
		for _, dir := range matches {
			if err2 := os.RemoveAll(dir); err2 != nil {
				log.Warningf("Failed to remove temporary directory %s: %v", dir, err2)
			}
		}
	}()

	startupSockName := filepath.Join(startupDir, filepath.Base(socketName))
	var listener *net.UnixListener
	if listener, err = net.ListenUnix("unix", &net.UnixAddr{Name: startupSockName, Net: "unix"}); err != nil {
		err = errors.Wrap(err, "failed to create unix socket for cache")
		log.Warningf("Failed to create socket %s: %v", startupSockName, err)
		return err
	}

	// Allow other users to write to the socket
	if err = os.Chmod(startupSockName, 0777); err != nil {
		err = errors.Wrap(err, "failed to set permissions on cache socket")
		if err2 := listener.Close(); err2 != nil {
			log.Errorf("Failed to close socket listener: %v", err2)
		}
		return err
	}

	srv := http.Server{
		Handler: http.HandlerFunc(sc.serveData),
	}
	egrp.Go(func() error {
		return srv.Serve(listener)
	})
	egrp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})

	if err = os.Rename(startupSockName, socketName); err != nil {
		err = errors.Wrap(err, "failed to rename temporary socket to final socket name for cache")
	}
	return
}

func (sc *StreamCache) serveData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resourceURL := r.URL.Query().Get("url")
	if resourceURL == "" {
		w.WriteHeader(http.StatusBadRequest)
		if _, err := w.Write([]byte("Missing url query parameter")); err != nil {
			log.Errorln("Failed to write bad request message to client:", err)
		}
		return
	}

	meta, err := sc.Stat(r.Context(), resourceURL)
	if err != nil {
		writeDataError(w, resourceURL, err)
		return
	}

	if r.Method == http.MethodHead {
		if meta.ContentLength >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(meta.ContentLength, 10))
		}
		if meta.ContentType != "" {
			w.Header().Set("Content-Type", meta.ContentType)
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		return
	}

	offset := int64(0)
	length := meta.ContentLength
	status := http.StatusOK
	if rangeHdr := r.Header.Get("Range"); rangeHdr != "" {
		rangeReq, err := ParseRangeHeader(rangeHdr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			if _, err := w.Write([]byte(err.Error())); err != nil {
				log.Errorln("Failed to write bad request message to client:", err)
			}
			return
		}
		if offset, length, err = rangeReq.Resolve(meta.ContentLength); err != nil {
			if errors.Is(err, ErrUnsatisfiableRange) {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", meta.ContentLength))
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			} else {
				w.WriteHeader(http.StatusBadRequest)
			}
			return
		}
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, meta.ContentLength))
	} else if length < 0 {
		writeDataError(w, resourceURL, errors.New("resource has unknown length"))
		return
	}

	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(status)
	if length == 0 {
		return
	}

	if err := sc.ServeRange(r.Context(), resourceURL, offset, length, w); err != nil {
		// Headers are already sent; all we can do is drop the connection.
		log.Errorln("Failed to stream object to client:", err)
	}
}

func writeDataError(w http.ResponseWriter, resourceURL string, err error) {
	log.Errorf("Failed to serve %s: %v", resourceURL, err)
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		w.WriteHeader(http.StatusBadGateway)
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}
	if _, err := w.Write([]byte("Failed to retrieve object")); err != nil {
		log.Errorln("Failed to write error message to client:", err)
	}
}

// Register attaches the control & monitoring routes to a Gin router group.
func (sc *StreamCache) Register(ctx context.Context, router *gin.RouterGroup) {
	router.GET("/api/v1.0/streamcache/status", func(ginCtx *gin.Context) { sc.statusCmd(ginCtx) })
	router.GET("/api/v1.0/streamcache/status/object", func(ginCtx *gin.Context) { sc.objectStatusCmd(ginCtx) })
	router.POST("/api/v1.0/streamcache/clear", func(ginCtx *gin.Context) { sc.clearCmd(ginCtx) })
}

func (sc *StreamCache) statusCmd(ginCtx *gin.Context) {
	ginCtx.JSON(http.StatusOK, gin.H{
		"status":        respOK,
		"activeFetches": sc.ActiveFetches(),
	})
}

func (sc *StreamCache) objectStatusCmd(ginCtx *gin.Context) {
	resourceURL := ginCtx.Query("url")
	if resourceURL == "" {
		ginCtx.AbortWithStatusJSON(http.StatusBadRequest,
			apiResp{Status: respFailed, Msg: "Missing url query parameter"})
		return
	}
	ginCtx.JSON(http.StatusOK, sc.Status(resourceURL))
}

func (sc *StreamCache) clearCmd(ginCtx *gin.Context) {
	var req struct {
		URL string `json:"url"`
		All bool   `json:"all"`
	}
	if err := ginCtx.ShouldBindJSON(&req); err != nil {
		log.Warningln("Received invalid JSON request")
		ginCtx.AbortWithStatusJSON(http.StatusBadRequest,
			apiResp{Status: respFailed, Msg: "Invalid request format"})
		return
	}
	if !req.All && req.URL == "" {
		ginCtx.AbortWithStatusJSON(http.StatusBadRequest,
			apiResp{Status: respFailed, Msg: "Either url or all must be specified"})
		return
	}

	var err error
	if req.All {
		err = sc.ClearAll()
	} else {
		err = sc.Clear(req.URL)
	}
	if err != nil {
		log.Warningf("Failed to clear cache entries: %v", err)
		// Uncategorized errors are not passed to the user to avoid leaking
		// potentially sensitive information.
		ginCtx.AbortWithStatusJSON(http.StatusInternalServerError,
			apiResp{Status: respFailed, Msg: "Failed to clear cache entries"})
		return
	}
	ginCtx.JSON(http.StatusOK, apiResp{Status: respOK})
}

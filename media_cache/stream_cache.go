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

// Package media_cache implements the progressive range cache engine: a
// byte-range-addressable cache that transparently persists downloaded bytes
// so replays and resumes avoid re-downloading already-fetched data.
package media_cache

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/alecthomas/units"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/streamcache/config"
	"github.com/pelicanplatform/streamcache/origin"
	"github.com/pelicanplatform/streamcache/param"
)

// Options configures a StreamCache instance.
type Options struct {
	// DataLocation is the base directory for the record database and the
	// disk byte store.  Ignored when Store is supplied.
	DataLocation string

	// Store overrides the byte store (tests inject a memory store).  When
	// set together with an empty DataLocation, the record database runs
	// in-memory as well.
	Store ByteStore

	// CheckpointBytes is the unsaved-data threshold that triggers an
	// incremental flush.  Zero uses the default; values below the floor
	// are clamped up with a warning.
	CheckpointBytes int64

	// FDCacheSize caps the disk store's pooled file descriptors.
	FDCacheSize int

	// HTTPClient overrides the origin transport.
	HTTPClient *http.Client
}

// OptionsFromConfig builds Options from the process configuration.
func OptionsFromConfig() Options {
	opts := Options{
		DataLocation: param.StreamCache_DataLocation.GetString(),
		FDCacheSize:  param.StreamCache_FDCacheSize.GetInt(),
	}
	if sizeStr := param.StreamCache_CheckpointSize.GetString(); sizeStr != "" {
		size, err := units.ParseStrictBytes(sizeStr)
		if err != nil {
			log.Warnf("Invalid %s value %q; using default: %v", param.StreamCache_CheckpointSize.GetName(), sizeStr, err)
		} else {
			opts.CheckpointBytes = size
		}
	}
	opts.HTTPClient = &http.Client{Transport: config.GetTransport()}
	return opts
}

// StreamCache is the engine facade handed to the player-integration layer:
// probe, begin-fetch, cancel, status, and clear, backed by the cache
// service, origin client, and request registry.
type StreamCache struct {
	svc    *CacheService
	db     *cacheDB
	store  ByteStore
	client *origin.Client
	reg    *requestRegistry

	checkpoint int64

	closeOnce sync.Once
	closeErr  error
}

// NewStreamCache initializes the engine: it opens the record database,
// wires the byte store, runs the startup consistency check, and starts the
// database GC loop under the supplied errgroup.
func NewStreamCache(ctx context.Context, egrp *errgroup.Group, opts Options) (*StreamCache, error) {
	checkpoint := opts.CheckpointBytes
	if checkpoint == 0 {
		checkpoint = DefaultCheckpointBytes
	} else if checkpoint < MinCheckpointBytes {
		log.Warnf("Checkpoint threshold %d below floor; clamping to %d", checkpoint, int64(MinCheckpointBytes))
		checkpoint = MinCheckpointBytes
	}

	store := opts.Store
	dbDir := opts.DataLocation
	if store == nil {
		if opts.DataLocation == "" {
			return nil, errors.New("a data location or an explicit byte store must be configured")
		}
		var err error
		if store, err = NewDiskStore(opts.DataLocation, opts.FDCacheSize); err != nil {
			return nil, errors.Wrap(err, "failed to initialize disk store")
		}
	}

	db, err := newCacheDB(dbDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	sc := &StreamCache{
		svc:        newCacheService(db, store),
		db:         db,
		store:      store,
		client:     origin.NewClient(opts.HTTPClient),
		reg:        newRequestRegistry(),
		checkpoint: checkpoint,
	}

	sc.svc.consistencyCheck()
	if dbDir != "" {
		db.StartGC(ctx, egrp)
	}
	egrp.Go(func() error {
		<-ctx.Done()
		return sc.Close()
	})

	return sc, nil
}

// Probe classifies the requested span against the cache without touching the
// network: Full carries the bytes, Partial carries the covered prefix plus
// the resume offset, Miss carries nothing.
func (sc *StreamCache) Probe(resourceURL string, offset, length int64) (CacheHit, error) {
	return sc.svc.Probe(ResourceKeyForURL(resourceURL), offset, length)
}

// BeginFetch starts one request for [offset, offset+length) of the resource:
// cached segments stream back immediately, gaps are fetched from the origin
// with incremental checkpointing.  The returned handle drives Cancel and
// Progress.  Zero or negative lengths are rejected.
func (sc *StreamCache) BeginFetch(ctx context.Context, resourceURL string, offset, length int64, cbs FetchCallbacks) (RequestHandle, error) {
	if length <= 0 {
		return uuid.Nil, errors.New("requested length must be positive")
	}
	if offset < 0 {
		return uuid.Nil, errors.New("requested offset must be non-negative")
	}

	handle := uuid.New()
	fc := newFetchCoordinator(handle, sc.svc, sc.client, resourceURL, offset, length, sc.checkpoint, cbs)

	fetchCtx, cancel := context.WithCancel(ctx)
	fc.mu.Lock()
	fc.cancelFn = cancel
	fc.mu.Unlock()

	sc.reg.register(fc)
	go func() {
		defer sc.reg.remove(fc)
		defer cancel()
		fc.run(fetchCtx)
	}()

	return handle, nil
}

// Cancel terminates the request for the given handle, flushing its unsaved
// bytes best-effort before the connection is torn down.  Unknown handles and
// repeat cancels are no-ops.
func (sc *StreamCache) Cancel(handle RequestHandle) {
	if fc := sc.reg.lookup(handle); fc != nil {
		fc.Cancel()
	}
}

// CancelAll cancels every in-flight request, running each one's
// save-on-cancel path.
func (sc *StreamCache) CancelAll() {
	sc.reg.cancelAll()
}

// Progress reports the transfer state for a live request handle.
func (sc *StreamCache) Progress(handle RequestHandle) (FetchProgress, bool) {
	fc := sc.reg.lookup(handle)
	if fc == nil {
		return FetchProgress{}, false
	}
	return fc.Progress(), true
}

// ActiveFetches returns the number of in-flight requests.
func (sc *StreamCache) ActiveFetches() int {
	return sc.reg.len()
}

// Status returns the cache state snapshot for a resource.
func (sc *StreamCache) Status(resourceURL string) ResourceStatus {
	return sc.svc.Status(ResourceKeyForURL(resourceURL))
}

// Stat returns the resource's content metadata, consulting the origin only
// when the cache has not yet learned the content length.
func (sc *StreamCache) Stat(ctx context.Context, resourceURL string) (ContentMetadata, error) {
	key := ResourceKeyForURL(resourceURL)
	meta := sc.svc.Metadata(key)
	if meta.ContentLength >= 0 {
		return meta, nil
	}

	info, err := sc.client.Stat(ctx, resourceURL)
	if err != nil {
		return ContentMetadata{}, &NetworkError{URL: resourceURL, Err: err}
	}
	sc.svc.MergeMetadata(key, ContentMetadata{
		ContentLength: info.TotalSize,
		ContentType:   info.ContentType,
		AcceptsRanges: info.AcceptsRanges,
		ETag:          info.ETag,
		LastModified:  info.LastModified,
	})
	return sc.svc.Metadata(key), nil
}

// ServeRange streams [offset, offset+length) of the resource to w, serving
// from cache where possible and fetching the rest.  It blocks until the span
// is fully delivered or the request fails.
func (sc *StreamCache) ServeRange(ctx context.Context, resourceURL string, offset, length int64, w io.Writer) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeErr error
	done := make(chan error, 1)
	_, err := sc.BeginFetch(serveCtx, resourceURL, offset, length, FetchCallbacks{
		OnBytes: func(p []byte) {
			if writeErr != nil {
				return
			}
			if _, err := w.Write(p); err != nil {
				writeErr = err
				cancel()
			}
		},
		OnComplete: func(err error) {
			done <- err
		},
	})
	if err != nil {
		return err
	}

	err = <-done
	if writeErr != nil {
		return errors.Wrap(writeErr, "failed to write response")
	}
	return err
}

// Clear removes one resource's metadata, range index, and stored bytes.
func (sc *StreamCache) Clear(resourceURL string) error {
	return sc.svc.Clear(ResourceKeyForURL(resourceURL))
}

// ClearAll removes every cached resource.
func (sc *StreamCache) ClearAll() error {
	return sc.svc.ClearAll()
}

// Close cancels all in-flight requests (flushing their unsaved bytes) and
// releases the store and database.  Safe to call more than once.
func (sc *StreamCache) Close() error {
	sc.closeOnce.Do(func() {
		sc.reg.cancelAll()
		if err := sc.store.Close(); err != nil {
			sc.closeErr = err
		}
		if err := sc.db.Close(); err != nil && sc.closeErr == nil {
			sc.closeErr = err
		}
	})
	return sc.closeErr
}
